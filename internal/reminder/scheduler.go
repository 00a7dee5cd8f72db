// Package reminder sweeps pending payment links and nudges the payer on
// an escalating schedule: first after a day, second two days later,
// final three days after that, then silence.
package reminder

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/malipo/orchestrator/internal/domain"
	"github.com/malipo/orchestrator/internal/notify"
	"github.com/malipo/orchestrator/internal/repository"
	"github.com/malipo/orchestrator/pkg/metrics"
)

const (
	firstAfter  = 24 * time.Hour // since link creation
	secondAfter = 48 * time.Hour // since first reminder
	finalAfter  = 72 * time.Hour // since second reminder
)

// SweepResult summarises one sweep over the link set.
type SweepResult struct {
	Scanned int            `json:"scanned"`
	Sent    int            `json:"sent"`
	Failed  int            `json:"failed"`
	Errors  []string       `json:"errors,omitempty"`
	ByTier  map[string]int `json:"by_tier,omitempty"`
}

// Scheduler runs periodic reminder sweeps. A sweep never overlaps with
// itself: if the previous one is still running when the ticker fires,
// the tick is skipped.
type Scheduler struct {
	links    *repository.LinkRepo
	sms      notify.SMSSender
	interval time.Duration
	linkBase string // public base URL payment links resolve under

	mu  sync.Mutex
	now func() time.Time
}

func NewScheduler(links *repository.LinkRepo, sms notify.SMSSender, interval time.Duration, linkBase string) *Scheduler {
	return &Scheduler{
		links:    links,
		sms:      sms,
		interval: interval,
		linkBase: strings.TrimSuffix(linkBase, "/"),
		now:      time.Now,
	}
}

// Start runs the timer loop until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[reminder] scheduler started, sweeping every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[reminder] scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep walks every remindable link once, sending whichever tier is due.
// Per-link failures are isolated: one bad number never aborts the rest
// of the sweep.
func (s *Scheduler) Sweep(ctx context.Context) SweepResult {
	if !s.mu.TryLock() {
		log.Printf("[reminder] previous sweep still running, skipping")
		return SweepResult{}
	}
	defer s.mu.Unlock()

	result := SweepResult{ByTier: make(map[string]int)}

	links, err := s.links.ListActiveUnpaid()
	if err != nil {
		log.Printf("[reminder] WARNING: listing links failed: %v", err)
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	now := s.now()
	for i := range links {
		link := &links[i]
		result.Scanned++

		if !link.Remindable(now) {
			continue
		}
		tier := dueTier(link, now)
		if tier == "" {
			continue
		}

		if err := s.send(ctx, link, tier, now); err != nil {
			log.Printf("[reminder] WARNING: %s reminder for link %s failed: %v", tier, link.Slug, err)
			metrics.IncReminder(string(tier), "failed")
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", link.Slug, err))
			continue
		}

		metrics.IncReminder(string(tier), "sent")
		result.Sent++
		result.ByTier[string(tier)]++
	}

	if result.Sent > 0 || result.Failed > 0 {
		log.Printf("[reminder] sweep done: scanned=%d sent=%d failed=%d",
			result.Scanned, result.Sent, result.Failed)
	}
	return result
}

// SendManual dispatches one reminder immediately at an explicit tier.
// It bypasses the time gates but still refuses paid, expired, and
// inactive links, and never moves the tier backwards: a tier at or below
// the last one sent is rejected.
func (s *Scheduler) SendManual(ctx context.Context, slug string, tier domain.ReminderTier) error {
	link, err := s.links.GetBySlug(slug)
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}
	if !link.Remindable(s.now()) {
		return domain.Validationf("slug", "link %s is paid, expired, or has no recipient", slug)
	}
	switch tier {
	case domain.ReminderFirst, domain.ReminderSecond, domain.ReminderFinal:
	default:
		return domain.Validationf("type", "unknown reminder tier %q", tier)
	}
	if tier.Ordinal() <= link.LastReminderTier.Ordinal() {
		return domain.Validationf("type", "%s reminder already sent for link %s", link.LastReminderTier, slug)
	}

	if err := s.send(ctx, link, tier, s.now()); err != nil {
		metrics.IncReminder(string(tier), "failed")
		return err
	}
	metrics.IncReminder(string(tier), "sent")
	return nil
}

func (s *Scheduler) send(ctx context.Context, link *domain.PaymentLink, tier domain.ReminderTier, now time.Time) error {
	text := reminderText(link, tier, s.linkBase+"/"+link.Slug)
	if err := s.sms.SendSMS(ctx, link.RecipientPhone, text); err != nil {
		return fmt.Errorf("send sms: %w", err)
	}

	rec := domain.ReminderRecord{
		Tier:           tier,
		SentAt:         now.UTC(),
		RecipientPhone: link.RecipientPhone,
	}
	if err := s.links.RecordReminder(link.Slug, rec); err != nil {
		return fmt.Errorf("record reminder: %w", err)
	}
	return nil
}

// dueTier picks the reminder tier owed to a link right now, or "" when
// none is. First match wins; tiers only ever advance, so a link created
// 100 hours ago with no reminder history still starts at first.
func dueTier(link *domain.PaymentLink, now time.Time) domain.ReminderTier {
	sinceCreation := now.Sub(link.CreatedAt)
	var sinceLast time.Duration
	if link.LastReminderSent != nil {
		sinceLast = now.Sub(*link.LastReminderSent)
	}

	switch link.LastReminderTier {
	case "":
		if sinceCreation >= firstAfter {
			return domain.ReminderFirst
		}
	case domain.ReminderFirst:
		if sinceLast >= secondAfter {
			return domain.ReminderSecond
		}
	case domain.ReminderSecond:
		if sinceLast >= finalAfter {
			return domain.ReminderFinal
		}
	}
	return ""
}

func reminderText(link *domain.PaymentLink, tier domain.ReminderTier, payURL string) string {
	amount := fmt.Sprintf("%s %s", link.Currency, link.Amount.StringFixed(2))
	switch tier {
	case domain.ReminderFirst:
		return fmt.Sprintf("Friendly reminder: you have a pending payment of %s. Pay here: %s", amount, payURL)
	case domain.ReminderSecond:
		return fmt.Sprintf("Reminder: your payment of %s is still pending. Pay here: %s", amount, payURL)
	default:
		return fmt.Sprintf("Final reminder: please complete your payment of %s. Pay here: %s", amount, payURL)
	}
}
