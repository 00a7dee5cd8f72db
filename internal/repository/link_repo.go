package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/malipo/orchestrator/internal/domain"
)

type LinkRepo struct {
	db *sql.DB
}

func NewLinkRepo(db *sql.DB) *LinkRepo {
	return &LinkRepo{db: db}
}

func (r *LinkRepo) Insert(l *domain.PaymentLink) error {
	reminders, err := json.Marshal(emptyReminders(l.Reminders))
	if err != nil {
		return fmt.Errorf("marshal reminders: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO payment_links
		(slug, owner_uid, amount, currency, description, recipient_phone,
		 status, paid, expiry_date, created_at, last_reminder_sent,
		 last_reminder_tier, reminders)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.Slug, l.OwnerUID, l.Amount.String(), l.Currency, l.Description,
		l.RecipientPhone, string(l.Status), boolToInt(l.Paid),
		formatNullableTime(l.ExpiryDate), l.CreatedAt.Format(time.RFC3339),
		formatNullableTime(l.LastReminderSent), string(l.LastReminderTier),
		string(reminders),
	)
	if err != nil {
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

func (r *LinkRepo) GetBySlug(slug string) (*domain.PaymentLink, error) {
	row := r.db.QueryRow("SELECT * FROM payment_links WHERE slug = ?", slug)
	return scanLink(row.Scan)
}

// ListActiveUnpaid returns every link still worth sweeping: active,
// unpaid, and addressed to a phone number. Expiry is checked in the
// scheduler against the sweep time.
func (r *LinkRepo) ListActiveUnpaid() ([]domain.PaymentLink, error) {
	rows, err := r.db.Query(
		`SELECT * FROM payment_links
		 WHERE status = 'active' AND paid = 0 AND recipient_phone != ''
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var links []domain.PaymentLink
	for rows.Next() {
		l, err := scanLink(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

// RecordReminder appends a reminder record and advances the tier
// bookkeeping. The tier only ever moves forward: a tier at or below the
// last recorded one is rejected with ErrConflict, and the update is
// conditional on the tier observed at load so racing sweeps collapse to
// one winner. Each tier fires at most once per link.
func (r *LinkRepo) RecordReminder(slug string, rec domain.ReminderRecord) error {
	l, err := r.GetBySlug(slug)
	if err != nil {
		return fmt.Errorf("load link: %w", err)
	}

	if rec.Tier.Ordinal() <= l.LastReminderTier.Ordinal() {
		return domain.ErrConflict
	}

	history := append(l.Reminders, rec)
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal reminders: %w", err)
	}

	out, err := r.db.Exec(
		`UPDATE payment_links SET
			last_reminder_sent = ?, last_reminder_tier = ?, reminders = ?
		 WHERE slug = ? AND last_reminder_tier = ?`,
		rec.SentAt.Format(time.RFC3339), string(rec.Tier), string(data),
		slug, string(l.LastReminderTier),
	)
	if err != nil {
		return fmt.Errorf("record reminder: %w", err)
	}
	n, _ := out.RowsAffected()
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}

// MarkPaid flags the link settled; the next sweep drops it.
func (r *LinkRepo) MarkPaid(slug string) error {
	_, err := r.db.Exec("UPDATE payment_links SET paid = 1 WHERE slug = ?", slug)
	return err
}

func scanLink(scan func(...any) error) (*domain.PaymentLink, error) {
	var l domain.PaymentLink
	var amount, status, tier, reminders, createdAt string
	var paid int
	var expiryDate, lastSent sql.NullString

	err := scan(
		&l.Slug, &l.OwnerUID, &amount, &l.Currency, &l.Description,
		&l.RecipientPhone, &status, &paid, &expiryDate, &createdAt,
		&lastSent, &tier, &reminders,
	)
	if err != nil {
		return nil, err
	}

	l.Amount, _ = decimal.NewFromString(amount)
	l.Status = domain.LinkStatus(status)
	l.Paid = paid != 0
	l.LastReminderTier = domain.ReminderTier(tier)
	l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if expiryDate.Valid {
		t, _ := time.Parse(time.RFC3339, expiryDate.String)
		l.ExpiryDate = &t
	}
	if lastSent.Valid {
		t, _ := time.Parse(time.RFC3339, lastSent.String)
		l.LastReminderSent = &t
	}
	if reminders != "" {
		_ = json.Unmarshal([]byte(reminders), &l.Reminders)
	}

	return &l, nil
}

func emptyReminders(recs []domain.ReminderRecord) []domain.ReminderRecord {
	if recs == nil {
		return []domain.ReminderRecord{}
	}
	return recs
}
