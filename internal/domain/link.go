package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LinkStatus string

const (
	LinkActive   LinkStatus = "active"
	LinkExpired  LinkStatus = "expired"
	LinkInactive LinkStatus = "inactive"
)

type ReminderTier string

const (
	ReminderFirst  ReminderTier = "first"
	ReminderSecond ReminderTier = "second"
	ReminderFinal  ReminderTier = "final"
)

// Ordinal orders tiers for monotonicity checks; "" sorts before first.
func (t ReminderTier) Ordinal() int {
	switch t {
	case ReminderFirst:
		return 1
	case ReminderSecond:
		return 2
	case ReminderFinal:
		return 3
	default:
		return 0
	}
}

// Next returns the tier that follows t, or "" after the final tier.
// An empty t means no reminder has been sent yet.
func (t ReminderTier) Next() ReminderTier {
	switch t {
	case "":
		return ReminderFirst
	case ReminderFirst:
		return ReminderSecond
	case ReminderSecond:
		return ReminderFinal
	default:
		return ""
	}
}

// ReminderRecord is one reminder that was actually dispatched for a link.
type ReminderRecord struct {
	Tier           ReminderTier `json:"type"`
	SentAt         time.Time    `json:"sent_at"`
	RecipientPhone string       `json:"recipient_phone"`
}

// PaymentLink is a shareable payment request awaiting payer action.
type PaymentLink struct {
	Slug             string           `json:"slug"`
	OwnerUID         string           `json:"owner_uid"`
	Amount           decimal.Decimal  `json:"amount"`
	Currency         string           `json:"currency"`
	Description      string           `json:"description,omitempty"`
	RecipientPhone   string           `json:"recipient_phone,omitempty"`
	Status           LinkStatus       `json:"status"`
	Paid             bool             `json:"paid"`
	ExpiryDate       *time.Time       `json:"expiry_date,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	LastReminderSent *time.Time       `json:"last_reminder_sent,omitempty"`
	LastReminderTier ReminderTier     `json:"last_reminder_type,omitempty"`
	Reminders        []ReminderRecord `json:"reminders,omitempty"`
}

// Remindable reports whether the link is still a candidate for reminders:
// active, unpaid, not past its expiry, and addressed to a phone number.
func (l *PaymentLink) Remindable(now time.Time) bool {
	if l.Paid || l.Status != LinkActive || l.RecipientPhone == "" {
		return false
	}
	if l.ExpiryDate != nil && now.After(*l.ExpiryDate) {
		return false
	}
	return true
}
