package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MethodStats tracks a customer's usage of one payment processor.
type MethodStats struct {
	Count      int             `json:"count"`
	TotalSpent decimal.Decimal `json:"total_spent"`
	LastUsed   time.Time       `json:"last_used"`
}

// Customer is the per-merchant aggregate for one payer identity, keyed by
// phone with email as fallback. Counters only ever grow: exactly one
// increment per successfully reconciled transaction.
type Customer struct {
	ID                string                 `json:"id"`
	OwnerUID          string                 `json:"owner_uid"`
	Name              string                 `json:"name,omitempty"`
	Phone             string                 `json:"phone,omitempty"`
	Email             string                 `json:"email,omitempty"`
	TotalTransactions int                    `json:"total_transactions"`
	TotalSpent        decimal.Decimal        `json:"total_spent"`
	PaymentMethods    map[string]MethodStats `json:"payment_methods,omitempty"`
	PreferredMethod   string                 `json:"preferred_payment_method,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// RecordPayment folds one successful transaction into the aggregate and
// recomputes the preferred method. Ties break toward the processor first
// seen in the stable Processors() order.
func (c *Customer) RecordPayment(p Processor, amount decimal.Decimal, at time.Time) {
	if c.PaymentMethods == nil {
		c.PaymentMethods = make(map[string]MethodStats)
	}
	stats := c.PaymentMethods[string(p)]
	stats.Count++
	stats.TotalSpent = stats.TotalSpent.Add(amount)
	stats.LastUsed = at
	c.PaymentMethods[string(p)] = stats

	c.TotalTransactions++
	c.TotalSpent = c.TotalSpent.Add(amount)
	c.UpdatedAt = at

	best := ""
	bestCount := 0
	for _, proc := range Processors() {
		if s, ok := c.PaymentMethods[string(proc)]; ok && s.Count > bestCount {
			best = string(proc)
			bestCount = s.Count
		}
	}
	c.PreferredMethod = best
}
