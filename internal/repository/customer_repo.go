package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/malipo/orchestrator/internal/domain"
)

type CustomerRepo struct {
	db *sql.DB
}

func NewCustomerRepo(db *sql.DB) *CustomerRepo {
	return &CustomerRepo{db: db}
}

// FindByIdentity looks a customer up by phone first, then by email.
// Returns (nil, nil) when no aggregate exists yet.
func (r *CustomerRepo) FindByIdentity(ownerUID, phone, email string) (*domain.Customer, error) {
	if phone != "" {
		c, err := r.scanOne(
			"SELECT * FROM customers WHERE owner_uid = ? AND phone = ?",
			ownerUID, phone,
		)
		if err != nil {
			return nil, err
		}
		if c != nil {
			return c, nil
		}
	}
	if email != "" {
		return r.scanOne(
			"SELECT * FROM customers WHERE owner_uid = ? AND email = ?",
			ownerUID, email,
		)
	}
	return nil, nil
}

// Save inserts or fully replaces the aggregate row.
func (r *CustomerRepo) Save(c *domain.Customer) error {
	methods, err := json.Marshal(c.PaymentMethods)
	if err != nil {
		return fmt.Errorf("marshal methods: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO customers
		(id, owner_uid, name, phone, email, total_transactions, total_spent,
		 payment_methods, preferred_method, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			email = excluded.email,
			total_transactions = excluded.total_transactions,
			total_spent = excluded.total_spent,
			payment_methods = excluded.payment_methods,
			preferred_method = excluded.preferred_method,
			updated_at = excluded.updated_at`,
		c.ID, c.OwnerUID, c.Name, c.Phone, c.Email, c.TotalTransactions,
		c.TotalSpent.String(), string(methods), c.PreferredMethod,
		c.CreatedAt.Format(time.RFC3339), c.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save customer: %w", err)
	}
	return nil
}

func (r *CustomerRepo) ListByOwner(ownerUID string) ([]domain.Customer, error) {
	rows, err := r.db.Query(
		"SELECT * FROM customers WHERE owner_uid = ? ORDER BY total_spent DESC",
		ownerUID,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var customers []domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

func (r *CustomerRepo) scanOne(query string, args ...any) (*domain.Customer, error) {
	row := r.db.QueryRow(query, args...)
	c, err := scanCustomer(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func scanCustomer(scan func(...any) error) (*domain.Customer, error) {
	var c domain.Customer
	var totalSpent, methods, createdAt, updatedAt string

	err := scan(
		&c.ID, &c.OwnerUID, &c.Name, &c.Phone, &c.Email,
		&c.TotalTransactions, &totalSpent, &methods, &c.PreferredMethod,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.TotalSpent, _ = decimal.NewFromString(totalSpent)
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if methods != "" {
		_ = json.Unmarshal([]byte(methods), &c.PaymentMethods)
	}

	return &c, nil
}
