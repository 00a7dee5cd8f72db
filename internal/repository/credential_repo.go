package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/malipo/orchestrator/internal/domain"
)

// CredentialRepo resolves per-merchant gateway credentials. There is no
// fallback to shared or test credentials: a merchant without an enabled
// row gets domain.ErrGatewayNotConfigured.
type CredentialRepo struct {
	db *sql.DB
}

func NewCredentialRepo(db *sql.DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// Resolve returns the merchant's enabled credentials for a gateway.
func (r *CredentialRepo) Resolve(merchantID string, gateway domain.Processor) (*domain.MerchantCredentials, error) {
	row := r.db.QueryRow(
		"SELECT merchant_id, gateway, enabled, secrets FROM merchant_credentials WHERE merchant_id = ? AND gateway = ?",
		merchantID, string(gateway),
	)

	var c domain.MerchantCredentials
	var gw, secrets string
	var enabled int
	err := row.Scan(&c.MerchantID, &gw, &enabled, &secrets)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrGatewayNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	c.Gateway = domain.Processor(gw)
	c.Enabled = enabled != 0
	if !c.Enabled {
		return nil, domain.ErrGatewayNotConfigured
	}
	if err := json.Unmarshal([]byte(secrets), &c.Secrets); err != nil {
		return nil, fmt.Errorf("decode secrets: %w", err)
	}
	return &c, nil
}

// Save inserts or replaces a merchant's configuration for one gateway.
func (r *CredentialRepo) Save(c *domain.MerchantCredentials) error {
	secrets, err := json.Marshal(c.Secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO merchant_credentials (merchant_id, gateway, enabled, secrets)
		 VALUES (?,?,?,?)
		 ON CONFLICT(merchant_id, gateway) DO UPDATE SET
			enabled = excluded.enabled,
			secrets = excluded.secrets`,
		c.MerchantID, string(c.Gateway), boolToInt(c.Enabled), string(secrets),
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}
