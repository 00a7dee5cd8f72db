package domain

// MerchantCredentials holds one merchant's configuration for one gateway.
// Secrets is a flat map because each provider names its own keys: mpesa
// uses consumer_key/consumer_secret/shortcode/passkey, stripe uses
// secret_key/webhook_secret, paystack uses secret_key, paypal uses
// client_id/client_secret/webhook_id.
type MerchantCredentials struct {
	MerchantID string            `json:"merchant_id"`
	Gateway    Processor         `json:"gateway"`
	Enabled    bool              `json:"enabled"`
	Secrets    map[string]string `json:"secrets"`
}

// Secret returns the named secret or "" when absent.
func (c *MerchantCredentials) Secret(name string) string {
	if c == nil {
		return ""
	}
	return c.Secrets[name]
}
