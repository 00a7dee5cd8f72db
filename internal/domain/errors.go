package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the merchant-facing initiation and query paths.
// Handlers pick the response code with errors.Is; everything on the
// gateway-facing callback path degrades to a logged warning instead.
var (
	// ErrGatewayNotConfigured means the merchant has no enabled
	// credentials for the requested gateway. Never silently fall back
	// to shared credentials; surface it so the caller can prompt
	// re-configuration.
	ErrGatewayNotConfigured = errors.New("gateway not configured for merchant")

	// ErrInvalidCredentials means the gateway rejected the auth handshake.
	ErrInvalidCredentials = errors.New("gateway rejected credentials")

	// ErrInvalidPhoneNumber means the payer phone could not be
	// normalized to the canonical mobile-money form.
	ErrInvalidPhoneNumber = errors.New("invalid phone number")

	// ErrInvalidSignature means a webhook failed authenticity
	// verification. The webhook is rejected with a client error and is
	// not processed.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrTransientGateway means a network failure or provider 5xx; the
	// caller may retry the initiation.
	ErrTransientGateway = errors.New("transient gateway error")

	// ErrConflict means this update lost the atomic status race to a
	// concurrent delivery. Callers treat it as a re-delivery no-op.
	ErrConflict = errors.New("transaction already finalized")
)

// ValidationError marks bad input on the initiation path with a
// field-level message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
