package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/malipo/orchestrator/internal/domain"
)

func TestNormalizePhone(t *testing.T) {
	valid := map[string]string{
		"0712345678":      "254712345678",
		"+254712345678":   "254712345678",
		"254712345678":    "254712345678",
		"712345678":       "254712345678",
		"0110123456":      "254110123456",
		"+254 712 345678": "254712345678",
		"0712-345-678":    "254712345678",
	}
	for input, want := range valid {
		got, err := NormalizePhone(input)
		assert.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
	}

	invalid := []string{
		"",
		"12345",
		"07123456789",   // too long
		"071234567",     // too short
		"0812345678",    // bad prefix after country code
		"07123abc78",    // non-digit
		"+44712345678",  // wrong country code, wrong length after normalization
		"2547123456789", // canonical prefix, too long
	}
	for _, input := range invalid {
		_, err := NormalizePhone(input)
		assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber, "input %q", input)
	}
}
