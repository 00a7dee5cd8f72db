package gateway

import (
	"regexp"
	"strings"

	"github.com/malipo/orchestrator/internal/domain"
)

// defaultCountryCode is prepended to subscriber-only numbers.
const defaultCountryCode = "254"

var msisdnPattern = regexp.MustCompile(`^254[17]\d{8}$`)

// NormalizePhone canonicalizes a payer phone number to the
// <country-code><subscriber-number> form the mobile-money gateway
// requires: 0712345678, +254712345678 and 712345678 all become
// 254712345678. Anything that does not normalize to a valid MSISDN
// returns ErrInvalidPhoneNumber.
func NormalizePhone(raw string) (string, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	s = strings.TrimPrefix(s, "+")

	switch {
	case strings.HasPrefix(s, defaultCountryCode):
		// already canonical
	case strings.HasPrefix(s, "0"):
		s = defaultCountryCode + s[1:]
	case len(s) == 9:
		s = defaultCountryCode + s
	}

	if !msisdnPattern.MatchString(s) {
		return "", domain.ErrInvalidPhoneNumber
	}
	return s, nil
}
