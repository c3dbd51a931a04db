// Package msisdn canonicalizes subscriber phone numbers into the
// international digit form the MoMo platform expects as a partyId.
package msisdn

import (
	"fmt"
	"strings"
)

// Country selects the normalization rules for a subscriber number.
type Country string

const (
	Ghana   Country = "GH"
	Nigeria Country = "NG"
)

// plan holds the per-country digit rules: the country calling code and
// the number of digits that follow it in a canonical number.
type plan struct {
	callingCode    string
	nationalDigits int
}

var plans = map[Country]plan{
	Ghana:   {callingCode: "233", nationalDigits: 9},
	Nigeria: {callingCode: "234", nationalDigits: 8},
}

// InvalidNumberError reports a number that could not be canonicalized,
// carrying the rejected input and the reason it was rejected.
type InvalidNumberError struct {
	Raw    string
	Reason string
}

func (e *InvalidNumberError) Error() string {
	return fmt.Sprintf("invalid mobile number %q: %s", e.Raw, e.Reason)
}

// PhoneNumber is a canonicalized subscriber number. The zero value is
// not valid; instances are produced by Normalize only.
type PhoneNumber struct {
	raw       string
	country   Country
	canonical string
}

// Raw returns the input the number was parsed from.
func (p PhoneNumber) Raw() string { return p.raw }

// Country returns the country the number was validated against.
func (p PhoneNumber) Country() Country { return p.country }

// Canonical returns the international digit form, e.g. "233551234567".
func (p PhoneNumber) Canonical() string { return p.canonical }

func (p PhoneNumber) String() string { return p.canonical }

// Normalize canonicalizes raw into the international digit form for the
// given country. It accepts local numbers with a leading trunk zero,
// international numbers with the country calling code, and "+" or "00"
// prefixed variants, with optional space or hyphen separators between
// digit groups. It is pure: the same input always yields the same
// result.
func Normalize(raw string, country Country) (PhoneNumber, error) {
	p, ok := plans[country]
	if !ok {
		return PhoneNumber{}, &InvalidNumberError{Raw: raw, Reason: fmt.Sprintf("unsupported country %q", country)}
	}

	digits, err := digitsOf(raw)
	if err != nil {
		return PhoneNumber{}, err
	}

	// A leading trunk zero ("055...") or international dialing prefix
	// ("00233...") carries no information once separators are gone.
	digits = strings.TrimLeft(digits, "0")

	if len(digits) < p.nationalDigits {
		return PhoneNumber{}, &InvalidNumberError{
			Raw:    raw,
			Reason: fmt.Sprintf("too few digits for %s, want %d national digits", country, p.nationalDigits),
		}
	}

	if len(digits) > p.nationalDigits {
		// International form: peel off the calling code digit by digit,
		// then a trunk zero kept after the code ("2330...").
		for _, c := range p.callingCode {
			digits = trimLeadByte(digits, byte(c))
		}
		digits = trimLeadByte(digits, '0')

		if len(digits) != p.nationalDigits {
			return PhoneNumber{}, &InvalidNumberError{
				Raw:    raw,
				Reason: fmt.Sprintf("wrong digit count for %s, want %d national digits", country, p.nationalDigits),
			}
		}
	}

	// Operator-independent rule: no national number starts with a zero,
	// and the second digit is part of the operator prefix, also nonzero.
	if digits[0] == '0' || digits[1] == '0' {
		return PhoneNumber{}, &InvalidNumberError{
			Raw:    raw,
			Reason: fmt.Sprintf("unrecognized operator prefix %q for %s", digits[:2], country),
		}
	}

	return PhoneNumber{
		raw:       raw,
		country:   country,
		canonical: p.callingCode + digits,
	}, nil
}

// digitsOf strips an optional leading "+" and the space/hyphen
// separators people write between digit groups. Any other non-digit
// rune fails.
func digitsOf(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "+")

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
		default:
			return "", &InvalidNumberError{Raw: raw, Reason: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	if b.Len() == 0 {
		return "", &InvalidNumberError{Raw: raw, Reason: "no digits"}
	}
	return b.String(), nil
}

// trimLeadByte removes at most one leading occurrence of c.
func trimLeadByte(s string, c byte) string {
	if len(s) > 0 && s[0] == c {
		return s[1:]
	}
	return s
}
