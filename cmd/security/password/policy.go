package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var trivialPasswords = map[string]struct{}{
	"password":      {},
	"password123":   {},
	"123456":        {},
	"123456789":     {},
	"qwerty":        {},
	"qwerty123":     {},
	"11111111":      {},
	"letmein":       {},
	"administrator": {},
	"changeme":      {},
}

// Validate checks password against the policy. Lengths count runes.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak catches single-character repeats, short PINs and a few well-known defaults.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}

	if strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 && utf8.RuneCountInString(s) < 12 {
		return true
	}

	_, trivial := trivialPasswords[strings.ToLower(s)]
	return trivial
}
