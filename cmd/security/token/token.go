package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey names the fingerprint key variable.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "COWORK_AUDIT_HMAC_KEY"

	// MinHMACKeyBytes is the smallest key accepted in enforced mode.
	MinHMACKeyBytes = 32

	shortLen = 12
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Fingerprinter hashes credentials for audit records. The zero value uses plain SHA-256.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter returns a keyed fingerprinter; an empty key falls back to SHA-256.
func NewFingerprinter(key []byte) *Fingerprinter {
	if len(key) == 0 {
		return &Fingerprinter{}
	}
	return &Fingerprinter{key: append([]byte(nil), key...)}
}

// FingerprinterFromEnv reads HMACEnvKey. With require set, a missing or short key is an error;
// otherwise it degrades to SHA-256.
func FingerprinterFromEnv(require bool) (*Fingerprinter, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	switch {
	case raw == "" && require:
		return nil, ErrHMACKeyMissing
	case raw == "":
		return &Fingerprinter{}, nil
	case require && len(raw) < MinHMACKeyBytes:
		return nil, ErrHMACKeyTooShort
	}
	return NewFingerprinter([]byte(raw)), nil
}

// Keyed reports whether HMAC mode is active.
func (f *Fingerprinter) Keyed() bool {
	return f != nil && len(f.key) > 0
}

// Fingerprint returns the 64-char hex digest of secret, or "" for an empty secret.
func (f *Fingerprinter) Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	if f.Keyed() {
		return HashHMACSHA256Hex(secret, f.key)
	}
	return HashSHA256Hex(secret)
}

// Short is a truncated Fingerprint suitable for log lines.
func (f *Fingerprinter) Short(secret string) string {
	fp := f.Fingerprint(secret)
	if len(fp) > shortLen {
		return fp[:shortLen]
	}
	return fp
}
