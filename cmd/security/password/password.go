package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Version = argon2.Version

// encodedHash is a parsed PHC string.
type encodedHash struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

// Hash validates password against the policy and returns its encoded Argon2id hash.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, c.Params.Iterations, c.Params.MemoryKiB, c.Params.Parallelism, c.Params.KeyLength)
	return encode(c.Params, salt, key), nil
}

// Verify reports whether password matches encoded.
// A malformed hash, or one whose cost exceeds twice the configured params, yields ErrInvalidHash.
func (c Config) Verify(encoded, password string) (bool, error) {
	h, err := parse(encoded)
	if err != nil {
		return false, err
	}
	if !withinBounds(h.params, c.Params) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey(
		[]byte(password),
		h.salt,
		h.params.Iterations,
		h.params.MemoryKiB,
		h.params.Parallelism,
		h.params.KeyLength,
	)
	return subtle.ConstantTimeCompare(key, h.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker params than c.
func (c Config) NeedsRehash(encoded string) bool {
	h, err := parse(encoded)
	if err != nil {
		return true
	}
	p := h.params
	return p.MemoryKiB < c.Params.MemoryKiB ||
		p.Iterations < c.Params.Iterations ||
		p.KeyLength < c.Params.KeyLength ||
		p.SaltLength < c.Params.SaltLength
}

func withinBounds(got, limits Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limits.MemoryKiB*2:
		return false
	case got.Iterations > limits.Iterations*2:
		return false
	case uint32(got.Parallelism) > uint32(limits.Parallelism)*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

func encode(p Argon2idParams, salt, key []byte) string {
	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		p.MemoryKiB,
		p.Iterations,
		p.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	)
}

func parse(encoded string) (encodedHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return encodedHash{}, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2Version) {
		return encodedHash{}, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return encodedHash{}, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return encodedHash{}, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return encodedHash{}, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return encodedHash{}, ErrInvalidHash
	}

	return encodedHash{
		params: Argon2idParams{
			MemoryKiB:   mem,
			Iterations:  it,
			Parallelism: uint8(par),        // #nosec G115 -- checked above.
			SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded by withinBounds.
			KeyLength:   uint32(len(key)),  // #nosec G115 -- bounded by withinBounds.
		},
		salt: salt,
		key:  key,
	}, nil
}
