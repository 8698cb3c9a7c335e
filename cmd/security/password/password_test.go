package password

import (
	"errors"
	"strings"
	"testing"
)

// fastConfig keeps argon2 cheap for unit tests.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerify_OK(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	h, err := cfg.Hash("operator console passphrase 7")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %s", h)
	}

	ok, err := cfg.Verify(h, "operator console passphrase 7")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatalf("expected match")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	h, err := cfg.Hash("operator console passphrase 7")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := cfg.Verify(h, "wrong password")
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch")
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	tests := []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$a2V5a2V5a2V5a2V5a2V5a2V5",
	}
	for _, enc := range tests {
		ok, err := cfg.Verify(enc, "whatever")
		if !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("Verify(%q)=%v,%v want=false,ErrInvalidHash", enc, ok, err)
		}
	}
}

func TestVerify_RefusesOversizedCost(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()

	enc := "$argon2id$v=19$m=1048576,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5a2V5"
	ok, err := cfg.Verify(enc, "whatever")
	if !errors.Is(err, ErrInvalidHash) || ok {
		t.Fatalf("Verify oversized=%v,%v want=false,ErrInvalidHash", ok, err)
	}
}

func TestNeedsRehash(t *testing.T) {
	t.Parallel()
	weak := fastConfig()

	h, err := weak.Hash("operator console passphrase 7")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if weak.NeedsRehash(h) {
		t.Fatalf("same params should not need rehash")
	}

	strong := weak
	strong.Params.Iterations = 2
	if !strong.NeedsRehash(h) {
		t.Fatalf("stronger params should need rehash")
	}
	if !strong.NeedsRehash("garbage") {
		t.Fatalf("garbage should need rehash")
	}
}

func TestValidate_MinMax(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.Validate("this password is definitely too long"); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	if err := cfg.Validate("goodpassw0rd!"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 6

	tests := []struct {
		pw   string
		weak bool
	}{
		{"password", true},
		{"11111111", true},
		{"aaaaaaaa", true},
		{"1234567890", true},
		{"ChangeMe", true},
		{"123456789012", false},
		{"a-very-ok-pass", false},
	}
	for _, tc := range tests {
		err := cfg.Validate(tc.pw)
		if got := errors.Is(err, ErrWeakPassword); got != tc.weak {
			t.Fatalf("Validate(%q)=%v want weak=%v", tc.pw, err, tc.weak)
		}
	}
}
