package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds the passwords accepted by Hash.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// Env names read by FromEnv.
const (
	EnvMinLen         = "COWORK_PASSWORD_MIN_LEN"
	EnvMaxLen         = "COWORK_PASSWORD_MAX_LEN"
	EnvRejectVeryWeak = "COWORK_PASSWORD_REJECT_VERY_WEAK"
	EnvMemoryKiB      = "COWORK_ARGON2_MEMORY_KIB"
	EnvIterations     = "COWORK_ARGON2_ITERATIONS"
	EnvParallelism    = "COWORK_ARGON2_PARALLELISM"
	EnvSaltLen        = "COWORK_ARGON2_SALT_LEN"
	EnvKeyLen         = "COWORK_ARGON2_KEY_LEN"
)

// DefaultConfig returns the baseline used for operator passwords.
func DefaultConfig() Config {
	// Parallelism follows the host but stays in [1..4] for containers.
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      12,
			MaxLength:      256,
			RejectVeryWeak: true,
		},
	}
}

// FromEnv loads config from COWORK_PASSWORD_* and COWORK_ARGON2_* variables.
// Unset variables keep DefaultConfig values; malformed ones are errors.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		dst      *int
	}{
		{EnvMinLen, 1, 1024, &cfg.Policy.MinLength},
		{EnvMaxLen, 1, 4096, &cfg.Policy.MaxLength},
	}
	for _, f := range ints {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		n, err := atoiRange(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = n
	}

	if v, ok := os.LookupEnv(EnvRejectVeryWeak); ok {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvRejectVeryWeak, err)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	u32s := []struct {
		key      string
		min, max uint32
		dst      *uint32
	}{
		{EnvMemoryKiB, 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB},
		{EnvIterations, 1, 20, &cfg.Params.Iterations},
		{EnvSaltLen, 8, 64, &cfg.Params.SaltLength},
		{EnvKeyLen, 16, 64, &cfg.Params.KeyLength},
	}
	for _, f := range u32s {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		u, err := atou32Range(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = u
	}

	if v, ok := os.LookupEnv(EnvParallelism); ok {
		u, err := atou32Range(v, 1, math.MaxUint8)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvParallelism, err)
		}
		cfg.Params.Parallelism = uint8(u) // #nosec G115 -- bounded above.
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func atoiRange(s string, minVal, maxVal int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < minVal || n > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return n, nil
}

func atou32Range(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean")
	}
}
