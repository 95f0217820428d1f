package authsvc

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters. Chosen as a reasonable interactive-login default;
// not exposed for tuning since the core never needs to trade off
// memory/time at runtime.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// HashPassword derives an argon2id verifier string for storage, exported
// so code outside this package (such as test fixtures that seed users)
// can provision verifiers.
func HashPassword(password string) (string, error) {
	return hashPassword(password)
}

// hashPassword derives an argon2id verifier string in the form
// "argon2id$<memory>$<time>$<threads>$<salt-b64>$<hash-b64>", self
// describing so parameters can change across records without a migration.
func hashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("authsvc: generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifyPassword checks password against an encoded verifier in
// constant time.
func verifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false, fmt.Errorf("authsvc: unrecognized verifier format")
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[1], "%d", &memory); err != nil {
		return false, fmt.Errorf("authsvc: parse verifier memory: %w", err)
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &time); err != nil {
		return false, fmt.Errorf("authsvc: parse verifier time: %w", err)
	}
	if _, err := fmt.Sscanf(parts[3], "%d", &threads); err != nil {
		return false, fmt.Errorf("authsvc: parse verifier threads: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("authsvc: decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("authsvc: decode hash: %w", err)
	}

	got := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
