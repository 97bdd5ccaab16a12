package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// argon2id parameters follow OWASP recommendations: memory=64MB,
// iterations=3, parallelism=4.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB in KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// Password length bounds for new passwords.
const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

// dummyHash is verified against when the email is unknown so both failure
// paths cost the same.
var dummyHash = func() string {
	h, _ := hashPassword("folio-timing-equalizer")
	return h
}()

// hashPassword creates an argon2id hash in PHC string format:
// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads, b64Salt, b64Hash), nil
}

// verifyPassword checks a plaintext password against a stored hash. Both
// argon2id hashes and bcrypt hashes imported from the previous platform
// ($2y$/$2a$/$2b$) are accepted.
func verifyPassword(password, encodedHash string) bool {
	if isBcryptHash(encodedHash) {
		return bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password)) == nil
	}

	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var memory uint32
	var iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))
	return subtle.ConstantTimeCompare(expectedHash, computedHash) == 1
}

// needsRehash reports whether a hash should be upgraded to argon2id.
func needsRehash(encodedHash string) bool {
	return isBcryptHash(encodedHash)
}

func isBcryptHash(h string) bool {
	return strings.HasPrefix(h, "$2y$") || strings.HasPrefix(h, "$2a$") || strings.HasPrefix(h, "$2b$")
}

// validateNewPassword checks length bounds and returns a message for the
// password field, or "".
func validateNewPassword(password, confirmation string) string {
	switch {
	case len(password) < minPasswordLength:
		return fmt.Sprintf("The password must be at least %d characters.", minPasswordLength)
	case len(password) > maxPasswordLength:
		return fmt.Sprintf("The password may not be greater than %d characters.", maxPasswordLength)
	case password != confirmation:
		return "The password confirmation does not match."
	}
	return ""
}
