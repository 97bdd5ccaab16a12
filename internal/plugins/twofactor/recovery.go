package twofactor

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
)

// RecoveryCodeCount is how many recovery codes a confirmed enrollment gets.
const RecoveryCodeCount = 8

const recoveryAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateRecoveryCodes returns n codes of the form xxxxx-xxxxx.
func GenerateRecoveryCodes(n int) ([]string, error) {
	codes := make([]string, n)
	for i := range codes {
		left, err := randomString(5)
		if err != nil {
			return nil, fmt.Errorf("generating recovery code: %w", err)
		}
		right, err := randomString(5)
		if err != nil {
			return nil, fmt.Errorf("generating recovery code: %w", err)
		}
		codes[i] = left + "-" + right
	}
	return codes, nil
}

// ConsumeRecoveryCode looks for input among codes. On a match it returns
// the remaining codes with the used one removed. Every code is compared so
// the time taken does not reveal which one matched.
func ConsumeRecoveryCode(codes []string, input string) ([]string, bool) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return codes, false
	}

	match := -1
	for i, c := range codes {
		if subtle.ConstantTimeCompare([]byte(c), []byte(input)) == 1 {
			match = i
		}
	}
	if match < 0 {
		return codes, false
	}

	remaining := make([]string, 0, len(codes)-1)
	remaining = append(remaining, codes[:match]...)
	remaining = append(remaining, codes[match+1:]...)
	return remaining, true
}

func randomString(n int) (string, error) {
	max := big.NewInt(int64(len(recoveryAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = recoveryAlphabet[idx.Int64()]
	}
	return string(b), nil
}
