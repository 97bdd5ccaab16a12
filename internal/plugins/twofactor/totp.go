package twofactor

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// validateOpts accepts the current 30-second step and one step either side
// to tolerate clock drift on the user's phone.
var validateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// GenerateSecret creates a new TOTP secret for account under issuer.
func GenerateSecret(issuer, account string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      validateOpts.Period,
		Digits:      validateOpts.Digits,
		Algorithm:   validateOpts.Algorithm,
	})
	if err != nil {
		return nil, err
	}
	return &Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// ValidateCode reports whether code is a valid TOTP code for secret at t.
// Spaces that authenticator apps insert for readability are ignored.
func ValidateCode(secret, code string, t time.Time) bool {
	_, ok := MatchStep(secret, code, t)
	return ok
}

// MatchStep finds the time step within the accepted skew whose code equals
// code. The step is the Unix time divided by the period, which lets callers
// refuse a code whose step was already used.
func MatchStep(secret, code string, t time.Time) (int64, bool) {
	code = strings.ReplaceAll(strings.TrimSpace(code), " ", "")
	if secret == "" || len(code) != validateOpts.Digits.Length() {
		return 0, false
	}

	period := int64(validateOpts.Period)
	current := t.Unix() / period
	for offset := -int64(validateOpts.Skew); offset <= int64(validateOpts.Skew); offset++ {
		step := current + offset
		want, err := totp.GenerateCodeCustom(secret, time.Unix(step*period, 0).UTC(), validateOpts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, true
		}
	}
	return 0, false
}
