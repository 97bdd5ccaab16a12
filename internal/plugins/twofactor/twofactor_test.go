package twofactor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestIssue_SignatureMatchesUnchangedPassword(t *testing.T) {
	m := NewManager("app-secret", 10*time.Minute)

	ch, err := m.Issue("$argon2id$old")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.Nonce) != 64 {
		t.Errorf("expected 64 hex char nonce, got %d", len(ch.Nonce))
	}
	if ch.Signature != m.Sign(ch.Nonce, "$argon2id$old") {
		t.Error("expected issue and verification signatures to be equal")
	}
	if !m.VerifySignature(ch.Nonce, ch.Signature, "$argon2id$old") {
		t.Error("expected signature to verify with unchanged password hash")
	}
}

func TestVerifySignature_FailsAfterPasswordChange(t *testing.T) {
	m := NewManager("app-secret", 10*time.Minute)

	ch, err := m.Issue("$argon2id$old")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Sign(ch.Nonce, "$argon2id$new") == ch.Signature {
		t.Error("expected signatures to differ after a password change")
	}
	if m.VerifySignature(ch.Nonce, ch.Signature, "$argon2id$new") {
		t.Error("expected verification to fail after a password change")
	}
}

func TestVerifySignature_RejectsTampering(t *testing.T) {
	m := NewManager("app-secret", 10*time.Minute)
	ch, _ := m.Issue("hash")

	other := NewManager("other-secret", 10*time.Minute)
	if other.VerifySignature(ch.Nonce, ch.Signature, "hash") {
		t.Error("expected signature from another key to fail")
	}
	if m.VerifySignature(strings.Repeat("0", 64), ch.Signature, "hash") {
		t.Error("expected swapped nonce to fail")
	}
	if m.VerifySignature("", "", "hash") {
		t.Error("expected empty challenge to fail")
	}
}

func TestIssue_RandomFailureFailsChallenge(t *testing.T) {
	m := NewManager("app-secret", time.Minute)
	m.random = failingReader{}

	if _, err := m.Issue("hash"); err == nil {
		t.Fatal("expected error when randomness is unavailable")
	}
}

func TestIsStale(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager("s", 10*time.Minute)
	m.now = func() time.Time { return now }

	tests := []struct {
		name     string
		issuedAt time.Time
		want     bool
	}{
		{"fresh", now.Add(-time.Minute), false},
		{"at limit", now.Add(-10 * time.Minute), false},
		{"expired", now.Add(-11 * time.Minute), true},
		{"zero", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.IsStale(tt.issuedAt); got != tt.want {
				t.Errorf("IsStale = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateCode(t *testing.T) {
	enr, err := GenerateSecret("Folio", "admin@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(enr.URL, "otpauth://totp/") {
		t.Errorf("unexpected otpauth url %q", enr.URL)
	}

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	code, err := totp.GenerateCodeCustom(enr.Secret, now, validateOpts)
	if err != nil {
		t.Fatalf("generating code: %v", err)
	}

	if !ValidateCode(enr.Secret, code, now) {
		t.Error("expected current code to validate")
	}
	if !ValidateCode(enr.Secret, code[:3]+" "+code[3:], now) {
		t.Error("expected spaced code to validate")
	}
	if !ValidateCode(enr.Secret, code, now.Add(30*time.Second)) {
		t.Error("expected one step of drift to be accepted")
	}
	if ValidateCode(enr.Secret, code, now.Add(5*time.Minute)) {
		t.Error("expected old code to be rejected")
	}
	if ValidateCode("", code, now) || ValidateCode(enr.Secret, "12345", now) {
		t.Error("expected empty secret and short code to be rejected")
	}
}

func TestRecoveryCodes_ConsumedOnce(t *testing.T) {
	codes, err := GenerateRecoveryCodes(RecoveryCodeCount)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(codes) != RecoveryCodeCount {
		t.Fatalf("expected %d codes, got %d", RecoveryCodeCount, len(codes))
	}
	for _, c := range codes {
		if len(c) != 11 || c[5] != '-' {
			t.Errorf("unexpected code format %q", c)
		}
	}

	used := codes[3]
	remaining, ok := ConsumeRecoveryCode(codes, "  "+strings.ToUpper(used)+" ")
	if !ok {
		t.Fatal("expected code to be accepted")
	}
	if len(remaining) != RecoveryCodeCount-1 {
		t.Errorf("expected %d remaining codes, got %d", RecoveryCodeCount-1, len(remaining))
	}
	if _, ok := ConsumeRecoveryCode(remaining, used); ok {
		t.Error("expected a used code to be rejected")
	}
	if _, ok := ConsumeRecoveryCode(remaining, ""); ok {
		t.Error("expected empty input to be rejected")
	}
}

func TestSealer_RoundTripAndKeySeparation(t *testing.T) {
	s, err := NewSealer("app-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sealed, err := s.Seal("JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(sealed, "JBSWY3DPEHPK3PXP") {
		t.Error("expected sealed value not to contain the plaintext")
	}
	plain, err := s.Open(sealed)
	if err != nil || plain != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("expected round trip, got %q, %v", plain, err)
	}

	other, _ := NewSealer("other-secret")
	if _, err := other.Open(sealed); err == nil {
		t.Error("expected a different key to fail")
	}

	codes := []string{"aaaaa-bbbbb", "ccccc-ddddd"}
	sealedCodes, err := s.SealCodes(codes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	opened, err := s.OpenCodes(sealedCodes)
	if err != nil || len(opened) != 2 || opened[1] != "ccccc-ddddd" {
		t.Fatalf("expected codes round trip, got %v, %v", opened, err)
	}

	if v, err := s.Seal(""); v != "" || err != nil {
		t.Errorf("expected empty seal, got %q, %v", v, err)
	}
}

func TestMatchStep_ReportsMatchedStep(t *testing.T) {
	enr, err := GenerateSecret("Folio", "admin@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	code, err := totp.GenerateCodeCustom(enr.Secret, now, validateOpts)
	if err != nil {
		t.Fatalf("generating code: %v", err)
	}

	want := now.Unix() / 30
	step, ok := MatchStep(enr.Secret, code, now)
	if !ok || step != want {
		t.Errorf("expected step %d, got %d (ok=%v)", want, step, ok)
	}
	// The same code entered one step later still matches its own step.
	step, ok = MatchStep(enr.Secret, code, now.Add(30*time.Second))
	if !ok || step != want {
		t.Errorf("expected step %d after drift, got %d (ok=%v)", want, step, ok)
	}
}

func TestStepGuard_RejectsReusedAndOlderSteps(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	g := NewStepGuard(client)
	ctx := context.Background()

	ok, err := g.Accept(ctx, "u-1", 100)
	require.NoError(t, err)
	require.True(t, ok, "first use of a step is accepted")

	ok, err = g.Accept(ctx, "u-1", 100)
	require.NoError(t, err)
	require.False(t, ok, "same step is a replay")

	ok, err = g.Accept(ctx, "u-1", 99)
	require.NoError(t, err)
	require.False(t, ok, "older step is refused")

	ok, err = g.Accept(ctx, "u-2", 100)
	require.NoError(t, err)
	require.True(t, ok, "steps are tracked per user")

	ok, err = g.Accept(ctx, "u-1", 101)
	require.NoError(t, err)
	require.True(t, ok, "newer step is accepted")

	ttl := mr.TTL(stepKeyPrefix + "u-1")
	require.Equal(t, 90*time.Second, ttl)
}
