package auth

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := hashPassword("mySecurePassword")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("expected argon2id hash, got %s", hash)
	}
	if !verifyPassword("mySecurePassword", hash) {
		t.Error("expected password to verify")
	}
	if verifyPassword("wrongPassword", hash) {
		t.Error("expected wrong password to fail")
	}
}

func TestVerifyPassword_InvalidHash(t *testing.T) {
	tests := []string{
		"",
		"not-a-hash",
		"$argon2id$v=19$m=65536$bad",
		"$argon2id$v=19$m=x,t=3,p=4$c2FsdA$aGFzaA",
	}
	for _, h := range tests {
		if verifyPassword("anything", h) {
			t.Errorf("expected %q to be rejected", h)
		}
	}
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	a, _ := hashPassword("same")
	b, _ := hashPassword("same")
	if a == b {
		t.Error("expected different hashes for the same password")
	}
}

func TestVerifyPassword_LegacyBcrypt(t *testing.T) {
	raw, err := bcrypt.GenerateFromPassword([]byte("legacy-password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		h := prefix + string(raw[4:])
		if !verifyPassword("legacy-password", h) {
			t.Errorf("%s hash should verify", prefix)
		}
		if !needsRehash(h) {
			t.Errorf("%s hash should be upgraded", prefix)
		}
	}
	if needsRehash(dummyHash) {
		t.Error("argon2id hashes need no upgrade")
	}
}

func TestValidateNewPassword(t *testing.T) {
	tests := []struct {
		name, password, confirmation string
		ok                           bool
	}{
		{"valid", "long-enough", "long-enough", true},
		{"too short", "short", "short", false},
		{"too long", strings.Repeat("a", 129), strings.Repeat("a", 129), false},
		{"mismatch", "long-enough", "long-enough!", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := validateNewPassword(tt.password, tt.confirmation)
			if (msg == "") != tt.ok {
				t.Errorf("got %q, want ok=%v", msg, tt.ok)
			}
		})
	}
}

func TestRoleCan(t *testing.T) {
	tests := []struct {
		role   Role
		cap    Capability
		expect bool
	}{
		{RoleAdmin, CapAccessAdmin, true},
		{RoleAdmin, CapManageSecurity, true},
		{RoleEditor, CapAccessAdmin, true},
		{RoleEditor, CapManageSecurity, false},
		{RoleAuthor, CapAccessAdmin, false},
		{RoleSubscriber, CapAccessAdmin, false},
		{Role("ghost"), CapAccessAdmin, false},
	}
	for _, tt := range tests {
		if got := tt.role.Can(tt.cap); got != tt.expect {
			t.Errorf("%s.Can(%s) = %v, want %v", tt.role, tt.cap, got, tt.expect)
		}
	}
}

func TestUserIsBanned(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Hour), now.Add(time.Hour)

	if (&User{}).IsBanned(now) {
		t.Error("user without ban is not banned")
	}
	if !(&User{BannedAt: &past}).IsBanned(now) {
		t.Error("ban without expiry is permanent")
	}
	if !(&User{BannedAt: &past, BanExpiresAt: &future}).IsBanned(now) {
		t.Error("unexpired ban applies")
	}
	if (&User{BannedAt: &past, BanExpiresAt: &past}).IsBanned(now) {
		t.Error("expired ban no longer applies")
	}
}
