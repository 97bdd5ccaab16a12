// Package fingerprint derives stable identifiers for browsers and devices
// from request signals. Fingerprints are not collision-free and are not a
// secret; they raise the cost of trivial evasion (clearing cookies or
// rotating the IP alone no longer produces a fresh identity).
//
// Two variants exist:
//   - Basic hashes IP + User-Agent. Trusted-device matching uses this one.
//   - Rich additionally mixes Accept-Language, Accept-Encoding and optional
//     client-supplied screen/timezone/platform hints. Anti-abuse throttling
//     outside the login path uses this one.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Headers the admin UI sets from JavaScript. All optional.
const (
	HeaderScreen   = "X-Client-Screen"
	HeaderTimezone = "X-Client-Timezone"
	HeaderPlatform = "X-Client-Platform"
)

// Basic returns hex(sha256(ip + "|" + userAgent)).
func Basic(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + "|" + userAgent))
	return hex.EncodeToString(sum[:])
}

// Signals is the set of request attributes the rich fingerprint mixes.
// Empty fields are treated as absent.
type Signals struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	Screen         string
	Timezone       string
	Platform       string
}

// Rich hashes every present signal as name=value pairs in a fixed order.
// Absent fields are omitted rather than hashed as empty strings, so a
// client that never sends a screen hint gets the same fingerprint on every
// request.
func Rich(s Signals) string {
	pairs := []struct{ name, value string }{
		{"ip", s.IP},
		{"ua", s.UserAgent},
		{"lang", s.AcceptLanguage},
		{"enc", s.AcceptEncoding},
		{"screen", s.Screen},
		{"tz", s.Timezone},
		{"platform", s.Platform},
	}

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		v := strings.TrimSpace(p.value)
		if v == "" {
			continue
		}
		parts = append(parts, p.name+"="+v)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// SignalsFromRequest collects the rich signals from an HTTP request. The IP
// is passed in separately because only the caller knows how to resolve the
// client address behind trusted proxies.
func SignalsFromRequest(r *http.Request, ip string) Signals {
	return Signals{
		IP:             ip,
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		AcceptEncoding: r.Header.Get("Accept-Encoding"),
		Screen:         r.Header.Get(HeaderScreen),
		Timezone:       r.Header.Get(HeaderTimezone),
		Platform:       r.Header.Get(HeaderPlatform),
	}
}

// HashUserAgent returns the SHA-256 hex digest of a User-Agent string.
// Session metadata stores this instead of the raw header.
func HashUserAgent(userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:])
}
