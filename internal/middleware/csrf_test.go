package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func cookieFrom(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCSRF_SetsCookieOnSafeRequest(t *testing.T) {
	e := echo.New()
	h := CSRF()(okHandler)

	rec := serve(e, h, httptest.NewRequest(http.MethodGet, "/admin/login/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	c := cookieFrom(rec, CSRFCookieName)
	if c == nil || len(c.Value) != 64 {
		t.Fatalf("expected 64-char csrf cookie, got %+v", c)
	}
}

func TestCSRF_RejectsMissingToken(t *testing.T) {
	e := echo.New()
	h := CSRF()(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/admin/login", nil)
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "abc"})
	if rec := serve(e, h, req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCSRF_AcceptsMatchingHeader(t *testing.T) {
	e := echo.New()
	h := CSRF()(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/admin/login", nil)
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "abc"})
	req.Header.Set("X-CSRF-Token", "abc")
	if rec := serve(e, h, req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRotateCSRFToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/admin/login", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(csrfContextKey, "old")

	if err := RotateCSRFToken(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := GetCSRFToken(c); got == "old" || len(got) != 64 {
		t.Errorf("expected fresh token, got %q", got)
	}
	if cookieFrom(rec, CSRFCookieName) == nil {
		t.Error("expected rotated cookie to be set")
	}
}
