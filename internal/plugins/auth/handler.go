package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/folio/internal/apperror"
	"github.com/keyxmakerx/folio/internal/middleware"
	"github.com/keyxmakerx/folio/internal/plugins/devices"
	"github.com/keyxmakerx/folio/internal/plugins/sessions"
	"github.com/keyxmakerx/folio/internal/templates/pages"
)

// LogoutPath is reachable even while two-factor setup is mandatory.
const LogoutPath = "/admin/logout"

// Handler handles HTTP requests for the admin login flow and the user's
// own security settings. Handlers are thin: they bind the request, call
// the service, and render the response.
type Handler struct {
	login         LoginService
	accounts      AccountService
	store         *sessions.Store
	paths         Paths
	secureCookies bool
}

// NewHandler creates a new auth handler.
func NewHandler(login LoginService, accounts AccountService, store *sessions.Store, paths Paths, secureCookies bool) *Handler {
	return &Handler{login: login, accounts: accounts, store: store, paths: paths, secureCookies: secureCookies}
}

func currentSession(c echo.Context) (*sessions.Session, error) {
	s := sessions.FromContext(c)
	if s == nil {
		return nil, apperror.NewMissingContext()
	}
	return s, nil
}

// LoginForm renders the sign-in page (GET /admin/login).
func (h *Handler) LoginForm(c echo.Context) error {
	s, err := currentSession(c)
	if err != nil {
		return err
	}
	if s.IsAuthenticated() {
		return c.Redirect(http.StatusFound, h.paths.Dashboard)
	}
	return middleware.Render(c, http.StatusOK, pages.LoginPage(pages.LoginForm{}))
}

// Login processes the sign-in form (POST /admin/login).
func (h *Handler) Login(c echo.Context) error {
	s, err := currentSession(c)
	if err != nil {
		return err
	}

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if req.Email == "" || req.Password == "" {
		return h.loginError(c, req, apperror.NewFieldValidation("email", "The email and password fields are required."))
	}

	result, err := h.login.Attempt(c.Request().Context(), s, LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		Remember:   req.Remember,
		TrustToken: devices.TrustToken(c),
		Client:     clientFrom(c),
	})
	if err != nil {
		return h.loginError(c, req, err)
	}
	return h.respond(c, result)
}

// loginError re-renders the form for browsers; JSON clients get the error
// bag from the error handler.
func (h *Handler) loginError(c echo.Context, req LoginRequest, err error) error {
	var appErr *apperror.AppError
	if middleware.WantsJSON(c) || !errors.As(err, &appErr) || appErr.Fields == nil {
		return err
	}
	if appErr.RetryAfter > 0 {
		c.Response().Header().Set("Retry-After", strconv.Itoa(appErr.RetryAfter))
	}
	return middleware.Render(c, appErr.Code, pages.LoginPage(pages.LoginForm{
		Email:    req.Email,
		Remember: req.Remember,
		Errors:   appErr.Fields,
	}))
}

// respond sends the browser to the next step of the login.
func (h *Handler) respond(c echo.Context, result *LoginResult) error {
	if result.ClearTrustCookie {
		devices.ClearTrustCookie(c)
	}
	if result.TrustToken != "" {
		devices.SetTrustCookie(c, result.TrustToken, result.TrustExpires, h.secureCookies)
	}
	if result.Outcome != OutcomeChallengeIssued {
		if err := middleware.RotateCSRFToken(c); err != nil {
			return apperror.NewInternal(err)
		}
	}

	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, map[string]any{
			"success":                   true,
			"requires2FA":               result.Outcome == OutcomeChallengeIssued,
			"two_factor_setup_required": result.Outcome == OutcomeSetupRequired,
			"redirect":                  result.Redirect,
		})
	}
	return c.Redirect(http.StatusFound, result.Redirect)
}

// Status reports the session state to the admin front end
// (GET /admin/login/status).
func (h *Handler) Status(c echo.Context) error {
	s, err := currentSession(c)
	if err != nil {
		return err
	}
	status, err := h.login.Status(c.Request().Context(), s)
	if err != nil {
		if apperror.SafeCode(err) == http.StatusUnauthorized {
			return c.JSON(http.StatusUnauthorized, Status{Authenticated: false})
		}
		return err
	}
	return c.JSON(http.StatusOK, status)
}

// Extend regenerates the session and restarts its lifetime
// (POST /admin/login/extend).
func (h *Handler) Extend(c echo.Context) error {
	s, err := currentSession(c)
	if err != nil {
		return err
	}
	expires, err := h.login.Extend(c.Request().Context(), s, clientFrom(c))
	if err != nil {
		if apperror.SafeCode(err) == http.StatusUnauthorized {
			return c.JSON(http.StatusUnauthorized, map[string]any{"success": false})
		}
		return err
	}
	if err := middleware.RotateCSRFToken(c); err != nil {
		return apperror.NewInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"expires_at": expires,
	})
}

// ChallengeForm renders the two-factor code page
// (GET /admin/two-factor-challenge).
func (h *Handler) ChallengeForm(c echo.Context) error {
	s, err := currentSession(c)
	if err != nil {
		return err
	}
	if _, ok := s.PendingChallenge(); !ok {
		return c.Redirect(http.StatusFound, LoginPath)
	}
	return middleware.Render(c, http.StatusOK, pages.ChallengePage(nil))
}

// Challenge verifies a two-factor or recovery code
// (POST /admin/two-factor-challenge).
func (h *Handler) Challenge(c echo.Context) error {
	s, err := currentSession(c)
	if err != nil {
		return err
	}

	var req ChallengeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	if req.Code == "" && req.RecoveryCode == "" {
		return apperror.NewFieldValidation("code", "Please enter an authentication code or a recovery code.")
	}

	result, err := h.login.VerifyChallenge(c.Request().Context(), s, ChallengeInput{
		Code:           req.Code,
		RecoveryCode:   req.RecoveryCode,
		RememberDevice: req.RememberDevice,
		Client:         clientFrom(c),
	})
	if err != nil {
		var appErr *apperror.AppError
		if !middleware.WantsJSON(c) && errors.As(err, &appErr) {
			if appErr.Code == http.StatusUnauthorized {
				return c.Redirect(http.StatusFound, LoginPath)
			}
			if appErr.Fields != nil {
				return middleware.Render(c, appErr.Code, pages.ChallengePage(appErr.Fields))
			}
		}
		return err
	}
	return h.respond(c, result)
}

// Logout ends the session (POST /admin/logout).
func (h *Handler) Logout(c echo.Context) error {
	s, err := currentSession(c)
	if err != nil {
		return err
	}
	if err := h.login.Logout(c.Request().Context(), s, clientFrom(c)); err != nil {
		return err
	}

	h.store.ClearCookie(c)
	fresh, err := h.store.New()
	if err != nil {
		return apperror.NewInternal(err)
	}
	sessions.Replace(c, fresh)
	if err := middleware.RotateCSRFToken(c); err != nil {
		slog.Warn("failed to rotate csrf token on logout", slog.Any("error", err))
	}

	if middleware.WantsJSON(c) {
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusFound, LoginPath)
}

// ChangePassword updates the user's password
// (POST /admin/security/password).
func (h *Handler) ChangePassword(c echo.Context) error {
	s, err := currentSession(c)
	if err != nil {
		return err
	}

	var req PasswordChangeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	if err := h.accounts.ChangePassword(c.Request().Context(), ChangePasswordInput{
		UserID:           s.UserID,
		CurrentSessionID: s.ID,
		CurrentPassword:  req.CurrentPassword,
		NewPassword:      req.Password,
		Confirmation:     req.PasswordConfirmation,
		Client:           clientFrom(c),
	}); err != nil {
		return err
	}

	devices.ClearTrustCookie(c)
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// EnableTwoFactor starts authenticator enrollment
// (POST /admin/security/two-factor).
func (h *Handler) EnableTwoFactor(c echo.Context) error {
	s, err := currentSession(c)
	if err != nil {
		return err
	}
	enrollment, err := h.accounts.EnableTwoFactor(c.Request().Context(), s.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, enrollment)
}

// ConfirmTwoFactor finishes enrollment
// (POST /admin/security/two-factor/confirm).
func (h *Handler) ConfirmTwoFactor(c echo.Context) error {
	s, err := currentSession(c)
	if err != nil {
		return err
	}

	var req TwoFactorConfirmRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	codes, err := h.accounts.ConfirmTwoFactor(c.Request().Context(), s, req.Code, clientFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"recovery_codes": codes,
		"redirect":       h.paths.Dashboard,
	})
}

// DisableTwoFactor removes two-factor (DELETE /admin/security/two-factor).
func (h *Handler) DisableTwoFactor(c echo.Context) error {
	s, err := currentSession(c)
	if err != nil {
		return err
	}

	var req TwoFactorDisableRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	if err := h.accounts.DisableTwoFactor(c.Request().Context(), s.UserID, req.Password, clientFrom(c)); err != nil {
		return err
	}
	devices.ClearTrustCookie(c)
	return c.NoContent(http.StatusNoContent)
}

// RegenerateRecoveryCodes replaces the user's recovery codes
// (POST /admin/security/two-factor/recovery-codes).
func (h *Handler) RegenerateRecoveryCodes(c echo.Context) error {
	s, err := currentSession(c)
	if err != nil {
		return err
	}
	codes, err := h.accounts.RegenerateRecoveryCodes(c.Request().Context(), s.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"recovery_codes": codes})
}
