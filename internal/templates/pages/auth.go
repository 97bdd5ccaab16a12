package pages

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

// LoginForm holds the values re-rendered into the login page.
type LoginForm struct {
	Email    string
	Remember bool
	Errors   map[string][]string
}

// LoginPage renders the admin sign-in form.
func LoginPage(form LoginForm) templ.Component {
	return page("Sign in", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		checked := ""
		if form.Remember {
			checked = " checked"
		}
		_, err := fmt.Fprintf(w,
			`<h1>Sign in</h1><form method="post" action="/admin/login">%s`+
				`<label>Email<input type="email" name="email" value="%s" required autofocus></label>%s`+
				`<label>Password<input type="password" name="password" required></label>%s`+
				`<label class="check"><input type="checkbox" name="remember" value="true"%s> Remember me</label>`+
				`<button type="submit">Sign in</button></form>`,
			csrfField(ctx),
			templ.EscapeString(form.Email),
			fieldErrors(form.Errors, "email"),
			fieldErrors(form.Errors, "password"),
			checked,
		)
		return err
	}))
}

// ChallengePage renders the two-factor code form. The same form accepts a
// recovery code instead of an authenticator code.
func ChallengePage(errs map[string][]string) templ.Component {
	return page("Two-factor authentication", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<h1>Two-factor authentication</h1>`+
				`<p>Enter the code from your authenticator app, or one of your recovery codes.</p>`+
				`<form method="post" action="/admin/two-factor-challenge">%s`+
				`<label>Code<input type="text" name="code" inputmode="numeric" autocomplete="one-time-code" autofocus></label>%s`+
				`<label>Recovery code<input type="text" name="recovery_code" autocomplete="off"></label>%s`+
				`<label class="check"><input type="checkbox" name="remember_device" value="true"> Trust this device</label>`+
				`<button type="submit">Verify</button></form>`,
			csrfField(ctx),
			fieldErrors(errs, "code"),
			fieldErrors(errs, "recovery_code"),
		)
		return err
	}))
}
