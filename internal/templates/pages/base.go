// Package pages holds the server-rendered pages of the admin sign-in flow.
// The admin application itself is a single-page app; only the pages a
// browser can reach before it is fully signed in are rendered here.
package pages

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/keyxmakerx/folio/internal/templates/layouts"
)

// page wraps body in the shared document shell.
func page(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w,
			`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`+
				`<meta name="viewport" content="width=device-width, initial-scale=1">`+
				`<meta name="csrf-token" content="%s">`+
				`<title>%s · %s</title><link rel="stylesheet" href="/static/css/admin.css"></head>`+
				`<body class="auth"><main class="auth-card">`,
			templ.EscapeString(layouts.GetCSRFToken(ctx)),
			templ.EscapeString(title),
			templ.EscapeString(layouts.GetAppName(ctx)),
		); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</main></body></html>`)
		return err
	})
}

// csrfField renders the hidden CSRF input for a form.
func csrfField(ctx context.Context) string {
	return fmt.Sprintf(`<input type="hidden" name="csrf_token" value="%s">`,
		templ.EscapeString(layouts.GetCSRFToken(ctx)))
}

// fieldErrors renders the messages for one field of an error bag.
func fieldErrors(errs map[string][]string, field string) string {
	out := ""
	for _, msg := range errs[field] {
		out += `<p class="field-error">` + templ.EscapeString(msg) + `</p>`
	}
	return out
}
