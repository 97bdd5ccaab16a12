package pages

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/templ"
)

// ErrorPage renders a full-page error for browser requests.
func ErrorPage(code int, message string) templ.Component {
	title := http.StatusText(code)
	if title == "" {
		title = "Error"
	}
	return page(title, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<h1>%d</h1><h2>%s</h2><p>%s</p><a href="/admin">Back to the dashboard</a>`,
			code, templ.EscapeString(title), templ.EscapeString(message),
		)
		return err
	}))
}
