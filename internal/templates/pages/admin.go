package pages

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/keyxmakerx/folio/internal/templates/layouts"
)

// AdminApp renders the mount point of the admin single-page app. section
// is the screen the app opens on; setupRequired tells it to show only the
// two-factor enrollment screen.
func AdminApp(section string, setupRequired bool) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`+
				`<meta name="viewport" content="width=device-width, initial-scale=1">`+
				`<meta name="csrf-token" content="%s">`+
				`<title>%s</title><link rel="stylesheet" href="/static/css/admin.css"></head>`+
				`<body><div id="folio-admin" data-section="%s" data-path="%s" data-user="%s" data-role="%s" data-setup-required="%t"></div>`+
				`<script type="module" src="/static/js/admin.js"></script></body></html>`,
			templ.EscapeString(layouts.GetCSRFToken(ctx)),
			templ.EscapeString(layouts.GetAppName(ctx)),
			templ.EscapeString(section),
			templ.EscapeString(layouts.GetActivePath(ctx)),
			templ.EscapeString(layouts.GetUserID(ctx)),
			templ.EscapeString(layouts.GetRole(ctx)),
			setupRequired,
		)
		return err
	})
}
