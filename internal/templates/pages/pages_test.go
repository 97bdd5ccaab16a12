package pages

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/keyxmakerx/folio/internal/templates/layouts"
)

func TestAdminApp_EscapesContext(t *testing.T) {
	ctx := context.Background()
	ctx = layouts.SetAppName(ctx, `Folio</title><script>`)
	ctx = layouts.SetRole(ctx, "admin")
	ctx = layouts.SetUserID(ctx, "u-1")
	ctx = layouts.SetActivePath(ctx, "/admin/security")

	var buf bytes.Buffer
	if err := AdminApp("security", true).Render(ctx, &buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()

	if strings.Contains(out, "Folio</title><script>") {
		t.Error("app name was not escaped")
	}
	for _, want := range []string{`data-section="security"`, `data-role="admin"`, `data-user="u-1"`, `data-setup-required="true"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s", want)
		}
	}
}

func TestErrorPage_EscapesMessage(t *testing.T) {
	var buf bytes.Buffer
	if err := ErrorPage(404, `<img src=x onerror=alert(1)>`).Render(context.Background(), &buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "<img") {
		t.Error("message was not escaped")
	}
	if !strings.Contains(out, "<h1>404</h1>") {
		t.Errorf("unexpected output %q", out)
	}
}
