package smtp

import (
	"context"
	"fmt"
	"strings"

	"github.com/keyxmakerx/folio/internal/plugins/devices"
)

// RecipientLookup returns the name and address to notify for a user.
type RecipientLookup func(ctx context.Context, userID string) (name, email string, err error)

// DeviceNotifier emails users when they sign in from a new device. It
// implements devices.Notifier.
type DeviceNotifier struct {
	mail        MailService
	lookup      RecipientLookup
	siteName    string
	securityURL string
}

// NewDeviceNotifier creates a new-device notifier. The mail links to the
// security settings at securityPath under baseURL.
func NewDeviceNotifier(mail MailService, lookup RecipientLookup, siteName, baseURL, securityPath string) *DeviceNotifier {
	return &DeviceNotifier{
		mail:        mail,
		lookup:      lookup,
		siteName:    siteName,
		securityURL: strings.TrimRight(baseURL, "/") + securityPath,
	}
}

// NotifyNewDevice sends the notice to the user's email address.
func (n *DeviceNotifier) NotifyNewDevice(ctx context.Context, notice devices.NewDeviceNotice) error {
	name, email, err := n.lookup(ctx, notice.UserID)
	if err != nil {
		return fmt.Errorf("looking up recipient: %w", err)
	}
	if email == "" {
		return nil
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Hello %s,\n\n", name)
	fmt.Fprintf(&body, "Your %s account was just used to sign in from a device we have not seen before.\n\n", n.siteName)
	fmt.Fprintf(&body, "Time:       %s\n", notice.SeenAt.UTC().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&body, "IP address: %s\n", notice.IPAddress)
	fmt.Fprintf(&body, "Browser:    %s\n\n", notice.UserAgent)
	fmt.Fprintf(&body, "If this was you, no action is needed. If not, change your password and review your sessions at %s\n", n.securityURL)

	return n.mail.SendMail(ctx, Mail{
		To:      []string{email},
		Subject: fmt.Sprintf("[%s] New sign-in to your account", n.siteName),
		Body:    body.String(),
	})
}
