// Package smtp sends outbound email for Folio. It is used to tell users
// about security-relevant activity on their account, such as a login from
// a device they have not used before. Settings come from the environment;
// when no host is configured, mail is not sent and callers fall back to
// logging.
package smtp

// Encryption modes for the SMTP connection.
const (
	EncryptionStartTLS = "starttls"
	EncryptionSSL      = "ssl"
	EncryptionNone     = "none"
)

// Settings holds the SMTP configuration.
type Settings struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	Encryption  string // "starttls", "ssl", or "none".
}

// Mail represents an email message to be sent.
type Mail struct {
	To      []string
	Subject string
	Body    string
}
