package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	gosmtp "net/smtp"
	"strings"
	"time"

	"github.com/keyxmakerx/folio/internal/apperror"
)

const dialTimeout = 10 * time.Second

// MailService is the interface other plugins use to send email.
type MailService interface {
	SendMail(ctx context.Context, m Mail) error
	IsConfigured() bool
}

// SMTPService extends MailService with a connectivity check run at startup.
type SMTPService interface {
	MailService

	// TestConnection verifies SMTP connectivity with the configured settings.
	TestConnection(ctx context.Context) error
}

// smtpService implements SMTPService.
type smtpService struct {
	settings Settings
	now      func() time.Time
}

// NewSMTPService creates a new SMTP service.
func NewSMTPService(settings Settings) SMTPService {
	settings.Host = strings.TrimSpace(settings.Host)
	if settings.Port <= 0 {
		settings.Port = 587
	}
	if settings.FromName == "" {
		settings.FromName = "Folio"
	}
	if settings.Encryption == "" {
		settings.Encryption = EncryptionStartTLS
	}
	return &smtpService{settings: settings, now: time.Now}
}

// IsConfigured returns true if a host and sender address are configured.
func (s *smtpService) IsConfigured() bool {
	return s.settings.Host != "" && s.settings.FromAddress != ""
}

// SendMail sends a plain-text message.
func (s *smtpService) SendMail(ctx context.Context, m Mail) error {
	if !s.IsConfigured() {
		return apperror.NewBadRequest("SMTP is not configured")
	}
	if len(m.To) == 0 {
		return apperror.NewBadRequest("no recipients")
	}

	from := mail.Address{Name: s.settings.FromName, Address: s.settings.FromAddress}
	msg := buildMessage(from, m, s.now())
	st := s.settings
	addr := net.JoinHostPort(st.Host, fmt.Sprintf("%d", st.Port))

	switch st.Encryption {
	case EncryptionSSL:
		return s.sendSSL(addr, from.Address, m.To, msg)
	case EncryptionNone:
		return s.sendPlain(addr, from.Address, m.To, msg)
	default:
		return s.sendStartTLS(addr, from.Address, m.To, msg)
	}
}

// buildMessage renders an RFC 5322 message. CR and LF are stripped from
// header values so a subject cannot inject headers.
func buildMessage(from mail.Address, m Mail, now time.Time) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from.String()))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", headerValue(strings.Join(m.To, ", "))))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", headerValue(m.Subject)))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", now.UTC().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return msg.String()
}

func headerValue(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}

// sendStartTLS sends email using STARTTLS (port 587 typical).
func (s *smtpService) sendStartTLS(addr, from string, to []string, msg string) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, s.settings.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(s.tlsConfig()); err != nil {
		return fmt.Errorf("starting TLS: %w", err)
	}
	if err := s.authenticate(client); err != nil {
		return err
	}
	return sendMessage(client, from, to, msg)
}

// sendSSL sends email using implicit SSL/TLS (port 465 typical).
func (s *smtpService) sendSSL(addr, from string, to []string, msg string) error {
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", addr, s.tlsConfig())
	if err != nil {
		return fmt.Errorf("connecting to %s (SSL): %w", addr, err)
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, s.settings.Host)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Close()

	if err := s.authenticate(client); err != nil {
		return err
	}
	return sendMessage(client, from, to, msg)
}

// sendPlain sends email without encryption.
func (s *smtpService) sendPlain(addr, from string, to []string, msg string) error {
	var auth gosmtp.Auth
	if s.settings.Username != "" {
		auth = gosmtp.PlainAuth("", s.settings.Username, s.settings.Password, s.settings.Host)
	}
	if err := gosmtp.SendMail(addr, auth, from, to, []byte(msg)); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}
	return nil
}

func (s *smtpService) tlsConfig() *tls.Config {
	return &tls.Config{ServerName: s.settings.Host, MinVersion: tls.VersionTLS12}
}

func (s *smtpService) authenticate(client *gosmtp.Client) error {
	if s.settings.Username == "" {
		return nil
	}
	auth := gosmtp.PlainAuth("", s.settings.Username, s.settings.Password, s.settings.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	return nil
}

// sendMessage handles MAIL FROM, RCPT TO, DATA for an existing SMTP client.
func sendMessage(client *gosmtp.Client, from string, to []string, msg string) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", recipient, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

// TestConnection verifies SMTP connectivity by establishing a connection
// and performing the EHLO handshake, TLS and authentication.
func (s *smtpService) TestConnection(ctx context.Context) error {
	if !s.IsConfigured() {
		return apperror.NewBadRequest("SMTP host is not configured")
	}
	st := s.settings
	addr := net.JoinHostPort(st.Host, fmt.Sprintf("%d", st.Port))

	var (
		conn net.Conn
		err  error
	)
	if st.Encryption == EncryptionSSL {
		conn, err = tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", addr, s.tlsConfig())
	} else {
		conn, err = net.DialTimeout("tcp", addr, dialTimeout)
	}
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := gosmtp.NewClient(conn, st.Host)
	if err != nil {
		return fmt.Errorf("SMTP handshake failed: %w", err)
	}
	defer client.Close()

	if st.Encryption == EncryptionStartTLS {
		if err := client.StartTLS(s.tlsConfig()); err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	}
	if err := s.authenticate(client); err != nil {
		return err
	}
	return client.Quit()
}
