package notifications

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/nickelsh1ts/streamarr/internal/components/settings"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

//go:embed templates/*.html
var templateFS embed.FS

// Email is a rendered-on-send message addressed to one recipient.
type Email struct {
	Template string
	To       string
	ToName   string
	Subject  string
	// PGPKey, when set, encrypts the plain-text body to the recipient.
	PGPKey string
	Locals map[string]any
}

// Mailer renders and delivers an Email.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// Render executes the named template with the message locals.
func Render(e Email) (string, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return "", err
	}
	locals := make(map[string]any, len(e.Locals)+1)
	for k, v := range e.Locals {
		locals[k] = v
	}
	locals["subject"] = e.Subject

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, e.Template, locals); err != nil {
		return "", fmt.Errorf("render %s: %w", e.Template, err)
	}
	return buf.String(), nil
}

func parseTemplates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

// SMTPMailer sends through an SMTP server with gomail.
type SMTPMailer struct {
	cfg    settings.EmailAgent
	dialer *gomail.Dialer
	log    *slog.Logger
}

func NewSMTPMailer(cfg settings.EmailAgent, log *slog.Logger) *SMTPMailer {
	log = logutil.NoopIfNil(log)
	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.AuthUser, cfg.AuthPass)
	d.SSL = cfg.Secure
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.SMTPHost,
		InsecureSkipVerify: cfg.AllowSelfSigned,
	}
	return &SMTPMailer{cfg: cfg, dialer: d, log: log}
}

func (m *SMTPMailer) Send(ctx context.Context, e Email) error {
	htmlBody, err := Render(e)
	if err != nil {
		return err
	}
	textBody, err := htmlToText(htmlBody)
	if err != nil {
		return fmt.Errorf("text alternative: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.cfg.EmailFrom, m.cfg.SenderName)
	msg.SetAddressHeader("To", e.To, e.ToName)
	msg.SetHeader("Subject", e.Subject)

	if e.PGPKey != "" {
		enc, err := encryptPGP(textBody, e.PGPKey)
		if err != nil {
			return err
		}
		msg.SetBody("text/plain", enc)
	} else {
		msg.SetBody("text/plain", textBody)
		msg.AddAlternative("text/html", htmlBody)
	}

	// gomail has no context support; the send goroutine finishes on its own
	// after a cancelled caller returns.
	errc := make(chan error, 1)
	go func() { errc <- m.dialer.DialAndSend(msg) }()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", e.To, err)
		}
		m.log.Debug("email sent", "template", e.Template, "to", e.To)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
