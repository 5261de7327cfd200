package notifications

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/settings"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

var emailTemplates = map[Type]string{
	TestNotification: "test-email",
	LocalMessage:     "local-message",
}

// EmailAgent delivers templated emails.
type EmailAgent struct {
	cfg    settings.EmailAgent
	main   settings.Main
	users  UserDirectory
	mailer Mailer
	log    *slog.Logger
}

func NewEmailAgent(s settings.Snapshot, users UserDirectory, mailer Mailer, log *slog.Logger) *EmailAgent {
	log = logutil.NoopIfNil(log)
	return &EmailAgent{
		cfg:    s.Notifications.Email,
		main:   s.Main,
		users:  users,
		mailer: mailer,
		log:    log.With("agent", AgentEmail),
	}
}

func (a *EmailAgent) Name() string { return AgentEmail }

func (a *EmailAgent) ShouldSend() bool {
	return a.cfg.Enabled && a.cfg.EmailFrom != "" && a.cfg.SMTPHost != "" && a.cfg.SMTPPort != 0
}

func (a *EmailAgent) Send(ctx context.Context, typ Type, p Payload) bool {
	tmpl, ok := emailTemplates[typ]
	if !ok {
		return true
	}

	if p.NotifyUser != nil && PreferenceAllows(p.NotifyUser, AgentEmail, typ) {
		a.log.Debug("sending email notification", "type", typ.String(), "subject", p.Subject, "recipient", p.NotifyUser.Name())
		if err := a.mailer.Send(ctx, a.buildEmail(tmpl, p.NotifyUser, p)); err != nil {
			a.log.Error("error sending email notification",
				"type", typ.String(), "subject", p.Subject, "recipient", p.NotifyUser.Name(), "error", err)
			return false
		}
	}

	if p.NotifyAdmin {
		admins, err := adminRecipients(ctx, a.users, AgentEmail, typ, p)
		if err != nil {
			a.log.Error("list admin recipients failed", "error", err)
			return false
		}
		admins = lo.Filter(admins, func(u *identity.User, _ int) bool { return u.Email != "" })
		failed, err := deliverAll(ctx, admins, func(ctx context.Context, u *identity.User) error {
			a.log.Debug("sending email notification", "type", typ.String(), "subject", p.Subject, "recipient", u.Name())
			if err := a.mailer.Send(ctx, a.buildEmail(tmpl, u, p)); err != nil {
				a.log.Error("error sending email notification",
					"type", typ.String(), "subject", p.Subject, "recipient", u.Name(), "error", err)
				return fmt.Errorf("email to user %d: %w", u.ID, err)
			}
			return nil
		})
		if failed > 0 {
			a.log.Warn("admin email delivery incomplete",
				"type", typ.String(), "failed", failed, "recipients", len(admins), "first_error", err)
		}
	}

	return true
}

func (a *EmailAgent) buildEmail(tmpl string, to *identity.User, p Payload) Email {
	return Email{
		Template: tmpl,
		To:       to.Email,
		ToName:   to.Name(),
		Subject:  p.Subject,
		PGPKey:   to.Settings.PGPKey,
		Locals: map[string]any{
			"body":             p.Message,
			"actionUrl":        p.ActionURL,
			"actionUrlTitle":   p.ActionURLTitle,
			"applicationUrl":   a.main.ApplicationURL,
			"applicationTitle": a.main.ApplicationTitle,
			"recipientName":    to.Name(),
			"recipientEmail":   to.Email,
			"logoUrl":          a.main.LogoURL(),
		},
	}
}
