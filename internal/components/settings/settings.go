// Package settings defines the immutable application settings snapshot that
// is injected into the quota calculator, the invite service and the
// notification agents.
package settings

import (
	"errors"
	"fmt"
	"net/mail"

	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
)

// Snapshot is read once at startup and never mutated afterwards.
type Snapshot struct {
	Main          Main           `toml:"main"`
	Invites       InviteDefaults `toml:"invites"`
	Trial         Trial          `toml:"trial"`
	Notifications Notifications  `toml:"notifications"`
}

// Main holds branding and public URL settings.
type Main struct {
	// ApplicationTitle is shown in emails and push payloads.
	ApplicationTitle string `toml:"application_title"`

	// ApplicationURL is the public base URL used in links and logos.
	ApplicationURL string `toml:"application_url"`

	// CustomLogo overrides the default logo path in emails.
	CustomLogo string `toml:"custom_logo"`

	// DefaultPermissions is granted to accounts created through signup.
	DefaultPermissions permissions.Permission `toml:"default_permissions"`
}

// InviteDefaults holds global invite and quota defaults.
type InviteDefaults struct {
	// QuotaLimit is the default number of invites a user may create in the
	// quota window. 0 means unlimited.
	QuotaLimit int `toml:"quota_limit"`

	// QuotaDays is the default rolling window in days. 0 means lifetime.
	QuotaDays int `toml:"quota_days"`

	// UsageLimit is the default number of redemptions per invite.
	UsageLimit int `toml:"usage_limit"`

	// ExpiryLimit and ExpiryTime set the default invite lifetime.
	// ExpiryTime is one of "", "days", "weeks", "months".
	ExpiryLimit int    `toml:"expiry_limit"`
	ExpiryTime  string `toml:"expiry_time"`

	SharedLibraries string `toml:"shared_libraries"`
	Downloads       bool   `toml:"downloads"`
	LiveTV          bool   `toml:"live_tv"`
	PlexHome        bool   `toml:"plex_home"`
}

// Trial configures the trial period granted to new users.
type Trial struct {
	Enabled bool `toml:"enabled"`
	Days    int  `toml:"days"`
}

// Notifications holds per-agent configuration.
type Notifications struct {
	Email   EmailAgent   `toml:"email"`
	WebPush WebPushAgent `toml:"webpush"`
	InApp   InAppAgent   `toml:"in_app"`
}

// EmailAgent configures SMTP delivery.
type EmailAgent struct {
	Enabled         bool   `toml:"enabled"`
	EmailFrom       string `toml:"email_from"`
	SenderName      string `toml:"sender_name"`
	SMTPHost        string `toml:"smtp_host"`
	SMTPPort        int    `toml:"smtp_port"`
	Secure          bool   `toml:"secure"`
	IgnoreTLS       bool   `toml:"ignore_tls"`
	RequireTLS      bool   `toml:"require_tls"`
	AuthUser        string `toml:"auth_user"`
	AuthPass        string `toml:"auth_pass"`
	AllowSelfSigned bool   `toml:"allow_self_signed"`
}

// WebPushAgent configures browser push delivery.
type WebPushAgent struct {
	Enabled bool `toml:"enabled"`

	// VAPID keys. Generated and persisted under the data dir when empty.
	VAPIDPublic  string `toml:"vapid_public"`
	VAPIDPrivate string `toml:"vapid_private"`
}

// InAppAgent configures persisted in-app notifications.
type InAppAgent struct {
	Enabled bool `toml:"enabled"`
}

// Valid expiry units.
const (
	ExpiryNone   = ""
	ExpiryDays   = "days"
	ExpiryWeeks  = "weeks"
	ExpiryMonths = "months"
)

// Defaults returns the settings used when the config file is silent.
func Defaults() Snapshot {
	return Snapshot{
		Main: Main{
			ApplicationTitle: "Streamarr",
			ApplicationURL:   "http://localhost:9080",

			DefaultPermissions: permissions.Streamarr | permissions.Request | permissions.CreateInvites,
		},
		Invites: InviteDefaults{
			QuotaLimit:  0,
			QuotaDays:   7,
			UsageLimit:  1,
			ExpiryLimit: 1,
			ExpiryTime:  ExpiryNone,
			Downloads:   true,
		},
		Trial: Trial{Enabled: false, Days: 7},
		Notifications: Notifications{
			Email:   EmailAgent{SMTPPort: 587, SenderName: "Streamarr"},
			WebPush: WebPushAgent{Enabled: true},
			InApp:   InAppAgent{Enabled: true},
		},
	}
}

// Validate checks enum and range fields.
func (s *Snapshot) Validate() error {
	var errs []error
	switch s.Invites.ExpiryTime {
	case ExpiryNone, ExpiryDays, ExpiryWeeks, ExpiryMonths:
	default:
		errs = append(errs, fmt.Errorf("settings.invites.expiry_time: invalid value %q", s.Invites.ExpiryTime))
	}
	if s.Invites.QuotaLimit < 0 {
		errs = append(errs, errors.New("settings.invites.quota_limit must be >= 0"))
	}
	if s.Invites.QuotaDays < 0 {
		errs = append(errs, errors.New("settings.invites.quota_days must be >= 0"))
	}
	if s.Invites.UsageLimit < 0 {
		errs = append(errs, errors.New("settings.invites.usage_limit must be >= 0"))
	}
	if s.Invites.ExpiryLimit < 0 {
		errs = append(errs, errors.New("settings.invites.expiry_limit must be >= 0"))
	}
	if s.Main.DefaultPermissions&permissions.Admin != 0 {
		errs = append(errs, errors.New("settings.main.default_permissions must not include ADMIN"))
	}
	if s.Trial.Days < 0 {
		errs = append(errs, errors.New("settings.trial.days must be >= 0"))
	}
	email := s.Notifications.Email
	if email.SMTPPort < 0 || email.SMTPPort > 65535 {
		errs = append(errs, fmt.Errorf("settings.notifications.email.smtp_port out of range: %d", email.SMTPPort))
	}
	if email.EmailFrom != "" {
		if _, err := mail.ParseAddress(email.EmailFrom); err != nil {
			errs = append(errs, fmt.Errorf("settings.notifications.email.email_from: %w", err))
		}
	}
	return errors.Join(errs...)
}

// LogoURL returns the logo used in emails.
func (m Main) LogoURL() string {
	if m.CustomLogo != "" {
		return m.CustomLogo
	}
	return "/logo_full.png"
}
