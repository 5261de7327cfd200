// Package settings serves the public settings read by the login and
// signup pages.
package settings

import (
	"net/http"

	"github.com/nickelsh1ts/streamarr/internal/components/api"
	"github.com/nickelsh1ts/streamarr/internal/components/settings"
)

// Public is the unauthenticated settings view. It never carries secrets.
type Public struct {
	ApplicationTitle string `json:"applicationTitle"`
	ApplicationURL   string `json:"applicationUrl"`
	CustomLogo       string `json:"customLogo,omitempty"`

	EmailEnabled   bool   `json:"emailEnabled"`
	WebPushEnabled bool   `json:"enablePushRegistration"`
	InAppEnabled   bool   `json:"inAppEnabled"`
	VAPIDPublic    string `json:"vapidPublic,omitempty"`

	TrialEnabled bool `json:"trialEnabled"`
	TrialDays    int  `json:"trialDays,omitempty"`
}

// NewPublic builds the public view of s.
func NewPublic(s settings.Snapshot) Public {
	p := Public{
		ApplicationTitle: s.Main.ApplicationTitle,
		ApplicationURL:   s.Main.ApplicationURL,
		CustomLogo:       s.Main.CustomLogo,
		EmailEnabled:     s.Notifications.Email.Enabled,
		WebPushEnabled:   s.Notifications.WebPush.Enabled,
		InAppEnabled:     s.Notifications.InApp.Enabled,
		TrialEnabled:     s.Trial.Enabled,
	}
	if p.WebPushEnabled {
		p.VAPIDPublic = s.Notifications.WebPush.VAPIDPublic
	}
	if p.TrialEnabled {
		p.TrialDays = s.Trial.Days
	}
	return p
}

// HandlePublic handles GET /api/v1/settings/public.
func HandlePublic(s settings.Snapshot) http.HandlerFunc {
	pub := NewPublic(s)
	return func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, pub)
	}
}

// HandleInvites handles GET /api/v1/settings/invites: the global invite
// defaults, visible to invite creators.
func HandleInvites(s settings.Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, s.Invites)
	}
}
