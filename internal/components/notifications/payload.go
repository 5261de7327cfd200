package notifications

import (
	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
)

// InviteRef identifies the invite an event is about.
type InviteRef struct {
	ID        int64
	ICode     string
	CreatedBy int64
}

// Payload describes one event. It is built per dispatch and must not be
// mutated once handed to the dispatcher; agents derive their own channel
// payloads from it.
type Payload struct {
	Subject string
	Message string

	NotifySystem bool
	NotifyAdmin  bool
	NotifyUser   *identity.User

	Invite *InviteRef

	Image          string
	ActionURL      string
	ActionURLTitle string
	IsAdmin        bool
	Severity       Severity

	// CreatedBy is the acting user, nil for system events.
	CreatedBy *identity.User
}

// PreferenceAllows reports whether user accepts typ on the agent channel.
// A user with no stored preference for the channel accepts everything.
func PreferenceAllows(user *identity.User, agentKey string, typ Type) bool {
	if user == nil {
		return false
	}
	mask, ok := user.Settings.NotificationTypes[agentKey]
	if !ok {
		return true
	}
	return HasNotificationType([]Type{typ}, mask)
}

// AdminPermission is the permission an admin needs to receive typ.
func AdminPermission(Type) permissions.Permission {
	return permissions.Admin
}

// ShouldSendAdminNotification reports whether user should get the admin
// copy of an event: never the direct recipient, and only holders of the
// admin permission for the type.
func ShouldSendAdminNotification(typ Type, user *identity.User, p Payload) bool {
	if p.NotifyUser != nil && user.ID == p.NotifyUser.ID {
		return false
	}
	return user.Has(AdminPermission(typ))
}

// SanitizePreferences drops unknown agent keys and bits outside AllTypes.
func SanitizePreferences(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for _, k := range AgentKeys {
		if v, ok := in[k]; ok {
			out[k] = v & int(AllTypes)
		}
	}
	return out
}
