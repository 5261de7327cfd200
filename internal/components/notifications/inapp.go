package notifications

import (
	"context"
	"log/slog"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/settings"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
)

// Realtime event names.
const (
	EventNewNotification = "newNotification"
)

// Broadcaster pushes live events to a user's connected clients.
type Broadcaster interface {
	Emit(userID int64, event string, data any)
}

// ChangeEvent tells clients an existing record changed.
type ChangeEvent struct {
	ID     int64  `json:"id"`
	IsRead *bool  `json:"isRead,omitempty"`
	Action string `json:"action"`
}

// InAppAgent persists notification records and emits them live.
type InAppAgent struct {
	enabled bool
	users   UserDirectory
	records RecordRepo
	live    Broadcaster
	log     *slog.Logger
}

func NewInAppAgent(s settings.Snapshot, users UserDirectory, records RecordRepo, live Broadcaster, log *slog.Logger) *InAppAgent {
	log = logutil.NoopIfNil(log)
	return &InAppAgent{
		enabled: s.Notifications.InApp.Enabled,
		users:   users,
		records: records,
		live:    live,
		log:     log.With("agent", AgentInApp),
	}
}

func (a *InAppAgent) Name() string { return AgentInApp }

func (a *InAppAgent) ShouldSend() bool { return a.enabled }

func (a *InAppAgent) Send(ctx context.Context, typ Type, p Payload) bool {
	ok := true
	if p.NotifyUser != nil && PreferenceAllows(p.NotifyUser, AgentInApp, typ) {
		if err := a.deliver(ctx, typ, p, p.NotifyUser); err != nil {
			a.log.Error("error saving in-app notification",
				"type", typ.String(), "subject", p.Subject, "recipient", p.NotifyUser.Name(), "error", err)
			ok = false
		}
	}

	if p.NotifyAdmin {
		admins, err := adminRecipients(ctx, a.users, AgentInApp, typ, p)
		if err != nil {
			a.log.Error("list admin recipients failed", "error", err)
			return false
		}
		for _, u := range admins {
			if err := a.deliver(ctx, typ, p, u); err != nil {
				a.log.Error("error saving in-app notification",
					"type", typ.String(), "subject", p.Subject, "recipient", u.Name(), "error", err)
			}
		}
	}
	return ok
}

func (a *InAppAgent) deliver(ctx context.Context, typ Type, p Payload, to *identity.User) error {
	rec := RecordFromPayload(typ, p, to.ID)
	if err := a.records.Create(ctx, rec); err != nil {
		return err
	}
	if a.live != nil {
		a.live.Emit(to.ID, EventNewNotification, rec)
	}
	return nil
}

// RecordFromPayload builds the record persisted for one recipient.
func RecordFromPayload(typ Type, p Payload, recipientID int64) *Record {
	rec := &Record{
		Type:           typ,
		Severity:       p.Severity,
		Subject:        p.Subject,
		Message:        p.Message,
		ActionURL:      p.ActionURL,
		ActionURLTitle: p.ActionURLTitle,
		NotifyUserID:   recipientID,
	}
	if !rec.Severity.Valid() {
		rec.Severity = SeverityInfo
	}
	if p.CreatedBy != nil {
		rec.CreatedByID = p.CreatedBy.ID
		rec.UpdatedByID = p.CreatedBy.ID
	}
	if p.Invite != nil {
		rec.InviteID = p.Invite.ID
	}
	return rec
}
