package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/settings"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
	"github.com/nickelsh1ts/streamarr/internal/platform/metrics"
)

// PushPayload is the JSON body delivered to the service worker.
type PushPayload struct {
	NotificationType string `json:"notificationType"`
	Subject          string `json:"subject"`
	Message          string `json:"message,omitempty"`
	Image            string `json:"image,omitempty"`
	ActionURL        string `json:"actionUrl,omitempty"`
	ActionURLTitle   string `json:"actionUrlTitle,omitempty"`
	IsAdmin          bool   `json:"isAdmin,omitempty"`
}

// Pusher delivers one encrypted push message.
type Pusher interface {
	Push(ctx context.Context, sub *identity.PushSubscription, payload []byte, contact string) error
}

// PushSubscriptionStore is the subscription access the web push agent needs.
type PushSubscriptionStore interface {
	ListByUser(ctx context.Context, userID int64) ([]*identity.PushSubscription, error)
	Delete(ctx context.Context, id int64) error
}

// WebPushAgent delivers browser push notifications.
type WebPushAgent struct {
	enabled bool
	users   UserDirectory
	subs    PushSubscriptionStore
	pusher  Pusher
	log     *slog.Logger
}

func NewWebPushAgent(s settings.Snapshot, users UserDirectory, subs PushSubscriptionStore, pusher Pusher, log *slog.Logger) *WebPushAgent {
	log = logutil.NoopIfNil(log)
	return &WebPushAgent{
		enabled: s.Notifications.WebPush.Enabled,
		users:   users,
		subs:    subs,
		pusher:  pusher,
		log:     log.With("agent", AgentWebPush),
	}
}

func (a *WebPushAgent) Name() string { return AgentWebPush }

func (a *WebPushAgent) ShouldSend() bool { return a.enabled }

// BuildPushPayload maps a notification onto the push body. Types without a
// push rendering still deliver a stub so the client learns something
// happened.
func BuildPushPayload(typ Type, p Payload) PushPayload {
	switch typ {
	case TestNotification, LocalMessage:
		return PushPayload{
			NotificationType: typ.String(),
			Subject:          p.Subject,
			Message:          p.Message,
			Image:            p.Image,
			ActionURL:        p.ActionURL,
			ActionURLTitle:   p.ActionURLTitle,
			IsAdmin:          p.IsAdmin,
		}
	default:
		return PushPayload{NotificationType: typ.String(), Subject: "Unknown"}
	}
}

func (a *WebPushAgent) Send(ctx context.Context, typ Type, p Payload) bool {
	owner, err := a.users.Get(ctx, identity.OwnerID)
	if err != nil {
		a.log.Debug("main user not found, skipping web push", "error", err)
		return true
	}

	var targets []*identity.PushSubscription
	if p.NotifyUser != nil && PreferenceAllows(p.NotifyUser, AgentWebPush, typ) {
		subs, err := a.subs.ListByUser(ctx, p.NotifyUser.ID)
		if err != nil {
			a.log.Error("list push subscriptions failed", "user_id", p.NotifyUser.ID, "error", err)
		}
		targets = append(targets, subs...)
	}

	if p.NotifyAdmin {
		admins, err := adminRecipients(ctx, a.users, AgentWebPush, typ, p)
		if err != nil {
			a.log.Error("list admin recipients failed", "error", err)
		}
		for _, u := range admins {
			subs, err := a.subs.ListByUser(ctx, u.ID)
			if err != nil {
				a.log.Error("list push subscriptions failed", "user_id", u.ID, "error", err)
				continue
			}
			targets = append(targets, subs...)
		}
	}

	if len(targets) == 0 {
		return true
	}

	body, err := json.Marshal(BuildPushPayload(typ, p))
	if err != nil {
		a.log.Error("encode push payload failed", "error", err)
		return false
	}

	failed, err := deliverAll(ctx, targets, func(ctx context.Context, sub *identity.PushSubscription) error {
		a.log.Debug("sending web push notification", "type", typ.String(), "subject", p.Subject, "user_id", sub.UserID)
		if err := a.pusher.Push(ctx, sub, body, owner.Email); err != nil {
			a.log.Error("Error sending web push notification; removing subscription",
				"type", typ.String(), "subject", p.Subject, "user_id", sub.UserID, "endpoint", sub.Endpoint, "error", err)
			if derr := a.subs.Delete(ctx, sub.ID); derr != nil {
				a.log.Warn("remove push subscription failed", "subscription_id", sub.ID, "error", derr)
			} else {
				metrics.PushSubscriptionsPruned.Inc()
			}
			return fmt.Errorf("push to subscription %d: %w", sub.ID, err)
		}
		return nil
	})
	if failed > 0 {
		a.log.Warn("web push delivery incomplete",
			"type", typ.String(), "failed", failed, "subscriptions", len(targets), "first_error", err)
	}
	return true
}

// VAPIDPusher sends through webpush-go with VAPID authentication.
type VAPIDPusher struct {
	public  string
	private string
	ttl     int
	client  *http.Client
}

func NewVAPIDPusher(cfg settings.WebPushAgent, client *http.Client) *VAPIDPusher {
	if client == nil {
		client = http.DefaultClient
	}
	return &VAPIDPusher{public: cfg.VAPIDPublic, private: cfg.VAPIDPrivate, ttl: 60 * 60 * 24, client: client}
}

// Push treats any non-2xx response from the push service as a failure.
func (v *VAPIDPusher) Push(ctx context.Context, sub *identity.PushSubscription, payload []byte, contact string) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, &webpush.Options{
		HTTPClient:      v.client,
		Subscriber:      contact,
		VAPIDPublicKey:  v.public,
		VAPIDPrivateKey: v.private,
		TTL:             v.ttl,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push service responded %s", resp.Status)
	}
	return nil
}
