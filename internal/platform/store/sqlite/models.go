package sqlite

import (
	"time"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/invites"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
)

type userRow struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	Email             string `gorm:"uniqueIndex;not null"`
	Username          string
	DisplayName       string
	PasswordHash      string
	Permissions       int64
	InviteQuotaLimit  *int
	InviteQuotaDays   *int
	Locale            string
	PGPKey            string `gorm:"column:pgp_key"`
	SharedLibraries   string
	AllowDownloads    bool
	AllowLiveTV       bool `gorm:"column:allow_live_tv"`
	TrialPeriodEndsAt *time.Time
	NotificationTypes map[string]int `gorm:"serializer:json"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (userRow) TableName() string { return "users" }

func userToRow(u *identity.User) *userRow {
	return &userRow{
		ID:                u.ID,
		Email:             u.Email,
		Username:          u.Username,
		DisplayName:       u.DisplayName,
		PasswordHash:      u.PasswordHash,
		Permissions:       int64(u.Permissions),
		InviteQuotaLimit:  u.InviteQuotaLimit,
		InviteQuotaDays:   u.InviteQuotaDays,
		Locale:            u.Settings.Locale,
		PGPKey:            u.Settings.PGPKey,
		SharedLibraries:   u.Settings.SharedLibraries,
		AllowDownloads:    u.Settings.AllowDownloads,
		AllowLiveTV:       u.Settings.AllowLiveTV,
		TrialPeriodEndsAt: u.Settings.TrialPeriodEndsAt,
		NotificationTypes: u.Settings.NotificationTypes,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

func (r *userRow) toUser() *identity.User {
	return &identity.User{
		ID:               r.ID,
		Email:            r.Email,
		Username:         r.Username,
		DisplayName:      r.DisplayName,
		PasswordHash:     r.PasswordHash,
		Permissions:      permissions.Permission(r.Permissions),
		InviteQuotaLimit: r.InviteQuotaLimit,
		InviteQuotaDays:  r.InviteQuotaDays,
		Settings: identity.UserSettings{
			Locale:            r.Locale,
			PGPKey:            r.PGPKey,
			SharedLibraries:   r.SharedLibraries,
			AllowDownloads:    r.AllowDownloads,
			AllowLiveTV:       r.AllowLiveTV,
			TrialPeriodEndsAt: r.TrialPeriodEndsAt,
			NotificationTypes: r.NotificationTypes,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type pushRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    int64  `gorm:"index;not null"`
	Endpoint  string `gorm:"uniqueIndex;not null"`
	P256dh    string `gorm:"column:p256dh"`
	Auth      string
	UserAgent string
	CreatedAt time.Time
}

func (pushRow) TableName() string { return "user_push_subscriptions" }

func pushToRow(s *identity.PushSubscription) *pushRow {
	return &pushRow{
		ID:        s.ID,
		UserID:    s.UserID,
		Endpoint:  s.Endpoint,
		P256dh:    s.P256dh,
		Auth:      s.Auth,
		UserAgent: s.UserAgent,
		CreatedAt: s.CreatedAt,
	}
}

func (r *pushRow) toSubscription() *identity.PushSubscription {
	return &identity.PushSubscription{
		ID:        r.ID,
		UserID:    r.UserID,
		Endpoint:  r.Endpoint,
		P256dh:    r.P256dh,
		Auth:      r.Auth,
		UserAgent: r.UserAgent,
		CreatedAt: r.CreatedAt,
	}
}

type inviteRow struct {
	ID              int64      `gorm:"primaryKey;autoIncrement"`
	Status          int        `gorm:"index"`
	ExpiresAt       *time.Time `gorm:"index"`
	ICode           string     `gorm:"column:icode;uniqueIndex;not null"`
	Uses            int
	UsageLimit      int
	Downloads       bool
	LiveTV          bool `gorm:"column:live_tv"`
	PlexHome        bool
	ExpiryLimit     int
	ExpiryTime      string
	SharedLibraries string
	CreatedBy       int64     `gorm:"index"`
	UpdatedBy       int64
	RedeemedBy      []int64   `gorm:"serializer:json"`
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false"`
}

func (inviteRow) TableName() string { return "invites" }

func inviteToRow(i *invites.Invite) *inviteRow {
	return &inviteRow{
		ID:              i.ID,
		Status:          int(i.Status),
		ExpiresAt:       utcPtr(i.ExpiresAt),
		ICode:           i.ICode,
		Uses:            i.Uses,
		UsageLimit:      i.UsageLimit,
		Downloads:       i.Downloads,
		LiveTV:          i.LiveTV,
		PlexHome:        i.PlexHome,
		ExpiryLimit:     i.ExpiryLimit,
		ExpiryTime:      i.ExpiryTime,
		SharedLibraries: i.SharedLibraries,
		CreatedBy:       i.CreatedBy,
		UpdatedBy:       i.UpdatedBy,
		RedeemedBy:      i.RedeemedBy,
		CreatedAt:       i.CreatedAt.UTC(),
		UpdatedAt:       i.UpdatedAt.UTC(),
	}
}

func (r *inviteRow) toInvite() *invites.Invite {
	return &invites.Invite{
		ID:              r.ID,
		Status:          invites.Status(r.Status),
		ExpiresAt:       r.ExpiresAt,
		ICode:           r.ICode,
		Uses:            r.Uses,
		UsageLimit:      r.UsageLimit,
		Downloads:       r.Downloads,
		LiveTV:          r.LiveTV,
		PlexHome:        r.PlexHome,
		ExpiryLimit:     r.ExpiryLimit,
		ExpiryTime:      r.ExpiryTime,
		SharedLibraries: r.SharedLibraries,
		CreatedBy:       r.CreatedBy,
		UpdatedBy:       r.UpdatedBy,
		RedeemedBy:      r.RedeemedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type notificationRow struct {
	ID             int64 `gorm:"primaryKey;autoIncrement"`
	Type           int   `gorm:"index"`
	Severity       string
	Subject        string
	Message        string
	IsRead         bool
	ActionURL      string `gorm:"column:action_url"`
	ActionURLTitle string `gorm:"column:action_url_title"`
	InviteID       int64
	NotifyUserID   int64 `gorm:"index"`
	CreatedByID    int64 `gorm:"index"`
	UpdatedByID    int64
	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time
}

func (notificationRow) TableName() string { return "notifications" }

func recordToRow(n *notifications.Record) *notificationRow {
	return &notificationRow{
		ID:             n.ID,
		Type:           int(n.Type),
		Severity:       string(n.Severity),
		Subject:        n.Subject,
		Message:        n.Message,
		IsRead:         n.IsRead,
		ActionURL:      n.ActionURL,
		ActionURLTitle: n.ActionURLTitle,
		InviteID:       n.InviteID,
		NotifyUserID:   n.NotifyUserID,
		CreatedByID:    n.CreatedByID,
		UpdatedByID:    n.UpdatedByID,
		CreatedAt:      n.CreatedAt.UTC(),
		UpdatedAt:      n.UpdatedAt.UTC(),
	}
}

func (r *notificationRow) toRecord() *notifications.Record {
	return &notifications.Record{
		ID:             r.ID,
		Type:           notifications.Type(r.Type),
		Severity:       notifications.Severity(r.Severity),
		Subject:        r.Subject,
		Message:        r.Message,
		IsRead:         r.IsRead,
		ActionURL:      r.ActionURL,
		ActionURLTitle: r.ActionURLTitle,
		InviteID:       r.InviteID,
		NotifyUserID:   r.NotifyUserID,
		CreatedByID:    r.CreatedByID,
		UpdatedByID:    r.UpdatedByID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// Times are stored in UTC so the text comparisons sqlite performs on them
// order correctly.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
