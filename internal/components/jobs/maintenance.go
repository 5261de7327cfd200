package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
)

// InviteExpirer moves overdue invites to EXPIRED.
type InviteExpirer interface {
	ExpireDue(ctx context.Context) (int, error)
}

// Defaults for the maintenance schedules.
const (
	DefaultExpireInvitesSchedule        = "0 0 1 * * *"
	DefaultCleanupNotificationsSchedule = "0 0 2 * * *"
	DefaultRetentionDays                = 365
)

// ExpireInvitesJob expires invites whose expiry instant has passed.
func ExpireInvitesJob(schedule string, invites InviteExpirer) Definition {
	return Definition{
		ID:       ExpireInvites,
		Name:     "Invite Expiry",
		Schedule: schedule,
		Run: func(ctx context.Context) (string, error) {
			n, err := invites.ExpireDue(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d invites expired", n), nil
		},
	}
}

// CleanupNotificationsJob deletes in-app records older than retentionDays
// and records whose creator no longer exists.
func CleanupNotificationsJob(schedule string, retentionDays int, records notifications.RecordRepo, now func() time.Time) Definition {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if now == nil {
		now = time.Now
	}
	return Definition{
		ID:       CleanupNotifications,
		Name:     "Notification Cleanup",
		Schedule: schedule,
		Run: func(ctx context.Context) (string, error) {
			cutoff := now().AddDate(0, 0, -retentionDays)
			old, err := records.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				return "", fmt.Errorf("delete old notifications: %w", err)
			}
			orphaned, err := records.DeleteOrphaned(ctx)
			if err != nil {
				return "", fmt.Errorf("delete orphaned notifications: %w", err)
			}
			return fmt.Sprintf("%d old and %d orphaned notifications removed", old, orphaned), nil
		},
	}
}
