// Package quota computes how many invites a user may still create.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
	"github.com/nickelsh1ts/streamarr/internal/components/settings"
)

// Unlimited is the limit reported for users who bypass quotas.
const Unlimited = -1

// InviteCounter counts a user's non-expired invites. A nil since counts
// over the user's whole history; otherwise only invites created strictly
// after since are counted.
type InviteCounter interface {
	CountActiveCreatedBy(ctx context.Context, userID int64, since *time.Time) (int, error)
}

// Result is the quota state returned to clients.
type Result struct {
	Days               int        `json:"days"`
	Limit              int        `json:"limit"`
	Used               int        `json:"used"`
	Remaining          *int       `json:"remaining"`
	Restricted         bool       `json:"restricted"`
	TrialPeriodActive  bool       `json:"trialPeriodActive"`
	TrialPeriodEndsAt  *time.Time `json:"trialPeriodEndsAt"`
	TrialPeriodEnabled bool       `json:"trialPeriodEnabled"`
}

// Envelope wraps Result the way the API returns it.
type Envelope struct {
	Invite Result `json:"invite"`
}

// Calculator evaluates quotas against the injected settings.
type Calculator struct {
	counter  InviteCounter
	defaults settings.InviteDefaults
	trial    settings.Trial
	now      func() time.Time
}

func NewCalculator(counter InviteCounter, s settings.Snapshot) *Calculator {
	return &Calculator{counter: counter, defaults: s.Invites, trial: s.Trial, now: time.Now}
}

// WithClock replaces the time source; tests only.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// CanBypass reports whether u is exempt from invite quotas.
func CanBypass(u *identity.User) bool {
	return permissions.HasAny(u.Permissions, permissions.ManageUsers, permissions.ManageInvites)
}

// Get computes u's current quota. Counting is skipped for unbounded
// limits, so admins never pay for a count query.
func (c *Calculator) Get(ctx context.Context, u *identity.User) (Result, error) {
	now := c.now()
	bypass := CanBypass(u)

	limit := c.defaults.QuotaLimit
	if u.InviteQuotaLimit != nil {
		limit = *u.InviteQuotaLimit
	}
	if bypass {
		limit = Unlimited
	}
	days := c.defaults.QuotaDays
	if u.InviteQuotaDays != nil {
		days = *u.InviteQuotaDays
	}

	endsAt := u.Settings.TrialPeriodEndsAt
	inTrial := endsAt != nil && endsAt.After(now) && c.trial.Enabled && !bypass

	var used int
	if limit > 0 {
		var since *time.Time
		if days > 0 {
			cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
			since = &cutoff
		}
		n, err := c.counter.CountActiveCreatedBy(ctx, u.ID, since)
		if err != nil {
			return Result{}, fmt.Errorf("count invites for user %d: %w", u.ID, err)
		}
		used = n
	}

	exceeded := limit > 0 && limit-used <= 0

	// Any configured limit, the bypass value -1 included, reports a
	// remaining count; only a zero limit leaves it null.
	var remaining *int
	if limit != 0 {
		r := max(0, limit-used)
		remaining = &r
	}

	return Result{
		Days:               days,
		Limit:              limit,
		Used:               used,
		Remaining:          remaining,
		Restricted:         (inTrial && !bypass) || exceeded,
		TrialPeriodActive:  inTrial,
		TrialPeriodEndsAt:  endsAt,
		TrialPeriodEnabled: c.trial.Enabled,
	}, nil
}
