// Package invites implements the invite lifecycle: creation under quota,
// validation, redemption accounting and expiry.
package invites

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/components/settings"
)

var (
	ErrNotFound        = errors.New("invite not found")
	ErrDuplicateCode   = errors.New("invite with this code already exists")
	ErrNotActive       = errors.New("invite is not active")
	ErrExpired         = errors.New("invite has expired")
	ErrUsageExhausted  = errors.New("invite usage limit reached")
	ErrPermission      = errors.New("permission denied")
	ErrQuotaRestricted = errors.New("invite quota exceeded")
	ErrInvalidStatus   = errors.New("invalid invite status")
	ErrInvalidRequest  = errors.New("invalid invite request")
)

// Status is persisted as its integer value.
type Status int

const (
	StatusInactive Status = iota
	StatusActive
	StatusRedeemed
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	case StatusRedeemed:
		return "redeemed"
	case StatusExpired:
		return "expired"
	}
	return "unknown"
}

// Expiry unit lengths in milliseconds.
const (
	msPerDay   = 86_400_000
	msPerWeek  = 604_800_000
	msPerMonth = 2_629_800_000
)

// Invite is a redeemable sign-up code with usage and expiry policy.
type Invite struct {
	ID        int64      `json:"id"`
	Status    Status     `json:"status"`
	ExpiresAt *time.Time `json:"expiresAt"`
	ICode     string     `json:"icode"`
	Uses      int        `json:"uses"`

	// UsageLimit of 0 means unlimited redemptions.
	UsageLimit int  `json:"usageLimit"`
	Downloads  bool `json:"downloads"`
	LiveTV     bool `json:"liveTv"`
	PlexHome   bool `json:"plexHome"`

	ExpiryLimit int    `json:"expiryLimit"`
	ExpiryTime  string `json:"expiryTime"`

	// SharedLibraries is "" or "server" (inherit default), "all", or a
	// "|"-delimited list of library ids.
	SharedLibraries string `json:"sharedLibraries"`

	CreatedBy  int64     `json:"createdBy,omitempty"`
	UpdatedBy  int64     `json:"updatedBy,omitempty"`
	RedeemedBy []int64   `json:"redeemedBy"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Clone returns a deep copy.
func (i *Invite) Clone() *Invite {
	c := *i
	if i.ExpiresAt != nil {
		t := *i.ExpiresAt
		c.ExpiresAt = &t
	}
	c.RedeemedBy = slices.Clone(i.RedeemedBy)
	return &c
}

// IsExpired reports whether the expiry instant has passed. It never
// changes Status; the expiry job does that.
func (i *Invite) IsExpired() bool {
	return i.IsExpiredAt(time.Now())
}

// IsExpiredAt is IsExpired against a fixed clock.
func (i *Invite) IsExpiredAt(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// ExpiryDate returns the expiry instant or nil for never.
func (i *Invite) ExpiryDate() *time.Time {
	return i.ExpiresAt
}

// Exhausted reports whether a bounded invite has no uses left.
func (i *Invite) Exhausted() bool {
	return i.UsageLimit > 0 && i.Uses >= i.UsageLimit
}

// RedeemedByUser reports whether userID already redeemed the invite.
func (i *Invite) RedeemedByUser(userID int64) bool {
	return slices.Contains(i.RedeemedBy, userID)
}

// Redeem records one use by userID. It fails unless the invite is ACTIVE,
// has uses left and has not expired at now.
func (i *Invite) Redeem(userID int64, now time.Time) error {
	if i.Status != StatusActive {
		return ErrNotActive
	}
	if i.Exhausted() {
		return ErrUsageExhausted
	}
	if i.IsExpiredAt(now) {
		return ErrExpired
	}

	i.Uses++
	if !i.RedeemedByUser(userID) {
		i.RedeemedBy = append(i.RedeemedBy, userID)
	}
	if i.Exhausted() {
		i.Status = StatusRedeemed
	}
	i.UpdatedBy = userID
	i.UpdatedAt = now
	return nil
}

// UnitDuration returns the length of one expiry unit, 0 for no expiry.
func UnitDuration(unit string) time.Duration {
	switch unit {
	case settings.ExpiryDays:
		return msPerDay * time.Millisecond
	case settings.ExpiryWeeks:
		return msPerWeek * time.Millisecond
	case settings.ExpiryMonths:
		return msPerMonth * time.Millisecond
	}
	return 0
}

// ComputeExpiry returns from + limit units, or nil when the policy never
// expires.
func ComputeExpiry(limit int, unit string, from time.Time) *time.Time {
	d := UnitDuration(unit)
	if limit <= 0 || d == 0 {
		return nil
	}
	t := from.Add(time.Duration(limit) * d)
	return &t
}

// Library grant modes.
const (
	LibrariesInherit = "server"
	LibrariesAll     = "all"
)

// EffectiveLibraries resolves the invite's grant against the server default.
func (i *Invite) EffectiveLibraries(serverDefault string) string {
	switch i.SharedLibraries {
	case "", LibrariesInherit:
		return serverDefault
	}
	return i.SharedLibraries
}

// LibraryIDs splits an explicit library list; nil for inherit or all.
func LibraryIDs(grant string) []string {
	switch grant {
	case "", LibrariesInherit, LibrariesAll:
		return nil
	}
	var ids []string
	for _, id := range strings.Split(grant, "|") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
