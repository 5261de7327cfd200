package invites

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/components/settings"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestComputeExpiry(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		unit  string
		want  time.Duration
		never bool
	}{
		{"days", 3, settings.ExpiryDays, 3 * 86_400_000 * time.Millisecond, false},
		{"weeks", 2, settings.ExpiryWeeks, 2 * 604_800_000 * time.Millisecond, false},
		{"months", 1, settings.ExpiryMonths, 2_629_800_000 * time.Millisecond, false},
		{"no unit", 5, settings.ExpiryNone, 0, true},
		{"zero limit", 0, settings.ExpiryDays, 0, true},
		{"bad unit", 1, "years", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeExpiry(tt.limit, tt.unit, t0)
			if tt.never {
				if got != nil {
					t.Fatalf("expected nil expiry, got %v", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected expiry")
			}
			if d := got.Sub(t0); d != tt.want {
				t.Errorf("expiry offset = %v, want %v", d, tt.want)
			}
		})
	}
}

func TestIsExpiredIsPure(t *testing.T) {
	past := t0.Add(-time.Hour)
	inv := &Invite{Status: StatusActive, ExpiresAt: &past}

	if !inv.IsExpiredAt(t0) {
		t.Error("expected expired")
	}
	if inv.Status != StatusActive {
		t.Errorf("status changed to %v", inv.Status)
	}
	if !inv.IsExpiredAt(past) {
		t.Error("expiry instant itself should count as expired")
	}

	never := &Invite{Status: StatusActive}
	if never.IsExpired() || never.ExpiryDate() != nil {
		t.Error("nil expiresAt must never expire")
	}
}

func TestRedeem_UsageLimit(t *testing.T) {
	inv := &Invite{Status: StatusActive, UsageLimit: 2}

	if err := inv.Redeem(10, t0); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if inv.Status != StatusActive || inv.Uses != 1 {
		t.Fatalf("after first: status=%v uses=%d", inv.Status, inv.Uses)
	}
	if err := inv.Redeem(11, t0); err != nil {
		t.Fatalf("second redeem: %v", err)
	}
	if inv.Status != StatusRedeemed {
		t.Errorf("status = %v, want redeemed", inv.Status)
	}
	if err := inv.Redeem(12, t0); !errors.Is(err, ErrNotActive) {
		t.Errorf("third redeem err = %v, want ErrNotActive", err)
	}
	if inv.Uses != 2 {
		t.Errorf("uses = %d, want 2", inv.Uses)
	}
	if !slices.Equal(inv.RedeemedBy, []int64{10, 11}) {
		t.Errorf("redeemedBy = %v", inv.RedeemedBy)
	}
}

func TestRedeem_ExhaustedButStillActive(t *testing.T) {
	// An invite whose status was reset to ACTIVE must still refuse use
	// once its limit is reached.
	inv := &Invite{Status: StatusActive, UsageLimit: 1, Uses: 1}
	if err := inv.Redeem(5, t0); !errors.Is(err, ErrUsageExhausted) {
		t.Fatalf("err = %v, want ErrUsageExhausted", err)
	}
	if inv.Uses != 1 {
		t.Errorf("uses = %d", inv.Uses)
	}
}

func TestRedeem_Unlimited(t *testing.T) {
	inv := &Invite{Status: StatusActive}
	for i := 0; i < 5; i++ {
		if err := inv.Redeem(7, t0); err != nil {
			t.Fatalf("redeem %d: %v", i, err)
		}
	}
	if inv.Status != StatusActive || inv.Uses != 5 {
		t.Errorf("status=%v uses=%d", inv.Status, inv.Uses)
	}
	if len(inv.RedeemedBy) != 1 {
		t.Errorf("repeat redeemer appended twice: %v", inv.RedeemedBy)
	}
}

func TestRedeem_Expired(t *testing.T) {
	exp := t0
	inv := &Invite{Status: StatusActive, ExpiresAt: &exp}
	if err := inv.Redeem(1, t0.Add(time.Second)); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestEffectiveLibraries(t *testing.T) {
	tests := []struct {
		grant string
		want  string
	}{
		{"", "1|2"},
		{LibrariesInherit, "1|2"},
		{LibrariesAll, LibrariesAll},
		{"3|4", "3|4"},
	}
	for _, tt := range tests {
		inv := &Invite{SharedLibraries: tt.grant}
		if got := inv.EffectiveLibraries("1|2"); got != tt.want {
			t.Errorf("EffectiveLibraries(%q) = %q, want %q", tt.grant, got, tt.want)
		}
	}

	if ids := LibraryIDs(" 3 | |4"); !slices.Equal(ids, []string{"3", "4"}) {
		t.Errorf("LibraryIDs = %v", ids)
	}
	if LibraryIDs(LibrariesAll) != nil {
		t.Error("all should have no explicit ids")
	}
}

func TestClone(t *testing.T) {
	exp := t0
	inv := &Invite{ExpiresAt: &exp, RedeemedBy: []int64{1}}
	c := inv.Clone()
	c.RedeemedBy[0] = 9
	*c.ExpiresAt = t0.Add(time.Hour)
	if inv.RedeemedBy[0] != 1 || !inv.ExpiresAt.Equal(t0) {
		t.Error("clone shares state with original")
	}
}
