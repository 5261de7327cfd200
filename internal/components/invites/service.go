package invites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/components/permissions"
	"github.com/nickelsh1ts/streamarr/internal/components/quota"
	"github.com/nickelsh1ts/streamarr/internal/components/settings"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
	"github.com/nickelsh1ts/streamarr/internal/platform/metrics"
)

// Notifier hands events to the notification dispatcher.
type Notifier interface {
	SendNotification(typ notifications.Type, p notifications.Payload)
}

// QuotaChecker computes a user's invite quota.
type QuotaChecker interface {
	Get(ctx context.Context, u *identity.User) (quota.Result, error)
}

// CreateRequest carries optional overrides of the invite defaults.
type CreateRequest struct {
	ICode           string  `json:"icode"`
	UserID          int64   `json:"userId,omitempty"`
	UsageLimit      *int    `json:"usageLimit,omitempty"`
	ExpiryLimit     *int    `json:"expiryLimit,omitempty"`
	ExpiryTime      *string `json:"expiryTime,omitempty"`
	SharedLibraries *string `json:"sharedLibraries,omitempty"`
	Downloads       *bool   `json:"downloads,omitempty"`
	LiveTV          *bool   `json:"liveTv,omitempty"`
	PlexHome        *bool   `json:"plexHome,omitempty"`
}

// ListRequest is a paged listing query.
type ListRequest struct {
	Take      int
	Skip      int
	Sort      string
	Filter    string
	CreatedBy int64
}

// Service implements invite operations on behalf of an acting user.
type Service struct {
	repo     Repo
	users    identity.UserRepo
	quota    QuotaChecker
	notifier Notifier
	settings settings.Snapshot
	now      func() time.Time
	log      *slog.Logger

	// redeemMu serializes redemption so concurrent sign-ups cannot
	// overshoot a usage limit within one process.
	redeemMu sync.Mutex
}

func NewService(repo Repo, users identity.UserRepo, q QuotaChecker, notifier Notifier, s settings.Snapshot, log *slog.Logger) *Service {
	log = logutil.NoopIfNil(log)
	return &Service{
		repo:     repo,
		users:    users,
		quota:    q,
		notifier: notifier,
		settings: s,
		now:      time.Now,
		log:      log,
	}
}

// WithClock replaces the time source; tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GenerateCode returns a random 10 character invite code.
func GenerateCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// Create makes an invite owned by actor, or by req.UserID when actor may
// manage both users and invites.
func (s *Service) Create(ctx context.Context, actor *identity.User, req CreateRequest) (*Invite, error) {
	owner := actor
	if req.UserID != 0 {
		if !permissions.HasAll(actor.Permissions, permissions.ManageUsers, permissions.ManageInvites) {
			return nil, fmt.Errorf("%w: cannot create invites for another user", ErrPermission)
		}
		u, err := s.users.Get(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		owner = u
	}

	q, err := s.quota.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	if q.Restricted {
		metrics.QuotaRejections.Inc()
		return nil, ErrQuotaRestricted
	}

	code := strings.TrimSpace(req.ICode)
	if code == "" {
		code = GenerateCode()
	}
	if _, err := s.repo.GetByCode(ctx, code); err == nil {
		s.log.Warn("duplicate code for invite blocked", "user_id", owner.ID)
		return nil, ErrDuplicateCode
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	d := s.settings.Invites
	inv := &Invite{
		Status:          StatusActive,
		ICode:           code,
		UsageLimit:      d.UsageLimit,
		Downloads:       d.Downloads,
		LiveTV:          d.LiveTV,
		PlexHome:        d.PlexHome,
		ExpiryLimit:     d.ExpiryLimit,
		ExpiryTime:      d.ExpiryTime,
		SharedLibraries: d.SharedLibraries,
		CreatedBy:       owner.ID,
	}
	if permissions.HasAny(actor.Permissions, permissions.AdvancedInvites, permissions.ManageInvites) {
		if err := applyOverrides(inv, req); err != nil {
			return nil, err
		}
	}
	if actor.Has(permissions.ManageInvites) {
		inv.UpdatedBy = actor.ID
	}

	now := s.now()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	inv.ExpiresAt = ComputeExpiry(inv.ExpiryLimit, inv.ExpiryTime, now)

	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, err
	}
	metrics.InvitesCreated.Inc()
	s.log.Info("invite created", "invite_id", inv.ID, "created_by", owner.ID, "expires_at", inv.ExpiresAt)
	return inv, nil
}

func applyOverrides(inv *Invite, req CreateRequest) error {
	if req.UsageLimit != nil {
		if *req.UsageLimit < 0 {
			return fmt.Errorf("%w: usageLimit must be >= 0", ErrInvalidRequest)
		}
		inv.UsageLimit = *req.UsageLimit
	}
	if req.ExpiryLimit != nil {
		if *req.ExpiryLimit < 0 {
			return fmt.Errorf("%w: expiryLimit must be >= 0", ErrInvalidRequest)
		}
		inv.ExpiryLimit = *req.ExpiryLimit
	}
	if req.ExpiryTime != nil {
		switch *req.ExpiryTime {
		case settings.ExpiryNone, settings.ExpiryDays, settings.ExpiryWeeks, settings.ExpiryMonths:
			inv.ExpiryTime = *req.ExpiryTime
		default:
			return fmt.Errorf("%w: invalid expiryTime %q", ErrInvalidRequest, *req.ExpiryTime)
		}
	}
	if req.SharedLibraries != nil {
		inv.SharedLibraries = *req.SharedLibraries
	}
	if req.Downloads != nil {
		inv.Downloads = *req.Downloads
	}
	if req.LiveTV != nil {
		inv.LiveTV = *req.LiveTV
	}
	if req.PlexHome != nil {
		inv.PlexHome = *req.PlexHome
	}
	return nil
}

// Validate checks that code can currently be redeemed.
func (s *Service) Validate(ctx context.Context, code string) (*Invite, error) {
	inv, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusActive {
		return nil, ErrNotActive
	}
	if inv.IsExpiredAt(s.now()) {
		return nil, ErrExpired
	}
	if inv.Exhausted() {
		return nil, ErrUsageExhausted
	}
	return inv, nil
}

// Redeem records user's use of code, applies the invite's grants to the
// user's settings and notifies the invite creator.
func (s *Service) Redeem(ctx context.Context, code string, user *identity.User) (*Invite, error) {
	s.redeemMu.Lock()
	defer s.redeemMu.Unlock()

	inv, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	now := s.now()
	prev := inv.Clone()
	if err := inv.Redeem(user.ID, now); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("save invite: %w", err)
	}

	// A redemption whose grants could not be saved must not consume the
	// invite.
	prevSettings := user.Settings
	user.Settings.SharedLibraries = inv.EffectiveLibraries(s.settings.Invites.SharedLibraries)
	user.Settings.AllowDownloads = inv.Downloads
	user.Settings.AllowLiveTV = inv.LiveTV
	if s.settings.Trial.Enabled && s.settings.Trial.Days > 0 && !quota.CanBypass(user) {
		ends := now.Add(time.Duration(s.settings.Trial.Days) * 24 * time.Hour)
		user.Settings.TrialPeriodEndsAt = &ends
	}
	if err := s.users.Update(ctx, user); err != nil {
		user.Settings = prevSettings
		if rerr := s.repo.Update(ctx, prev); rerr != nil {
			s.log.Error("failed to restore invite after redemption error", "invite_id", inv.ID, "error", rerr)
		}
		return nil, fmt.Errorf("apply invite grants: %w", err)
	}

	metrics.InvitesRedeemed.Inc()
	s.log.Info("invite redeemed", "invite_id", inv.ID, "user_id", user.ID, "uses", inv.Uses, "status", inv.Status.String())

	creator := s.creatorOf(ctx, inv)
	s.notifier.SendNotification(notifications.InviteRedeemed, notifications.Payload{
		Subject:        "Invite Redeemed: " + inv.ICode,
		Message:        fmt.Sprintf("Your invite has been redeemed by %s.", user.Name()),
		NotifyUser:     creator,
		NotifyAdmin:    true,
		Invite:         ref(inv),
		ActionURL:      "/invites",
		ActionURLTitle: "View Invites",
		Severity:       notifications.SeveritySuccess,
		CreatedBy:      user,
	})
	return inv, nil
}

func (s *Service) creatorOf(ctx context.Context, inv *Invite) *identity.User {
	if inv.CreatedBy == 0 {
		return nil
	}
	u, err := s.users.Get(ctx, inv.CreatedBy)
	if err != nil {
		s.log.Debug("invite creator not found", "invite_id", inv.ID, "created_by", inv.CreatedBy, "error", err)
		return nil
	}
	return u
}

func ref(inv *Invite) *notifications.InviteRef {
	return &notifications.InviteRef{ID: inv.ID, ICode: inv.ICode, CreatedBy: inv.CreatedBy}
}

func canManage(actor *identity.User, inv *Invite) bool {
	return inv.CreatedBy == actor.ID || actor.Has(permissions.ManageInvites)
}

// Get returns an invite visible to actor.
func (s *Service) Get(ctx context.Context, actor *identity.User, id int64) (*Invite, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.CreatedBy != actor.ID && !permissions.HasAny(actor.Permissions, permissions.ManageInvites, permissions.ViewInvites) {
		return nil, ErrPermission
	}
	return inv, nil
}

// SetStatus applies "valid", "redeemed" or "expired" to an invite.
func (s *Service) SetStatus(ctx context.Context, actor *identity.User, id int64, status string) (*Invite, error) {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManage(actor, inv) {
		return nil, ErrPermission
	}

	prev := inv.Status
	switch status {
	case "valid":
		inv.Status = StatusActive
	case "redeemed":
		inv.Status = StatusRedeemed
		if !inv.RedeemedByUser(actor.ID) {
			inv.RedeemedBy = append(inv.RedeemedBy, actor.ID)
		}
	case "expired":
		inv.Status = StatusExpired
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	inv.UpdatedBy = actor.ID
	inv.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, inv); err != nil {
		return nil, err
	}
	if inv.Status == StatusExpired && prev != StatusExpired {
		s.notifyExpired(ctx, inv, actor)
	}
	return inv, nil
}

// Delete removes an invite owned by actor, or any invite for managers.
func (s *Service) Delete(ctx context.Context, actor *identity.User, id int64) error {
	inv, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !canManage(actor, inv) {
		return ErrPermission
	}
	return s.repo.Delete(ctx, id)
}

// scopeCreator narrows a creator filter to actor unless actor may see
// every invite.
func scopeCreator(actor *identity.User, createdBy int64) (int64, error) {
	if permissions.HasAny(actor.Permissions, permissions.ManageInvites, permissions.ViewInvites) {
		return createdBy, nil
	}
	if createdBy != 0 && createdBy != actor.ID {
		return 0, fmt.Errorf("%w: cannot view invites sent by other users", ErrPermission)
	}
	return actor.ID, nil
}

// List returns a page of invites visible to actor and the total count.
func (s *Service) List(ctx context.Context, actor *identity.User, req ListRequest) ([]*Invite, int, error) {
	createdBy, err := scopeCreator(actor, req.CreatedBy)
	if err != nil {
		return nil, 0, err
	}

	opts := ListOptions{CreatedBy: createdBy, Sort: req.Sort, Take: req.Take, Skip: req.Skip}
	switch req.Filter {
	case "valid":
		opts.Statuses = []Status{StatusActive}
	case "redeemed":
		opts.Statuses = []Status{StatusRedeemed}
	case "expired":
		opts.Statuses = []Status{StatusExpired}
	}
	if opts.Take <= 0 {
		opts.Take = 10
	}
	return s.repo.List(ctx, opts)
}

// Counts summarizes the invites visible to actor. Inactive covers every
// invite that can no longer be redeemed.
func (s *Service) Counts(ctx context.Context, actor *identity.User) (Counts, error) {
	createdBy, err := scopeCreator(actor, 0)
	if err != nil {
		return Counts{}, err
	}
	byStatus, err := s.repo.CountByStatus(ctx, createdBy)
	if err != nil {
		return Counts{}, err
	}
	var c Counts
	for st, n := range byStatus {
		c.Total += n
		if st == StatusActive {
			c.Active += n
		} else {
			c.Inactive += n
		}
	}
	return c, nil
}

// ExpireDue transitions overdue invites to EXPIRED and notifies their
// creators. Returns the number expired.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, inv := range expired {
		metrics.InvitesExpired.Inc()
		s.log.Info("invite marked as expired", "icode", inv.ICode, "invite_id", inv.ID)
		s.notifyExpired(ctx, inv, nil)
	}
	return len(expired), nil
}

func (s *Service) notifyExpired(ctx context.Context, inv *Invite, actor *identity.User) {
	creator := s.creatorOf(ctx, inv)
	if creator == nil {
		return
	}
	createdBy := actor
	if createdBy == nil {
		createdBy = creator
	}
	s.notifier.SendNotification(notifications.InviteExpired, notifications.Payload{
		Subject:        "Invite Expired: " + inv.ICode,
		NotifyUser:     creator,
		Invite:         ref(inv),
		ActionURL:      "/invites",
		ActionURLTitle: "View Invites",
		Severity:       notifications.SeverityWarning,
		CreatedBy:      createdBy,
	})
}
