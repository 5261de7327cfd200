// Package sqlite implements a SQLite-based persistence driver using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/invites"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
	"github.com/nickelsh1ts/streamarr/internal/platform/store"
)

// DBFile is the database file name inside the data dir.
const DBFile = "streamarr.db"

func init() {
	store.Register("sqlite", NewDriver)
}

// Driver implements the store.Driver interface using SQLite via GORM.
type Driver struct {
	dataDir string
	db      *gorm.DB
	cfg     *store.DriverConfig
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	return &Driver{
		dataDir: cfg.DataDir,
		cfg:     cfg,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init opens the database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	if err := os.MkdirAll(d.dataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(d.dataDir, DBFile)

	db, err := gorm.Open(sqlite.Open(dbPath+"?_busy_timeout=5000&_journal_mode=WAL"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	d.db = db

	// AutoMigrate creates/updates tables based on the row structs
	if err := db.WithContext(ctx).AutoMigrate(
		&userRow{},
		&pushRow{},
		&inviteRow{},
		&notificationRow{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	logutil.NoopIfNil(d.cfg.Log).Info("sqlite store ready", "path", dbPath)
	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Driver) Users() identity.UserRepo                         { return &userRepo{db: d.db} }
func (d *Driver) PushSubscriptions() identity.PushSubscriptionRepo { return &pushRepo{db: d.db} }
func (d *Driver) Invites() invites.Repo                            { return &inviteRepo{db: d.db} }
func (d *Driver) Notifications() notifications.RecordRepo          { return &recordRepo{db: d.db} }

// Users

type userRepo struct {
	db *gorm.DB
}

func (r *userRepo) Create(ctx context.Context, u *identity.User) error {
	u.Email = identity.NormalizeEmail(u.Email)
	if u.ID != 0 {
		var n int64
		if err := r.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", u.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return identity.ErrUserExists
		}
	}

	row := userToRow(u)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return identity.ErrEmailExists
		}
		return err
	}
	u.ID = row.ID
	u.CreatedAt = row.CreatedAt
	u.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *userRepo) first(ctx context.Context, query string, arg any) (*identity.User, error) {
	var row userRow
	if err := r.db.WithContext(ctx).First(&row, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identity.ErrUserNotFound
		}
		return nil, err
	}
	return row.toUser(), nil
}

func (r *userRepo) Get(ctx context.Context, id int64) (*identity.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	return r.first(ctx, "email = ?", identity.NormalizeEmail(email))
}

func (r *userRepo) Update(ctx context.Context, u *identity.User) error {
	u.Email = identity.NormalizeEmail(u.Email)
	row := userToRow(u)
	result := r.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", u.ID).
		Select("*").Omit("id", "created_at").Updates(row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return identity.ErrEmailExists
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return identity.ErrUserNotFound
	}
	u.UpdatedAt = row.UpdatedAt
	return nil
}

// Delete removes the user with its subscriptions and received
// notifications. Notifications the user authored are kept but lose their
// creator so the cleanup job can collect them.
func (r *userRepo) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&userRow{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return identity.ErrUserNotFound
		}
		if err := tx.Delete(&pushRow{}, "user_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&notificationRow{}, "notify_user_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Model(&notificationRow{}).Where("created_by_id = ?", id).
			Update("created_by_id", 0).Error
	})
}

func (r *userRepo) List(ctx context.Context) ([]*identity.User, error) {
	var rows []userRow
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	users := make([]*identity.User, 0, len(rows))
	for i := range rows {
		users = append(users, rows[i].toUser())
	}
	return users, nil
}

// Push subscriptions

type pushRepo struct {
	db *gorm.DB
}

func (r *pushRepo) Save(ctx context.Context, sub *identity.PushSubscription) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing pushRow
		err := tx.First(&existing, "endpoint = ?", sub.Endpoint).Error
		switch {
		case err == nil:
			sub.ID = existing.ID
			sub.CreatedAt = existing.CreatedAt
			return tx.Save(pushToRow(sub)).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := pushToRow(sub)
			row.ID = 0
			if err := tx.Create(row).Error; err != nil {
				return err
			}
			sub.ID = row.ID
			sub.CreatedAt = row.CreatedAt
			return nil
		default:
			return err
		}
	})
}

func (r *pushRepo) ListByUser(ctx context.Context, userID int64) ([]*identity.PushSubscription, error) {
	var rows []pushRow
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	subs := make([]*identity.PushSubscription, 0, len(rows))
	for i := range rows {
		subs = append(subs, rows[i].toSubscription())
	}
	return subs, nil
}

func (r *pushRepo) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Delete(&pushRow{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return identity.ErrSubscriptionNotFound
	}
	return nil
}

func (r *pushRepo) DeleteByEndpoint(ctx context.Context, userID int64, endpoint string) error {
	result := r.db.WithContext(ctx).Delete(&pushRow{}, "user_id = ? AND endpoint = ?", userID, endpoint)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return identity.ErrSubscriptionNotFound
	}
	return nil
}

// Invites

type inviteRepo struct {
	db *gorm.DB
}

func (r *inviteRepo) Create(ctx context.Context, inv *invites.Invite) error {
	now := time.Now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = inv.CreatedAt
	}
	row := inviteToRow(inv)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return invites.ErrDuplicateCode
		}
		return err
	}
	inv.ID = row.ID
	return nil
}

func (r *inviteRepo) first(ctx context.Context, query string, arg any) (*invites.Invite, error) {
	var row inviteRow
	if err := r.db.WithContext(ctx).First(&row, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invites.ErrNotFound
		}
		return nil, err
	}
	return row.toInvite(), nil
}

func (r *inviteRepo) Get(ctx context.Context, id int64) (*invites.Invite, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *inviteRepo) GetByCode(ctx context.Context, icode string) (*invites.Invite, error) {
	return r.first(ctx, "icode = ?", icode)
}

func (r *inviteRepo) Update(ctx context.Context, inv *invites.Invite) error {
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = time.Now()
	}
	result := r.db.WithContext(ctx).Model(&inviteRow{}).Where("id = ?", inv.ID).
		Select("*").Omit("id", "created_at").Updates(inviteToRow(inv))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return invites.ErrDuplicateCode
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return invites.ErrNotFound
	}
	return nil
}

func (r *inviteRepo) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Delete(&inviteRow{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return invites.ErrNotFound
	}
	return nil
}

func (r *inviteRepo) List(ctx context.Context, opts invites.ListOptions) ([]*invites.Invite, int, error) {
	statuses := opts.Statuses
	if len(statuses) == 0 {
		statuses = invites.DefaultStatuses
	}
	codes := make([]int, len(statuses))
	for i, s := range statuses {
		codes[i] = int(s)
	}

	q := r.db.WithContext(ctx).Model(&inviteRow{}).Where("status IN ?", codes)
	if opts.CreatedBy != 0 {
		q = q.Where("created_by = ?", opts.CreatedBy)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at DESC, id DESC"
	if opts.Sort == invites.SortModified {
		order = "updated_at DESC, id DESC"
	}
	q = q.Order(order).Offset(max(opts.Skip, 0))
	if opts.Take > 0 {
		q = q.Limit(opts.Take)
	}

	var rows []inviteRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*invites.Invite, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toInvite())
	}
	return out, int(total), nil
}

func (r *inviteRepo) CountByStatus(ctx context.Context, createdBy int64) (map[invites.Status]int, error) {
	var groups []struct {
		Status int
		N      int
	}
	q := r.db.WithContext(ctx).Model(&inviteRow{}).Select("status, count(*) AS n")
	if createdBy != 0 {
		q = q.Where("created_by = ?", createdBy)
	}
	if err := q.Group("status").Scan(&groups).Error; err != nil {
		return nil, err
	}
	out := make(map[invites.Status]int, len(groups))
	for _, g := range groups {
		out[invites.Status(g.Status)] = g.N
	}
	return out, nil
}

func (r *inviteRepo) CountActiveCreatedBy(ctx context.Context, userID int64, since *time.Time) (int, error) {
	q := r.db.WithContext(ctx).Model(&inviteRow{}).
		Where("created_by = ? AND status <> ?", userID, int(invites.StatusExpired))
	if since != nil {
		q = q.Where("created_at > ?", since.UTC())
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *inviteRepo) ExpireDue(ctx context.Context, now time.Time) ([]*invites.Invite, error) {
	var expired []*invites.Invite
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []inviteRow
		err := tx.Where("status IN ? AND expires_at IS NOT NULL AND expires_at <= ?",
			[]int{int(invites.StatusActive), int(invites.StatusInactive)}, now.UTC()).
			Order("id").Find(&rows).Error
		if err != nil || len(rows) == 0 {
			return err
		}

		ids := make([]int64, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		err = tx.Model(&inviteRow{}).Where("id IN ?", ids).Updates(map[string]any{
			"status":     int(invites.StatusExpired),
			"updated_at": now.UTC(),
		}).Error
		if err != nil {
			return err
		}

		for i := range rows {
			inv := rows[i].toInvite()
			inv.Status = invites.StatusExpired
			inv.UpdatedAt = now
			expired = append(expired, inv)
		}
		return nil
	})
	return expired, err
}

// Notifications

type recordRepo struct {
	db *gorm.DB
}

func (r *recordRepo) Create(ctx context.Context, rec *notifications.Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = time.Now()
	row := recordToRow(rec)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	rec.ID = row.ID
	return nil
}

func (r *recordRepo) Get(ctx context.Context, id int64) (*notifications.Record, error) {
	var row notificationRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notifications.ErrRecordNotFound
		}
		return nil, err
	}
	return row.toRecord(), nil
}

func (r *recordRepo) Update(ctx context.Context, rec *notifications.Record) error {
	row := recordToRow(rec)
	result := r.db.WithContext(ctx).Model(&notificationRow{}).Where("id = ?", rec.ID).
		Select("*").Omit("id", "created_at").Updates(row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notifications.ErrRecordNotFound
	}
	rec.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *recordRepo) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Delete(&notificationRow{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notifications.ErrRecordNotFound
	}
	return nil
}

func (r *recordRepo) List(ctx context.Context, opts notifications.RecordListOptions) ([]*notifications.Record, int, error) {
	q := r.db.WithContext(ctx).Model(&notificationRow{})
	if opts.NotifyUserID != 0 {
		q = q.Where("notify_user_id = ?", opts.NotifyUserID)
	}
	if opts.CreatedByID != 0 {
		q = q.Where("created_by_id = ?", opts.CreatedByID)
	}
	if opts.IsRead != nil {
		q = q.Where("is_read = ?", *opts.IsRead)
	}
	if len(opts.Types) > 0 {
		types := make([]int, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = int(t)
		}
		q = q.Where("type IN ?", types)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at DESC, id DESC"
	if opts.Sort == notifications.SortModified {
		order = "updated_at DESC, id DESC"
	}
	q = q.Order(order).Offset(max(opts.Skip, 0))
	if opts.Take > 0 {
		q = q.Limit(opts.Take)
	}

	var rows []notificationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]*notifications.Record, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, int(total), nil
}

func (r *recordRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result := r.db.WithContext(ctx).Delete(&notificationRow{}, "created_at < ?", cutoff.UTC())
	return int(result.RowsAffected), result.Error
}

func (r *recordRepo) DeleteOrphaned(ctx context.Context) (int, error) {
	result := r.db.WithContext(ctx).Delete(&notificationRow{}, "created_by_id = 0")
	return int(result.RowsAffected), result.Error
}

var _ store.Driver = (*Driver)(nil)
