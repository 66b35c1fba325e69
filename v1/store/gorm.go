package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
)

const (
	defaultGormTableName = "latch_locks"
	defaultGormOpTimeout = 5 * time.Second
)

// gormLock is the internal model used to persist lock rows.
type gormLock struct {
	Key       string    `gorm:"primaryKey;column:key_id"`
	Token     string    `gorm:"column:token"`
	ExpiresAt time.Time `gorm:"column:expires_at"`
}

// Gorm implements Store using a SQL database through GORM. A lock is a row
// keyed by the lock name; expiry is a timestamp column checked inside every
// statement, so each operation remains a single atomic statement. Expired
// rows are reclaimed by the next TrySet rather than by a reaper.
type Gorm struct {
	db        *gorm.DB
	tableName string
	timeout   time.Duration
}

// GormOption configures a Gorm store.
type GormOption func(*gormOptions)

type gormOptions struct {
	tableName string
	timeout   time.Duration
}

// WithGormTableName sets the table name for the lock rows.
func WithGormTableName(name string) GormOption {
	return func(o *gormOptions) {
		o.tableName = name
	}
}

// WithGormTimeout sets the per-operation timeout for database calls.
func WithGormTimeout(d time.Duration) GormOption {
	return func(o *gormOptions) {
		o.timeout = d
	}
}

// NewGorm returns a new Gorm store using the provided DB connection.
func NewGorm(db *gorm.DB, opts ...GormOption) *Gorm {
	o := gormOptions{
		tableName: defaultGormTableName,
		timeout:   defaultGormOpTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	// Ensure the table exists
	if !db.Migrator().HasTable(o.tableName) {
		_ = db.Table(o.tableName).AutoMigrate(&gormLock{})
	}

	return &Gorm{db: db, tableName: o.tableName, timeout: o.timeout}
}

// TrySet implements Store.TrySet. It issues a single upsert that inserts the
// row, or takes over an existing row only when its lease has expired.
func (s *Gorm) TrySet(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, latcherrors.ErrInvalidTTL
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now().UTC()
	row := gormLock{Key: key, Token: token, ExpiresAt: now.Add(ttl)}
	res := s.db.WithContext(cctx).Table(s.tableName).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"token":      token,
			"expires_at": now.Add(ttl),
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lte{Column: clause.Column{Table: s.tableName, Name: "expires_at"}, Value: now},
		}},
	}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("%w: %v", latcherrors.ErrStoreUnavailable, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteIfOwner implements Store.DeleteIfOwner. A row whose lease already
// expired no longer counts as owned, even if the token still matches.
func (s *Gorm) DeleteIfOwner(ctx context.Context, key, token string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := s.db.WithContext(cctx).Table(s.tableName).
		Where("key_id = ? AND token = ? AND expires_at > ?", key, token, time.Now().UTC()).
		Delete(&gormLock{})
	if res.Error != nil {
		return false, fmt.Errorf("%w: %v", latcherrors.ErrStoreUnavailable, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ExtendIfOwner implements Store.ExtendIfOwner.
func (s *Gorm) ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, latcherrors.ErrInvalidTTL
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now().UTC()
	res := s.db.WithContext(cctx).Table(s.tableName).
		Where("key_id = ? AND token = ? AND expires_at > ?", key, token, now).
		Update("expires_at", now.Add(ttl))
	if res.Error != nil {
		return false, fmt.Errorf("%w: %v", latcherrors.ErrStoreUnavailable, res.Error)
	}
	return res.RowsAffected > 0, nil
}
