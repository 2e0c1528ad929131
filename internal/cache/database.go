package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/breachrange/internal/models"
)

// DatabaseStore implements Store on top of the cache_entries table.
type DatabaseStore struct {
	db   *gorm.DB
	opts Options
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB, opts Options) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db, opts: opts.withDefaults()}
}

var errStoreNotInitialised = errors.New("cache: database store not initialised")

func (s *DatabaseStore) now() time.Time {
	return s.opts.Now().UTC()
}

// IncrementWithTTL atomically increments a counter for the supplied key.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, errStoreNotInitialised
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.now()
	var (
		count  int64
		expiry time.Time
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.CacheEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(map[string]any{"key": key}).
			Take(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			count = 1
			expiry = now.Add(window)
			return tx.Create(&models.CacheEntry{
				Key:       key,
				Value:     []byte("1"),
				ExpiresAt: expiry,
				PurgeAt:   &expiry,
			}).Error
		}
		if err != nil {
			return err
		}

		if !entry.ExpiresAt.After(now) {
			count = 1
			expiry = now.Add(window)
		} else {
			current, _ := strconv.ParseInt(string(entry.Value), 10, 64)
			count = current + 1
			expiry = entry.ExpiresAt
		}
		entry.Value = []byte(strconv.FormatInt(count, 10))
		entry.ExpiresAt = expiry
		entry.PurgeAt = &expiry
		return tx.Save(&entry).Error
	})
	if err != nil {
		return 0, 0, unavailable("incr", err)
	}

	return count, expiry.Sub(now), nil
}

// Set upserts the value for a given key with expiry.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return errStoreNotInitialised
	}

	entry := models.CacheEntry{Key: key, Value: value}
	if ttl > 0 {
		entry.ExpiresAt = s.now().Add(ttl)
		purgeAt := entry.ExpiresAt.Add(s.opts.StaleRetention)
		entry.PurgeAt = &purgeAt
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "purge_at", "updated_at"}),
		}).Create(&entry).Error
	if err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Get returns the row until its purge time, whether or not it is logically expired.
func (s *DatabaseStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	if s == nil {
		return Entry{}, false, errStoreNotInitialised
	}

	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, unavailable("get", err)
	}

	if entry.PurgeAt != nil && !s.now().Before(*entry.PurgeAt) {
		return Entry{}, false, nil
	}

	return Entry{Value: entry.Value, ExpiresAt: entry.ExpiresAt}, true, nil
}

// Delete removes keys from the store.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil {
		return errStoreNotInitialised
	}
	if len(keys) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).Where(map[string]any{"key": keys}).Delete(&models.CacheEntry{}).Error; err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Prune deletes rows whose purge time has passed.
func (s *DatabaseStore) Prune(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, errStoreNotInitialised
	}

	result := s.db.WithContext(ctx).
		Where("purge_at IS NOT NULL AND purge_at <= ?", s.now()).
		Delete(&models.CacheEntry{})
	if result.Error != nil {
		return 0, unavailable("prune", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *DatabaseStore) Ping(ctx context.Context) error {
	if s == nil {
		return errStoreNotInitialised
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close is a no-op; the database handle is owned by the caller.
func (s *DatabaseStore) Close() error { return nil }
