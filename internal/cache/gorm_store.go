package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("cache: database handle is required")

// Entry is the row backing a GormStore envelope.
type Entry struct {
	Key             string `gorm:"column:cache_key;primaryKey;size:190;not null"`
	PayloadJSON     string `gorm:"column:payload_json;type:text;not null"`
	ExpiresAtMillis *int64 `gorm:"column:expires_at_ms;index"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "cache_entries"
}

// GormStoreConfig configures a GormStore.
type GormStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// GormStore keeps envelopes in the cache_entries table.
type GormStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

func NewGormStore(cfg GormStoreConfig) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

func (s *GormStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, ErrMissingKey
	}
	var entry Entry
	err := s.db.WithContext(ctx).Where("cache_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: load %s: %w", key, err)
	}
	envelope := Envelope{Payload: []byte(entry.PayloadJSON), ExpiresAt: entry.ExpiresAtMillis}
	if envelope.Expired(s.clock()) {
		if err := s.Remove(ctx, key); err != nil {
			s.logger.Warn("expired cache entry removal failed", zap.String("key", key), zap.Error(err))
		}
		return false, nil
	}
	if err := envelope.Decode(dest); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *GormStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingKey
	}
	now := s.clock()
	envelope, err := NewEnvelope(value, ttl, now)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	entry := Entry{
		Key:             key,
		PayloadJSON:     string(envelope.Payload),
		ExpiresAtMillis: envelope.ExpiresAt,
		UpdatedAtMillis: now.UnixMilli(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload_json", "expires_at_ms", "updated_at_ms"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("cache: store %s: %w", key, err)
	}
	return nil
}

func (s *GormStore) Remove(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingKey
	}
	if err := s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&Entry{}).Error; err != nil {
		return fmt.Errorf("cache: remove %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes every expired entry and reports how many were removed.
func (s *GormStore) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at_ms IS NOT NULL AND expires_at_ms <= ?", s.clock().UnixMilli()).
		Delete(&Entry{})
	return result.RowsAffected, result.Error
}
