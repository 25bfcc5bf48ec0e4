package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyedValue is the row model of the SQL store
type KeyedValue struct {
	Key       string `gorm:"column:store_key;primaryKey;size:255"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName implements gorm's Tabler
func (KeyedValue) TableName() string {
	return "keyed_values"
}

// GormStore persists values in a single SQL table through GORM. It works
// with both the SQLite and Postgres dialects.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates the store and migrates its table
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&KeyedValue{}); err != nil {
		return nil, fmt.Errorf("migrate keyed_values: %w", err)
	}
	return &GormStore{db: db, now: time.Now}, nil
}

// NewGormStoreWithoutMigration wraps db without touching the schema
func NewGormStoreWithoutMigration(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// Get implements Store
func (s *GormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var row KeyedValue
	err := s.db.WithContext(ctx).Where("store_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return row.Value, nil
}

// Set implements Store with an upsert on the primary key
func (s *GormStore) Set(ctx context.Context, key string, value []byte) error {
	row := KeyedValue{Key: key, Value: value, UpdatedAt: s.now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Remove implements Store
func (s *GormStore) Remove(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("store_key = ?", key).Delete(&KeyedValue{}).Error; err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the connection is owned by persistence.Database
func (s *GormStore) Close() error {
	return nil
}

var _ Store = (*GormStore)(nil)
