package keystore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s, err := NewGormStore(db)
	require.NoError(t, err)
	return s
}

// ==================== Store conformance ====================

func runStoreConformance(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "absent")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "bgl_cart_guest", []byte(`[{"productId":"p1"}]`)))
		v, err := s.Get(ctx, "bgl_cart_guest")
		require.NoError(t, err)
		assert.JSONEq(t, `[{"productId":"p1"}]`, string(v))
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "k", []byte("one")))
		require.NoError(t, s.Set(ctx, "k", []byte("two")))
		v, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "two", string(v))
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "gone", []byte("x")))
		require.NoError(t, s.Remove(ctx, "gone"))
		require.NoError(t, s.Remove(ctx, "gone"))
		_, err := s.Get(ctx, "gone")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("json helpers", func(t *testing.T) {
		type doc struct {
			Name string `json:"name"`
		}
		require.NoError(t, SetJSON(ctx, s, "doc", doc{Name: "acme"}))
		var got doc
		require.NoError(t, GetJSON(ctx, s, "doc", &got))
		assert.Equal(t, "acme", got.Name)

		require.NoError(t, s.Set(ctx, "broken", []byte("{not json")))
		err := GetJSON(ctx, s, "broken", &got)
		assert.True(t, errors.Is(err, ErrCorrupt))

		err = GetJSON(ctx, s, "never-written", &got)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreConformance(t, NewMemoryStore())
}

func TestGormStore_SQLite(t *testing.T) {
	runStoreConformance(t, newSQLiteStore(t))
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", buf))
	buf[0] = 'z'

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))

	v[1] = 'z'
	again, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Set(ctx, "shared", []byte("v"))
			_, _ = s.Get(ctx, "shared")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.Len())
}

func TestGormStore_ReopenSurvives(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ctx := context.Background()

	open := func() (*GormStore, func()) {
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Discard})
		require.NoError(t, err)
		s, err := NewGormStore(db)
		require.NoError(t, err)
		sqlDB, _ := db.DB()
		return s, func() { _ = sqlDB.Close() }
	}

	s, closeFn := open()
	require.NoError(t, s.Set(ctx, "bgl_cart_u1", []byte("[]")))
	closeFn()

	s, closeFn = open()
	defer closeFn()
	v, err := s.Get(ctx, "bgl_cart_u1")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(v))
}

func TestGormStore_Postgres_QueryError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}),
		&gorm.Config{SkipDefaultTransaction: true, Logger: gormlogger.Discard})
	require.NoError(t, err)

	s := NewGormStoreWithoutMigration(db)

	mock.ExpectQuery(`SELECT \* FROM "keyed_values"`).WillReturnError(errors.New("connection reset"))
	_, err = s.Get(context.Background(), "bgl_cart_u1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "connection reset")

	mock.ExpectExec(`DELETE FROM "keyed_values"`).WillReturnError(errors.New("read only"))
	err = s.Remove(context.Background(), "bgl_cart_u1")
	assert.ErrorContains(t, err, "read only")

	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==================== Keys ====================

func TestKeys(t *testing.T) {
	k := NewKeys("bgl_")
	alice := &shared.Identity{ID: "alice"}

	assert.Equal(t, "bgl_cart_guest", k.Cart(nil))
	assert.Equal(t, "bgl_cart_alice", k.Cart(alice))
	assert.Equal(t, "bgl_cart_guest_7f3a", k.Cart(shared.NewGuest("7f3a")))
	assert.NotEqual(t, k.Cart(shared.NewGuest("alice")), k.Cart(alice))
	assert.Equal(t, "bgl_orders_alice", k.Orders(alice))
	assert.Equal(t, "bgl_conversations_alice", k.Conversations("alice"))
	assert.Equal(t, "bgl_messages_alice:bob", k.Messages("alice:bob"))
	assert.Equal(t, "bgl_order_owner_ORD-7", k.OrderOwner("ORD-7"))
	assert.NotEqual(t, k.Cart(alice), k.Orders(alice))
}

// ==================== Factory ====================

func testConfig(driver string) *config.Config {
	cfg := &config.Config{}
	cfg.Store.Driver = driver
	cfg.Redis.Host = "127.0.0.1"
	cfg.Redis.Port = 1
	return cfg
}

func TestFactory_Memory(t *testing.T) {
	opened, err := NewFactory(testConfig(config.StoreDriverMemory), nil).Open()
	require.NoError(t, err)
	defer opened.Close()

	assert.Equal(t, config.StoreDriverMemory, opened.Driver)
	assert.IsType(t, &MemoryStore{}, opened.Store)
}

func TestFactory_SQLite(t *testing.T) {
	cfg := testConfig(config.StoreDriverSQLite)
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "factory.db")

	opened, err := NewFactory(cfg, nil).Open()
	require.NoError(t, err)
	defer opened.Close()

	assert.Equal(t, config.StoreDriverSQLite, opened.Driver)
	require.NoError(t, opened.Store.Set(context.Background(), "k", []byte("v")))
}

func TestFactory_RedisUnavailable(t *testing.T) {
	t.Run("without fallback", func(t *testing.T) {
		_, err := NewFactory(testConfig(config.StoreDriverRedis), nil).Open()
		assert.Error(t, err)
	})

	t.Run("with fallback", func(t *testing.T) {
		cfg := testConfig(config.StoreDriverRedis)
		cfg.Store.FallbackToMemory = true

		opened, err := NewFactory(cfg, nil).Open()
		require.NoError(t, err)
		defer opened.Close()
		assert.Equal(t, config.StoreDriverMemory, opened.Driver)
		assert.Nil(t, opened.Redis)
	})
}
