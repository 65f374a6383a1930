package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"testing/fstest"
	"time"

	"hostelgate/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestConfigurePool(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	require.NoError(t, configurePool(db, &config.Config{DBMaxOpenConns: 10}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
}

func TestDSN(t *testing.T) {
	cfg := &config.Config{DBHost: "db", DBPort: "5432", DBUser: "u", DBPassword: "p", DBName: "hostelgate"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=hostelgate sslmode=disable", DSN(cfg))

	cfg.DBSSLMode = "require"
	assert.Contains(t, DSN(cfg), "sslmode=require")
}

func TestGormLoggerTrace(t *testing.T) {
	var buf bytes.Buffer
	l := NewGormLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	ctx := context.Background()
	sql := func() (string, int64) { return "UPDATE gate_requests SET version = version + 1", 0 }

	l.Trace(ctx, time.Now(), sql, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String(), "record-not-found is not an error worth logging")

	l.Trace(ctx, time.Now(), sql, errors.New("deadlock detected"))
	assert.Contains(t, buf.String(), "GORM query error")
	assert.Contains(t, buf.String(), "deadlock detected")

	buf.Reset()
	l.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	assert.Contains(t, buf.String(), "GORM slow query")

	buf.Reset()
	l.LogMode(logger.Silent).Trace(ctx, time.Now(), sql, errors.New("ignored"))
	assert.Empty(t, buf.String())
}

func TestEmbeddedMigrations(t *testing.T) {
	all := GetMigrations()
	require.NotEmpty(t, all)
	assert.Equal(t, 1, all[0].Version)
	assert.Equal(t, "create_gate_requests", all[0].Name)
	assert.Equal(t, "000001_create_gate_requests", all[0].String())
	assert.Contains(t, all[0].UpScript, "CREATE TABLE IF NOT EXISTS gate_requests")
	assert.Contains(t, all[0].DownScript, "DROP TABLE IF EXISTS gate_requests")

	assert.NotNil(t, GetMigrationByVersion(1))
	assert.Nil(t, GetMigrationByVersion(99))
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/000002_add_index.up.sql":   {Data: []byte("CREATE INDEX x;")},
		"migrations/000002_add_index.down.sql": {Data: []byte("DROP INDEX x;")},
		"migrations/000001_init.up.sql":        {Data: []byte("CREATE TABLE t();")},
		"migrations/000001_init.down.sql":      {Data: []byte("DROP TABLE t;")},
		"migrations/README.md":                 {Data: []byte("notes")},
		"migrations/bogus.up.sql":              {Data: []byte("SELECT 1;")},
	}

	got, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Version)
	assert.Equal(t, "add_index", got[1].Name)

	_, err = LoadMigrations(fstest.MapFS{
		"migrations/000003_orphan.up.sql": {Data: []byte("SELECT 1;")},
	})
	assert.ErrorContains(t, err, "000003_orphan.down.sql")
}

func TestValidateAppliedVersions(t *testing.T) {
	registered := []Migration{{Version: 1}, {Version: 2}}
	assert.NoError(t, validateAppliedVersions(nil, registered))
	assert.NoError(t, validateAppliedVersions([]int{1, 2}, registered))

	err := validateAppliedVersions([]int{1, 7, 5}, registered)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000005, 000007")
}

type fakeStore struct {
	applied []int
	failOn  int
}

func (f *fakeStore) GetAppliedMigrations(context.Context) ([]int, error) { return f.applied, nil }

func (f *fakeStore) ApplyMigration(_ context.Context, version int, _, _ string) error {
	if version == f.failOn {
		return errors.New("syntax error")
	}
	f.applied = append(f.applied, version)
	return nil
}

func (f *fakeStore) RemoveMigration(context.Context, int) error { return nil }

func TestApplyPending(t *testing.T) {
	registered := []Migration{{Version: 1, Name: "a"}, {Version: 2, Name: "b"}, {Version: 3, Name: "c"}}
	ctx := context.Background()

	store := &fakeStore{applied: []int{1}}
	require.NoError(t, applyPending(ctx, store, []int{1}, registered))
	assert.Equal(t, []int{1, 2, 3}, store.applied)

	store = &fakeStore{failOn: 2}
	err := applyPending(ctx, store, nil, registered)
	assert.ErrorContains(t, err, "syntax error")
	assert.Equal(t, []int{1}, store.applied, "stops at the first failure")
}

func TestSchemaPolicy(t *testing.T) {
	tests := []struct {
		env, mode       string
		runSQL, runAuto bool
		wantErr         bool
	}{
		{"development", "", true, true, false},
		{"production", "", true, false, false},
		{"staging", "hybrid", true, false, false},
		{"test", "sql", true, false, false},
		{"development", "auto", false, true, false},
		{"production", "auto", false, false, true},
		{"development", "yolo", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.mode, func(t *testing.T) {
			runSQL, runAuto, err := schemaPolicy(&config.Config{Env: tt.env, DBSchemaMode: tt.mode})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.runSQL, runSQL)
			assert.Equal(t, tt.runAuto, runAuto)
		})
	}
}

func TestApplySchema_AutoOnSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	cfg := &config.Config{Env: "test", DBSchemaMode: SchemaModeAuto}
	require.NoError(t, ApplySchema(context.Background(), db, cfg))
	assert.True(t, db.Migrator().HasTable("gate_requests"))

	status, err := GetSchemaStatus(context.Background(), db, cfg)
	require.NoError(t, err)
	assert.False(t, status.WillRunSQL)
	assert.True(t, status.WillRunAutoMigrate)
}
