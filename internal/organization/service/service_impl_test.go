package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	orgdomain "github.com/manyfutures/foresight/internal/organization/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec(`CREATE TABLE organizations (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		entitled BOOLEAN NOT NULL DEFAULT TRUE,
		generation_paused_until DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error)

	return NewService(ServiceParam{DB: db, Log: zap.NewNop()}).(*Service)
}

func insertOrg(t *testing.T, db *gorm.DB, id snowflake.ID, entitled bool, pausedUntil *time.Time) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, db.Exec(
		`INSERT INTO organizations (id, name, entitled, generation_paused_until, created_at, updated_at)
		 VALUES (?, 'acme', ?, ?, ?, ?)`,
		id, entitled, pausedUntil, now, now,
	).Error)
}

func TestGetByIDNotFound(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetByID(context.Background(), snowflake.ID(404))
	assert.ErrorIs(t, err, orgdomain.ErrOrganizationNotFound)
}

func TestEnsureGenerationAllowed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	now := time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC)
	until := time.Date(2025, 8, 21, 0, 0, 0, 0, time.UTC)

	insertOrg(t, svc.db, 1, true, nil)
	insertOrg(t, svc.db, 2, false, nil)
	insertOrg(t, svc.db, 3, true, &until)

	assert.NoError(t, svc.EnsureGenerationAllowed(ctx, 1, now))
	assert.ErrorIs(t, svc.EnsureGenerationAllowed(ctx, 2, now), orgdomain.ErrNotEntitled)
	assert.ErrorIs(t, svc.EnsureGenerationAllowed(ctx, 3, now), orgdomain.ErrGenerationPaused)

	// The pause clears exactly at the boundary instant.
	assert.NoError(t, svc.EnsureGenerationAllowed(ctx, 3, until))
}

func TestPauseGenerationUntilIsMonotonic(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	insertOrg(t, svc.db, 1, true, nil)

	first := time.Date(2025, 8, 21, 0, 0, 0, 0, time.UTC)
	require.NoError(t, svc.PauseGenerationUntil(ctx, 1, first))

	org, err := svc.GetByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, org.GenerationPausedUntil)
	assert.Equal(t, first, org.GenerationPausedUntil.UTC())

	// An earlier deadline must not shorten an armed pause.
	require.NoError(t, svc.PauseGenerationUntil(ctx, 1, first.Add(-6*time.Hour)))
	org, err = svc.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, org.GenerationPausedUntil.UTC())

	// A later deadline extends it.
	second := first.Add(24 * time.Hour)
	require.NoError(t, svc.PauseGenerationUntil(ctx, 1, second))
	org, err = svc.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, second, org.GenerationPausedUntil.UTC())
}
