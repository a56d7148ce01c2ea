package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d3clan/dynamic-branch-env/internal/domain/environment"
	"github.com/d3clan/dynamic-branch-env/internal/domain/routing"
	"github.com/d3clan/dynamic-branch-env/internal/outbox"
	"github.com/d3clan/dynamic-branch-env/pkg/snowflake"
	"github.com/d3clan/dynamic-branch-env/pkg/testhelper"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed repository tests in short mode")
	}

	ctx := context.Background()
	container, err := testhelper.SetupPostgres(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Teardown(context.Background()) })

	db, err := gorm.Open(gormpostgres.Open(container.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&EnvironmentModel{},
		&EntryModel{},
		&AllocationModel{},
		&outbox.Event{},
	))
	return db
}

func newNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode()
	require.NoError(t, err)
	return node
}

func TestEnvironmentRepository_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEnvironmentRepository(db, newNode(t))
	ctx := context.Background()

	missing, err := repo.FindByEnvironmentID(ctx, "pr-404")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	env := environment.New("pr-42", "acme/shop", "feature/cart", "abc1234",
		environment.PullRequest{Number: 42, URL: "https://github.com/acme/shop/pull/42"}, 72*time.Hour)
	env.PreviewAddress = "https://pr-42.preview.test"
	env.SetService(&environment.ServiceState{
		ServiceID: "api",
		Status:    environment.ServiceActive,
		RuleRef:   "rule-1",
		Priority:  3,
	})
	require.NoError(t, repo.Save(ctx, env))
	assert.NotZero(t, env.ID)

	loaded, err := repo.FindByEnvironmentID(ctx, "pr-42")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, env.ID, loaded.ID)
	assert.Equal(t, environment.StatusCreating, loaded.Status)
	assert.Equal(t, 42, loaded.PR.Number)
	require.Contains(t, loaded.Services, "api")
	assert.Equal(t, "rule-1", loaded.Services["api"].RuleRef)
	assert.Equal(t, 3, loaded.Services["api"].Priority)

	// Save again updates in place, no second row.
	loaded.MarkActive()
	require.NoError(t, repo.Save(ctx, loaded))
	all, err := repo.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, environment.StatusActive, all[0].Status)
}

func TestEnvironmentRepository_SaveFreshEntityReusesTerminalRow(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEnvironmentRepository(db, newNode(t))
	ctx := context.Background()

	old := environment.New("pr-7", "acme/shop", "feature/a", "abc1234",
		environment.PullRequest{Number: 7}, 72*time.Hour)
	require.NoError(t, repo.Save(ctx, old))
	old.MarkDestroyed()
	require.NoError(t, repo.Save(ctx, old))

	// A reopened PR builds a brand-new entity for the same environment_id.
	// The unique index on environment_id must not reject it; the old row is
	// overwritten and its id carries over.
	fresh := environment.New("pr-7", "acme/shop", "feature/b", "def5678",
		environment.PullRequest{Number: 7}, 72*time.Hour)
	require.NoError(t, repo.Save(ctx, fresh))
	assert.Equal(t, old.ID, fresh.ID)

	all, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, environment.StatusCreating, all[0].Status)
	assert.Equal(t, "def5678", all[0].CommitRef)
	assert.Equal(t, "feature/b", all[0].Branch)

	// The entity owns the surviving row: a follow-up save updates in place.
	fresh.MarkActive()
	require.NoError(t, repo.Save(ctx, fresh))
	loaded, err := repo.FindByEnvironmentID(ctx, "pr-7")
	require.NoError(t, err)
	assert.Equal(t, environment.StatusActive, loaded.Status)
}

func TestEnvironmentRepository_ListExpired(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEnvironmentRepository(db, newNode(t))
	ctx := context.Background()
	now := time.Now().UTC()

	expired := environment.New("pr-1", "acme/shop", "b", "c", environment.PullRequest{Number: 1}, time.Hour)
	expired.Status = environment.StatusActive
	expired.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, repo.Save(ctx, expired))

	live := environment.New("pr-2", "acme/shop", "b", "c", environment.PullRequest{Number: 2}, time.Hour)
	live.Status = environment.StatusActive
	require.NoError(t, repo.Save(ctx, live))

	stuck := environment.New("pr-3", "acme/shop", "b", "c", environment.PullRequest{Number: 3}, time.Hour)
	stuck.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, repo.Save(ctx, stuck)) // stays creating

	got, err := repo.ListExpired(ctx, []environment.Status{environment.StatusActive}, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pr-1", got[0].EnvironmentID)

	got, err = repo.ListExpired(ctx, []environment.Status{environment.StatusCreating, environment.StatusUpdating}, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pr-3", got[0].EnvironmentID)
}

func TestEntryRepository_UpsertAndDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEntryRepository(db, newNode(t))
	ctx := context.Background()
	expires := time.Now().UTC().Add(time.Hour)

	entry := &routing.Entry{
		ServiceID:     "api",
		EnvironmentID: "pr-42",
		RuleRef:       "rule-1",
		TargetRef:     "tg-1",
		Priority:      3,
		ExpiresAt:     expires,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.Save(ctx, entry))

	// Re-deploy upserts on (service, environment) instead of duplicating.
	entry2 := &routing.Entry{
		ServiceID:     "api",
		EnvironmentID: "pr-42",
		RuleRef:       "rule-2",
		TargetRef:     "tg-2",
		Priority:      5,
		ExpiresAt:     expires,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.Save(ctx, entry2))

	entries, err := repo.ListByEnvironment(ctx, "pr-42")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rule-2", entries[0].RuleRef)

	newExpiry := expires.Add(24 * time.Hour)
	require.NoError(t, repo.RefreshExpiry(ctx, "pr-42", newExpiry))
	entries, err = repo.ListByEnvironment(ctx, "pr-42")
	require.NoError(t, err)
	assert.WithinDuration(t, newExpiry, entries[0].ExpiresAt, time.Second)

	require.NoError(t, repo.DeleteByEnvironment(ctx, "pr-42"))
	entries, err = repo.ListByEnvironment(ctx, "pr-42")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Deleting again stays a no-op.
	require.NoError(t, repo.DeleteByEnvironment(ctx, "pr-42"))
}

func TestAllocationRepository_ConditionalCreate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAllocationRepository(db, newNode(t))
	ctx := context.Background()
	expires := time.Now().UTC().Add(time.Hour)

	first := &routing.Allocation{
		Domain:        "preview-listener",
		Priority:      7,
		EnvironmentID: "pr-1",
		ServiceID:     "api",
		ExpiresAt:     expires,
	}
	require.NoError(t, repo.Create(ctx, first))

	// Same slot, different owner: the conditional insert must lose.
	second := &routing.Allocation{
		Domain:        "preview-listener",
		Priority:      7,
		EnvironmentID: "pr-2",
		ServiceID:     "api",
		ExpiresAt:     expires,
	}
	err := repo.Create(ctx, second)
	assert.True(t, errors.Is(err, routing.ErrPriorityTaken), "expected ErrPriorityTaken, got %v", err)

	// Same priority in another domain is free.
	other := &routing.Allocation{
		Domain:    "other-listener",
		Priority:  7,
		ExpiresAt: expires,
	}
	require.NoError(t, repo.Create(ctx, other))

	priorities, err := repo.ListPriorities(ctx, "preview-listener")
	require.NoError(t, err)
	assert.Equal(t, []int{7}, priorities)

	require.NoError(t, repo.Delete(ctx, "preview-listener", 7))
	priorities, err = repo.ListPriorities(ctx, "preview-listener")
	require.NoError(t, err)
	assert.Empty(t, priorities)

	// Freed slot can be claimed again.
	require.NoError(t, repo.Create(ctx, &routing.Allocation{
		Domain:    "preview-listener",
		Priority:  7,
		ExpiresAt: expires,
	}))
}
