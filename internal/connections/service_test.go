package connections

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/chatdesk-backend/pkg/db"
	"github.com/angelmondragon/chatdesk-backend/pkg/db/dbtest"
	"github.com/angelmondragon/chatdesk-backend/pkg/db/models"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox"
)

func newTestService(t *testing.T) (Service, *gorm.DB, *models.Connection) {
	t.Helper()
	db := dbtest.Open(t, dbtest.Connections, dbtest.OutboxEvents)
	conn := &models.Connection{
		ID:                uuid.New(),
		WorkspaceID:       uuid.New(),
		Provider:          enums.ProviderEvolution,
		InstanceName:      "sales-01",
		HistorySyncStatus: enums.HistorySyncIdle,
	}
	require.NoError(t, db.Create(conn).Error)

	repo := NewRepository(db)
	registry, err := NewRegistry(repo, 8, time.Minute)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repository:        repo,
		TransactionRunner: dbpkg.Wrap(db),
		Outbox:            outbox.NewService(outbox.NewRepository(db), nil),
		Registry:          registry,
		Logger:            logger.Nop(),
	})
	require.NoError(t, err)
	return svc, db, conn
}

func reloadConnection(t *testing.T, db *gorm.DB, id uuid.UUID) models.Connection {
	t.Helper()
	var conn models.Connection
	require.NoError(t, db.First(&conn, "id = ?", id).Error)
	return conn
}

func syncEvents(t *testing.T, db *gorm.DB, id uuid.UUID) int {
	t.Helper()
	rows, err := outbox.NewRepository(db).ListByAggregate(enums.AggregateConnection, id)
	require.NoError(t, err)
	return len(rows)
}

func TestApplySyncStatusFollowsAllowedTransitions(t *testing.T) {
	svc, db, conn := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	applied, err := svc.ApplySyncStatus(ctx, conn, enums.HistorySyncSyncing, base)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.ApplySyncStatus(ctx, conn, enums.HistorySyncSyncing, base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, applied, "same-state delivery must be a no-op")

	applied, err = svc.ApplySyncStatus(ctx, conn, enums.HistorySyncIdle, base.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, applied)

	reloaded := reloadConnection(t, db, conn.ID)
	assert.Equal(t, enums.HistorySyncIdle, reloaded.HistorySyncStatus)
	assert.Equal(t, 2, syncEvents(t, db, conn.ID))
}

func TestApplySyncStatusIgnoresStaleAndRegressingEvents(t *testing.T) {
	svc, db, conn := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	_, err := svc.ApplySyncStatus(ctx, conn, enums.HistorySyncSyncing, base)
	require.NoError(t, err)
	_, err = svc.ApplySyncStatus(ctx, conn, enums.HistorySyncError, base.Add(5*time.Second))
	require.NoError(t, err)

	// a delayed "idle" older than the error is stale.
	applied, err := svc.ApplySyncStatus(ctx, conn, enums.HistorySyncIdle, base.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, applied)

	// a delayed "syncing" older than the last applied event is stale.
	applied, err = svc.ApplySyncStatus(ctx, conn, enums.HistorySyncSyncing, base.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, applied)

	reloaded := reloadConnection(t, db, conn.ID)
	assert.Equal(t, enums.HistorySyncError, reloaded.HistorySyncStatus)
	assert.Equal(t, 2, syncEvents(t, db, conn.ID))
}

func TestApplySyncStatusWalksDisconnectAndReconnect(t *testing.T) {
	svc, db, conn := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	walk := []enums.HistorySyncStatus{
		enums.HistorySyncError,
		enums.HistorySyncIdle,
		enums.HistorySyncError,
		enums.HistorySyncIdle,
	}
	for i, target := range walk {
		applied, err := svc.ApplySyncStatus(ctx, conn, target, base.Add(time.Duration(i+1)*time.Second))
		require.NoError(t, err)
		assert.True(t, applied, "step %d to %s", i, target)
	}

	reloaded := reloadConnection(t, db, conn.ID)
	assert.Equal(t, enums.HistorySyncIdle, reloaded.HistorySyncStatus)
	assert.Equal(t, len(walk), syncEvents(t, db, conn.ID))
}

func TestApplySyncStatusConcurrentDeliveriesApplyOnce(t *testing.T) {
	svc, db, conn := newTestService(t)
	eventTime := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied, err := svc.ApplySyncStatus(context.Background(), conn, enums.HistorySyncSyncing, eventTime)
			assert.NoError(t, err)
			results <- applied
		}()
	}
	wg.Wait()
	close(results)

	count := 0
	for applied := range results {
		if applied {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, syncEvents(t, db, conn.ID))
}

func TestGetScopesByWorkspace(t *testing.T) {
	svc, _, conn := newTestService(t)

	got, err := svc.Get(context.Background(), conn.WorkspaceID, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, conn.InstanceName, got.InstanceName)

	_, err = svc.Get(context.Background(), uuid.New(), conn.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestMarkWebhookConfiguredPersistsURL(t *testing.T) {
	svc, db, conn := newTestService(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, svc.MarkWebhookConfigured(context.Background(), conn, "https://hooks.example.com/api/v1/webhooks/evolution", now))

	reloaded := reloadConnection(t, db, conn.ID)
	require.NotNil(t, reloaded.WebhookURL)
	assert.Equal(t, "https://hooks.example.com/api/v1/webhooks/evolution", *reloaded.WebhookURL)
	require.NotNil(t, reloaded.WebhookConfiguredAt)
}
