package retention

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devwatch/internal/db"
	"devwatch/internal/models"
)

func TestRunDeletesOnlyExpiredHistory(t *testing.T) {
	sqldb, err := db.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close() })
	require.NoError(t, db.Migrate(sqldb))
	repo := db.NewRepository(sqldb)
	ctx := context.Background()

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	dev, err := repo.CreateDevice(ctx, models.Device{Name: "edge", Host: "10.0.0.1"})
	require.NoError(t, err)
	for _, ts := range []time.Time{now.AddDate(0, 0, -20), now.AddDate(0, 0, -15), now.AddDate(0, 0, -1)} {
		_, err := repo.AppendHistory(ctx, models.HistorySample{DeviceID: dev.ID, TS: ts, Status: models.StatusOffline})
		require.NoError(t, err)
	}
	_, _, err = repo.CreateAlertIfNone(ctx, models.Alert{DeviceID: dev.ID, Type: models.AlertTypeOffline, Message: "down", CreatedAt: now.AddDate(0, 0, -30)})
	require.NoError(t, err)

	svc := NewService(repo, 14, zerolog.Nop())
	svc.now = func() time.Time { return now }
	svc.Run(ctx)

	left, err := repo.HistorySince(ctx, dev.ID, now.AddDate(-1, 0, 0))
	require.NoError(t, err)
	assert.Len(t, left, 1)

	alerts, err := repo.ListAlerts(ctx, false, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 1, "alerts are never pruned")
}

func TestNewServiceDefaultsRetention(t *testing.T) {
	assert.Equal(t, 14, NewService(nil, 0, zerolog.Nop()).retentionDays)
}
