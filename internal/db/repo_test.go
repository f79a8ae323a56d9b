package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devwatch/internal/models"
)

func TestDevicesRoundTripServices(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.CreateDevice(ctx, models.Device{
		Name: "Local Postgres", Host: "localhost", Kind: models.KindDatabase,
		Services: []models.Service{{Name: "PostgreSQL", Port: 5432, Protocol: "tcp"}, {Name: "SSH", Port: 22, Protocol: "tcp"}},
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	bare, err := repo.CreateDevice(ctx, models.Device{Name: "Core Router", Host: "1.1.1.1"})
	require.NoError(t, err)
	assert.Equal(t, models.KindServer, bare.Kind)

	devices, err := repo.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, created.Services, devices[0].Services)
	assert.Empty(t, devices[1].Services)

	require.NoError(t, repo.DeleteDevice(ctx, bare.ID))
	assert.ErrorIs(t, repo.DeleteDevice(ctx, bare.ID), ErrNotFound)
}

func TestHistorySinceOrderedAndWindowed(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	dev := seedDevice(t, repo, ctx, "edge")
	other := seedDevice(t, repo, ctx, "other")

	for _, s := range []models.HistorySample{
		{DeviceID: dev.ID, TS: now.Add(-25 * time.Hour), Status: models.StatusOffline},
		{DeviceID: dev.ID, TS: now.Add(-2 * time.Minute), Status: models.StatusOnline, LatencyMs: 12},
		{DeviceID: dev.ID, TS: now.Add(-3 * time.Minute), Status: models.StatusOffline},
		{DeviceID: other.ID, TS: now.Add(-1 * time.Minute), Status: models.StatusOnline},
	} {
		_, err := repo.AppendHistory(ctx, s)
		require.NoError(t, err)
	}

	got, err := repo.HistorySince(ctx, dev.ID, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.StatusOffline, got[0].Status)
	assert.True(t, got[0].TS.Before(got[1].TS))
	assert.Equal(t, 12.0, got[1].LatencyMs)

	all, err := repo.RecentHistory(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := repo.DeleteHistoryBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAppendHistoryStampsInsertTime(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	stamp := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return stamp }
	dev := seedDevice(t, repo, ctx, "edge")

	s, err := repo.AppendHistory(ctx, models.HistorySample{DeviceID: dev.ID, Status: models.StatusOnline})
	require.NoError(t, err)
	assert.Equal(t, stamp, s.TS)
}

func TestCreateAlertIfNoneDeduplicates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	dev := seedDevice(t, repo, ctx, "edge")
	alert := models.Alert{DeviceID: dev.ID, Type: models.AlertTypeOffline, Message: "down"}

	first, created, err := repo.CreateAlertIfNone(ctx, alert)
	require.NoError(t, err)
	require.True(t, created)

	_, created, err = repo.CreateAlertIfNone(ctx, alert)
	require.NoError(t, err)
	assert.False(t, created, "active alert must block a second one")

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.AcknowledgeAlert(ctx, first.ID, now))
	_, created, err = repo.CreateAlertIfNone(ctx, alert)
	require.NoError(t, err)
	assert.False(t, created, "acknowledged alert must block a second one")

	n, err := repo.ResolveAlerts(ctx, dev.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, created, err = repo.CreateAlertIfNone(ctx, alert)
	require.NoError(t, err)
	assert.True(t, created, "resolved alerts do not block")
}

func TestAcknowledgeOnlyActive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	dev := seedDevice(t, repo, ctx, "edge")
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

	a, _, err := repo.CreateAlertIfNone(ctx, models.Alert{DeviceID: dev.ID, Type: models.AlertTypeOffline, Message: "down"})
	require.NoError(t, err)
	_, err = repo.ResolveAlerts(ctx, dev.ID, now)
	require.NoError(t, err)

	assert.ErrorIs(t, repo.AcknowledgeAlert(ctx, a.ID, now), ErrNotFound)
	assert.ErrorIs(t, repo.AcknowledgeAlert(ctx, 999, now), ErrNotFound)
}

func TestListAlertsActiveFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a := seedDevice(t, repo, ctx, "a")
	b := seedDevice(t, repo, ctx, "b")
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

	_, _, err := repo.CreateAlertIfNone(ctx, models.Alert{DeviceID: a.ID, Type: models.AlertTypeOffline, Message: "a down", CreatedAt: now})
	require.NoError(t, err)
	_, _, err = repo.CreateAlertIfNone(ctx, models.Alert{DeviceID: b.ID, Type: models.AlertTypeOffline, Message: "b down", CreatedAt: now.Add(time.Minute)})
	require.NoError(t, err)
	_, err = repo.ResolveAlerts(ctx, a.ID, now.Add(2*time.Minute))
	require.NoError(t, err)

	all, err := repo.ListAlerts(ctx, false, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b down", all[0].Message)
	assert.Equal(t, "b", all[0].DeviceName)
	require.NotNil(t, all[1].ResolvedAt)

	active, err := repo.ListAlerts(ctx, true, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].DeviceID)
}

func TestNotificationEventsAllowMissingAlert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.InsertNotificationEvent(ctx, models.NotificationEvent{Kind: "resolved", Channel: "slack", Status: "sent", SentAt: &now}))

	var n int
	require.NoError(t, repo.DB().QueryRow(`SELECT COUNT(*) FROM notification_events WHERE alert_id IS NULL`).Scan(&n))
	assert.Equal(t, 1, n)
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	sqldb, err := Open(t.TempDir() + "/test.db")
	require.NoError(t, err, "open db")
	t.Cleanup(func() { _ = sqldb.Close() })
	require.NoError(t, Migrate(sqldb), "migrate db")
	return NewRepository(sqldb)
}

func seedDevice(t *testing.T, repo *Repository, ctx context.Context, name string) models.Device {
	t.Helper()
	d, err := repo.CreateDevice(ctx, models.Device{Name: name, Host: name + ".example.net"})
	require.NoError(t, err, "seed device %s", name)
	return d
}
