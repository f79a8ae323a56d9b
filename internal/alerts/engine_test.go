package alerts

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devwatch/internal/db"
	"devwatch/internal/models"
	"devwatch/internal/notifier"
)

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
	messages []string
}

func (r *recordingNotifier) Notify(_ context.Context, subject, message string) []notifier.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	r.messages = append(r.messages, message)
	return []notifier.Outcome{{Channel: "test", SentAt: time.Now()}}
}

func newTestEngine(t *testing.T, n Notifier) (*Engine, *db.Repository, models.Device) {
	t.Helper()
	sqldb, err := db.Open(t.TempDir() + "/test.db")
	require.NoError(t, err, "open db")
	t.Cleanup(func() { _ = sqldb.Close() })
	require.NoError(t, db.Migrate(sqldb), "migrate db")
	repo := db.NewRepository(sqldb)

	dev, err := repo.CreateDevice(context.Background(), models.Device{Name: "Core Router", Host: "1.1.1.1", Kind: models.KindRouter})
	require.NoError(t, err)

	engine := NewEngine(repo, n, zerolog.Nop())
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	return engine, repo, dev
}

func TestEvaluateOfflineOfflineOnline(t *testing.T) {
	rec := &recordingNotifier{}
	engine, repo, dev := newTestEngine(t, rec)
	ctx := context.Background()

	require.NoError(t, engine.Evaluate(ctx, dev, models.StatusOffline))
	require.NoError(t, engine.Evaluate(ctx, dev, models.StatusOffline))
	require.NoError(t, engine.Evaluate(ctx, dev, models.StatusOnline))

	alerts, err := repo.ListAlerts(ctx, false, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertResolved, alerts[0].Status)
	assert.Equal(t, "Device Core Router (1.1.1.1) is OFFLINE!", alerts[0].Message)
	require.NotNil(t, alerts[0].ResolvedAt)

	assert.Equal(t, []string{"Network Alert", "Alert Resolved"}, rec.subjects)
	assert.Equal(t, "Device Core Router is back ONLINE.", rec.messages[1])
	assertEventCount(t, repo, 2)
}

func TestEvaluateWarningIsNoop(t *testing.T) {
	rec := &recordingNotifier{}
	engine, repo, dev := newTestEngine(t, rec)
	ctx := context.Background()

	require.NoError(t, engine.Evaluate(ctx, dev, models.StatusOffline))
	require.NoError(t, engine.Evaluate(ctx, dev, models.StatusWarning))
	require.NoError(t, engine.Evaluate(ctx, dev, models.StatusUnknown))

	active, err := repo.ListAlerts(ctx, true, 0)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Len(t, rec.subjects, 1)
}

func TestEvaluateOnlineWithoutAlertsIsSilent(t *testing.T) {
	rec := &recordingNotifier{}
	engine, _, dev := newTestEngine(t, rec)
	require.NoError(t, engine.Evaluate(context.Background(), dev, models.StatusOnline))
	assert.Empty(t, rec.subjects)
}

func TestAcknowledgedAlertStillDeduplicatesAndResolves(t *testing.T) {
	rec := &recordingNotifier{}
	engine, repo, dev := newTestEngine(t, rec)
	ctx := context.Background()

	require.NoError(t, engine.Evaluate(ctx, dev, models.StatusOffline))
	alerts, err := repo.ListAlerts(ctx, true, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	require.NoError(t, engine.Acknowledge(ctx, alerts[0].ID))
	assert.ErrorIs(t, engine.Acknowledge(ctx, alerts[0].ID), db.ErrNotFound)

	require.NoError(t, engine.Evaluate(ctx, dev, models.StatusOffline))
	require.NoError(t, engine.Evaluate(ctx, dev, models.StatusOnline))

	all, err := repo.ListAlerts(ctx, false, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.AlertResolved, all[0].Status)
	assert.NotNil(t, all[0].AckAt)
	assert.Equal(t, []string{"Network Alert", "Alert Resolved"}, rec.subjects)
}

func TestConcurrentOfflineCreatesOneAlert(t *testing.T) {
	rec := &recordingNotifier{}
	engine, repo, dev := newTestEngine(t, rec)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = engine.Evaluate(ctx, dev, models.StatusOffline)
		}()
	}
	wg.Wait()

	alerts, err := repo.ListAlerts(ctx, false, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Len(t, rec.subjects, 1)
}

func TestFailedNotificationsAreRecorded(t *testing.T) {
	var calls atomic.Int32
	tg := notifier.NewTelegram("token", "chat")
	tg.HTTP = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader("down"))}, nil
	})}
	d := notifier.NewDispatcher([]notifier.Channel{tg}, time.Second, 1, zerolog.Nop())
	engine, repo, dev := newTestEngine(t, d)

	require.NoError(t, engine.Evaluate(context.Background(), dev, models.StatusOffline))
	assert.Equal(t, int32(1), calls.Load())

	var status, lastErr string
	var alertID *int64
	require.NoError(t, repo.DB().QueryRow(`SELECT alert_id,status,last_error FROM notification_events`).Scan(&alertID, &status, &lastErr))
	assert.Equal(t, "failed", status)
	assert.Contains(t, lastErr, "502")
	assert.NotNil(t, alertID)
}

type failingStore struct{ Store }

func (failingStore) CreateAlertIfNone(context.Context, models.Alert) (models.Alert, bool, error) {
	return models.Alert{}, false, errors.New("disk full")
}

func TestEvaluateReturnsStoreErrors(t *testing.T) {
	rec := &recordingNotifier{}
	engine := NewEngine(failingStore{}, rec, zerolog.Nop())
	err := engine.Evaluate(context.Background(), models.Device{ID: 7}, models.StatusOffline)
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, rec.subjects)
}

func assertEventCount(t *testing.T, repo *db.Repository, want int) {
	t.Helper()
	var got int
	require.NoError(t, repo.DB().QueryRow(`SELECT COUNT(*) FROM notification_events`).Scan(&got))
	assert.Equal(t, want, got)
}

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
