package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devwatch/internal/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		in   models.ProbeResult
		want models.Status
	}{
		{"unreachable ignores latency", models.ProbeResult{Reachable: false, LatencyMs: 5, PacketLossPct: 0}, models.StatusOffline},
		{"unreachable high numbers", models.ProbeResult{Reachable: false, LatencyMs: 900, PacketLossPct: 100}, models.StatusOffline},
		{"healthy", models.ProbeResult{Reachable: true, LatencyMs: 20}, models.StatusOnline},
		{"latency at threshold", models.ProbeResult{Reachable: true, LatencyMs: 300, PacketLossPct: 10}, models.StatusOnline},
		{"latency over threshold", models.ProbeResult{Reachable: true, LatencyMs: 301}, models.StatusWarning},
		{"loss over threshold", models.ProbeResult{Reachable: true, LatencyMs: 10, PacketLossPct: 11}, models.StatusWarning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.in))
		})
	}
}

func TestClassifyUnreachableIsAlwaysOffline(t *testing.T) {
	for _, lat := range []float64{0, 1, 299, 300, 5000} {
		for _, loss := range []float64{0, 10, 50, 100} {
			got := Classify(models.ProbeResult{Reachable: false, LatencyMs: lat, PacketLossPct: loss})
			require.Equal(t, models.StatusOffline, got, "latency=%v loss=%v", lat, loss)
		}
	}
}

func samplesAt(base time.Time, step time.Duration, statuses ...models.Status) []models.HistorySample {
	out := make([]models.HistorySample, 0, len(statuses))
	for i, st := range statuses {
		out = append(out, models.HistorySample{ID: int64(i + 1), DeviceID: 1, TS: base.Add(time.Duration(i) * step), Status: st})
	}
	return out
}

func TestIncidentsClosedInterval(t *testing.T) {
	t0 := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	samples := []models.HistorySample{
		{TS: t0, Status: models.StatusOnline},
		{TS: t0.Add(1 * time.Minute), Status: models.StatusOffline},
		{TS: t0.Add(2 * time.Minute), Status: models.StatusOffline},
		{TS: t0.Add(4*time.Minute + 40*time.Second), Status: models.StatusOnline},
	}

	got := Incidents(samples, t0.Add(time.Hour))
	require.Len(t, got, 1)
	assert.Equal(t, t0.Add(time.Minute), got[0].Start)
	assert.Equal(t, t0.Add(4*time.Minute+40*time.Second), got[0].End)
	assert.Equal(t, 4, got[0].DurationMinutes)
	assert.False(t, got[0].IsOpen)
}

func TestIncidentsOpenAtEndOfWindow(t *testing.T) {
	t0 := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	now := t0.Add(10 * time.Minute)
	samples := samplesAt(t0, time.Minute, models.StatusOnline, models.StatusOffline)

	got := Incidents(samples, now)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsOpen)
	assert.Equal(t, now, got[0].End)
	assert.Equal(t, 9, got[0].DurationMinutes)
}

func TestIncidentsMostRecentFirstAndWarningIsNotDown(t *testing.T) {
	t0 := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	samples := samplesAt(t0, time.Minute,
		models.StatusOffline, models.StatusWarning,
		models.StatusOnline, models.StatusOffline, models.StatusOffline, models.StatusOnline,
	)

	got := Incidents(samples, t0.Add(time.Hour))
	require.Len(t, got, 2)
	assert.Equal(t, t0.Add(3*time.Minute), got[0].Start)
	assert.Equal(t, 2, got[0].DurationMinutes)
	assert.Equal(t, t0, got[1].Start)
	assert.Equal(t, 1, got[1].DurationMinutes)
}

func TestIncidentsDropsNegativeDurations(t *testing.T) {
	t0 := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	samples := []models.HistorySample{
		{TS: t0, Status: models.StatusOffline},
		{TS: t0.Add(-5 * time.Minute), Status: models.StatusOnline},
	}
	assert.Empty(t, Incidents(samples, t0.Add(time.Hour)))
}

func TestIncidentsIdempotent(t *testing.T) {
	t0 := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	now := t0.Add(time.Hour)
	samples := samplesAt(t0, 3*time.Second,
		models.StatusOnline, models.StatusOffline, models.StatusOnline, models.StatusOffline,
	)

	first := Incidents(samples, now)
	second := Incidents(samples, now)
	assert.Equal(t, first, second)
}

func TestComputeSLA(t *testing.T) {
	t0 := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	statuses := make([]models.Status, 10)
	for i := range statuses {
		statuses[i] = models.StatusOnline
	}
	statuses[3] = models.StatusOffline
	statuses[7] = models.StatusOffline

	got := ComputeSLA(samplesAt(t0, 3*time.Second, statuses...), 3*time.Second)
	assert.Equal(t, 80.0, got.Uptime)
	assert.Equal(t, 0, got.DowntimeMinutes)

	got = ComputeSLA(samplesAt(t0, time.Minute, statuses...), time.Minute)
	assert.Equal(t, 2, got.DowntimeMinutes)
}

func TestComputeSLAEmptyWindowIsOptimistic(t *testing.T) {
	assert.Equal(t, models.SLA{Uptime: 100, DowntimeMinutes: 0}, ComputeSLA(nil, 3*time.Second))
}

func TestComputeSLARoundsToTwoDecimals(t *testing.T) {
	t0 := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	got := ComputeSLA(samplesAt(t0, time.Second, models.StatusOnline, models.StatusWarning, models.StatusOffline), 30*time.Second)
	assert.Equal(t, 66.67, got.Uptime)
	assert.Equal(t, 1, got.DowntimeMinutes)
}

func TestMinuteBuckets(t *testing.T) {
	t0 := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	samples := []models.HistorySample{
		{TS: t0.Add(70 * time.Second), LatencyMs: 30, Status: models.StatusOnline},
		{TS: t0.Add(5 * time.Second), LatencyMs: 10, Status: models.StatusOnline},
		{TS: t0.Add(20 * time.Second), LatencyMs: 0, Status: models.StatusOffline},
	}

	got := MinuteBuckets(samples)
	require.Len(t, got, 2)
	assert.Equal(t, t0, got[0].Time)
	assert.Equal(t, 5.0, got[0].AvgLatency)
	assert.Equal(t, 1, got[0].OfflineCount)
	assert.Equal(t, t0.Add(time.Minute), got[1].Time)
	assert.Equal(t, 0, got[1].OfflineCount)
}
