package health

import (
	"math"
	"slices"
	"time"

	"devwatch/internal/models"
)

// ComputeSLA derives uptime from the share of non-offline samples. Downtime is
// approximated as one full cycle interval per offline sample rather than the
// summed incident durations; the two figures can disagree and that is kept.
func ComputeSLA(samples []models.HistorySample, interval time.Duration) models.SLA {
	if len(samples) == 0 {
		return models.SLA{Uptime: 100, DowntimeMinutes: 0}
	}
	offline := 0
	for _, s := range samples {
		if s.Status == models.StatusOffline {
			offline++
		}
	}
	total := len(samples)
	uptime := float64(total-offline) / float64(total) * 100
	return models.SLA{
		Uptime:          round2(uptime),
		DowntimeMinutes: int(math.Round(float64(offline) * interval.Seconds() / 60)),
	}
}

// MinuteBuckets groups samples by wall-clock minute, ascending.
func MinuteBuckets(samples []models.HistorySample) []models.MinuteBucket {
	type acc struct {
		sum     float64
		n       int
		offline int
	}
	byMinute := map[time.Time]*acc{}
	var order []time.Time
	for _, s := range samples {
		m := s.TS.UTC().Truncate(time.Minute)
		a, ok := byMinute[m]
		if !ok {
			a = &acc{}
			byMinute[m] = a
			order = append(order, m)
		}
		a.sum += s.LatencyMs
		a.n++
		if s.Status == models.StatusOffline {
			a.offline++
		}
	}
	slices.SortFunc(order, time.Time.Compare)
	out := make([]models.MinuteBucket, 0, len(order))
	for _, m := range order {
		a := byMinute[m]
		out = append(out, models.MinuteBucket{Time: m, AvgLatency: round2(a.sum / float64(a.n)), OfflineCount: a.offline})
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
