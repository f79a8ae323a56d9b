package health

import (
	"math"
	"slices"
	"time"

	"devwatch/internal/models"
)

// Incidents sweeps time-ordered samples once and returns the offline
// intervals, most recent first. An interval still open after the last sample
// is closed at now and flagged IsOpen.
func Incidents(samples []models.HistorySample, now time.Time) []models.Incident {
	var out []models.Incident
	var open *time.Time

	for _, s := range samples {
		down := s.Status == models.StatusOffline
		switch {
		case down && open == nil:
			start := s.TS
			open = &start
		case !down && open != nil:
			// clock skew guard
			if d := s.TS.Sub(*open); d >= 0 {
				out = append(out, models.Incident{Start: *open, End: s.TS, DurationMinutes: roundMinutes(d)})
			}
			open = nil
		}
	}
	if open != nil {
		out = append(out, models.Incident{
			Start:           *open,
			End:             now,
			DurationMinutes: roundMinutes(now.Sub(*open)),
			IsOpen:          true,
		})
	}

	slices.Reverse(out)
	return out
}

func roundMinutes(d time.Duration) int {
	return int(math.Round(float64(d.Milliseconds()) / 60000))
}
