// Package health holds the pure functions that turn probe results and
// history samples into statuses, incidents and availability figures.
package health

import "devwatch/internal/models"

const (
	WarnLatencyMs     = 300
	WarnPacketLossPct = 10
)

// Classify maps one probe result to a status. It keeps no memory between
// calls, so a flapping target flaps here too.
func Classify(r models.ProbeResult) models.Status {
	switch {
	case !r.Reachable:
		return models.StatusOffline
	case r.LatencyMs > WarnLatencyMs || r.PacketLossPct > WarnPacketLossPct:
		return models.StatusWarning
	default:
		return models.StatusOnline
	}
}
