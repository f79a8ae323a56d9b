// Package monitor runs the probe cycle: it probes every registered device,
// classifies the result, drives alerting, records history and publishes a
// snapshot of the whole fleet.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"devwatch/internal/health"
	"devwatch/internal/models"
)

type Devices interface {
	List() []models.Device
}

type Prober interface {
	Probe(ctx context.Context, d models.Device) models.ProbeResult
	ProbeServices(ctx context.Context, d models.Device) []models.ServiceStatus
}

type Alerter interface {
	Evaluate(ctx context.Context, d models.Device, status models.Status) error
}

type History interface {
	AppendHistory(ctx context.Context, s models.HistorySample) (models.HistorySample, error)
	HistorySince(ctx context.Context, deviceID int64, from time.Time) ([]models.HistorySample, error)
	RecentHistory(ctx context.Context, from time.Time) ([]models.HistorySample, error)
}

type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

type Options struct {
	Interval       time.Duration
	MaxConcurrency int
	SLAWindow      time.Duration
}

const dashboardWindow = 3 * time.Hour

type Scheduler struct {
	devices Devices
	prober  Prober
	alerts  Alerter
	history History
	pub     Publisher
	opts    Options
	log     zerolog.Logger
	now     func() time.Time

	cycleMu  sync.Mutex
	snapshot atomic.Pointer[[]models.DeviceState]
}

func NewScheduler(devices Devices, prober Prober, alerts Alerter, history History, pub Publisher, opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 10
	}
	if opts.SLAWindow <= 0 {
		opts.SLAWindow = 24 * time.Hour
	}
	s := &Scheduler{
		devices: devices,
		prober:  prober,
		alerts:  alerts,
		history: history,
		pub:     pub,
		opts:    opts,
		log:     logger.With().Str("module", "monitor").Logger(),
		now:     time.Now,
	}
	empty := []models.DeviceState{}
	s.snapshot.Store(&empty)
	return s
}

// Run executes a cycle immediately and then once per interval until ctx is
// done. A cycle that outlasts the interval delays the next one.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle probes every device once, swaps in the new snapshot and publishes
// it. Concurrent calls are serialized.
func (s *Scheduler) RunCycle(ctx context.Context) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := s.now()
	devices := s.devices.List()
	prev := make(map[int64]models.DeviceState)
	for _, st := range *s.snapshot.Load() {
		prev[st.ID] = st
	}

	next := make([]models.DeviceState, len(devices))
	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrency)
	for i, d := range devices {
		prior, ok := prev[d.ID]
		if !ok {
			prior = initialState(d)
		}
		g.Go(func() error {
			next[i] = s.checkDevice(ctx, d, prior)
			return nil
		})
	}
	_ = g.Wait()

	s.snapshot.Store(&next)

	payload, err := json.Marshal(next)
	if err != nil {
		s.log.Error().Err(err).Msg("encode snapshot")
		return
	}
	if s.pub != nil {
		if err := s.pub.Publish(ctx, payload); err != nil {
			s.log.Warn().Err(err).Msg("publish snapshot")
		}
	}
	s.log.Debug().Int("devices", len(next)).Dur("took", s.now().Sub(start)).Msg("cycle complete")
}

func initialState(d models.Device) models.DeviceState {
	return models.DeviceState{Device: d, Status: models.StatusUnknown, Uptime: 100, ServicesStatus: []models.ServiceStatus{}}
}

// checkDevice never fails the cycle. A panic keeps the prior state.
func (s *Scheduler) checkDevice(ctx context.Context, d models.Device, prior models.DeviceState) (state models.DeviceState) {
	log := s.log.With().Int64("device_id", d.ID).Str("host", d.Host).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("device check panicked, keeping previous state")
			prior.Device = d
			state = prior
		}
	}()

	var (
		res      models.ProbeResult
		services []models.ServiceStatus
		wg       sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("service probe panicked")
			}
		}()
		services = s.prober.ProbeServices(ctx, d)
	}()
	res = s.prober.Probe(ctx, d)
	wg.Wait()
	if services == nil {
		services = []models.ServiceStatus{}
	}

	status := health.Classify(res)
	if err := s.alerts.Evaluate(ctx, d, status); err != nil {
		log.Error().Err(err).Str("status", string(status)).Msg("alert evaluation failed")
	}

	now := s.now().UTC()
	if _, err := s.history.AppendHistory(ctx, models.HistorySample{
		DeviceID:  d.ID,
		Status:    status,
		LatencyMs: res.LatencyMs,
	}); err != nil {
		log.Error().Err(err).Msg("append history failed, sample dropped")
	}

	state = models.DeviceState{
		Device:         d,
		Status:         status,
		LatencyMs:      res.LatencyMs,
		PacketLossPct:  res.PacketLossPct,
		ServicesStatus: services,
		Uptime:         prior.Uptime,
		Downtime:       prior.Downtime,
		LastChecked:    &now,
	}

	samples, err := s.history.HistorySince(ctx, d.ID, now.Add(-s.opts.SLAWindow))
	if err != nil {
		log.Error().Err(err).Msg("read history for SLA failed, keeping previous values")
		return state
	}
	sla := health.ComputeSLA(samples, s.opts.Interval)
	state.Uptime = sla.Uptime
	state.Downtime = sla.DowntimeMinutes
	return state
}

// Snapshot returns the state published by the last completed cycle.
func (s *Scheduler) Snapshot() []models.DeviceState {
	return *s.snapshot.Load()
}

func (s *Scheduler) Incidents(ctx context.Context, deviceID int64, window time.Duration) ([]models.Incident, error) {
	now := s.now().UTC()
	samples, err := s.history.HistorySince(ctx, deviceID, now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("read history of device %d: %w", deviceID, err)
	}
	return health.Incidents(samples, now), nil
}

func (s *Scheduler) SLA(ctx context.Context, deviceID int64, window time.Duration) (models.SLA, error) {
	samples, err := s.history.HistorySince(ctx, deviceID, s.now().UTC().Add(-window))
	if err != nil {
		return models.SLA{}, fmt.Errorf("read history of device %d: %w", deviceID, err)
	}
	return health.ComputeSLA(samples, s.opts.Interval), nil
}

// DashboardHistory aggregates the last three hours of samples per minute.
func (s *Scheduler) DashboardHistory(ctx context.Context) ([]models.MinuteBucket, error) {
	samples, err := s.history.RecentHistory(ctx, s.now().UTC().Add(-dashboardWindow))
	if err != nil {
		return nil, fmt.Errorf("read recent history: %w", err)
	}
	return health.MinuteBuckets(samples), nil
}
