// Package registry owns the set of monitored devices.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"devwatch/internal/models"
)

var ErrInvalidDevice = errors.New("invalid device")

type Store interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	CreateDevice(ctx context.Context, d models.Device) (models.Device, error)
	DeleteDevice(ctx context.Context, id int64) error
}

// Registry is the in-memory device list backed by the store. Readers get
// copies, so a cycle keeps a stable view while devices are added or removed.
type Registry struct {
	store Store
	log   zerolog.Logger

	mu      sync.RWMutex
	devices []models.Device
}

func New(store Store, logger zerolog.Logger) *Registry {
	return &Registry{store: store, log: logger.With().Str("module", "registry").Logger()}
}

// Load reads the stored devices. When the store is empty the seed devices are
// persisted first.
func (r *Registry) Load(ctx context.Context, seed []models.Device) error {
	devices, err := r.store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 && len(seed) > 0 {
		for _, d := range seed {
			created, err := r.store.CreateDevice(ctx, d)
			if err != nil {
				return fmt.Errorf("seed device %q: %w", d.Name, err)
			}
			devices = append(devices, created)
		}
		r.log.Info().Int("count", len(devices)).Msg("seeded devices")
	}
	r.mu.Lock()
	r.devices = devices
	r.mu.Unlock()
	return nil
}

func (r *Registry) Add(ctx context.Context, d models.Device) (models.Device, error) {
	d.Name = strings.TrimSpace(d.Name)
	d.Host = strings.TrimSpace(d.Host)
	if err := Validate(d); err != nil {
		return d, err
	}
	created, err := r.store.CreateDevice(ctx, d)
	if err != nil {
		return d, fmt.Errorf("create device: %w", err)
	}
	r.mu.Lock()
	r.devices = append(r.devices, created)
	r.mu.Unlock()
	r.log.Info().Int64("device_id", created.ID).Str("host", created.Host).Msg("device added")
	return created, nil
}

func (r *Registry) Remove(ctx context.Context, id int64) error {
	if err := r.store.DeleteDevice(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	r.devices = slices.DeleteFunc(slices.Clone(r.devices), func(d models.Device) bool { return d.ID == id })
	r.mu.Unlock()
	r.log.Info().Int64("device_id", id).Msg("device removed")
	return nil
}

func (r *Registry) List() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Device, len(r.devices))
	for i, d := range r.devices {
		d.Services = slices.Clone(d.Services)
		out[i] = d
	}
	return out
}

func (r *Registry) Get(id int64) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.ID == id {
			d.Services = slices.Clone(d.Services)
			return d, true
		}
	}
	return models.Device{}, false
}

func Validate(d models.Device) error {
	var problems []string
	if d.Name == "" {
		problems = append(problems, "name is required")
	}
	if d.Host == "" {
		problems = append(problems, "host is required")
	}
	for _, s := range d.Services {
		if s.Port < 1 || s.Port > 65535 {
			problems = append(problems, fmt.Sprintf("service %q port %d out of range", s.Name, s.Port))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDevice, strings.Join(problems, "; "))
	}
	return nil
}
