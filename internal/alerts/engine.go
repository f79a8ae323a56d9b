// Package alerts turns per-cycle device status into alert records and
// operator notifications.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"devwatch/internal/db"
	"devwatch/internal/models"
	"devwatch/internal/notifier"
)

type Store interface {
	CreateAlertIfNone(ctx context.Context, a models.Alert) (models.Alert, bool, error)
	ResolveAlerts(ctx context.Context, deviceID int64, at time.Time) (int64, error)
	AcknowledgeAlert(ctx context.Context, id int64, at time.Time) error
	InsertNotificationEvent(ctx context.Context, ev models.NotificationEvent) error
}

type Notifier interface {
	Notify(ctx context.Context, subject, message string) []notifier.Outcome
}

const (
	subjectOffline  = "Network Alert"
	subjectResolved = "Alert Resolved"
)

type Engine struct {
	repo   Store
	notify Notifier
	log    zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewEngine(repo Store, notify Notifier, logger zerolog.Logger) *Engine {
	return &Engine{
		repo:   repo,
		notify: notify,
		log:    logger.With().Str("module", "alerts").Logger(),
		now:    time.Now,
		locks:  map[int64]*sync.Mutex{},
	}
}

func (e *Engine) deviceLock(id int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Evaluate applies one observed status. Offline opens an alert unless one is
// already open for the device, online resolves every open alert. Warning and
// unknown leave alerts untouched.
func (e *Engine) Evaluate(ctx context.Context, d models.Device, status models.Status) error {
	switch status {
	case models.StatusOffline:
		return e.fire(ctx, d)
	case models.StatusOnline:
		return e.resolve(ctx, d)
	default:
		return nil
	}
}

func (e *Engine) fire(ctx context.Context, d models.Device) error {
	l := e.deviceLock(d.ID)
	l.Lock()
	msg := fmt.Sprintf("Device %s (%s) is OFFLINE!", d.Name, d.Host)
	alert, created, err := e.repo.CreateAlertIfNone(ctx, models.Alert{
		DeviceID:  d.ID,
		Type:      models.AlertTypeOffline,
		Message:   msg,
		CreatedAt: e.now().UTC(),
	})
	l.Unlock()
	if err != nil {
		return fmt.Errorf("create alert for device %d: %w", d.ID, err)
	}
	if !created {
		return nil
	}
	e.log.Warn().Int64("device_id", d.ID).Str("host", d.Host).Int64("alert_id", alert.ID).Msg("device offline, alert opened")
	e.sendNotification(ctx, &alert.ID, "offline", subjectOffline, msg)
	return nil
}

func (e *Engine) resolve(ctx context.Context, d models.Device) error {
	l := e.deviceLock(d.ID)
	l.Lock()
	n, err := e.repo.ResolveAlerts(ctx, d.ID, e.now().UTC())
	l.Unlock()
	if err != nil {
		return fmt.Errorf("resolve alerts for device %d: %w", d.ID, err)
	}
	if n == 0 {
		return nil
	}
	e.log.Info().Int64("device_id", d.ID).Str("host", d.Host).Int64("resolved", n).Msg("device back online, alerts resolved")
	e.sendNotification(ctx, nil, "resolved", subjectResolved, fmt.Sprintf("Device %s is back ONLINE.", d.Name))
	return nil
}

// Acknowledge marks an active alert as seen by an operator. It stays open
// until the device recovers.
func (e *Engine) Acknowledge(ctx context.Context, alertID int64) error {
	if err := e.repo.AcknowledgeAlert(ctx, alertID, e.now().UTC()); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return err
		}
		return fmt.Errorf("acknowledge alert %d: %w", alertID, err)
	}
	e.log.Info().Int64("alert_id", alertID).Msg("alert acknowledged")
	return nil
}

func (e *Engine) sendNotification(ctx context.Context, alertID *int64, kind, subject, msg string) {
	if e.notify == nil {
		return
	}
	for _, o := range e.notify.Notify(ctx, subject, msg) {
		ev := models.NotificationEvent{AlertID: alertID, Kind: kind, Channel: o.Channel, Status: "sent"}
		if o.Err != nil {
			ev.Status = "failed"
			ev.Error = o.Err.Error()
		} else {
			sent := o.SentAt
			ev.SentAt = &sent
		}
		if err := e.repo.InsertNotificationEvent(ctx, ev); err != nil {
			e.log.Error().Err(err).Str("channel", o.Channel).Msg("record notification event")
		}
	}
}
