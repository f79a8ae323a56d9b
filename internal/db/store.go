package db

import (
	"context"
	"errors"
	"time"

	"devwatch/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence surface shared by the sqlite and postgres backends.
type Store interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	CreateDevice(ctx context.Context, d models.Device) (models.Device, error)
	DeleteDevice(ctx context.Context, id int64) error

	AppendHistory(ctx context.Context, s models.HistorySample) (models.HistorySample, error)
	HistorySince(ctx context.Context, deviceID int64, from time.Time) ([]models.HistorySample, error)
	RecentHistory(ctx context.Context, from time.Time) ([]models.HistorySample, error)
	DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error)

	CreateAlertIfNone(ctx context.Context, a models.Alert) (models.Alert, bool, error)
	ResolveAlerts(ctx context.Context, deviceID int64, at time.Time) (int64, error)
	AcknowledgeAlert(ctx context.Context, id int64, at time.Time) error
	ListAlerts(ctx context.Context, activeOnly bool, limit int) ([]models.Alert, error)
	InsertNotificationEvent(ctx context.Context, ev models.NotificationEvent) error

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*PGRepository)(nil)
)
