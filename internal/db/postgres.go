package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"devwatch/internal/models"
)

// PGRepository is the postgres flavour of Store, matching the schema the
// sqlite Repository migrates.
type PGRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func OpenPostgres(ctx context.Context, dsn string) (*PGRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PGRepository{pool: pool, now: time.Now}, nil
}

func MigratePostgres(ctx context.Context, r *PGRepository) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			host TEXT NOT NULL,
			type VARCHAR(50) NOT NULL DEFAULT 'server',
			services JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			id BIGSERIAL PRIMARY KEY,
			device_id BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			created_at TIMESTAMPTZ NOT NULL,
			status VARCHAR(20) NOT NULL,
			latency DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			device_id BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			type VARCHAR(50) NOT NULL,
			message TEXT NOT NULL,
			status VARCHAR(50) NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL,
			ack_at TIMESTAMPTZ,
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS notification_events (
			id BIGSERIAL PRIMARY KEY,
			alert_id BIGINT REFERENCES alerts(id) ON DELETE SET NULL,
			kind TEXT NOT NULL,
			channel TEXT NOT NULL,
			status TEXT NOT NULL,
			last_error TEXT,
			sent_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_device_ts ON history(device_id, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_ts ON history(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status_created ON alerts(status, created_at DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_alerts_open ON alerts(device_id, type) WHERE status IN ('active','acknowledged')`,
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}

func (r *PGRepository) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

func (r *PGRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PGRepository) ListDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := r.pool.Query(ctx, `SELECT id,name,host,type,services FROM devices ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Device
	for rows.Next() {
		var d models.Device
		var services []byte
		if err := rows.Scan(&d.ID, &d.Name, &d.Host, &d.Kind, &services); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(services, &d.Services); err != nil {
			return nil, fmt.Errorf("decode services of device %d: %w", d.ID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PGRepository) CreateDevice(ctx context.Context, d models.Device) (models.Device, error) {
	if d.Kind == "" {
		d.Kind = models.KindServer
	}
	if d.Services == nil {
		d.Services = []models.Service{}
	}
	b, err := json.Marshal(d.Services)
	if err != nil {
		return d, err
	}
	err = r.pool.QueryRow(ctx, `INSERT INTO devices (name,host,type,services) VALUES ($1,$2,$3,$4) RETURNING id`,
		d.Name, d.Host, d.Kind, string(b)).Scan(&d.ID)
	return d, err
}

func (r *PGRepository) DeleteDevice(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM devices WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) AppendHistory(ctx context.Context, s models.HistorySample) (models.HistorySample, error) {
	if s.TS.IsZero() {
		s.TS = r.now()
	}
	s.TS = s.TS.UTC()
	err := r.pool.QueryRow(ctx, `INSERT INTO history (device_id,created_at,status,latency) VALUES ($1,$2,$3,$4) RETURNING id`,
		s.DeviceID, s.TS, string(s.Status), s.LatencyMs).Scan(&s.ID)
	return s, err
}

func (r *PGRepository) HistorySince(ctx context.Context, deviceID int64, from time.Time) ([]models.HistorySample, error) {
	rows, err := r.pool.Query(ctx, `SELECT id,device_id,created_at,status,latency FROM history
		WHERE device_id = $1 AND created_at > $2 ORDER BY created_at ASC, id ASC`, deviceID, from.UTC())
	if err != nil {
		return nil, err
	}
	return collectHistory(rows)
}

func (r *PGRepository) RecentHistory(ctx context.Context, from time.Time) ([]models.HistorySample, error) {
	rows, err := r.pool.Query(ctx, `SELECT id,device_id,created_at,status,latency FROM history
		WHERE created_at > $1 ORDER BY created_at ASC, id ASC`, from.UTC())
	if err != nil {
		return nil, err
	}
	return collectHistory(rows)
}

func collectHistory(rows pgx.Rows) ([]models.HistorySample, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.HistorySample, error) {
		var s models.HistorySample
		var status string
		err := row.Scan(&s.ID, &s.DeviceID, &s.TS, &status, &s.LatencyMs)
		s.Status = models.Status(status)
		return s, err
	})
}

func (r *PGRepository) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM history WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) CreateAlertIfNone(ctx context.Context, a models.Alert) (models.Alert, bool, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.Status = models.AlertActive
	err := r.pool.QueryRow(ctx, `INSERT INTO alerts (device_id,type,message,status,created_at) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT DO NOTHING RETURNING id`,
		a.DeviceID, a.Type, a.Message, string(a.Status), a.CreatedAt).Scan(&a.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, false, nil
	}
	if err != nil {
		return a, false, err
	}
	return a, true, nil
}

func (r *PGRepository) ResolveAlerts(ctx context.Context, deviceID int64, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE alerts SET status='resolved', resolved_at=$1 WHERE device_id=$2 AND status IN ('active','acknowledged')`,
		at.UTC(), deviceID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) AcknowledgeAlert(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE alerts SET status='acknowledged', ack_at=$1 WHERE id=$2 AND status='active'`, at.UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) ListAlerts(ctx context.Context, activeOnly bool, limit int) ([]models.Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	filter := ""
	if activeOnly {
		filter = " WHERE a.status = 'active'"
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT a.id,a.device_id,d.name,d.host,a.type,a.message,a.status,a.created_at,a.ack_at,a.resolved_at
		FROM alerts a JOIN devices d ON d.id=a.device_id%s
		ORDER BY a.created_at DESC, a.id DESC LIMIT $1`, filter), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Alert, error) {
		var a models.Alert
		var status string
		err := row.Scan(&a.ID, &a.DeviceID, &a.DeviceName, &a.Host, &a.Type, &a.Message, &status, &a.CreatedAt, &a.AckAt, &a.ResolvedAt)
		a.Status = models.AlertStatus(status)
		return a, err
	})
}

func (r *PGRepository) InsertNotificationEvent(ctx context.Context, ev models.NotificationEvent) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO notification_events (alert_id,kind,channel,status,last_error,sent_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		ev.AlertID, ev.Kind, ev.Channel, ev.Status, ev.Error, ev.SentAt)
	return err
}
