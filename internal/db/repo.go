package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"devwatch/internal/models"
)

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) ListDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,name,host,type,services_json FROM devices ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Device
	for rows.Next() {
		var d models.Device
		var services string
		if err := rows.Scan(&d.ID, &d.Name, &d.Host, &d.Kind, &services); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(services), &d.Services); err != nil {
			return nil, fmt.Errorf("decode services of device %d: %w", d.ID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repository) CreateDevice(ctx context.Context, d models.Device) (models.Device, error) {
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
	res, err := r.db.ExecContext(ctx, `INSERT INTO devices (name,host,type,services_json,created_at) VALUES (?,?,?,?,?)`,
		d.Name, d.Host, d.Kind, string(b), r.now().UTC())
	if err != nil {
		return d, err
	}
	d.ID, err = res.LastInsertId()
	return d, err
}

func (r *Repository) DeleteDevice(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendHistory stamps the sample with the insert time unless the caller
// already set one.
func (r *Repository) AppendHistory(ctx context.Context, s models.HistorySample) (models.HistorySample, error) {
	if s.TS.IsZero() {
		s.TS = r.now()
	}
	s.TS = s.TS.UTC()
	res, err := r.db.ExecContext(ctx, `INSERT INTO history (device_id,ts,status,latency) VALUES (?,?,?,?)`,
		s.DeviceID, s.TS, string(s.Status), s.LatencyMs)
	if err != nil {
		return s, err
	}
	s.ID, err = res.LastInsertId()
	return s, err
}

func (r *Repository) HistorySince(ctx context.Context, deviceID int64, from time.Time) ([]models.HistorySample, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,device_id,ts,status,latency FROM history WHERE device_id = ? AND ts > ? ORDER BY ts ASC, id ASC`,
		deviceID, from.UTC())
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}

func (r *Repository) RecentHistory(ctx context.Context, from time.Time) ([]models.HistorySample, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,device_id,ts,status,latency FROM history WHERE ts > ? ORDER BY ts ASC, id ASC`, from.UTC())
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}

func scanHistory(rows *sql.Rows) ([]models.HistorySample, error) {
	defer rows.Close()
	var out []models.HistorySample
	for rows.Next() {
		var s models.HistorySample
		var status string
		if err := rows.Scan(&s.ID, &s.DeviceID, &s.TS, &status, &s.LatencyMs); err != nil {
			return nil, err
		}
		s.Status = models.Status(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteHistoryBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM history WHERE ts < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	_, _ = r.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	_, _ = r.db.ExecContext(ctx, `PRAGMA optimize`)
	return res.RowsAffected()
}

// CreateAlertIfNone inserts an active alert unless the device already has an
// active or acknowledged alert of the same type. The partial unique index
// turns the duplicate into an ignored insert, so check and write are one
// statement.
func (r *Repository) CreateAlertIfNone(ctx context.Context, a models.Alert) (models.Alert, bool, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.Status = models.AlertActive
	res, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO alerts (device_id,type,message,status,created_at) VALUES (?,?,?,?,?)`,
		a.DeviceID, a.Type, a.Message, string(a.Status), a.CreatedAt)
	if err != nil {
		return a, false, err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return a, false, err
	}
	a.ID, err = res.LastInsertId()
	return a, err == nil, err
}

func (r *Repository) ResolveAlerts(ctx context.Context, deviceID int64, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET status='resolved', resolved_at=? WHERE device_id=? AND status IN ('active','acknowledged')`,
		at.UTC(), deviceID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) AcknowledgeAlert(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET status='acknowledged', ack_at=? WHERE id=? AND status='active'`, at.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListAlerts(ctx context.Context, activeOnly bool, limit int) ([]models.Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	filter := ""
	if activeOnly {
		filter = " WHERE a.status = 'active'"
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT a.id,a.device_id,d.name,d.host,a.type,a.message,a.status,a.created_at,a.ack_at,a.resolved_at
		FROM alerts a JOIN devices d ON d.id=a.device_id%s
		ORDER BY a.created_at DESC, a.id DESC LIMIT ?`, filter), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		var status string
		var ack, resolved sql.NullTime
		if err := rows.Scan(&a.ID, &a.DeviceID, &a.DeviceName, &a.Host, &a.Type, &a.Message, &status, &a.CreatedAt, &ack, &resolved); err != nil {
			return nil, err
		}
		a.Status = models.AlertStatus(status)
		if ack.Valid {
			t := ack.Time
			a.AckAt = &t
		}
		if resolved.Valid {
			t := resolved.Time
			a.ResolvedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) InsertNotificationEvent(ctx context.Context, ev models.NotificationEvent) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO notification_events (alert_id,kind,channel,status,last_error,sent_ts_nullable) VALUES (?,?,?,?,?,?)`,
		ev.AlertID, ev.Kind, ev.Channel, ev.Status, ev.Error, ev.SentAt)
	return err
}
