// Package web exposes the monitoring engine over HTTP and websocket.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"devwatch/internal/db"
	"devwatch/internal/models"
	"devwatch/internal/registry"
)

type Monitor interface {
	Snapshot() []models.DeviceState
	Incidents(ctx context.Context, deviceID int64, window time.Duration) ([]models.Incident, error)
	SLA(ctx context.Context, deviceID int64, window time.Duration) (models.SLA, error)
	DashboardHistory(ctx context.Context) ([]models.MinuteBucket, error)
}

type Devices interface {
	Add(ctx context.Context, d models.Device) (models.Device, error)
	Remove(ctx context.Context, id int64) error
	Get(id int64) (models.Device, bool)
}

type Alerts interface {
	Acknowledge(ctx context.Context, alertID int64) error
}

type Store interface {
	ListAlerts(ctx context.Context, activeOnly bool, limit int) ([]models.Alert, error)
	Ping(ctx context.Context) error
}

type Options struct {
	IncidentWindow time.Duration
	SLAWindow      time.Duration
}

type Server struct {
	monitor Monitor
	devices Devices
	alerts  Alerts
	store   Store
	ws      http.Handler
	opts    Options
	log     zerolog.Logger
}

func NewServer(monitor Monitor, devices Devices, alerts Alerts, store Store, ws http.Handler, opts Options, logger zerolog.Logger) *Server {
	if opts.IncidentWindow <= 0 {
		opts.IncidentWindow = 24 * time.Hour
	}
	if opts.SLAWindow <= 0 {
		opts.SLAWindow = 24 * time.Hour
	}
	return &Server{
		monitor: monitor,
		devices: devices,
		alerts:  alerts,
		store:   store,
		ws:      ws,
		opts:    opts,
		log:     logger.With().Str("module", "web").Logger(),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/devices", s.handleListDevices)
	mux.HandleFunc("POST /api/devices", s.handleCreateDevice)
	mux.HandleFunc("DELETE /api/devices/{id}", s.handleDeleteDevice)
	mux.HandleFunc("GET /api/devices/{id}/incidents", s.handleIncidents)
	mux.HandleFunc("GET /api/devices/{id}/sla", s.handleSLA)
	mux.HandleFunc("GET /api/alerts", s.handleListAlerts)
	mux.HandleFunc("POST /api/alerts/{id}/ack", s.handleAckAlert)
	mux.HandleFunc("GET /api/dashboard/history", s.handleDashboardHistory)
	if s.ws != nil {
		mux.Handle("GET /ws", s.ws)
	}
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	return logMiddleware(mux, s.log)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitor.Snapshot())
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var d models.Device
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&d); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	d.ID = 0
	created, err := s.devices.Add(r.Context(), d)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidDevice) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.log.Error().Err(err).Msg("create device")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, created)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.devices.Remove(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.knownDevice(w, r)
	if !ok {
		return
	}
	incidents, err := s.monitor.Incidents(r.Context(), id, parseRange(r.URL.Query().Get("window"), s.opts.IncidentWindow))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if incidents == nil {
		incidents = []models.Incident{}
	}
	writeJSON(w, incidents)
}

func (s *Server) handleSLA(w http.ResponseWriter, r *http.Request) {
	id, ok := s.knownDevice(w, r)
	if !ok {
		return
	}
	sla, err := s.monitor.SLA(r.Context(), id, parseRange(r.URL.Query().Get("window"), s.opts.SLAWindow))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sla)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("status") == string(models.AlertActive)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	alerts, err := s.store.ListAlerts(r.Context(), activeOnly, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, alerts)
}

func (s *Server) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.alerts.Acknowledge(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "no active alert with that id", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleDashboardHistory(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.monitor.DashboardHistory(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, buckets)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		http.Error(w, "db not ready", 503)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) knownDevice(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return 0, false
	}
	if _, found := s.devices.Get(id); !found {
		http.NotFound(w, r)
		return 0, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func parseRange(v string, def time.Duration) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
