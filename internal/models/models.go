package models

import "time"

type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusWarning Status = "warning"
	StatusOffline Status = "offline"
)

// Device kinds. Anything that is not KindWebsite is probed with ICMP echo.
const (
	KindServer   = "server"
	KindRouter   = "router"
	KindSwitch   = "switch"
	KindWebsite  = "website"
	KindDatabase = "database"
)

type Device struct {
	ID       int64     `json:"id" yaml:"-"`
	Name     string    `json:"name" yaml:"name"`
	Host     string    `json:"host" yaml:"host"`
	Kind     string    `json:"type" yaml:"type"`
	Services []Service `json:"services" yaml:"services"`
}

type Service struct {
	Name     string `json:"name" yaml:"name"`
	Port     int    `json:"port" yaml:"port"`
	Protocol string `json:"type" yaml:"type"`
}

type ServiceStatus struct {
	Name   string `json:"name"`
	Port   int    `json:"port"`
	Status string `json:"status"`
}

const (
	ServiceUp   = "up"
	ServiceDown = "down"
)

// ProbeResult is the normalized outcome of a single health check.
type ProbeResult struct {
	Reachable     bool
	LatencyMs     float64
	PacketLossPct float64
}

type HistorySample struct {
	ID        int64     `json:"id"`
	DeviceID  int64     `json:"device_id"`
	TS        time.Time `json:"created_at"`
	Status    Status    `json:"status"`
	LatencyMs float64   `json:"latency"`
}

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

const AlertTypeOffline = "offline"

type Alert struct {
	ID         int64       `json:"id"`
	DeviceID   int64       `json:"device_id"`
	DeviceName string      `json:"device_name,omitempty"`
	Host       string      `json:"host,omitempty"`
	Type       string      `json:"type"`
	Message    string      `json:"message"`
	Status     AlertStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	AckAt      *time.Time  `json:"ack_at"`
	ResolvedAt *time.Time  `json:"resolved_at"`
}

// Incident is a contiguous offline interval rebuilt from history. Never stored.
type Incident struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration"`
	IsOpen          bool      `json:"isOpen"`
}

type SLA struct {
	Uptime          float64 `json:"uptime"`
	DowntimeMinutes int     `json:"downtimeMinutes"`
}

// DeviceState is a device plus the runtime fields the scheduler owns.
type DeviceState struct {
	Device
	Status         Status          `json:"status"`
	LatencyMs      float64         `json:"latency"`
	PacketLossPct  float64         `json:"packetLoss"`
	ServicesStatus []ServiceStatus `json:"servicesStatus"`
	Uptime         float64         `json:"uptime"`
	Downtime       int             `json:"downtime"`
	LastChecked    *time.Time      `json:"lastChecked,omitempty"`
}

// MinuteBucket aggregates every device's samples within one wall-clock minute.
type MinuteBucket struct {
	Time         time.Time `json:"time"`
	AvgLatency   float64   `json:"avg_latency"`
	OfflineCount int       `json:"offline_count"`
}

type NotificationEvent struct {
	AlertID *int64
	Kind    string
	Channel string
	Status  string
	Error   string
	SentAt  *time.Time
}
