package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"devwatch/internal/models"
)

type Config struct {
	Addr        string
	DataDir     string
	DBPath      string
	StoreDriver string
	PostgresDSN string
	DevicesFile string

	CycleInterval       time.Duration
	PingTimeout         time.Duration
	PingCount           int
	PingPrivileged      bool
	WebsiteTimeout      time.Duration
	ServiceTimeout      time.Duration
	MaxConcurrentProbes int
	SLAWindow           time.Duration
	IncidentWindow      time.Duration
	RetentionDays       int

	NotifyTimeout     time.Duration
	NotifyConcurrency int
	TelegramBotToken  string
	TelegramChatID    string
	BrevoAPIKey       string
	EmailFrom         string
	EmailTo           string
	SlackWebhookURL   string
	DiscordWebhookURL string
	LineNotifyToken   string

	NATSURL     string
	NATSSubject string

	LogLevel  string
	LogFormat string
}

func Load() Config {
	dataDir := getenv("APP_DATA_DIR", "./data")
	return Config{
		Addr:        getenv("APP_ADDR", ":8080"),
		DataDir:     dataDir,
		DBPath:      getenv("APP_DB_PATH", dataDir+"/devwatch.db"),
		StoreDriver: strings.ToLower(getenv("STORE_DRIVER", "sqlite")),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		DevicesFile: os.Getenv("DEVICES_FILE"),

		CycleInterval:       getenvDuration("CYCLE_INTERVAL", 3*time.Second),
		PingTimeout:         getenvDuration("PING_TIMEOUT", 2*time.Second),
		PingCount:           getenvInt("PING_COUNT", 1),
		PingPrivileged:      getenvBool("PING_PRIVILEGED", false),
		WebsiteTimeout:      getenvDuration("WEBSITE_TIMEOUT", 3*time.Second),
		ServiceTimeout:      getenvDuration("SERVICE_TIMEOUT", 2*time.Second),
		MaxConcurrentProbes: getenvInt("MAX_CONCURRENT_PROBES", 10),
		SLAWindow:           getenvDuration("SLA_WINDOW", 24*time.Hour),
		IncidentWindow:      getenvDuration("INCIDENT_WINDOW", 24*time.Hour),
		RetentionDays:       getenvInt("RETENTION_DAYS", 14),

		NotifyTimeout:     getenvDuration("NOTIFY_TIMEOUT", 5*time.Second),
		NotifyConcurrency: getenvInt("NOTIFY_CONCURRENCY", 4),
		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:    os.Getenv("TELEGRAM_CHAT_ID"),
		BrevoAPIKey:       os.Getenv("BREVO_API_KEY"),
		EmailFrom:         os.Getenv("EMAIL_FROM"),
		EmailTo:           os.Getenv("EMAIL_TO"),
		SlackWebhookURL:   os.Getenv("SLACK_WEBHOOK_URL"),
		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
		LineNotifyToken:   os.Getenv("LINE_NOTIFY_TOKEN"),

		NATSURL:     os.Getenv("NATS_URL"),
		NATSSubject: getenv("NATS_SUBJECT", "devwatch.snapshot"),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenv("LOG_FORMAT", "json")),
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, errors.New("APP_DB_PATH must not be empty"))
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required when STORE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q must be sqlite or postgres", c.StoreDriver))
	}
	positive := []struct {
		key string
		d   time.Duration
	}{
		{"CYCLE_INTERVAL", c.CycleInterval},
		{"PING_TIMEOUT", c.PingTimeout},
		{"WEBSITE_TIMEOUT", c.WebsiteTimeout},
		{"SERVICE_TIMEOUT", c.ServiceTimeout},
		{"SLA_WINDOW", c.SLAWindow},
		{"INCIDENT_WINDOW", c.IncidentWindow},
		{"NOTIFY_TIMEOUT", c.NotifyTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", p.key))
		}
	}
	if c.PingCount < 1 {
		errs = append(errs, errors.New("PING_COUNT must be at least 1"))
	}
	if c.MaxConcurrentProbes < 1 {
		errs = append(errs, errors.New("MAX_CONCURRENT_PROBES must be at least 1"))
	}
	if c.NotifyConcurrency < 1 {
		errs = append(errs, errors.New("NOTIFY_CONCURRENCY must be at least 1"))
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}
	if c.BrevoAPIKey != "" && (c.EmailFrom == "" || c.EmailTo == "") {
		errs = append(errs, errors.New("EMAIL_FROM and EMAIL_TO are required with BREVO_API_KEY"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be json or console", c.LogFormat))
	}
	return errors.Join(errs...)
}

type devicesFile struct {
	Devices []models.Device `yaml:"devices"`
}

// LoadDevices reads the seed device list from a YAML file.
func LoadDevices(path string) ([]models.Device, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read devices file: %w", err)
	}
	var f devicesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse devices file %s: %w", path, err)
	}
	for i := range f.Devices {
		if f.Devices[i].Kind == "" {
			f.Devices[i].Kind = models.KindServer
		}
		for j := range f.Devices[i].Services {
			if f.Devices[i].Services[j].Protocol == "" {
				f.Devices[i].Services[j].Protocol = "tcp"
			}
		}
	}
	return f.Devices, nil
}

// DefaultDevices is the fleet a fresh install starts with.
func DefaultDevices() []models.Device {
	return []models.Device{
		{Name: "Core Router", Host: "1.1.1.1", Kind: models.KindRouter},
		{Name: "Google DNS", Host: "8.8.8.8", Kind: models.KindServer},
		{Name: "Google Web", Host: "google.com", Kind: models.KindWebsite,
			Services: []models.Service{{Name: "HTTPS", Port: 443, Protocol: "tcp"}}},
		{Name: "Local Postgres", Host: "localhost", Kind: models.KindDatabase,
			Services: []models.Service{{Name: "PostgreSQL", Port: 5432, Protocol: "tcp"}, {Name: "SSH", Port: 22, Protocol: "tcp"}}},
		{Name: "Bad Website", Host: "this-does-not-exist.com", Kind: models.KindWebsite},
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func getenvDuration(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return d
	}
	return dur
}

func getenvBool(k string, d bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(k)))
	if v == "" {
		return d
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	return d
}
