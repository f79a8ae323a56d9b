package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"devwatch/internal/alerts"
	"devwatch/internal/broadcast"
	"devwatch/internal/config"
	"devwatch/internal/db"
	"devwatch/internal/models"
	"devwatch/internal/monitor"
	"devwatch/internal/notifier"
	"devwatch/internal/probe"
	"devwatch/internal/registry"
	"devwatch/internal/retention"
	"devwatch/internal/web"
)

type App struct {
	cfg config.Config
	log zerolog.Logger

	store     db.Store
	registry  *registry.Registry
	scheduler *monitor.Scheduler
	retention *retention.Service
	hub       *broadcast.Hub
	nats      *broadcast.NATSPublisher

	httpSrv *http.Server
}

func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	seed := config.DefaultDevices()
	if cfg.DevicesFile != "" {
		if seed, err = config.LoadDevices(cfg.DevicesFile); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	reg := registry.New(store, logger)
	if err := reg.Load(ctx, seed); err != nil {
		_ = store.Close()
		return nil, err
	}

	dispatcher := notifier.NewDispatcher(channels(cfg), cfg.NotifyTimeout, cfg.NotifyConcurrency, logger)
	logger.Info().Strs("channels", dispatcher.Channels()).Msg("notification channels")
	engine := alerts.NewEngine(store, dispatcher, logger)

	hub := broadcast.NewHub(2*time.Second, logger)
	fanout := broadcast.NewFanout()
	fanout.Add("websocket", hub)
	var np *broadcast.NATSPublisher
	if cfg.NATSURL != "" {
		np, err = broadcast.ConnectNATS(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			// the websocket feed still works without NATS
			logger.Warn().Err(err).Msg("nats unavailable, snapshots stay local")
		} else {
			fanout.Add("nats", np)
		}
	}

	prober := probe.New(probe.Options{
		PingTimeout:    cfg.PingTimeout,
		PingCount:      cfg.PingCount,
		Privileged:     cfg.PingPrivileged,
		WebsiteTimeout: cfg.WebsiteTimeout,
		ServiceTimeout: cfg.ServiceTimeout,
	}, logger)

	scheduler := monitor.NewScheduler(reg, prober, engine, store, fanout, monitor.Options{
		Interval:       cfg.CycleInterval,
		MaxConcurrency: cfg.MaxConcurrentProbes,
		SLAWindow:      cfg.SLAWindow,
	}, logger)

	w := web.NewServer(scheduler, reg, engine, store, hub, web.Options{
		IncidentWindow: cfg.IncidentWindow,
		SLAWindow:      cfg.SLAWindow,
	}, logger)

	return &App{
		cfg:       cfg,
		log:       logger,
		store:     store,
		registry:  reg,
		scheduler: scheduler,
		retention: retention.NewService(store, cfg.RetentionDays, logger),
		hub:       hub,
		nats:      np,
		httpSrv:   &http.Server{Addr: cfg.Addr, Handler: w.Routes(), ReadHeaderTimeout: 10 * time.Second},
	}, nil
}

func openStore(ctx context.Context, cfg config.Config) (db.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		repo, err := db.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := db.MigratePostgres(ctx, repo); err != nil {
			_ = repo.Close()
			return nil, err
		}
		return repo, nil
	case "sqlite", "":
		sqldb, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(sqldb); err != nil {
			_ = sqldb.Close()
			return nil, err
		}
		return db.NewRepository(sqldb), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func channels(cfg config.Config) []notifier.Channel {
	return []notifier.Channel{
		notifier.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID),
		notifier.NewEmail(cfg.BrevoAPIKey, cfg.EmailFrom, cfg.EmailTo),
		notifier.NewSlack(cfg.SlackWebhookURL),
		notifier.NewDiscord(cfg.DiscordWebhookURL),
		notifier.NewLineNotify(cfg.LineNotifyToken),
	}
}

func (a *App) Devices() []models.Device { return a.registry.List() }

func (a *App) Run(ctx context.Context) error {
	go func() {
		a.log.Info().Str("addr", a.cfg.Addr).Msg("http server listening")
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("http server failed")
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.scheduler.Run(ctx)
	}()

	retentionTicker := time.NewTicker(6 * time.Hour)
	defer retentionTicker.Stop()
	a.retention.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return a.shutdown(done)
		case <-retentionTicker.C:
			a.retention.Run(ctx)
		}
	}
}

func (a *App) shutdown(schedulerDone <-chan struct{}) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	a.hub.Close()
	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		a.log.Warn().Msg("cycle still running at shutdown")
	}
	if a.nats != nil {
		a.nats.Close()
	}
	return a.store.Close()
}
