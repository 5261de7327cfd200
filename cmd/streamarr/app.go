package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nickelsh1ts/streamarr/internal/components/identity"
	"github.com/nickelsh1ts/streamarr/internal/components/invites"
	"github.com/nickelsh1ts/streamarr/internal/components/jobs"
	"github.com/nickelsh1ts/streamarr/internal/components/notifications"
	"github.com/nickelsh1ts/streamarr/internal/components/quota"
	"github.com/nickelsh1ts/streamarr/internal/components/realtime"
	"github.com/nickelsh1ts/streamarr/internal/components/settings"
	"github.com/nickelsh1ts/streamarr/internal/platform/cache"
	"github.com/nickelsh1ts/streamarr/internal/platform/config"
	"github.com/nickelsh1ts/streamarr/internal/platform/deps"
	httpclient "github.com/nickelsh1ts/streamarr/internal/platform/http/client"
	"github.com/nickelsh1ts/streamarr/internal/platform/http/realip"
	"github.com/nickelsh1ts/streamarr/internal/platform/logutil"
	"github.com/nickelsh1ts/streamarr/internal/platform/store"

	// Register cache and store drivers
	_ "github.com/nickelsh1ts/streamarr/internal/platform/cache/loader"
	_ "github.com/nickelsh1ts/streamarr/internal/platform/store/memory"
	_ "github.com/nickelsh1ts/streamarr/internal/platform/store/sqlite"
)

// loadConfig resolves the effective config from the persistent flags and
// builds the process logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath:    flags.configPath,
		ModeFlag:      flags.mode,
		FlagOverrides: flags.overrides(),
		Logger:        bootstrapLogger,
	})
	if err != nil {
		return nil, bootstrapLogger, fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(c config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logutil.ParseLevel(c.Level)}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// app holds the process-wide components built from config.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	store      store.Driver
	cache      cache.CacheWithCounter
	dispatcher *notifications.Dispatcher
	hub        *realtime.Hub
	scheduler  *jobs.Scheduler
	deps       *deps.Deps
}

// buildApp opens the store and cache and wires every component. The
// caller owns the returned app and must call close.
func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	s := cfg.Settings
	if err := settings.EnsureVAPID(&s, cfg.DataDir, log); err != nil {
		return nil, fmt.Errorf("vapid keys: %w", err)
	}

	drv, err := store.New(&store.DriverConfig{Driver: cfg.Store.Driver, DataDir: cfg.DataDir, Log: log})
	if err != nil {
		return nil, err
	}
	if err := drv.Init(ctx); err != nil {
		return nil, fmt.Errorf("init %s store: %w", drv.Name(), err)
	}
	a.store = drv
	log.Info("store ready", "driver", drv.Name())

	cacheDriver := cfg.Cache.Driver
	if cacheDriver == "" {
		cacheDriver = "memory"
	}
	a.cache, err = cache.NewFromConfig(cacheDriver, cfg.CacheDriverConfig(), log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create cache: %w", err)
	}

	users := drv.Users()
	userAuth := identity.NewUserAuth()
	bootstrap := identity.NewBootstrap(users, userAuth, log)
	admin := cfg.Server.BootstrapAdmin
	if _, err := bootstrap.EnsureOwner(ctx, admin.Email, admin.Password, admin.RotatePassword); err != nil {
		a.close()
		return nil, fmt.Errorf("bootstrap owner: %w", err)
	}

	a.hub = realtime.NewHub(cfg.PublicOrigin, log)
	a.dispatcher = notifications.NewDispatcher(log)
	records := drv.Notifications()
	pushClient := httpclient.New(httpclient.Options{AllowPrivate: cfg.Mode == string(config.ModeDev)})
	a.dispatcher.RegisterAgents(
		notifications.NewEmailAgent(s, users, notifications.NewSMTPMailer(s.Notifications.Email, log), log),
		notifications.NewWebPushAgent(s, users, drv.PushSubscriptions(),
			notifications.NewVAPIDPusher(s.Notifications.WebPush, pushClient), log),
		notifications.NewInAppAgent(s, users, records, a.hub, log),
	)

	inviteRepo := drv.Invites()
	calc := quota.NewCalculator(inviteRepo, s)
	inviteSvc := invites.NewService(inviteRepo, users, calc, a.dispatcher, s, log)

	a.scheduler, err = jobs.NewScheduler(log,
		jobs.ExpireInvitesJob(cfg.Jobs.ExpireInvites, inviteSvc),
		jobs.CleanupNotificationsJob(cfg.Jobs.CleanupNotifications, cfg.Jobs.NotificationRetentionDays, records, time.Now),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	a.deps = &deps.Deps{
		Config:     cfg,
		Settings:   s,
		Users:      users,
		Sessions:   identity.NewCacheSessionRepo(a.cache),
		UserAuth:   userAuth,
		PushSubs:   drv.PushSubscriptions(),
		InviteRepo: inviteRepo,
		Invites:    inviteSvc,
		Quota:      calc,
		Records:    records,
		Dispatcher: a.dispatcher,
		Hub:        a.hub,
		Jobs:       a.scheduler,
		Cache:      a.cache,
		RealIP:     realip.NewTrustedProxies(cfg.Server.TrustedProxies),
	}
	return a, nil
}

// close waits for in-flight notifications, then releases the cache and
// the store.
func (a *app) close() error {
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
