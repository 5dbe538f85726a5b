package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/saudebot/exam-reminders/internal/alert"
	"github.com/saudebot/exam-reminders/internal/dispatch"
	"github.com/saudebot/exam-reminders/internal/engine"
	"github.com/saudebot/exam-reminders/internal/gateway"
	bothttp "github.com/saudebot/exam-reminders/internal/http"
	"github.com/saudebot/exam-reminders/internal/platform/mailer"
	"github.com/saudebot/exam-reminders/internal/scheduler"
	"github.com/saudebot/exam-reminders/internal/session"
	"github.com/saudebot/exam-reminders/internal/store"
	"github.com/saudebot/exam-reminders/pkg/config"
	"github.com/saudebot/exam-reminders/pkg/database"
	"github.com/saudebot/exam-reminders/pkg/events"
	"github.com/saudebot/exam-reminders/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Patient store
	var patientStore store.PatientStore
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := database.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		patientStore = store.NewPostgresStore(pool)
	default:
		patientStore = store.NewFileStore(cfg.Store.FilePath)
	}
	if err := patientStore.Load(ctx); err != nil {
		logger.Error("failed to load patient store", "error", err)
		os.Exit(1)
	}

	// Session registry
	var sessions session.Registry
	switch cfg.Session.Backend {
	case "redis":
		reg, err := session.NewRedisRegistry(cfg.Session.RedisURL, cfg.Session.TTL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer reg.Close()
		sessions = reg
	default:
		sessions = session.NewMemoryRegistry()
	}

	// Event bus
	var bus events.Publisher = events.NoopBus{}
	if cfg.NATS.URL != "" {
		natsBus, err := events.NewNATSEventBus(cfg.NATS.URL)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsBus.Close()
		bus = natsBus
	}

	// Mailer for admin alert copies
	var mail mailer.Service
	switch {
	case cfg.Email.DevMode:
		mail = mailer.NewDevMailer()
	case cfg.Email.MailerSendKey != "":
		mail = mailer.NewMailer(cfg.Email.MailerSendKey, "SaudeBot", cfg.Email.SMTPFrom)
	default:
		mail = mailer.NewSMTPMailer(cfg.Email.SMTPHost, cfg.Email.SMTPPort,
			cfg.Email.SMTPFrom, cfg.Email.SMTPUser, cfg.Email.SMTPPass, cfg.Email.SMTPUseTLS)
	}

	bridge := gateway.NewBridge(cfg.Gateway.BridgeURL, cfg.Gateway.SendTimeout)
	alerts := alert.NewNotifier(bridge, mail, cfg.Admin.Identifiers, cfg.Admin.Emails)
	dispatcher := dispatch.New()

	eng := engine.New(patientStore, sessions, bridge, alerts, bus,
		cfg.Admin.Identifiers, cfg.Gateway.IdentifierSuffix)

	sched := scheduler.New(patientStore, sessions, bridge, dispatcher, bus,
		cfg.Scheduler.ScanInterval)

	handlers := bothttp.NewHandlers(eng, patientStore, dispatcher, bridge, cfg)
	srv := bothttp.NewServer(cfg, bothttp.NewRouter(handlers))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sched.Start(gctx)
		<-gctx.Done()
		sched.Stop()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown failed", "error", err)
		}
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			logger.Error("dispatcher shutdown incomplete", "error", err)
		}
		if err := patientStore.Persist(shutdownCtx); err != nil {
			logger.Error("final persist failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("bot exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("bot stopped")
}
