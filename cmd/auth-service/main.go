package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/accounts-auth/internal/access"
	"github.com/pribylovaa/accounts-auth/internal/codes"
	"github.com/pribylovaa/accounts-auth/internal/config"
	"github.com/pribylovaa/accounts-auth/internal/hasher"
	"github.com/pribylovaa/accounts-auth/internal/mailer"
	"github.com/pribylovaa/accounts-auth/internal/metrics"
	"github.com/pribylovaa/accounts-auth/internal/service"
	"github.com/pribylovaa/accounts-auth/internal/storage"
	"github.com/pribylovaa/accounts-auth/internal/storage/memory"
	"github.com/pribylovaa/accounts-auth/internal/storage/postgres"
	"github.com/pribylovaa/accounts-auth/internal/storage/redis"
	"github.com/pribylovaa/accounts-auth/internal/tokens"
	httptransport "github.com/pribylovaa/accounts-auth/internal/transport/http"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env)

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("service_failed", slog.String("err", err.Error()))
		rootCancel()
		os.Exit(1)
	}

	log.Info("service_stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// Хранилище пользователей и refresh-токенов.
	str, err := openStorage(ctx, cfg.DB, log)
	if err != nil {
		return err
	}
	defer str.Close()

	// Хранилище одноразовых кодов.
	codeStore, closeCodes, err := openCodeStore(ctx, cfg, str)
	if err != nil {
		return err
	}
	defer closeCodes()
	log.Info("code_store_ready", slog.String("store", cfg.Codes.Store))

	h, err := hasher.New(cfg.Auth.PasswordHasher, cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	tk := tokens.New(cfg.Auth, str, str)
	cs := codes.New(codeStore, cfg.Codes)

	// Почта: очередь с воркерами поверх выбранного отправителя.
	dispatcher := mailer.NewDispatcher(newSender(cfg, log), mailer.DispatcherConfig{
		QueueSize:  cfg.Mail.QueueSize,
		Workers:    cfg.Mail.Workers,
		MaxRetries: 3,
	}, log)

	svc := service.New(service.Deps{
		Users:  str,
		Tokens: tk,
		Codes:  cs,
		Hasher: h,
		Mailer: dispatcher,
		Passwords: service.PasswordPolicy{
			MinLength: cfg.Auth.PasswordMinLen,
			Strict:    cfg.Auth.PasswordStrict,
		},
	}, cfg.Mail.BaseURL)
	log.Info("service_initialized", slog.Bool("refresh_rotation", tk.Rotation()))

	metrics.Register(prometheus.DefaultRegisterer)

	var ready atomic.Bool
	router := httptransport.NewRouter(svc, access.NewGuard(tk), httptransport.Options{
		Logger:  log,
		Timeout: cfg.Timeouts.Service,
		Ready:   ready.Load,
		Metrics: promhttp.Handler(),
	})

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Фоновая очистка просроченных refresh-токенов и кодов.
	startJanitor(ctx, str, cs, log, cfg.Janitor.Period)

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("http_listen_start", slog.String("addr", httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	ready.Store(true)

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown_requested")
	case serveErr = <-serveErrCh:
		if serveErr != nil {
			log.Error("http_serve_failed", slog.String("err", serveErr.Error()))
		}
	}

	ready.Store(false)

	// Graceful stop с таймаутом: сначала HTTP, затем очередь писем.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_force_stop", slog.String("err", err.Error()))
	}

	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn("mail_queue_not_drained", slog.String("err", err.Error()))
	}

	return serveErr
}

// openStorage открывает хранилище по db.driver. Для postgres применяет миграции.
func openStorage(ctx context.Context, cfg config.DBConfig, log *slog.Logger) (storage.Storage, error) {
	if cfg.Driver == "memory" {
		log.Warn("memory_storage_in_use")
		return memory.New(), nil
	}

	// Подключение к БД c таймаутом.
	dbCtx, dbCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dbCancel()

	if err := postgres.Migrate(dbCtx, cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	str, err := postgres.New(dbCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	log.Info("postgres_connected")

	return str, nil
}

// openCodeStore выбирает хранилище кодов по codes.store.
// postgres и memory используют уже открытое основное хранилище.
func openCodeStore(ctx context.Context, cfg *config.Config, str storage.Storage) (storage.CodeStorage, func(), error) {
	noop := func() {}

	if cfg.Codes.Store != "redis" {
		return str, noop, nil
	}

	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rs, err := redis.New(rctx, cfg.Redis.RedisURL, cfg.Redis.Prefix, cfg.Codes.Retention)
	if err != nil {
		return nil, noop, fmt.Errorf("redis connect: %w", err)
	}

	return rs, func() {
		if err := rs.Close(); err != nil {
			slog.Warn("redis_close_failed", slog.String("err", err.Error()))
		}
	}, nil
}

// newSender выбирает отправителя писем. В local тело письма попадает в лог,
// чтобы ссылку подтверждения можно было взять оттуда.
func newSender(cfg *config.Config, log *slog.Logger) mailer.Sender {
	if cfg.Mail.Sender == "smtp" {
		return mailer.NewSMTPSender(cfg.Mail)
	}

	return mailer.NewLogSender(log, cfg.Env == envLocal)
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	return newLogger(env, os.Stdout)
}

func newLogger(env string, w io.Writer) *slog.Logger {
	switch env {
	case envDev:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}

// janitorStore — часть хранилища, нужная для очистки refresh-токенов.
type janitorStore interface {
	DeleteExpiredTokens(ctx context.Context, now time.Time) error
}

// startJanitor запускает фоновую задачу, которая периодически удаляет
// просроченные refresh-токены и коды за пределами окна хранения.
func startJanitor(ctx context.Context, tokensStore janitorStore, cs *codes.Service, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				sweep(ctx, tokensStore, cs, log)
			}
		}
	}()
}

func sweep(ctx context.Context, tokensStore janitorStore, cs *codes.Service, log *slog.Logger) {
	if err := tokensStore.DeleteExpiredTokens(ctx, time.Now().UTC()); err != nil {
		log.Error("refresh_janitor_failed", slog.String("err", err.Error()))
	}

	if err := cs.Cleanup(ctx); err != nil {
		log.Error("codes_janitor_failed", slog.String("err", err.Error()))
	}
}
