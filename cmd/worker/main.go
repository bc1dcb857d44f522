package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/robfig/cron/v3"

	"github.com/samiam2007/kc-media-leadgen/internal/compliance"
	"github.com/samiam2007/kc-media-leadgen/internal/config"
	"github.com/samiam2007/kc-media-leadgen/internal/dispatch"
	"github.com/samiam2007/kc-media-leadgen/internal/metrics"
	"github.com/samiam2007/kc-media-leadgen/internal/queue"
	"github.com/samiam2007/kc-media-leadgen/internal/store"
	"github.com/samiam2007/kc-media-leadgen/internal/telephony"
	"github.com/samiam2007/kc-media-leadgen/pkg/logger"
	"github.com/samiam2007/kc-media-leadgen/pkg/utils"
)

// staleCallAge bounds how long a live call can go without a webhook or
// status event before the sweeper fails it.
const staleCallAge = 15 * time.Minute

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "worker")
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	defaultTZ, err := time.LoadLocation(cfg.Calling.DefaultTimezone)
	if err != nil {
		log.Error("invalid default timezone", "tz", cfg.Calling.DefaultTimezone, "err", err)
		os.Exit(1)
	}

	reg := metrics.Registry("kcmedia")
	st := store.NewPostgres(db).Repos()
	jobs := queue.NewRedisQueue(rdb)

	gate := compliance.NewGate(st.Contacts, st.Calls, st.DNC,
		compliance.Window{StartHour: cfg.Calling.WindowStartHour, EndHour: cfg.Calling.WindowEndHour},
		defaultTZ, cfg.Calling.LookbackWindow, log)

	provider := telephony.NewTwilio(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.PhoneNumber)
	processor := dispatch.NewProcessor(st, gate, dispatch.NewRedisSlotLimiter(rdb), provider,
		cfg.WebhookURL(""), log).WithObserver(reg)

	worker := queue.NewWorker(jobs, processor, log).WithRecorder(reg)

	sweeper := dispatch.NewSweeper(st.Calls, staleCallAge, log)
	sched := cron.New()
	if _, err := sched.AddFunc("*/5 * * * *", func() {
		ctx, cancel := context.WithTimeout(rootCtx, time.Minute)
		defer cancel()
		if closed, err := sweeper.Sweep(ctx); err != nil {
			log.Error("stale call sweep failed", "err", err)
		} else if closed > 0 {
			log.Info("stale call sweep", "closed", closed)
		}
	}); err != nil {
		log.Error("cron init failed", "err", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	log.Info("worker started",
		"window_start", cfg.Calling.WindowStartHour, "window_end", cfg.Calling.WindowEndHour,
		"lookback", cfg.Calling.LookbackWindow, "default_tz", cfg.Calling.DefaultTimezone)

	if err := worker.Run(rootCtx); err != nil && rootCtx.Err() == nil {
		log.Error("worker stopped", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
