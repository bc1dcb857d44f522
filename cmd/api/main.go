package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/samiam2007/kc-media-leadgen/internal/audit"
	"github.com/samiam2007/kc-media-leadgen/internal/auth"
	"github.com/samiam2007/kc-media-leadgen/internal/callflow"
	"github.com/samiam2007/kc-media-leadgen/internal/config"
	"github.com/samiam2007/kc-media-leadgen/internal/crm"
	"github.com/samiam2007/kc-media-leadgen/internal/dialogue"
	"github.com/samiam2007/kc-media-leadgen/internal/dispatch"
	"github.com/samiam2007/kc-media-leadgen/internal/httpapi"
	"github.com/samiam2007/kc-media-leadgen/internal/lead"
	"github.com/samiam2007/kc-media-leadgen/internal/llm"
	"github.com/samiam2007/kc-media-leadgen/internal/metrics"
	"github.com/samiam2007/kc-media-leadgen/internal/queue"
	"github.com/samiam2007/kc-media-leadgen/internal/store"
	"github.com/samiam2007/kc-media-leadgen/internal/telephony"
	"github.com/samiam2007/kc-media-leadgen/internal/voice"
	"github.com/samiam2007/kc-media-leadgen/pkg/logger"
	"github.com/samiam2007/kc-media-leadgen/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "api")
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

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

	reg := metrics.Registry("kcmedia")
	st := store.NewPostgres(db).Repos()
	jobs := queue.NewRedisQueue(rdb)

	provider := telephony.NewTwilio(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.PhoneNumber)
	model := llm.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.ClassifyModel, cfg.OpenAI.GenerateModel, log).
		WithObserver(reg)

	var synth voice.Synthesizer = voice.Disabled{}
	if cfg.ElevenLabs.APIKey != "" {
		synth = voice.NewElevenLabs(cfg.ElevenLabs.APIKey, cfg.ElevenLabs.VoiceID, cfg.WebhookURL("/audio"), rdb, log)
	}
	var syncer crm.Syncer = crm.Disabled{}
	if cfg.HubSpot.AccessToken != "" {
		syncer = crm.NewHubSpot(cfg.HubSpot.AccessToken, cfg.HubSpot.NurtureWorkflowID, log)
	}

	engine, err := dialogue.NewEngine(st, model, model, log)
	if err != nil {
		log.Error("dialogue init failed", "err", err)
		os.Exit(1)
	}
	engine.WithObserver(reg)

	evaluator := lead.NewEvaluator(st.Contacts, st.Qualifications, syncer, provider, cfg.Calling.BookingLink, log).
		WithObserver(reg)

	dispatcher := dispatch.NewDispatcher(st.Campaigns, st.Contacts, jobs,
		cfg.Calling.DispatchBatchCap, cfg.Calling.DefaultCallsPerMinute, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	httpapi.Handlers{
		Auth:       authManager,
		Store:      st,
		Dispatcher: dispatcher,
		Audit:      audit.NewService(audit.NewPostgresRepo(db)),
		Log:        log,
	}.Register(r)

	callflow.NewHandler(st, engine, evaluator, synth, provider, rdb, cfg.WebhookURL(""), log).
		WithObserver(reg).
		Register(r)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
