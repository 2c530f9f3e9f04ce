// Classroom discussion server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/classroom-labs/internal/agent"
	"github.com/ashureev/classroom-labs/internal/api"
	"github.com/ashureev/classroom-labs/internal/callout"
	"github.com/ashureev/classroom-labs/internal/config"
	"github.com/ashureev/classroom-labs/internal/discussion"
	"github.com/ashureev/classroom-labs/internal/identity"
	"github.com/ashureev/classroom-labs/internal/middleware"
	"github.com/ashureev/classroom-labs/internal/observe"
	"github.com/ashureev/classroom-labs/internal/retention"
	"github.com/ashureev/classroom-labs/internal/speaker"
	"github.com/ashureev/classroom-labs/internal/store"
	"github.com/ashureev/classroom-labs/web"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.LogLevel)

	classroom, err := config.LoadClassroom(cfg.RosterPath)
	if err != nil {
		slog.Error("Failed to load classroom", "error", err, "path", cfg.RosterPath)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"participants", classroom.Roster.Names(),
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("Failed to flush telemetry", "error", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// Initialize dependencies.
	var repo store.Repository
	if cfg.Transcripts.Enabled {
		sqlite, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := sqlite.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()

		if err := sqlite.Ping(ctx); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Database connected", "path", cfg.DBPath)

		abandoned, err := sqlite.AbandonActive(ctx, time.Now())
		if err != nil {
			slog.Error("Failed to close abandoned discussions", "error", err)
			os.Exit(1)
		}
		slog.Info("Abandoned discussion cleanup complete", "discussions_closed", abandoned)
		repo = sqlite
	} else {
		slog.Info("Transcript archive disabled")
	}

	provider, err := newProvider(cfg.LLM, cfg.Discussion.TurnTimeout)
	if err != nil {
		slog.Error("Failed to initialize LLM provider", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	responder := agent.NewService(provider, agent.Config{
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		HistoryWindow: cfg.LLM.HistoryWindow,
	}, metrics)

	parserOpts := []callout.Option{callout.WithMode(cfg.Discussion.CalloutMode)}
	if len(cfg.Discussion.FixedNames) > 0 {
		parserOpts = append(parserOpts, callout.WithFixedNames(cfg.Discussion.FixedNames...))
	}
	policy := speaker.New(
		speaker.WithParser(callout.New(parserOpts...)),
		speaker.WithFallback(cfg.Discussion.Fallback),
		speaker.WithAllowRepeat(cfg.Discussion.AllowRepeat),
	)

	driverOpts := []discussion.DriverOption{discussion.WithMetrics(metrics)}
	if repo != nil {
		driverOpts = append(driverOpts, discussion.WithRecorder(repo))
	}
	driver := discussion.NewDriver(policy, responder, discussion.DriverConfig{
		MaxRounds:    cfg.Discussion.MaxRounds,
		TurnTimeout:  cfg.Discussion.TurnTimeout,
		HumanTimeout: cfg.Discussion.HumanTimeout,
	}, driverOpts...)

	sm := discussion.NewSessionManager(metrics)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, sm, classroom.Roster)
	discussionHandler := api.NewDiscussionHandler(baseHandler)
	wsHandler := discussion.NewWebSocketHandler(driver, sm, classroom.Roster, classroom.Kickoff, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// WebSocket endpoint. The metrics middleware wraps the ResponseWriter, so
	// it stays off this route.
	r.Get("/ws", wsHandler.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(observe.Middleware(metrics))
		baseHandler.RegisterRoutes(r)
		discussionHandler.RegisterRoutes(r)
	})

	r.Handle("/metrics", promhttp.Handler())

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if repo != nil {
		worker := retention.NewWorker(repo, cfg.Transcripts.TTL, cfg.Transcripts.SweepInterval,
			func(ctx context.Context, deleted int64) {
				metrics.TranscriptsPurged.Add(ctx, deleted)
			})
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		// Wait for shutdown signal.
		<-gctx.Done()
		stop()

		slog.Info("Shutting down gracefully...")
		if sm.CancelActive(discussion.ErrServerShutdown) {
			slog.Info("Cancelled running discussion")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
