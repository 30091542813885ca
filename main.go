// Command chat-sync keeps local conversation views in line with their rooms.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Dials the push gateway and joins the configured rooms: each join
//     backfills history over the messaging API while buffering live events,
//     then switches to direct delivery.
//   - Archives every delivered message and exposes an HTTP server with
//     /healthz, /readyz, /status, /metrics, room join/leave, and transcripts.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/chat-sync/chat"
	"github.com/onnwee/chat-sync/config"
	"github.com/onnwee/chat-sync/db"
	"github.com/onnwee/chat-sync/push"
	"github.com/onnwee/chat-sync/roomapi"
	"github.com/onnwee/chat-sync/server"
	"github.com/onnwee/chat-sync/telemetry"
)

// pushSubscriber adapts the push client to the chat package's Subscriber
// interface.
type pushSubscriber struct {
	client *push.Client
}

func (p *pushSubscriber) Subscribe(channel string, handler func(payload []byte)) (chat.Subscription, error) {
	return p.client.Subscribe(channel, handler)
}

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateSyncReady(); err != nil {
		slog.Error("config incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chat-sync", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run database migrations using dual-system approach:
	// 1. Primary: versioned migrations (golang-migrate) from db/migrations/
	// 2. Fallback: embedded SQL (db.Migrate) when the files are not on disk
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("embedded SQL migration completed successfully", slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed successfully", slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Push gateway connection
	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	pushClient, err := push.Dial(dialCtx, cfg.PushURL)
	cancelDial()
	if err != nil {
		slog.Error("push gateway dial failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := pushClient.Close(); err != nil {
			slog.Error("failed to close push connection", slog.Any("err", err))
		}
	}()

	// Sync core: messaging API + push gateway feeding the console and archive.
	api := &roomapi.Client{BaseURL: cfg.MessagingURL, Token: cfg.MessagingToken}
	archive := db.NewMessageArchive(database)
	view := &chat.MultiView{Views: []chat.Deliverer{&chat.ConsoleView{}, archive}}
	manager := chat.NewManager(api, &pushSubscriber{client: pushClient}, view, &db.WatermarkStore{DB: database})
	defer manager.Close()

	slog.Info("joining configured rooms", slog.Int("room_count", len(cfg.Rooms)))
	for _, room := range cfg.Rooms {
		if _, err := manager.Join(ctx, chat.Room{ID: room.ID, Channel: room.Channel}); err != nil {
			slog.Error("startup join failed", slog.String("room", room.ID), slog.Any("err", err))
		}
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics/transcripts)
	go func() {
		if err := server.Start(ctx, server.Deps{DB: database, Manager: manager, Archive: archive}, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
