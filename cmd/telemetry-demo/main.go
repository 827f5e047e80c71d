// Command telemetry-demo wires the ingestion channel end to end: a
// gorm/sqlite log store behind the async facade, the decorated HTTP
// transport, and two feature-module groups (analytics, crashes), then
// enqueues a handful of logs so the batching and flush behavior can be
// observed against a real (or local) ingestion endpoint.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.appsonar.dev/telemetry/internal/channel"
	"go.appsonar.dev/telemetry/internal/config"
	"go.appsonar.dev/telemetry/internal/device"
	"go.appsonar.dev/telemetry/internal/group"
	"go.appsonar.dev/telemetry/internal/model"
	"go.appsonar.dev/telemetry/internal/store"
	"go.appsonar.dev/telemetry/internal/transport"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

type analyticsEvent struct {
	Name string            `json:"name"`
	Tags map[string]string `json:"tags,omitempty"`
}

func (analyticsEvent) LogType() string { return "analytics.event" }

type crashReport struct {
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

func (crashReport) LogType() string { return "crash.report" }

// loggingGroupListener prints each lifecycle callback for the demo group;
// a real feature module would update its own pending-upload UI state here
// instead.
type loggingGroupListener struct{ group string }

func (l loggingGroupListener) OnBeforeSending(log *model.LogRecord) {
	slog.Info("sending log", "group", l.group, "type", log.Payload.LogType())
}
func (l loggingGroupListener) OnSuccess(log *model.LogRecord) {
	slog.Info("log accepted", "group", l.group, "type", log.Payload.LogType())
}
func (l loggingGroupListener) OnFailure(log *model.LogRecord, err *model.Error) {
	slog.Warn("log lost", "group", l.group, "type", log.Payload.LogType(), "error", err)
}

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("TELEMETRY_DEMO_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("starting telemetry-demo", "version", version, "build_time", buildTime)

	cfg := config.DefaultChannelConfig()
	if path := os.Getenv("TELEMETRY_DEMO_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			slog.Error("load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = getEnv("TELEMETRY_DEMO_SERVER_URL", "http://localhost:8088")
	}

	dbPath := getEnv("TELEMETRY_DEMO_DB", "telemetry-demo.sqlite")
	logStore, err := store.OpenGormLogStore(dbPath, model.JSONSerializer{})
	if err != nil {
		slog.Error("open log store", "error", err)
		os.Exit(1)
	}
	defer logStore.Close()

	facade := store.NewAsyncStoreFacade(logStore, 256)
	defer facade.Close()

	prefs := store.NewFilePreferenceStore(config.EnabledPreferencePath(getEnv("TELEMETRY_DEMO_DATA_DIR", ".")))

	sendGate, retryer := transport.New(transport.Options{
		ServerURL:             cfg.ServerURL,
		RequestTimeout:        10 * time.Second,
		RetryDelays:           cfg.RetryDelays[:],
		CircuitBreakerEnabled: cfg.CircuitBreakerEnabled,
	})
	defer retryer.Close()

	ch, err := channel.New(channel.Deps{
		Store:             facade,
		Transport:         sendGate,
		DeviceProvider:    device.NewHostProvider("telemetry-demo", version),
		PreferenceStore:   prefs,
		InstallID:         uuid.NewString(),
		SessionID:         uuid.NewString(),
		AppSecret:         getEnv("TELEMETRY_DEMO_APP_SECRET", "demo-secret"),
		ShutdownTimeout:   cfg.ShutdownTimeout,
		SuspendDrainChunk: cfg.SuspendDrainChunk,
	})
	if err != nil {
		slog.Error("construct channel", "error", err)
		os.Exit(1)
	}

	ch.AddGroup(group.Config{
		Name:               "analytics",
		MaxLogsPerBatch:    50,
		BatchTimeInterval:  30_000,
		MaxParallelBatches: 2,
		Listener:           loggingGroupListener{group: "analytics"},
	})
	ch.AddGroup(group.Config{
		Name:               "crashes",
		MaxLogsPerBatch:    1,
		BatchTimeInterval:  0,
		MaxParallelBatches: 1,
		Listener:           loggingGroupListener{group: "crashes"},
	})

	for _, g := range cfg.Groups {
		ch.AddGroup(group.Config{
			Name:               g.Name,
			MaxLogsPerBatch:    g.MaxLogsPerBatch,
			BatchTimeInterval:  g.BatchTimeInterval.Milliseconds(),
			MaxParallelBatches: g.MaxParallelBatches,
			Listener:           loggingGroupListener{group: g.Name},
		})
	}

	ch.Enqueue(&model.LogRecord{Payload: analyticsEvent{Name: "app_start"}}, "analytics")
	ch.Enqueue(&model.LogRecord{Payload: analyticsEvent{Name: "screen_view", Tags: map[string]string{"screen": "home"}}}, "analytics")
	ch.Enqueue(&model.LogRecord{Payload: crashReport{Message: "demo crash", Fatal: true}}, "crashes")

	// Health/metrics-only router, matching the teacher's cmd/outbox health
	// surface: chi plus its request-id/real-ip/recoverer middleware trio,
	// no routing beyond the two endpoints this demo needs.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if ch.IsEnabled() {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, "enabled")
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "suspended")
	})

	addr := ":" + getEnv("TELEMETRY_DEMO_PORT", "9464")
	server := &http.Server{Addr: addr, Handler: r, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	go func() {
		slog.Info("metrics server starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down telemetry-demo")
	_ = server.Close()
	ch.Shutdown()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
