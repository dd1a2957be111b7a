package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/blink-tracker/backend/internal/auth"
	"github.com/blink-tracker/backend/internal/capture"
	"github.com/blink-tracker/backend/internal/config"
	"github.com/blink-tracker/backend/internal/health"
	"github.com/blink-tracker/backend/internal/landmark"
	"github.com/blink-tracker/backend/internal/mock"
	"github.com/blink-tracker/backend/internal/telemetry"
	"github.com/blink-tracker/backend/internal/tracker"
	"github.com/blink-tracker/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Use a synthetic camera and blink pattern")
	pattern := flag.String("pattern", string(mock.Steady), "Mock blink pattern: steady, burst or drowsy")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	tokenFor := flag.String("token-for", "", "Print a token for this subject and exit")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	verifier, err := auth.NewVerifier(cfg.Auth.SecretKey, cfg.Auth.Algorithm)
	if err != nil {
		log.Fatalf("Invalid auth config: %v", err)
	}
	if *tokenFor != "" {
		tok, err := verifier.Sign(*tokenFor, 24*time.Hour)
		if err != nil {
			log.Fatalf("Failed to sign token: %v", err)
		}
		fmt.Println(tok)
		return
	}
	if !verifier.Enabled() {
		log.Println("No auth.secret_key configured, session tokens are not checked")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Printf("Tracing disabled: %v", err)
	}

	var (
		opener    tracker.Opener
		source    tracker.LandmarkSource
		encoder   tracker.Encoder
		annotator tracker.Annotator
	)
	if *mockMode {
		log.Printf("Starting in mock mode (%s pattern)", *pattern)
		opener = mock.NewCamera(0)
		source = mock.NewPattern(mock.Pattern(*pattern), time.Now().UnixNano())
		encoder = mock.Encoder{}
		annotator = mock.Annotator{}
	} else {
		log.Printf("Starting with camera %d", cfg.Capture.DeviceIndex)
		worker := landmark.NewWorker(cfg.LandmarkConfig(), capture.Encoder{})
		if err := worker.Start(ctx); err != nil {
			log.Fatalf("Failed to start landmark worker: %v", err)
		}
		defer worker.Close()

		opener = capture.Opener{Mirror: cfg.Capture.Mirror}
		source = worker
		encoder = capture.Encoder{}
		annotator = capture.Annotator{}
	}

	ctrl := tracker.NewController(opener, source, encoder, cfg.TrackerConfig())
	ctrl.SetAnnotator(annotator)
	engine := tracker.NewEngine(ctrl)

	reporter := health.NewReporter(engine.Status, 3)
	broadcaster := ws.NewBroadcaster(engine.Status, cfg.Status.BroadcastThrottle, cfg.Status.SnapshotInterval, 0)
	broadcaster.SetHealth(func() interface{} { return reporter.Snapshot(ctx) })
	ctrl.SetNotifier(broadcaster)

	server := ws.NewServer(engine, verifier, broadcaster, reporter, ws.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WriteTimeout:   cfg.Server.WriteTimeout,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")

		server.Shutdown()
		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("Tracing shutdown: %v", err)
		}
		cancel()
	}()

	log.Printf("Server listening on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
	<-ctx.Done()
}
