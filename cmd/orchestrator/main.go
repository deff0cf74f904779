package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agentmesh/orchestrator/internal/bus"
	"github.com/agentmesh/orchestrator/internal/config"
	"github.com/agentmesh/orchestrator/internal/instanceguard"
	"github.com/agentmesh/orchestrator/internal/knowledge"
	"github.com/agentmesh/orchestrator/internal/metricscore"
	"github.com/agentmesh/orchestrator/internal/nats"
	"github.com/agentmesh/orchestrator/internal/review"
	"github.com/agentmesh/orchestrator/internal/transport"
	"github.com/agentmesh/orchestrator/internal/vectorstore"
	"github.com/agentmesh/orchestrator/internal/workflow"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP/WebSocket listen address")
	configPath := flag.String("config", "configs/orchestrator.yaml", "YAML configuration file")
	dataDir := flag.String("data-dir", "./data", "base directory for the PID lock and knowledge persistence")
	natsURL := flag.String("nats-url", "", "optional NATS server URL; when set, a connection is dialed and held open (this process builds no internal/nats.Bridge on it)")
	flag.Parse()

	cfg := config.Default()
	if loaded, err := config.Load(*configPath); err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("failed to load config %s: %v", *configPath, err)
		}
		log.Printf("no config file at %s, using defaults", *configPath)
	} else {
		cfg = loaded
	}

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}

	guard, err := instanceguard.Acquire(filepath.Join(*dataDir, "orchestrator.pid"))
	if err != nil {
		log.Fatalf("failed to acquire instance lock: %v", err)
	}
	defer guard.Release()

	persistDir := cfg.PersistDirectory
	if !filepath.IsAbs(persistDir) {
		persistDir = filepath.Join(*dataDir, filepath.Base(persistDir))
	}

	embedder := vectorstore.NewHashEmbedder(256)
	know := knowledge.New(
		knowledge.WithPersistence(persistDir),
		knowledge.WithEmbedder(embedder),
	)

	messageBus := bus.New(
		bus.WithDefaultInboxCapacity(cfg.MaxQueueSize),
		bus.WithDefaultResponseTimeout(cfg.DefaultTimeout()),
	)
	defer messageBus.Close()

	metrics := metricscore.New(
		metricscore.WithCacheTTL(cfg.CacheTTL()),
		metricscore.WithAnomalyThreshold(cfg.AnomalyThresholdSigma),
	)

	reviews := review.New(messageBus,
		review.WithPersistence(filepath.Join(*dataDir, "reviews.db")),
		review.WithDefaultDeadline(cfg.ReviewDefaultDeadline()),
	)
	defer reviews.Close()

	wf := workflow.New(metrics)

	// An Agent Host registers itself on messageBus when it's constructed
	// (internal/agenthost.New); wrapping that registration in
	// bridge.ListenFor(agentID) is what makes it reachable cross-process.
	// main only owns the connection's lifecycle here, since this
	// entrypoint doesn't construct any Agent Hosts itself.
	if *natsURL != "" {
		conn, err := nats.Dial(*natsURL)
		if err != nil {
			log.Fatalf("failed to dial NATS at %s: %v", *natsURL, err)
		}
		defer conn.Close()
		log.Printf("dialed NATS at %s for cross-process message bus bridging", *natsURL)
	}

	server := transport.New(wf, reviews, metrics, know)

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: server,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("orchestrator listening on %s", *addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case sig := <-shutdown:
		log.Printf("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
	}
}
