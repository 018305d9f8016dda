package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ledgerpulse/internal/audit"
	"ledgerpulse/internal/changefeed"
	"ledgerpulse/internal/config"
	"ledgerpulse/internal/invoices"
	"ledgerpulse/internal/notify"
	"ledgerpulse/internal/reaction"
	"ledgerpulse/internal/realtime"
	"ledgerpulse/internal/timeline"
)

func main() {
	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	logger := config.NewLogger(cfg.Logging)
	logger.Info("starting ledgerpulse")

	// 2. Connect MongoDB
	connCtx, connCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer connCancel()

	client, err := mongo.Connect(connCtx, options.Client().ApplyURI(cfg.Storage.URI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	if err := client.Ping(connCtx, nil); err != nil {
		log.Fatalf("Failed to ping MongoDB: %v", err)
	}
	db := client.Database(cfg.Storage.Database)

	// 3. Collaborators
	recipients := notify.NewRecipients(cfg.Notify.Recipients)
	deps := reaction.Collaborators{
		Audit:      audit.NewSink(db, "", logger),
		Invoices:   invoices.NewMarker(db, "", logger),
		Timeline:   timeline.NewService(db, "", logger),
		Recipients: recipients,
	}

	// Notifications are optional; without a broker URL the processor
	// simply skips the notify step.
	var nc interface{ Close() }
	if cfg.Notify.URL != "" {
		conn, js, err := notify.Connect(cfg.Notify.URL)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		nc = conn
		gateway, err := notify.NewGateway(js, cfg.Notify, logger)
		if err != nil {
			log.Fatalf("Failed to create notification gateway: %v", err)
		}
		deps.Notifier = gateway
	} else {
		logger.Warn("no notify url configured, notifications disabled")
	}

	processor := reaction.NewProcessor(cfg.Reaction, deps, logger)

	// 4. Realtime server and changefeed registry
	rs := realtime.NewServer(cfg.Realtime, logger)
	source := changefeed.NewMongoSource(db)
	registry := changefeed.NewRegistry(source, rs.Hub(), cfg.Changefeed, logger)
	registry.OnChange(cfg.Reaction.Collection, processor.OnEvent)

	// 5. Start background tasks
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	rs.Start(bgCtx)
	registry.Start(bgCtx)
	registry.Watch(changefeed.Registration{
		Collection:       cfg.Reaction.Collection,
		FullDocumentMode: changefeed.FullDocumentUpdateLookup,
	})
	go processor.Run(bgCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/realtime/ws", rs.HandleWS)
	mux.HandleFunc("/realtime/sse", rs.HandleSSE)

	srv := &http.Server{Addr: cfg.Realtime.Addr, Handler: mux}
	go func() {
		logger.Info("realtime listening", "addr", cfg.Realtime.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 6. Wait for Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	bgCancel()
	registry.Close()

	if nc != nil {
		nc.Close()
	}
	if err := client.Disconnect(shutdownCtx); err != nil {
		logger.Error("mongo disconnect error", "error", err)
	}

	logger.Info("stopped")
}
