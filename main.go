package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/halcyon-data/inventory.report/internal/api"
	"github.com/halcyon-data/inventory.report/internal/broadcast"
	"github.com/halcyon-data/inventory.report/internal/config"
	"github.com/halcyon-data/inventory.report/internal/db"
	"github.com/halcyon-data/inventory.report/internal/ingest"
	"github.com/halcyon-data/inventory.report/internal/monitor"
	"github.com/halcyon-data/inventory.report/internal/pipeline"
	"github.com/halcyon-data/inventory.report/internal/presence"
	"github.com/halcyon-data/inventory.report/internal/readermux"
	"github.com/halcyon-data/inventory.report/internal/simulate"
	"github.com/halcyon-data/inventory.report/internal/units"
	"github.com/halcyon-data/inventory.report/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode with a simulated reader and no persistence")
	configPath = flag.String("config", "", "Path to tuning config JSON (defaults used if unset)")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	useMQTT    = flag.Bool("mqtt", false, "Also ingest packets from the MQTT broker")
	distUnits  = flag.String("units", units.CM, "Distance units for API responses (cm, m, ft)")
	plotDir    = flag.String("plot-dir", "plots", "Directory for exported track plots")
)

func main() {
	flag.Parse()
	log.Printf("inventory.report %s", version.String())

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	} else if loaded, err := config.LoadTuningConfig(config.DefaultConfigPath); err == nil {
		tuning = loaded
	}

	listenAddr := tuning.GetListenAddr()
	if *listen != "" {
		listenAddr = *listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage and anchor directory. Dev mode runs without persistence
	// against the default simulated floor layout.
	var database *db.DB
	var store pipeline.Store
	var anchors pipeline.AnchorDirectory
	if *devMode {
		var defaults []pipeline.Anchor
		for _, a := range simulate.DefaultAnchors() {
			defaults = append(defaults, pipeline.Anchor{ID: a.ID, X: a.X, Y: a.Y, Active: true})
		}
		anchors = pipeline.NewStaticDirectory(defaults)
	} else {
		var err error
		database, err = db.Open(tuning.GetDatabasePath())
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()
		if err := database.MigrateUp(); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		store = database
		anchors = database
	}

	tracker := presence.NewTracker(presence.TrackerConfig{
		MinDetectedThreshold: tuning.GetMinDetectedThreshold(),
		MinConsecutiveMisses: tuning.GetMinConsecutiveMisses(),
		MaxMissingPerCycle:   tuning.GetMaxMissingPerCycle(),
	})

	if database != nil {
		items, err := database.Items(ctx)
		if err != nil {
			log.Fatalf("Failed to load items: %v", err)
		}
		for _, item := range items {
			tracker.Register(item.ItemID)
		}
		states, err := database.LoadItemStates(ctx)
		if err != nil {
			log.Fatalf("Failed to load item states: %v", err)
		}
		tracker.Load(states)
		log.Printf("Loaded %d items (%d with persisted state)", len(items), len(states))
	} else if *devMode {
		for _, item := range simulate.DefaultItems() {
			tracker.Register(item.ProductID)
		}
	}

	broadcaster := broadcast.New(broadcast.Config{
		Buffer:      tuning.GetSubscriberBuffer(),
		SendTimeout: tuning.GetSendTimeout(),
	})
	defer broadcaster.Close()

	pipe := pipeline.New(anchors, tracker, broadcaster, store)

	// Reader transport.
	var mux readermux.Muxer
	if *devMode {
		mux = readermux.NewMockReaderMux(time.Second)
	} else {
		var err error
		mux, err = readermux.NewRealReaderMux(tuning.GetSerialPort(), readermux.PortOptions{
			BaudRate: tuning.GetSerialBaud(),
		})
		if err != nil {
			log.Fatalf("Failed to open reader port: %v", err)
		}
		if err := mux.Initialize(); err != nil {
			log.Printf("Reader initialization failed, continuing with device defaults: %v", err)
		}
	}
	defer mux.Close()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mux.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("Reader monitor failed: %v", err)
		}
		log.Print("reader monitor terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ingest.NewSerialSource(mux, pipe).Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Serial ingest failed: %v", err)
		}
		log.Print("serial ingest terminated")
	}()

	if *useMQTT {
		wg.Add(1)
		go func() {
			defer wg.Done()
			source := ingest.NewMQTTSource(ingest.MQTTConfig{
				Broker: tuning.GetMQTTBroker(),
				Topics: []string{tuning.GetMQTTTopic()},
			}, pipe)
			if err := source.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("MQTT ingest failed: %v", err)
			}
			log.Print("MQTT ingest terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		httpMux := http.NewServeMux()
		apiServer := api.NewServer(pipe, tracker, broadcaster, anchors, database, *distUnits)
		httpMux.Handle("/api/", apiServer.ServeMux())
		monitor.New(anchors, tracker, database, *plotDir, pipe.LastFix).AttachRoutes(httpMux)

		server := &http.Server{
			Addr:    listenAddr,
			Handler: api.LoggingMiddleware(httpMux),
		}

		go func() {
			log.Printf("HTTP server listening on %s", listenAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("HTTP server failed: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Print("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Print("Graceful shutdown complete")
}
