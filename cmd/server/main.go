package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pixel-battle/internal/api"
	"pixel-battle/internal/config"
	"pixel-battle/internal/game"
	"pixel-battle/internal/maintenance"
	"pixel-battle/internal/persistence"
	"pixel-battle/internal/session"

	"github.com/joho/godotenv"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🎨 ================================")
	log.Println("🎨  PIXEL BATTLE - SHARED CANVAS")
	log.Println("🎨 ================================")

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	canvasCfg := appConfig.Canvas
	econ := appConfig.Economy
	maint := appConfig.Maintenance

	log.Printf("🎮 Config: %dx%d grid, reward %.2f, dynamite %.0f, energy %d",
		canvasCfg.Size, canvasCfg.Size, econ.PixelReward, econ.DynamiteCost, econ.MaxEnergy)
	log.Printf("🛡️ Resource limits: %d connections, %d per IP",
		appConfig.Limits.MaxConnections, appConfig.Limits.MaxConnectionsPerIP)

	// Stores
	grid := game.NewGrid(canvasCfg.Size)
	registry := game.NewRegistry(game.Rules{
		LevelThreshold: econ.LevelThreshold,
		MaxLevel:       econ.MaxLevel,
		MaxEnergy:      econ.MaxEnergy,
	})
	ranking := game.NewRanking(appConfig.Leaderboard.TopN)

	store := persistence.NewFileStore(canvasCfg.SnapshotPath)
	cells, err := store.Load()
	if err != nil {
		log.Printf("⚠️ Snapshot unreadable, starting with an empty grid: %v", err)
		if moved, qerr := store.Quarantine(time.Now()); qerr == nil {
			log.Printf("💾 Kept unreadable snapshot as %s", moved)
		}
	} else {
		loaded, skipped := grid.Load(cells)
		log.Printf("💾 Loaded %d pixels from %s", loaded, canvasCfg.SnapshotPath)
		if skipped > 0 {
			log.Printf("⚠️ Skipped %d out-of-bounds pixels", skipped)
		}
	}

	// Start event log
	var journal *game.EventLog
	if path := appConfig.Observability.EventLogPath; path != "" {
		journal = game.NewEventLog()
		if err := journal.Start(path); err != nil {
			log.Printf("⚠️ Event log disabled: %v", err)
			journal = nil
		} else {
			api.RegisterEventLogMetrics(journal)
			log.Printf("📝 Event log: %s", path)
		}
	}

	debugServer := api.StartDebugServer(appConfig.Observability)

	// Transport and session layer
	observer := api.Observer{}
	hub := api.NewWebSocketHub(appConfig.Limits, api.NewOriginPolicy(appConfig.Server.AllowedOrigins))
	hub.SetDebug(appConfig.Observability.Debug)

	gateway := session.NewGateway(session.Deps{
		Grid:      grid,
		Registry:  registry,
		Ranking:   ranking,
		Transport: hub,
		Journal:   journal,
		Observer:  observer,
	}, session.Config{
		PixelReward:    econ.PixelReward,
		DynamiteCost:   econ.DynamiteCost,
		DefaultEnergy:  econ.DefaultEnergy,
		DefaultColor:   econ.DefaultColor,
		RegenAmount:    maint.RegenAmount,
		MaxEnergy:      econ.MaxEnergy,
		ActivityWindow: maint.ActivityWindow,
		IdleTimeout:    maint.IdleTimeout,
		Debug:          appConfig.Observability.Debug,
	})
	hub.SetHandler(gateway)

	scheduler := maintenance.New(gateway, store, maintenance.Intervals{
		Persist:    maint.PersistEvery,
		Regenerate: maint.RegenEvery,
		Evict:      maint.EvictEvery,
	}, observer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)

	server := api.NewServer(api.ServerConfig{
		Canvas:     gateway,
		Hub:        hub,
		Server:     appConfig.Server,
		StatusTopN: appConfig.Leaderboard.StatusTopN,
	})

	// Start API server in goroutine
	go func() {
		log.Printf("🖼️ Canvas: http://localhost:%d", appConfig.Server.Port)
		log.Printf("🔌 WebSocket: ws://localhost:%d/ws", appConfig.Server.Port)
		if appConfig.Server.AdminReset {
			log.Println("⚠️ Admin reset endpoint ENABLED")
		}

		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("✅ Server ready! Press Ctrl+C to stop.")
	<-quit

	log.Println("🛑 Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Server shutdown: %v", err)
	}
	if err := scheduler.Stop(); err != nil {
		log.Printf("❌ Final save failed: %v", err)
	}
	if debugServer != nil {
		_ = debugServer.Shutdown(shutdownCtx)
	}
	if journal != nil {
		journal.Stop()
	}
	log.Println("👋 Goodbye!")
}
