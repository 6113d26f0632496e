package main

import (
	"context"
	"log"

	"github.com/mossy-p/webrtc-conference/config"
	"github.com/mossy-p/webrtc-conference/internal/media"
	"github.com/mossy-p/webrtc-conference/internal/orchestrator"
	"github.com/mossy-p/webrtc-conference/internal/redis"
	"github.com/mossy-p/webrtc-conference/internal/token"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to Redis. The room mirror is optional: the orchestrator
	// stays fully functional without it.
	var store *redis.Store
	if s, err := redis.Connect(context.Background(), cfg.Redis); err != nil {
		log.Printf("Redis unavailable, running without room mirror: %v", err)
	} else {
		store = s
		defer store.Close()
		log.Println("Redis connection established")
	}

	engine, err := media.NewEngine(media.Config{
		UDPPortMin: cfg.Media.UDPPortMin,
		UDPPortMax: cfg.Media.UDPPortMax,
		ICEServers: cfg.Media.ICEServers,
	})
	if err != nil {
		log.Fatalf("Failed to initialize media engine: %v", err)
	}

	minter := token.NewMinter(cfg.JWTSecret)
	server := orchestrator.NewServer(cfg.Orchestrator, minter, engine, store)
	router := orchestrator.Router(cfg, server)

	// Start server
	log.Printf("Starting room orchestrator on port %s", cfg.Orchestrator.Port)
	if err := router.Run(":" + cfg.Orchestrator.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
