package main

import (
	"context"
	"log"

	"github.com/mossy-p/webrtc-conference/config"
	"github.com/mossy-p/webrtc-conference/internal/bridge"
	"github.com/mossy-p/webrtc-conference/internal/gateway"
	"github.com/mossy-p/webrtc-conference/internal/redis"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to Redis. Presence mirroring is optional: the gateway
	// stays fully functional without it.
	var store *redis.Store
	if s, err := redis.Connect(context.Background(), cfg.Redis); err != nil {
		log.Printf("Redis unavailable, running without presence mirror: %v", err)
	} else {
		store = s
		defer store.Close()
		log.Println("Redis connection established")
	}

	rooms := bridge.NewClient(cfg.Gateway.OrchestratorAPI, cfg.JWTSecret, cfg.Gateway.RequestTimeout)
	server := gateway.NewServer(cfg.Gateway, rooms, store)
	router := gateway.Router(cfg, server)

	// Start server
	log.Printf("Starting signaling gateway on port %s", cfg.Gateway.Port)
	if err := router.Run(":" + cfg.Gateway.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
