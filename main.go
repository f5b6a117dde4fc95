package main

import (
	"context"

	"github.com/partyround/backbone/aggregation"
	"github.com/partyround/backbone/broadcast"
	"github.com/partyround/backbone/config"
	"github.com/partyround/backbone/dispatch"
	"github.com/partyround/backbone/logger"
	"github.com/partyround/backbone/monitor"
	"github.com/partyround/backbone/persistence"
	"github.com/partyround/backbone/server"
	"github.com/partyround/backbone/session"
	"github.com/partyround/backbone/timer"
)

func main() {
	// Initialize logger
	logger.Init()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	ttl := persistence.TTLPolicyFromConfig(cfg.Game)

	// Initialize the room store backend
	var (
		rooms       persistence.RoomStore
		idempotency persistence.IdempotencyStore
		locker      aggregation.Locker
		expiry      *server.ExpiryListener
	)

	registry := session.NewRegistry()

	switch cfg.Store.Backend {
	case "memory":
		rooms = persistence.NewMemoryRoomStore(ttl, cfg.Game.StartOffset)
		idempotency = persistence.NewMemoryIdempotencyStore(ttl.Idempotency)
		locker = aggregation.NoopLocker{}
		logger.Log.Warn("Using in-memory store; room state is lost on restart")
	default:
		client, err := persistence.NewRedisClient(cfg.Store.Redis)
		if err != nil {
			logger.Log.Fatalf("Failed to connect to redis: %v", err)
		}
		rooms = persistence.NewRedisRoomStore(client, ttl, cfg.Game.StartOffset)
		idempotency = persistence.NewRedisIdempotencyStore(client, ttl.Idempotency)
		locker = aggregation.NewRedisLocker(client, cfg.Scheduler.LockMinHold, cfg.Scheduler.LockMaxHold)
		expiry = server.NewExpiryListener(client, rooms, registry, cfg.Store.Redis.DB)
		logger.Log.Info("Redis connection successful.")
	}

	// Metrics endpoint
	mon := monitor.NewMonitor("backbone")
	mon.StartServer(cfg.Server.MetricsAddress)

	// Outbound fan-out pool
	broadcaster := broadcast.NewBroadcaster(cfg.Broadcast)
	broadcaster.OnSendDuration = mon.ObserveSendDuration
	defer broadcaster.Close()

	// Message handling and round closing
	dispatcher := dispatch.NewDispatcher(rooms, idempotency, registry, broadcaster)
	service := aggregation.NewService(rooms, registry, broadcaster, cfg.Game.TopK)
	service.OnAggregated = mon.ObserveAggregationDuration

	scheduler := aggregation.NewScheduler(rooms, service, locker, cfg.Scheduler)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if expiry != nil {
		expiry.Start(ctx)
	}

	timers := timer.NewManager()
	defer timers.Stop()

	// Start Server
	srv := server.NewServer(cfg.Server, rooms, registry, dispatcher, broadcaster, mon, timers)
	logger.Log.Infof("Starting game backbone on %s", cfg.Server.HTTPAddress)
	if err := srv.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}
