package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jamespud/barrage-rush-sub001/internal/broker"
	"github.com/jamespud/barrage-rush-sub001/internal/config"
	"github.com/jamespud/barrage-rush-sub001/internal/consumer"
	"github.com/jamespud/barrage-rush-sub001/internal/idgen"
	"github.com/jamespud/barrage-rush-sub001/internal/producer"
	"github.com/jamespud/barrage-rush-sub001/internal/registry"
	"github.com/jamespud/barrage-rush-sub001/internal/server"
	"github.com/jamespud/barrage-rush-sub001/internal/storage"
	"github.com/jamespud/barrage-rush-sub001/internal/store"
	"github.com/jamespud/barrage-rush-sub001/internal/topology"
	"github.com/jamespud/barrage-rush-sub001/internal/traffic"
	"github.com/jamespud/barrage-rush-sub001/internal/version"
	"github.com/jamespud/barrage-rush-sub001/internal/ws"
)

const stopTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "configs/pushd.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting pushd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"addr", cfg.Server.Addr,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to the shared store
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	shared := store.NewRedis(rdb)
	logger.Info("redis connected", "addr", cfg.Redis.Addr)

	// Connect to the message history database
	pool, err := storage.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	history := storage.NewPostgresMessageStore(pool)
	cache := storage.NewRecentCache(shared, cfg.Consumer)
	logger.Info("database connected", "host", cfg.Database.Host)

	// Connect to the broker
	mq, err := broker.NewAMQP(cfg.Broker, logger)
	if err != nil {
		logger.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer mq.Close()
	logger.Info("broker connected")

	// Message id generator
	ids, err := idgen.New(cfg.Instance.DatacenterID, cfg.Instance.WorkerID)
	if err != nil {
		logger.Error("failed to create id generator", "error", err)
		os.Exit(1)
	}

	// Topology: warm the cold pool before anything publishes.
	topo := topology.NewManager(cfg.Topology, mq, shared, logger)
	if err := topo.EnsureColdPool(ctx); err != nil {
		logger.Error("failed to provision cold pool", "error", err)
		os.Exit(1)
	}
	if err := topo.Start(ctx); err != nil {
		logger.Error("failed to start topology manager", "error", err)
		os.Exit(1)
	}
	defer stopComponent(topo.Stop)

	// Traffic monitor feeds tier changes into the topology manager so the
	// new binding set exists before the next publish needs it.
	states := traffic.NewStates(shared, cfg.Traffic.StateTTL)
	changes := make(chan traffic.TierChange, 64)
	monitor := traffic.NewMonitor(cfg.Traffic, shared, states, changes, logger)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case change := <-changes:
				if err := topo.EnsureBindings(ctx, change.RoomID, change.To); err != nil {
					logger.Error("provisioning after tier change failed",
						"room_id", change.RoomID, "tier", change.To.String(), "error", err)
				}
			}
		}
	}()
	if err := monitor.Start(ctx); err != nil {
		logger.Error("failed to start traffic monitor", "error", err)
		os.Exit(1)
	}
	defer stopComponent(monitor.Stop)

	// Sessions
	reg := registry.New(cfg.Session, shared, cfg.Instance.ID)
	sweeper := registry.NewSweeper(reg, logger)
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("failed to start session sweeper", "error", err)
		os.Exit(1)
	}
	defer stopComponent(sweeper.Stop)

	// Local fan-out and the consume side
	manager := ws.NewManager(reg, logger)
	cons := consumer.New(cfg.Consumer, cfg.Instance.ID, cfg.Topology.ColdShards, mq, shared,
		history, cache, manager, logger)
	if err := cons.Start(ctx); err != nil {
		logger.Error("failed to start consumer", "error", err)
		os.Exit(1)
	}
	defer stopComponent(cons.Stop)

	// Ingest and the outer surface
	prod := producer.New(cfg.Producer, mq, states, topo, logger)
	srv := server.New(cfg.Server, prod, ids, reg, manager, cache, history, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	defer stopComponent(srv.Stop)

	logger.Info("pushd running",
		"instance_id", cfg.Instance.ID,
		"addr", cfg.Server.Addr,
	)

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("shutting down...")
}

// stopComponent runs a Stop func under the shutdown timeout.
func stopComponent(stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stop(ctx)
}
