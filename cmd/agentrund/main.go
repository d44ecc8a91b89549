// Command agentrund runs an agentkit engine behind a gRPC event stream, so
// a remote host can drive a Runnable by session ID and watch its events
// without embedding the engine in its own process.
//
// # Configuration
//
// Environment variables:
//
//	AGENTRUND_ADDR         - gRPC listen address (default: ":8090")
//	AGENTRUND_MONGO_URI    - MongoDB connection URI (optional; memstore used if unset)
//	AGENTRUND_MONGO_DB     - MongoDB database name (required if AGENTRUND_MONGO_URI is set)
//	AGENTRUND_REDIS_ADDR   - Redis address fronting the session store with a cache (optional)
//	AGENTRUND_CONFIG       - path to a YAML RuntimeConfig file (optional; built-in defaults used if unset)
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/windrose/agentkit/config"
	"github.com/windrose/agentkit/store"
	"github.com/windrose/agentkit/store/memstore"
	"github.com/windrose/agentkit/store/mongosession"
	"github.com/windrose/agentkit/store/redissnapshot"
	"github.com/windrose/agentkit/telemetry"
	"github.com/windrose/agentkit/transport/grpcstream"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentrund: build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := telemetry.NewZapLogger(logger)

	if err := run(context.Background(), log); err != nil {
		logger.Sugar().Fatalw("agentrund exited with error", "error", err)
	}
}

func run(ctx context.Context, log telemetry.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := envOr("AGENTRUND_ADDR", ":8090")

	runtimeCfg, err := loadRuntimeConfig(ctx, log)
	if err != nil {
		return fmt.Errorf("load runtime config: %w", err)
	}
	log.Info(ctx, "runtime config resolved",
		"maxSteps", runtimeCfg.MaxSteps,
		"toolTimeout", runtimeCfg.ToolTimeout,
		"maxToolRetryAttempts", runtimeCfg.MaxToolRetryAttempts,
		"parallelBranchTimeout", runtimeCfg.ParallelBranchTimeout,
	)

	sessions, cleanup, err := buildSessionStore(ctx)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}
	defer cleanup()
	log.Info(ctx, "session store ready", "backend", fmt.Sprintf("%T", sessions))

	streamSrv := grpcstream.NewServer()

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	grpcSrv := grpc.NewServer()
	grpcSrv.RegisterService(&grpcstream.ServiceDesc, streamSrv)

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "agentrund listening", "addr", addr)
		errCh <- grpcSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		log.Info(ctx, "agentrund shutting down")
		grpcSrv.GracefulStop()
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// loadRuntimeConfig resolves the process-wide RuntimeConfig, reading it
// from AGENTRUND_CONFIG when set and falling back to config.Default()
// otherwise.
func loadRuntimeConfig(ctx context.Context, log telemetry.Logger) (config.RuntimeConfig, error) {
	path := os.Getenv("AGENTRUND_CONFIG")
	if path == "" {
		return config.Default(), nil
	}
	log.Info(ctx, "loading runtime config", "path", path)
	return config.LoadYAML(path)
}

// buildSessionStore wires a store.SessionStore from environment
// configuration: memstore when no MongoDB URI is set, otherwise a
// mongosession.Store optionally fronted by a redissnapshot.Cache.
func buildSessionStore(ctx context.Context) (store.SessionStore, func(), error) {
	mongoURI := os.Getenv("AGENTRUND_MONGO_URI")
	if mongoURI == "" {
		return memstore.New(), func() {}, nil
	}

	dbName := os.Getenv("AGENTRUND_MONGO_DB")
	if dbName == "" {
		return nil, nil, errors.New("AGENTRUND_MONGO_DB is required when AGENTRUND_MONGO_URI is set")
	}

	client, err := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongo: %w", err)
	}
	cleanup := func() { _ = client.Disconnect(ctx) }

	mongoStore, err := mongosession.New(mongosession.Options{Client: client, Database: dbName})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("build mongo session store: %w", err)
	}

	redisAddr := os.Getenv("AGENTRUND_REDIS_ADDR")
	if redisAddr == "" {
		return mongoStore, cleanup, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	cached, err := redissnapshot.New(redissnapshot.Options{Redis: rdb, Backing: mongoStore})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("build redis-cached session store: %w", err)
	}
	return cached, func() {
		_ = rdb.Close()
		cleanup()
	}, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
