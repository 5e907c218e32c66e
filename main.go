package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"codecollab/internal/auth"
	"codecollab/internal/config"
	"codecollab/internal/database/db_client"
	"codecollab/internal/http/http_server"
	"codecollab/internal/metrics"
	"codecollab/internal/redis/redis_client"
	"codecollab/internal/redis/redis_functions"
	"codecollab/internal/services/room"
	"codecollab/internal/services/snippet"
	"codecollab/internal/services/waitlist"
	"codecollab/internal/syncdb"
	"codecollab/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer func() { _ = Log.Sync() }()
	zap.ReplaceGlobals(Log)

	var err error
	var cfg *config.Config
	var redisClient *redis.Client
	var db *sql.DB

	// 1. Load configuration
	cfg, err = config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.AppEnv == "prod" {
		if prod, err := zap.NewProduction(); err == nil {
			Log = prod
			zap.ReplaceGlobals(Log)
		}
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis
	redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()
	Log.Debug("Redis client created successfully")

	// Load the Redis Functions lua
	if err := redis_functions.LoadAll(ctx, redisClient); err != nil {
		Log.Fatal("load-redis-funcs", zap.Error(err))
	}

	// 4. SQL store
	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err = db_client.OpenSqlite(cfg.SqlitePath)
	default:
		db, err = db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	}
	if err != nil {
		Log.Fatal("db-open", zap.String("driver", cfg.DatabaseDriver), zap.Error(err))
	}
	defer db.Close()
	if err := db_client.Migrate(ctx, db, cfg.DatabaseDriver); err != nil {
		Log.Fatal("db-migrate", zap.Error(err))
	}

	// 5. Services
	roomService := room.NewRoomService(redisClient, db)
	snippetService := snippet.NewSnippetService(db)
	waitlistService := waitlist.NewWaitlistService(db)

	// 6. Background: hot documents ➜ SQL
	syncdb.Run(ctx, redisClient, db, cfg.SyncInterval)

	// 7. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 8. WS hub + server
	verifier := auth.NewVerifier(cfg.JwtSecret)
	hub := ws.NewHub()
	wsSrv := ws.NewWsServer(hub, roomService, verifier, m, ws.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		SendBuffer:        cfg.SendBuffer,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessagesPerSecond: cfg.WsMessagesPerSecond,
		MessageBurst:      cfg.WsMessageBurst,
		PersistTimeout:    cfg.PersistTimeout,
		ChatTimeout:       cfg.ChatTimeout,
	})
	go wsSrv.Run(ctx)

	// 9. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, cfg.CorsAllowedOrigins, http_server.Deps{
		Rooms:    roomService,
		Snippets: snippetService,
		Waitlist: waitlistService,
		WsServer: wsSrv,
		Verifier: verifier,
		Metrics:  m,
		Health: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			return redisClient.Ping(ctx).Err()
		},
	})

	go func() {
		<-ctx.Done()
		Log.Info("shutting down")
		_ = httpServer.Dispose()
		wsSrv.Close()
	}()

	if err := httpServer.Start(); err != nil {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
	// Start returns once Dispose ran; let in-flight persistence drain.
	wsSrv.Close()
	Log.Info("bye")
}
