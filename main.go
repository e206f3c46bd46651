package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"chatrelay/internal/ai"
	"chatrelay/internal/chat"
	"chatrelay/internal/config"
	"chatrelay/internal/database/db_client"
	"chatrelay/internal/http/http_server"
	"chatrelay/internal/redis/redis_client"
	"chatrelay/internal/registry"
	"chatrelay/internal/relay"
	"chatrelay/internal/rooms"
	"chatrelay/internal/tasks"
	"chatrelay/internal/webpubsub"
	"chatrelay/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Room store per STORAGE_MODE
	store, err := buildRoomStore(ctx, cfg)
	if err != nil {
		Log.Fatal("Failed to build room store", zap.Error(err))
	}
	Log.Info("Room store ready", zap.String("mode", cfg.StorageMode))

	// 4. Transport + relay service
	var (
		svc       *relay.Service
		wsSrv     *ws.Server
		wpsClient *webpubsub.Client
	)
	switch cfg.TransportMode {
	case "webpubsub":
		wpsClient, err = webpubsub.NewClient(cfg.WebPubSubEndpoint, cfg.WebPubSubHub, cfg.WebPubSubAccessKey)
		if err != nil {
			Log.Fatal("Failed to create Web PubSub client", zap.Error(err))
		}
		svc = relay.NewService(wpsClient, store, cfg.DefaultRoomID)
	default:
		reg := registry.New(cfg.SendTimeout)
		wsSrv = ws.NewServer(reg, cfg.WsPublicEndpoint)
		svc = relay.NewService(wsSrv, store, cfg.DefaultRoomID)
		wsSrv.Bind(svc)
	}

	// 5. Chat handlers: AI streaming on a per-connection task tracker
	tracker := tasks.NewTracker()
	if cfg.OpenAIAPIKey != "" {
		aiClient, err := ai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ModelName, cfg.APIVersion)
		if err != nil {
			Log.Fatal("Failed to create AI client", zap.Error(err))
		}
		chat.RegisterHandlers(svc, aiClient, tracker, Log)
	} else {
		Log.Warn("OPENAI_API_KEY not set; AI replies disabled")
		chat.RegisterBasicHandlers(svc, tracker, Log)
	}

	// 6. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, store, svc, wsSrv, wpsClient)
	if err := httpServer.Start(); err != nil {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}

func buildRoomStore(ctx context.Context, cfg *config.Config) (rooms.Store, error) {
	switch cfg.StorageMode {
	case "redis":
		rdc, err := redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
		if err != nil {
			return nil, err
		}
		return rooms.NewRedisStore(rdc, cfg.DefaultRoomID, cfg.MaxRoomMessages), nil
	case "postgres":
		db, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
		if err != nil {
			return nil, err
		}
		store := rooms.NewPostgresStore(db, cfg.DefaultRoomID, cfg.MaxRoomMessages)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "file":
		return rooms.NewFileStore(cfg.HistoryFile, cfg.DefaultRoomID, cfg.MaxRoomMessages)
	default:
		return rooms.NewMemoryStore(cfg.DefaultRoomID, cfg.MaxRoomMessages), nil
	}
}
