package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`

	// Endpoint advertised by /api/negotiate in self-host mode.
	WsPublicEndpoint string `env:"WS_PUBLIC_ENDPOINT" envDefault:"ws://localhost:8085"`

	DefaultRoomID   string        `env:"DEFAULT_ROOM_ID"   envDefault:"public"`
	MaxRoomMessages int           `env:"MAX_ROOM_MESSAGES" envDefault:"200" validate:"min=1"`
	SendTimeout     time.Duration `env:"SEND_TIMEOUT"      envDefault:"10s"`

	// memory | redis | postgres | file
	StorageMode string `env:"STORAGE_MODE" envDefault:"memory" validate:"oneof=memory redis postgres file"`

	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379" validate:"min=1,max=65535"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"chat_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"chat_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"chat_db"`

	HistoryFile string `env:"HISTORY_FILE" envDefault:"chat_history.json"`

	// selfhost | webpubsub
	TransportMode string `env:"TRANSPORT_MODE" envDefault:"selfhost" validate:"oneof=selfhost webpubsub"`

	WebPubSubEndpoint  string `env:"WEBPUBSUB_ENDPOINT"`
	WebPubSubHub       string `env:"WEBPUBSUB_HUB" envDefault:"chat"`
	WebPubSubAccessKey string `env:"WEBPUBSUB_ACCESS_KEY"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://models.github.ai/inference"`
	ModelName     string `env:"MODEL_NAME"      envDefault:"gpt-4o-mini"`
	APIVersion    string `env:"API_VERSION"     envDefault:"2024-08-01-preview"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
