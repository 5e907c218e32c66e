package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev" validate:"oneof=dev prod test"`

	HttpServerPort     uint16   `env:"HTTP_SERVER_PORT"     envDefault:"8085" validate:"min=1000,max=65535"`
	CorsAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"pgx" validate:"oneof=pgx sqlite"`
	SqlitePath     string `env:"SQLITE_PATH"     envDefault:"./data/codecollab.db"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"codecollab"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"codecollab"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"codecollab"`

	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379" validate:"min=1000,max=65535"`

	// Liveness sweep period; a connection missing one pong is evicted on the next sweep.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s" validate:"gte=10ms"`

	SendBuffer          int     `env:"SEND_BUFFER"            envDefault:"256"     validate:"min=1"`
	MaxMessageBytes     int64   `env:"MAX_MESSAGE_BYTES"      envDefault:"1048576" validate:"min=1024"`
	WsMessagesPerSecond float64 `env:"WS_MESSAGES_PER_SECOND" envDefault:"100"     validate:"gt=0"`
	WsMessageBurst      int     `env:"WS_MESSAGE_BURST"       envDefault:"200"     validate:"min=1"`

	PersistTimeout time.Duration `env:"PERSIST_TIMEOUT" envDefault:"5s"  validate:"gt=0"`
	ChatTimeout    time.Duration `env:"CHAT_TIMEOUT"    envDefault:"4s"  validate:"gt=0"`
	SyncInterval   time.Duration `env:"SYNC_INTERVAL"   envDefault:"10s" validate:"gt=0"`

	// Empty disables token verification; identity then comes from handshake parameters.
	JwtSecret string `env:"JWT_SECRET"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
