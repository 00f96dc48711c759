package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	HTTP     HTTPConfig     `env:",prefix=HTTP_"`
	GRPC     GRPCConfig     `env:",prefix=GRPC_"`
	DB       DBConfig       `env:",prefix=DB_"`
	LegacyDB DBConfig       `env:",prefix=LEGACY_DB_"`
	Redis    RedisConfig    `env:",prefix=REDIS_"`
	Auth     AuthConfig     `env:",prefix=AUTH_"`
	Checkout CheckoutConfig `env:",prefix=CHECKOUT_"`
	Log      LogConfig      `env:",prefix=LOG_"`
}

type HTTPConfig struct {
	Host            string        `env:"HOST,default=0.0.0.0"`
	Port            string        `env:"PORT,default=8080"`
	RateLimit       string        `env:"RATE_LIMIT,default=120-M"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

type GRPCConfig struct {
	Port string `env:"PORT,default=50055"`
}

type DBConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD"`
	Name     string `env:"NAME,default=syntra_pos"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=20"`
	MinConns int    `env:"MIN_CONNS,default=5"`
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
}

type CheckoutConfig struct {
	// DiscountSchema selects the discount tables: "campaign" or "legacy".
	DiscountSchema    string        `env:"DISCOUNT_SCHEMA,default=campaign"`
	IdempotencyTTL    time.Duration `env:"IDEMPOTENCY_TTL,default=24h"`
	SessionIdleTTL    time.Duration `env:"SESSION_IDLE_TTL,default=8h"`
	LowStockThreshold int           `env:"LOW_STOCK_THRESHOLD,default=5"`
	MilestoneEvery    int           `env:"MILESTONE_EVERY,default=100"`
	MigrateOnStart    bool          `env:"MIGRATE_ON_START,default=false"`
}

type LogConfig struct {
	Level       string `env:"LEVEL,default=info"`
	Environment string `env:"ENVIRONMENT,default=development"`
}

const (
	DiscountSchemaCampaign = "campaign"
	DiscountSchemaLegacy   = "legacy"
)

func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Checkout.DiscountSchema {
	case DiscountSchemaCampaign, DiscountSchemaLegacy:
	default:
		return fmt.Errorf("CHECKOUT_DISCOUNT_SCHEMA must be %q or %q, got %q",
			DiscountSchemaCampaign, DiscountSchemaLegacy, c.Checkout.DiscountSchema)
	}
	if c.Checkout.LowStockThreshold < 1 {
		return fmt.Errorf("CHECKOUT_LOW_STOCK_THRESHOLD must be at least 1")
	}
	if c.Checkout.MilestoneEvery < 1 {
		return fmt.Errorf("CHECKOUT_MILESTONE_EVERY must be at least 1")
	}
	return nil
}
