package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env      string `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	RunLocal bool   `yaml:"run_local" env:"RUN_LOCAL" env-default:"false"`

	HTTP   HTTP   `yaml:"http"`
	AWS    AWS    `yaml:"aws"`
	Redis  Redis  `yaml:"redis"`
	AMQP   AMQP   `yaml:"amqp"`
	Orders Orders `yaml:"orders"`
	Notify Notify `yaml:"notify"`
	Feed   Feed   `yaml:"feed"`
	Cart   Cart   `yaml:"cart"`
}

type HTTP struct {
	Addr    string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	Timeout time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT" env-default:"10s"`
}

type AWS struct {
	Region           string `yaml:"region" env:"AWS_REGION" env-default:"us-east-1"`
	EndpointOverride string `yaml:"endpoint_override" env:"AWS_ENDPOINT_OVERRIDE"`
	OrdersTable      string `yaml:"orders_table" env:"ORDERS_TABLE" env-default:"orders"`
	IdempotencyTable string `yaml:"idempotency_table" env:"IDEMPOTENCY_TABLE" env-default:"idempotency"`
	CatalogTable     string `yaml:"catalog_table" env:"CATALOG_TABLE" env-default:"catalog"`
	NotifyQueueURL   string `yaml:"notify_queue_url" env:"NOTIFY_QUEUE_URL"`
	MetricsNamespace string `yaml:"metrics_namespace" env:"METRICS_NAMESPACE" env-default:"OrderFlow"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"REDIS_CACHE_TTL" env-default:"10m"`
}

type AMQP struct {
	URL      string `yaml:"url" env:"AMQP_URL"`
	Exchange string `yaml:"exchange" env:"AMQP_EXCHANGE" env-default:"staff_notifications"`
}

type Orders struct {
	// TotalPolicy is "strict" or "fallback".
	TotalPolicy    string        `yaml:"total_policy" env:"ORDER_TOTAL_POLICY" env-default:"strict"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" env:"ORDER_IDEMPOTENCY_TTL" env-default:"48h"`
}

type Notify struct {
	// Transport is "sqs" or "amqp".
	Transport   string `yaml:"transport" env:"NOTIFY_TRANSPORT" env-default:"sqs"`
	Concurrency int    `yaml:"concurrency" env:"NOTIFY_CONCURRENCY" env-default:"4"`
}

type Feed struct {
	// Source is "hub", "redis" or "poll".
	Source       string        `yaml:"source" env:"FEED_SOURCE" env-default:"hub"`
	PollInterval time.Duration `yaml:"poll_interval" env:"FEED_POLL_INTERVAL" env-default:"5s"`
	// SettleDelay is the follow-up read after a change signal; 0 disables it.
	SettleDelay time.Duration `yaml:"settle_delay" env:"FEED_SETTLE_DELAY" env-default:"1s"`
}

type Cart struct {
	TTL      time.Duration `yaml:"ttl" env:"CART_TTL" env-default:"24h"`
	MaxBytes int           `yaml:"max_bytes" env:"CART_MAX_BYTES" env-default:"65536"`
}

// Load reads .env (when present), then the YAML file at CONFIG_PATH (when set), then env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	return &cfg, nil
}
