package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (COMMERCE_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (COMMERCE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	// TxTimeout bounds every API request, and with it every store
	// transaction. An expired deadline is reported as a conflict.
	TxTimeout   time.Duration `default:"10s" usage:"Request and transaction timeout" flag:"tx-timeout"`
	Kafka       KafkaConfig
	Codes       CodesConfig
	Certificate CertificateConfig
	Graceful    GracefulConfig
}

// KafkaConfig selects where domain events go. Without brokers events are
// only logged.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"commerce.events" usage:"Topic for purchase and certificate events"`
}

// CodesConfig tunes disposable code generation.
type CodesConfig struct {
	Length        int    `default:"12" usage:"Disposable code length"`
	Alphabet      string `default:"ABCDEFGHJKLMNPQRSTUVWXYZ23456789" usage:"Disposable code alphabet"`
	MaxAttempts   int    `default:"5" usage:"Insert rounds before giving up on collisions" flag:"codes-max-attempts"`
	MaxPerRequest int    `default:"10000" usage:"Codes generated by one request" flag:"codes-max-per-request"`
}

// CertificateConfig controls certificate verification links.
type CertificateConfig struct {
	VerifyBaseURL string `default:"https://commerce.example.com/certificates" usage:"Base URL of certificate verification pages" flag:"certificate-verify-url"`
	QRSize        int    `default:"256" usage:"Default QR code size in pixels" flag:"certificate-qr-size"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML files,
// then applies platform defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(false)
}

func loadConfig(skipFlags bool) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: skipFlags,
		EnvPrefix: "COMMERCE",
		Files:     []string{"config.yaml", "/etc/commerce/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set COMMERCE_DATABASE_URL or DATABASE_URL")
	case c.Codes.Length < 6:
		return errors.Errorf("codes length %d is too short", c.Codes.Length)
	case len(c.Codes.Alphabet) < 10:
		return errors.New("codes alphabet needs at least 10 characters")
	case c.TxTimeout < 0:
		return errors.New("tx timeout must not be negative")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided DATABASE_URL and PORT onto the
// COMMERCE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
