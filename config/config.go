package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del executor.
type Config struct {
	Execution ExecutionConfig `yaml:"execution"`
	Lighter   LighterConfig   `yaml:"lighter"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// ExecutionConfig controla el motor de ejecución.
type ExecutionConfig struct {
	MarketID              int64   `yaml:"market_id"`
	OrderSize             int64   `yaml:"order_size"` // base amount en unidades enteras del exchange
	TickSize              float64 `yaml:"tick_size"`
	RefreshIntervalMs     int     `yaml:"refresh_interval_ms"`     // mínimo 10
	RefreshToleranceTicks int64   `yaml:"refresh_tolerance_ticks"` // mínimo 0
	DryRun                bool    `yaml:"dry_run"`
	FastExecution         bool    `yaml:"fast_execution"`
	OptimisticAcks        bool    `yaml:"optimistic_acks"` // solo tiene efecto con fast_execution
}

// LighterConfig contiene endpoints y credenciales del exchange.
type LighterConfig struct {
	RestBase       string `yaml:"rest_base"`
	WSURL          string `yaml:"ws_url"`
	AccountIndex   int64  `yaml:"account_index"`
	APIKeyStart    int    `yaml:"api_key_start"`
	APIKeyEnd      int    `yaml:"api_key_end"`
	PrivateKey     string `yaml:"-"` // solo desde LIGHTER_PRIVATE_KEY, nunca en el YAML
	AuthToken      string `yaml:"auth_token"`
	AuthTTLMinutes int    `yaml:"auth_ttl_minutes"`
}

// StorageConfig controla dónde se persiste el diario de ejecución.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// MetricsConfig controla el listener de Prometheus.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // vacío = sin /metrics
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)

	return &cfg, nil
}

// Validate comprueba lo que setDefaults no puede inventar. Solo hace falta
// para operar; el informe funciona con una config parcial.
func (c *Config) Validate() error {
	if c.Execution.TickSize <= 0 {
		return fmt.Errorf("execution.tick_size must be > 0")
	}
	if c.Execution.OrderSize <= 0 {
		return fmt.Errorf("execution.order_size must be > 0")
	}
	l := c.Lighter
	if l.APIKeyStart < 0 || l.APIKeyEnd < l.APIKeyStart || l.APIKeyEnd > 254 {
		return fmt.Errorf("lighter: invalid api key range [%d, %d]", l.APIKeyStart, l.APIKeyEnd)
	}
	return nil
}

// RefreshInterval devuelve el intervalo de refresco como time.Duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Execution.RefreshIntervalMs) * time.Millisecond
}

// AuthTTL devuelve la vida de los auth tokens generados al reconectar.
func (c *Config) AuthTTL() time.Duration {
	return time.Duration(c.Lighter.AuthTTLMinutes) * time.Minute
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LIGHTER_PRIVATE_KEY"); v != "" {
		cfg.Lighter.PrivateKey = v
	}
	if v := os.Getenv("LIGHTER_AUTH_TOKEN"); v != "" {
		cfg.Lighter.AuthToken = v
	}
	if v := os.Getenv("LIGHTER_ACCOUNT_INDEX"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("LIGHTER_ACCOUNT_INDEX: %w", err)
		}
		cfg.Lighter.AccountIndex = n
	}
	if v := os.Getenv("EXECUTOR_DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("EXECUTOR_DRY_RUN: %w", err)
		}
		cfg.Execution.DryRun = b
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Execution.RefreshIntervalMs < 10 {
		cfg.Execution.RefreshIntervalMs = 10
	}
	if cfg.Execution.RefreshToleranceTicks < 0 {
		cfg.Execution.RefreshToleranceTicks = 0
	}
	if cfg.Lighter.RestBase == "" {
		cfg.Lighter.RestBase = "https://mainnet.zklighter.elliot.ai"
	}
	if cfg.Lighter.WSURL == "" {
		cfg.Lighter.WSURL = "wss://mainnet.zklighter.elliot.ai/stream"
	}
	cfg.Lighter.RestBase = strings.TrimRight(cfg.Lighter.RestBase, "/")
	if cfg.Lighter.AuthTTLMinutes <= 0 {
		cfg.Lighter.AuthTTLMinutes = 10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "lighterexec.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
