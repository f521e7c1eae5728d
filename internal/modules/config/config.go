package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"options_bot/pkg/logger"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDirENV      = "CONFIG_DIR"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

// Config ...
type Config struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB      string `yaml:"db_dsn"`
	Service struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"service"`

	Log     logger.Config `yaml:"log"`
	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"tracing"`

	Broker     Broker     `yaml:"broker"`
	Connection Connection `yaml:"connection"`
	Strategy   Strategy   `yaml:"strategy"`
	Money      Money      `yaml:"money"`
	Engine     Engine     `yaml:"engine"`
}

type Broker struct {
	GatewayURL     string        `yaml:"gateway_url"`
	Email          string        `yaml:"email"`
	Password       string        `yaml:"password"`
	AccountMode    string        `yaml:"account_mode"` // PRACTICE | REAL
	Instrument     string        `yaml:"instrument"`   // digital | binary
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Paper: встроенный симулятор вместо шлюза.
	Paper       bool    `yaml:"paper"`
	PaperPayout float64 `yaml:"paper_payout"`
}

type Connection struct {
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	CheckInterval     time.Duration `yaml:"check_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

type Strategy struct {
	KPeriod        int     `yaml:"k_period"`
	DPeriod        int     `yaml:"d_period"`
	Slowing        int     `yaml:"slowing"`
	UpperThreshold float64 `yaml:"upper_threshold"`
	LowerThreshold float64 `yaml:"lower_threshold"`
	SMAPeriod      int     `yaml:"sma_period"`
}

type Money struct {
	Kind                string  `yaml:"kind"` // flat | martingale | soros
	BaseAmount          float64 `yaml:"base_amount"`
	StopGain            float64 `yaml:"stop_gain"`
	StopLoss            float64 `yaml:"stop_loss"`
	Multiplier          float64 `yaml:"multiplier"`
	SafetyMultiplierCap float64 `yaml:"safety_multiplier_cap"`
}

type Engine struct {
	Assets            []string      `yaml:"assets"`
	AllAssets         bool          `yaml:"all_assets"`
	FallbackMode      string        `yaml:"fallback_mode"` // strict | best_effort
	FallbackAssets    []string      `yaml:"fallback_assets"`
	CandleTimeframe   int           `yaml:"candle_timeframe"` // секунды
	CandleCount       int           `yaml:"candle_count"`
	ExpirationMinutes int           `yaml:"expiration_minutes"`
	CycleInterval     time.Duration `yaml:"cycle_interval"`
	ErrorBackoff      time.Duration `yaml:"error_backoff"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	SettlementGrace   time.Duration `yaml:"settlement_grace"`
	MaxTradesPerCycle int           `yaml:"max_trades_per_cycle"`
	TradingHoursStart string        `yaml:"trading_hours_start"` // "HH:MM", пусто = всегда
	TradingHoursEnd   string        `yaml:"trading_hours_end"`
	AutoStart         bool          `yaml:"auto_start"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	var c Config
	c.Service.Host = "0.0.0.0"
	c.Service.Port = 8080
	c.Log.Level = "info"
	c.Tracing.Host = "localhost"
	c.Tracing.Port = 6831

	c.Broker = Broker{
		AccountMode:    "PRACTICE",
		Instrument:     "digital",
		RequestTimeout: 15 * time.Second,
		PaperPayout:    0.87,
	}
	c.Connection = Connection{
		MaxRetries:        intFromEnv("CONNECT_MAX_RETRIES", 5),
		RetryDelay:        durationFromEnv("CONNECT_RETRY_DELAY", "5s"),
		CheckInterval:     durationFromEnv("CONNECT_CHECK_INTERVAL", "10s"),
		HeartbeatInterval: durationFromEnv("HEARTBEAT_INTERVAL", "30s"),
	}
	c.Strategy = Strategy{
		KPeriod:        14,
		DPeriod:        3,
		Slowing:        3,
		UpperThreshold: 90,
		LowerThreshold: 10,
		SMAPeriod:      20,
	}
	c.Money = Money{
		Kind:                "flat",
		BaseAmount:          2,
		StopGain:            20,
		StopLoss:            20,
		Multiplier:          2,
		SafetyMultiplierCap: 10,
	}
	c.Engine = Engine{
		FallbackMode:      "strict",
		CandleTimeframe:   60,
		CandleCount:       100,
		ExpirationMinutes: 1,
		CycleInterval:     durationFromEnv("CYCLE_INTERVAL", "30s"),
		ErrorBackoff:      durationFromEnv("ERROR_BACKOFF", "5s"),
		PollInterval:      time.Second,
		SettlementGrace:   30 * time.Second,
		MaxTradesPerCycle: 1,
	}
	return c
}

func NewConfig() (*Config, error) {
	// .env не обязателен
	_ = godotenv.Load()

	configFileName := getenvDefault(configFilePathENV, "values_local.yaml")
	dir := getenvDefault(configDirENV, "configs")

	config := Default()
	if err := loadFile(dir+"/"+configFileName, &config); err != nil {
		return nil, err
	}
	applyEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func loadFile(path string, config *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	if err = decoder.Decode(config); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	return nil
}

func applyEnv(config *Config) {
	if token := os.Getenv(tokenTelegramENV); token != "" {
		config.Telegram.Token = token
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Telegram.ChatID = id
		}
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		config.DB = dsn
	}

	config.Broker.GatewayURL = getenvDefault("BROKER_GATEWAY_URL", config.Broker.GatewayURL)
	config.Broker.Email = getenvDefault("BROKER_EMAIL", config.Broker.Email)
	config.Broker.Password = getenvDefault("BROKER_PASSWORD", config.Broker.Password)
	config.Broker.AccountMode = getenvDefault("BROKER_ACCOUNT_MODE", config.Broker.AccountMode)
	config.Broker.Paper = boolFromEnv("BROKER_PAPER", config.Broker.Paper)

	config.Log.Level = getenvDefault("LOG_LEVEL", config.Log.Level)
	config.Service.Port = intFromEnv("HTTP_PORT", config.Service.Port)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		if host, port, err := net.SplitHostPort(v); err == nil {
			if p, err := strconv.Atoi(port); err == nil {
				config.Service.Host = host
				config.Service.Port = p
			}
		}
	}
	config.Tracing.Enabled = boolFromEnv("TRACING_ENABLED", config.Tracing.Enabled)

	if v := os.Getenv("ASSETS"); v != "" {
		config.Engine.Assets = splitList(v)
	}
	config.Money.BaseAmount = floatFromEnv("BASE_AMOUNT", config.Money.BaseAmount)
}

func (c *Config) Validate() error {
	if !c.Broker.Paper && c.Broker.GatewayURL == "" {
		return fmt.Errorf("config: broker.gateway_url is required unless broker.paper is set")
	}
	if c.Connection.MaxRetries < 1 {
		return fmt.Errorf("config: connection.max_retries must be >= 1")
	}
	if c.Connection.CheckInterval <= 0 || c.Connection.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: connection.check_interval and connection.heartbeat_interval must be positive")
	}
	if c.Engine.CandleCount < 1 || c.Engine.ExpirationMinutes < 1 {
		return fmt.Errorf("config: engine.candle_count and engine.expiration_minutes must be positive")
	}
	switch c.Engine.FallbackMode {
	case "strict", "best_effort":
	default:
		return fmt.Errorf("config: unknown engine.fallback_mode %q", c.Engine.FallbackMode)
	}
	return nil
}

// HTTPAddr is the listen address for the control API.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.Port)
}

func splitList(v string) []string {
	out := make([]string, 0)
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
