package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the signal engine.
type Config struct {
	Symbol        string `yaml:"symbol" default:"BTCUSDT" validate:"required,uppercase"`
	BaseInterval  string `yaml:"base_interval" default:"5m" validate:"required"`
	QuickInterval string `yaml:"quick_interval" default:"1m" validate:"required"`
	CandleLimit   int    `yaml:"candle_limit" default:"200" validate:"gte=30,lte=1500"`

	Timeframes []Timeframe `yaml:"timeframes" validate:"dive"`

	Binance   BinanceConfig   `yaml:"binance"`
	Risk      RiskConfig      `yaml:"risk"`
	Stream    StreamConfig    `yaml:"stream"`
	Engine    EngineConfig    `yaml:"engine"`
	Decision  DecisionConfig  `yaml:"decision"`
	Execution ExecutionConfig `yaml:"execution"`
	API       APIConfig       `yaml:"api"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`

	DBPath string `yaml:"db_path" default:"./data/signal.db"`
}

// Timeframe is one row of the multi-timeframe table.
type Timeframe struct {
	Label    string `yaml:"label" validate:"required"`
	Interval string `yaml:"interval" validate:"required"`
	Limit    int    `yaml:"limit" validate:"gte=1,lte=1500"`
}

type BinanceConfig struct {
	APIKey      string        `yaml:"api_key"`
	APISecret   string        `yaml:"api_secret"`
	Testnet     bool          `yaml:"testnet" default:"true"`
	RESTBaseURL string        `yaml:"rest_base_url"`
	WSBaseURL   string        `yaml:"ws_base_url"`
	HTTPTimeout time.Duration `yaml:"http_timeout" default:"15s"`
	RecvWindow  int64         `yaml:"recv_window" default:"5000"`
	// requests per second against public endpoints
	RateLimit float64 `yaml:"rate_limit" default:"10" validate:"gt=0"`
}

type RiskConfig struct {
	MaxPositionSizePct   float64 `yaml:"max_position_size_pct" default:"80" validate:"gt=0,lte=100"`
	MaxLeverage          float64 `yaml:"max_leverage" default:"20" validate:"gte=1,lte=125"`
	MinConfidence        float64 `yaml:"min_confidence" default:"0.5" validate:"gte=0,lte=1"`
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct" default:"30" validate:"gt=0,lte=100"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses" default:"10" validate:"gte=1"`
}

type StreamConfig struct {
	Intervals      []string      `yaml:"intervals"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"3s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	PongTimeout    time.Duration `yaml:"pong_timeout" default:"10s"`
	TradeBuffer    int           `yaml:"trade_buffer" default:"500" validate:"gte=1"`
	FlowWindow     time.Duration `yaml:"flow_window" default:"10s"`
	ConnectWait    time.Duration `yaml:"connect_wait" default:"10s"`
}

type EngineConfig struct {
	Heartbeat        time.Duration `yaml:"heartbeat" default:"15s"`
	ErrorDelay       time.Duration `yaml:"error_delay" default:"10s"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout" default:"20s"`
	ExecutionTimeout time.Duration `yaml:"execution_timeout" default:"30s"`
	RecentTrades     int           `yaml:"recent_trades" default:"5"`
	QuickCheck       bool          `yaml:"quick_check" default:"true"`
	CloseOnShutdown  bool          `yaml:"close_on_shutdown" default:"true"`
}

type DecisionConfig struct {
	Transport  string        `yaml:"transport" default:"http" validate:"oneof=http grpc"`
	Endpoint   string        `yaml:"endpoint" default:"http://localhost:8090"`
	GRPCAddr   string        `yaml:"grpc_addr" default:"localhost:50051"`
	Timeout    time.Duration `yaml:"timeout" default:"60s"`
	MaxRetries int           `yaml:"max_retries" default:"3" validate:"gte=1"`
	MemorySize int           `yaml:"memory_size" default:"20" validate:"gte=1"`
}

type ExecutionConfig struct {
	DryRun         bool    `yaml:"dry_run"`
	InitialBalance float64 `yaml:"initial_balance" default:"10000"`
	FeeRate        float64 `yaml:"fee_rate" default:"0.0004"`
	SlippageBps    float64 `yaml:"slippage_bps" default:"2"`
	MaxAttempts    int     `yaml:"max_attempts" default:"3" validate:"gte=1"`
}

type APIConfig struct {
	Enabled   bool          `yaml:"enabled" default:"true"`
	Port      string        `yaml:"port" default:"8080"`
	JWTSecret string        `yaml:"jwt_secret" default:"dev-secret"`
	Timeout   time.Duration `yaml:"timeout" default:"30s"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Prefix    string        `yaml:"prefix" default:"signal"`
	TTL       time.Duration `yaml:"ttl" default:"10m"`
	PoolSize  int           `yaml:"pool_size" default:"10"`
	DialLimit time.Duration `yaml:"dial_timeout" default:"5s"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"console" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

// DefaultTimeframes is the table used when none is configured.
func DefaultTimeframes() []Timeframe {
	return []Timeframe{
		{Label: "1m", Interval: "1m", Limit: 60},
		{Label: "5m", Interval: "5m", Limit: 100},
		{Label: "15m", Interval: "15m", Limit: 60},
		{Label: "1h", Interval: "1h", Limit: 50},
		{Label: "4h", Interval: "4h", Limit: 50},
	}
}

// Load builds a Config from struct defaults, an optional YAML file and the
// environment (optionally via .env), in that order of precedence.
func Load(path string) (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = DefaultTimeframes()
	}
	if len(cfg.Stream.Intervals) == 0 {
		cfg.Stream.Intervals = []string{cfg.BaseInterval, cfg.QuickInterval}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if !contains(c.Stream.Intervals, c.BaseInterval) {
		return errors.New("stream.intervals must include base_interval")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Symbol = strings.ToUpper(getEnv("SYMBOL", cfg.Symbol))
	cfg.BaseInterval = getEnv("BASE_INTERVAL", cfg.BaseInterval)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)

	cfg.Binance.APIKey = getEnv("BINANCE_API_KEY", cfg.Binance.APIKey)
	cfg.Binance.APISecret = getEnv("BINANCE_API_SECRET", cfg.Binance.APISecret)
	cfg.Binance.Testnet = getEnvBool("BINANCE_TESTNET", cfg.Binance.Testnet)

	cfg.Risk.MaxPositionSizePct = getEnvFloat("MAX_POSITION_SIZE_PCT", cfg.Risk.MaxPositionSizePct)
	cfg.Risk.MaxLeverage = getEnvFloat("MAX_LEVERAGE", cfg.Risk.MaxLeverage)
	cfg.Risk.MinConfidence = getEnvFloat("MIN_CONFIDENCE", cfg.Risk.MinConfidence)
	cfg.Risk.MaxDrawdownPct = getEnvFloat("MAX_DRAWDOWN_PCT", cfg.Risk.MaxDrawdownPct)
	cfg.Risk.MaxConsecutiveLosses = getEnvInt("MAX_CONSECUTIVE_LOSSES", cfg.Risk.MaxConsecutiveLosses)

	cfg.Decision.Transport = getEnv("DECISION_TRANSPORT", cfg.Decision.Transport)
	cfg.Decision.Endpoint = getEnv("DECISION_ENDPOINT", cfg.Decision.Endpoint)
	cfg.Decision.GRPCAddr = getEnv("DECISION_GRPC_ADDR", cfg.Decision.GRPCAddr)

	cfg.Execution.DryRun = getEnvBool("DRY_RUN", cfg.Execution.DryRun)
	cfg.Execution.InitialBalance = getEnvFloat("DRY_RUN_INITIAL_BALANCE", cfg.Execution.InitialBalance)

	cfg.API.Port = getEnv("PORT", cfg.API.Port)
	cfg.API.JWTSecret = getEnv("JWT_SECRET", cfg.API.JWTSecret)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
