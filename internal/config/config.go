package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Cron       CronConfig       `mapstructure:"cron"`
	Gamma      GammaConfig      `mapstructure:"gamma"`
	ClobREST   ClobRESTConfig   `mapstructure:"clob_rest"`
	ClobStream ClobStreamConfig `mapstructure:"clob_stream"`
	Portfolio  PortfolioConfig  `mapstructure:"portfolio"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Pool       PoolConfig       `mapstructure:"pool"`
	Advisor    AdvisorConfig    `mapstructure:"advisor"`
	Kelly      KellyConfig      `mapstructure:"kelly"`
	Cycle      CycleConfig      `mapstructure:"cycle"`
	Resolution ResolutionConfig `mapstructure:"resolution"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cycle   string `mapstructure:"cycle"`
}

type GammaConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ClobRESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ClobStreamConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	URL             string        `mapstructure:"url"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MaxAssets       int           `mapstructure:"max_assets"`
}

type PortfolioConfig struct {
	InitialBalance   float64 `mapstructure:"initial_balance"`
	BalanceTolerance float64 `mapstructure:"balance_tolerance"`
}

type CatalogConfig struct {
	PageLimit    int     `mapstructure:"page_limit"`
	MaxPages     int     `mapstructure:"max_pages"`
	MinVolumeUSD float64 `mapstructure:"min_volume_usd"`
}

type PoolConfig struct {
	MinVolumeUSD    float64       `mapstructure:"min_volume_usd"`
	MinLiquidityUSD float64       `mapstructure:"min_liquidity_usd"`
	PriceFloor      float64       `mapstructure:"price_floor"`
	PriceCeiling    float64       `mapstructure:"price_ceiling"`
	MaxTimeToRes    time.Duration `mapstructure:"max_time_to_resolution"`
	PoolSize        int           `mapstructure:"pool_size"`
	MaxPerCluster   int           `mapstructure:"max_per_cluster"`
}

type AdvisorConfig struct {
	Provider        string        `mapstructure:"provider"`
	BatchSize       int           `mapstructure:"batch_size"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RatePerMinute   float64       `mapstructure:"rate_per_minute"`
	Anthropic       AnthropicConfig `mapstructure:"anthropic"`
	OpenAI          OpenAIConfig    `mapstructure:"openai"`
	MinConfidence   float64       `mapstructure:"min_confidence"`
	MinNetEdge      float64       `mapstructure:"min_net_edge"`
	MaxImpliedEdge  float64       `mapstructure:"max_implied_edge"`
}

type AnthropicConfig struct {
	BaseURL          string  `mapstructure:"base_url"`
	APIKey           string  `mapstructure:"api_key"`
	Model            string  `mapstructure:"model"`
	MaxTokens        int     `mapstructure:"max_tokens"`
	InputCostPerMTok float64 `mapstructure:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `mapstructure:"output_cost_per_mtok"`
}

type OpenAIConfig struct {
	BaseURL          string  `mapstructure:"base_url"`
	APIKey           string  `mapstructure:"api_key"`
	Model            string  `mapstructure:"model"`
	MaxTokens        int     `mapstructure:"max_tokens"`
	InputCostPerMTok float64 `mapstructure:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `mapstructure:"output_cost_per_mtok"`
}

type KellyConfig struct {
	Fraction          float64 `mapstructure:"fraction"`
	CapFraction       float64 `mapstructure:"cap_fraction"`
	LotteryCap        float64 `mapstructure:"lottery_cap"`
	LotteryPriceBelow float64 `mapstructure:"lottery_price_below"`
	MinBankroll       float64 `mapstructure:"min_bankroll"`
	MinStake          float64 `mapstructure:"min_stake"`
	MaxStake          float64 `mapstructure:"max_stake"`
	PriceFloor        float64 `mapstructure:"price_floor"`
	PriceCeiling      float64 `mapstructure:"price_ceiling"`
	NearZeroPrice     float64 `mapstructure:"near_zero_price"`
	NearZeroMinConf   float64 `mapstructure:"near_zero_min_confidence"`
	MinImpliedReturn  float64 `mapstructure:"min_implied_return"`
}

type CycleConfig struct {
	AutoThrottle    time.Duration `mapstructure:"auto_throttle"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	AnalyzedTTL     time.Duration `mapstructure:"analyzed_ttl"`
	MaxOpenOrders   int           `mapstructure:"max_open_orders"`
	DailyCostCapUSD float64       `mapstructure:"daily_cost_cap_usd"`
}

type ResolutionConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	OrderCooldown time.Duration `mapstructure:"order_cooldown"`
	WinnerPrice   float64       `mapstructure:"winner_price"`
	BatchSize     int           `mapstructure:"batch_size"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.cycle", "@every 1h")
	v.SetDefault("gamma.base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("gamma.timeout", "15s")
	v.SetDefault("clob_rest.base_url", "https://clob.polymarket.com")
	v.SetDefault("clob_rest.timeout", "15s")
	v.SetDefault("clob_stream.enabled", true)
	v.SetDefault("clob_stream.url", "")
	v.SetDefault("clob_stream.refresh_interval", "30s")
	v.SetDefault("clob_stream.max_assets", 200)
	v.SetDefault("portfolio.initial_balance", 50)
	v.SetDefault("portfolio.balance_tolerance", 0.01)
	v.SetDefault("catalog.page_limit", 100)
	v.SetDefault("catalog.max_pages", 5)
	v.SetDefault("catalog.min_volume_usd", 1000)
	v.SetDefault("pool.min_volume_usd", 10000)
	v.SetDefault("pool.min_liquidity_usd", 5000)
	v.SetDefault("pool.price_floor", 0.05)
	v.SetDefault("pool.price_ceiling", 0.95)
	v.SetDefault("pool.max_time_to_resolution", "2160h")
	v.SetDefault("pool.pool_size", 30)
	v.SetDefault("pool.max_per_cluster", 2)
	v.SetDefault("advisor.provider", "anthropic")
	v.SetDefault("advisor.batch_size", 5)
	v.SetDefault("advisor.timeout", "60s")
	v.SetDefault("advisor.rate_per_minute", 10)
	v.SetDefault("advisor.min_confidence", 60)
	v.SetDefault("advisor.min_net_edge", 0.30)
	v.SetDefault("advisor.max_implied_edge", 0.65)
	v.SetDefault("advisor.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("advisor.anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("advisor.anthropic.max_tokens", 4096)
	v.SetDefault("advisor.anthropic.input_cost_per_mtok", 3)
	v.SetDefault("advisor.anthropic.output_cost_per_mtok", 15)
	v.SetDefault("advisor.openai.base_url", "https://api.openai.com")
	v.SetDefault("advisor.openai.model", "gpt-4o")
	v.SetDefault("advisor.openai.max_tokens", 4096)
	v.SetDefault("advisor.openai.input_cost_per_mtok", 2.5)
	v.SetDefault("advisor.openai.output_cost_per_mtok", 10)
	v.SetDefault("kelly.fraction", 0.5)
	v.SetDefault("kelly.cap_fraction", 0.10)
	v.SetDefault("kelly.lottery_cap", 0.03)
	v.SetDefault("kelly.lottery_price_below", 0.15)
	v.SetDefault("kelly.min_bankroll", 5)
	v.SetDefault("kelly.min_stake", 1)
	v.SetDefault("kelly.max_stake", 200)
	v.SetDefault("kelly.price_floor", 0.05)
	v.SetDefault("kelly.price_ceiling", 0.95)
	v.SetDefault("kelly.near_zero_price", 0.10)
	v.SetDefault("kelly.near_zero_min_confidence", 85)
	v.SetDefault("kelly.min_implied_return", 0.08)
	v.SetDefault("cycle.auto_throttle", "20h")
	v.SetDefault("cycle.lock_ttl", "10m")
	v.SetDefault("cycle.analyzed_ttl", "24h")
	v.SetDefault("cycle.max_open_orders", 20)
	v.SetDefault("cycle.daily_cost_cap_usd", 5)
	v.SetDefault("resolution.enabled", true)
	v.SetDefault("resolution.sweep_interval", "60s")
	v.SetDefault("resolution.order_cooldown", "3m")
	v.SetDefault("resolution.winner_price", 0.95)
	v.SetDefault("resolution.batch_size", 50)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
