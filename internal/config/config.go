package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Lock   LockConfig   `mapstructure:"lock"`

	Broker  BrokerConfig  `mapstructure:"broker"`
	History HistoryConfig `mapstructure:"history"`
	SMS     SMSConfig     `mapstructure:"sms"`

	Signal  SignalConfig   `mapstructure:"signal"`
	Tickers []TickerConfig `mapstructure:"tickers"`
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

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type LockConfig struct {
	Path string `mapstructure:"path"`
}

type BrokerConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	AppKey    string        `mapstructure:"app_key"`
	AppSecret string        `mapstructure:"app_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`

	// Exchange codes tried in order for the realtime quote: regular venue,
	// overnight venue, alternate.
	Exchanges []string `mapstructure:"exchanges"`
}

type HistoryConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SMSConfig struct {
	URL         string        `mapstructure:"url"`
	Token       string        `mapstructure:"token"`
	To          string        `mapstructure:"to"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Suppression time.Duration `mapstructure:"suppression"`
}

type SignalConfig struct {
	TickSpec       string  `mapstructure:"tick_spec"`
	TokenSpec      string  `mapstructure:"token_spec"`
	HeartbeatSpec  string  `mapstructure:"heartbeat_spec"`
	BreakoutPct    float64 `mapstructure:"breakout_pct"`
	TrailingPct    float64 `mapstructure:"trailing_pct"`
	CandleLookback int     `mapstructure:"candle_lookback"`
	Timezone       string  `mapstructure:"timezone"`
}

type TickerConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Name     string `mapstructure:"name"`
	Exchange string `mapstructure:"exchange"`
	Inverse  bool   `mapstructure:"inverse"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TD")
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
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.ttl", "30s")
	v.SetDefault("lock.path", "/tmp/tripledash.lock")

	v.SetDefault("broker.timeout", "1500ms")
	v.SetDefault("broker.exchanges", []string{"NAS", "OVS", "AMS"})
	v.SetDefault("history.timeout", "20s")
	v.SetDefault("sms.timeout", "5s")
	v.SetDefault("sms.suppression", "30m")

	v.SetDefault("signal.tick_spec", "@every 10s")
	v.SetDefault("signal.token_spec", "@every 10m")
	v.SetDefault("signal.heartbeat_spec", "@every 1h")
	v.SetDefault("signal.breakout_pct", 0.02)
	v.SetDefault("signal.trailing_pct", 0.015)
	v.SetDefault("signal.candle_lookback", 120)
	v.SetDefault("signal.timezone", "America/New_York")

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

// FindTicker returns the configuration entry for symbol, or nil.
func (c Config) FindTicker(symbol string) *TickerConfig {
	for i := range c.Tickers {
		if strings.EqualFold(c.Tickers[i].Symbol, symbol) {
			return &c.Tickers[i]
		}
	}
	return nil
}
