package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/stun/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/Chorus/internal/app"
)

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	StaticPath    string        `mapstructure:"static_path"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	PongWait      time.Duration `mapstructure:"pong_wait"`
	WriteWait     time.Duration `mapstructure:"write_wait"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	Secret        string        `mapstructure:"secret"`
	LogLevel      string        `mapstructure:"log_level"`
	HistoryLimit  int           `mapstructure:"history_limit"`
	MaxMessageLen int           `mapstructure:"max_message_len"`
	VoiceSwitch   string        `mapstructure:"voice_switch"`
	RateLimit     RateLimit     `mapstructure:"rate_limit"`
	Storage       Storage       `mapstructure:"storage"`
	Redis         Redis         `mapstructure:"redis"`
	ICEServers    []ICEServer   `mapstructure:"ice_servers"`
}

type RateLimit struct {
	Messages int           `mapstructure:"messages"`
	Interval time.Duration `mapstructure:"interval"`
}

type Storage struct {
	Driver      string `mapstructure:"driver"`
	BadgerPath  string `mapstructure:"badger_path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// Redis mirrors online status when Addr is set.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

const (
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("history_limit", 100)
	v.SetDefault("max_message_len", 2000)
	v.SetDefault("voice_switch", string(app.VoiceStay))
	v.SetDefault("rate_limit.messages", 5)
	v.SetDefault("rate_limit.interval", "3s")
	v.SetDefault("storage.driver", DriverBadger)
	v.SetDefault("storage.badger_path", "./data/badger")
	v.SetDefault("storage.postgres_url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ice_servers", []map[string]any{{"urls": []string{"stun:stun.l.google.com:19302"}}})
}

// Load reads .env, then config/config.<CONFIG_ENV>.yaml, then CHORUS_* env
// overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("failed to read .env")
	}

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load without the .env step and with an explicit file name.
// A missing file falls back to defaults; an unreadable one is an error.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("CHORUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("storage", cfg.Storage.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := app.ParseVoiceSwitch(c.VoiceSwitch); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping_period %s must be shorter than pong_wait %s", c.PingPeriod, c.PongWait)
	}
	switch c.Storage.Driver {
	case DriverBadger:
		if c.Storage.BadgerPath == "" {
			return errors.New("storage.badger_path is required for the badger driver")
		}
	case DriverPostgres:
		if c.Storage.PostgresURL == "" {
			return errors.New("storage.postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	for _, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return errors.New("ice server without urls")
		}
		for _, u := range s.URLs {
			if _, err := stun.ParseURI(u); err != nil {
				return fmt.Errorf("invalid ice url %q: %w", u, err)
			}
		}
	}
	return nil
}
