// Package config загружает настройки из файла, окружения (FEEDSYNC_*) и флагов.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "FEEDSYNC"

// Типы хранилища и ленты.
const (
	StorageInMemory = "in-memory"
	StoragePostgres = "postgres"

	FeedHub   = "hub"
	FeedRedis = "redis"
)

type Config struct {
	Port     string `mapstructure:"port"`
	Storage  string `mapstructure:"storage"`
	DSN      string `mapstructure:"dsn"`
	DBDebug  bool   `mapstructure:"db_debug"`
	Feed     string `mapstructure:"feed"`
	Seed     bool   `mapstructure:"seed"`
	LogLevel string `mapstructure:"log_level"`

	Redis RedisConfig `mapstructure:"redis"`

	// Клиентская часть (команда watch).
	ServerURL         string        `mapstructure:"server_url"`
	UserID            string        `mapstructure:"user_id"`
	CorrelationWindow time.Duration `mapstructure:"correlation_window"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BatchWait         time.Duration `mapstructure:"batch_wait"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("storage", StorageInMemory)
	v.SetDefault("feed", FeedHub)
	v.SetDefault("seed", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.channel", "feedsync:changes")
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("correlation_window", 30*time.Second)
	v.SetDefault("poll_interval", 30*time.Second)
	v.SetDefault("batch_wait", 2*time.Millisecond)
	v.SetDefault("request_timeout", 10*time.Second)
}

// Load собирает конфигурацию. Приоритет: флаги, окружение, файл, значения по умолчанию.
// Флаги с дефисами соответствуют ключам с подчеркиваниями (--log-level -> log_level).
func Load(file string, flags *pflag.FlagSet) (Config, error) {
	var cfg Config
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("error reading config file %s: %w", file, err)
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" || bindErr != nil {
				return
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return cfg, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageInMemory:
	case StoragePostgres:
		if c.DSN == "" {
			return fmt.Errorf("dsn must be set for %s storage", StoragePostgres)
		}
	default:
		return fmt.Errorf("unknown storage %q (in-memory or postgres)", c.Storage)
	}
	switch c.Feed {
	case FeedHub, FeedRedis:
	default:
		return fmt.Errorf("unknown feed %q (hub or redis)", c.Feed)
	}
	return nil
}
