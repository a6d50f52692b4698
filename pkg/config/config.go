package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Milestone struct {
	Days  int   `mapstructure:"DAYS"`
	Coins int64 `mapstructure:"COINS"`
}

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	Log        struct {
		Level      string `mapstructure:"LEVEL"`
		Path       string `mapstructure:"PATH"`
		MaxSizeMB  int    `mapstructure:"MAX_SIZE_MB"`
		MaxBackups int    `mapstructure:"MAX_BACKUPS"`
		MaxAgeDays int    `mapstructure:"MAX_AGE_DAYS"`
		Compress   bool   `mapstructure:"COMPRESS"`
	} `mapstructure:"LOG"`
	TLS struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
	} `mapstructure:"OTEL"`
	Server struct {
		Addr               string        `mapstructure:"ADDR"`
		ReadTimeout        time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout       time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout        time.Duration `mapstructure:"IDLE_TIMEOUT"`
		RateLimitPerMinute int           `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Consul struct {
		Addr        string `mapstructure:"ADDR"`
		ServiceHost string `mapstructure:"SERVICE_HOST"`
	} `mapstructure:"CONSUL"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Reward struct {
		Timezone        string        `mapstructure:"TIMEZONE"`
		DailyCap        int64         `mapstructure:"DAILY_CAP"`
		MonthlyCap      int64         `mapstructure:"MONTHLY_CAP"`
		TaskDailyCap    int64         `mapstructure:"TASK_DAILY_CAP"`
		GiftDailyCap    int64         `mapstructure:"GIFT_DAILY_CAP"`
		MinAccountAge   time.Duration `mapstructure:"MIN_ACCOUNT_AGE"`
		MaxHabits       int           `mapstructure:"MAX_HABITS"`
		MaxActiveHabits int           `mapstructure:"MAX_ACTIVE_HABITS"`
		Milestones      []Milestone   `mapstructure:"MILESTONES"`
		LockBackend     string        `mapstructure:"LOCK_BACKEND"`
		LockTTL         time.Duration `mapstructure:"LOCK_TTL"`
	} `mapstructure:"REWARD"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "habitcoin")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("LOG.LEVEL", "info")
	v.SetDefault("LOG.PATH", "")
	v.SetDefault("LOG.MAX_SIZE_MB", 100)
	v.SetDefault("LOG.MAX_BACKUPS", 3)
	v.SetDefault("LOG.MAX_AGE_DAYS", 7)
	v.SetDefault("LOG.COMPRESS", false)
	v.SetDefault("TLS.ENABLE", false)
	v.SetDefault("OTEL.ADDR", "")
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("HTTP_SERVER.RATE_LIMIT_PER_MINUTE", 120)
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("FLAGSMITH.ADDR", "https://edge.api.flagsmith.com/api/v1/")
	v.SetDefault("FLAGSMITH.API_KEY", "")
	v.SetDefault("PYROSCOPE.ADDR", "")
	v.SetDefault("CONSUL.ADDR", "")
	v.SetDefault("CONSUL.SERVICE_HOST", "127.0.0.1")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", "5432")
	v.SetDefault("DATABASE.DBNAME", "habitcoin")
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 10)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.POOL_SIZE", 20)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)
	v.SetDefault("REWARD.TIMEZONE", "UTC")
	v.SetDefault("REWARD.DAILY_CAP", 10)
	v.SetDefault("REWARD.MONTHLY_CAP", 200)
	v.SetDefault("REWARD.TASK_DAILY_CAP", 100)
	v.SetDefault("REWARD.GIFT_DAILY_CAP", 100)
	v.SetDefault("REWARD.MIN_ACCOUNT_AGE", 7*24*time.Hour)
	v.SetDefault("REWARD.MAX_HABITS", 10)
	v.SetDefault("REWARD.MAX_ACTIVE_HABITS", 5)
	v.SetDefault("REWARD.LOCK_BACKEND", "redis")
	v.SetDefault("REWARD.LOCK_TTL", 10*time.Second)
}

// Load reads config.yaml from the given search paths, overlays environment
// variables (dots become underscores) and applies defaults for missing keys.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := readRemote(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readRemote overlays a yaml document from etcd or consul when
// REMOTE_CONFIG_PROVIDER is set. The policy is immutable per process, so the
// remote document is read once and not watched.
func readRemote(v *viper.Viper) error {
	provider, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER")
	if !ok || provider == "" {
		return nil
	}

	addr := os.Getenv("REMOTE_CONFIG_ADDR")
	path := os.Getenv("REMOTE_CONFIG_PATH")
	if err := v.AddRemoteProvider(provider, addr, path); err != nil {
		return fmt.Errorf("remote config %s: %w", provider, err)
	}
	if err := v.ReadRemoteConfig(); err != nil {
		return fmt.Errorf("remote config %s%s: %w", addr, path, err)
	}
	zap.L().Info("loaded remote config", zap.String("provider", provider), zap.String("path", path))
	return nil
}

func LoadConfig(p Params) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		zap.L().Error("failed to load config", zap.Error(err))
		return nil, err
	}

	if p.Vault != nil {
		if err := applySecrets(context.Background(), p.Vault, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func applySecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		return err
	}
	zap.L().Info("Success Get Secret")

	get := func(key string) string {
		if val, ok := secret.Data.Data[key].(string); ok {
			return val
		}
		return ""
	}

	if v := get("postgres_user"); v != "" {
		cfg.Database.User = v
	}
	if v := get("postgres_password"); v != "" {
		cfg.Database.Password = v
	}
	if v := get("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	return nil
}
