package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Typing      TypingConfig      `mapstructure:"typing"`
	Messages    MessagesConfig    `mapstructure:"messages"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type RealtimeConfig struct {
	// Driver is "local" for a single instance or "redis" to share events
	// between instances.
	Driver     string        `mapstructure:"driver"`
	Shards     int           `mapstructure:"shards"`
	GapTimeout time.Duration `mapstructure:"gap_timeout"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type WebSocketConfig struct {
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	EventsPerSecond float64       `mapstructure:"events_per_second"`
	Burst           int           `mapstructure:"burst"`
}

type TypingConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type MessagesConfig struct {
	DeleteWindow       time.Duration `mapstructure:"delete_window"`
	ThreadDeletePolicy string        `mapstructure:"thread_delete_policy"`
	PageSize           int           `mapstructure:"page_size"`
	MaxPageSize        int           `mapstructure:"max_page_size"`
}

type AttachmentsConfig struct {
	// Driver is "none" or "s3".
	Driver  string   `mapstructure:"driver"`
	MaxSize int64    `mapstructure:"max_size"`
	S3      S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	PublicURL       string `mapstructure:"public_url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads config/config.yaml when present and overlays environment
// variables on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "pulse")
	v.SetDefault("database.password", "pulse_dev_password")
	v.SetDefault("database.name", "pulse")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 0)

	v.SetDefault("auth.jwt_secret", "dev-secret-change-me")

	v.SetDefault("realtime.driver", "local")
	v.SetDefault("realtime.shards", 8)
	v.SetDefault("realtime.gap_timeout", "500ms")
	v.SetDefault("realtime.redis.address", "localhost:6379")
	v.SetDefault("realtime.redis.password", "")
	v.SetDefault("realtime.redis.db", 0)
	v.SetDefault("realtime.redis.prefix", "pulse")

	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.events_per_second", 20)
	v.SetDefault("websocket.burst", 40)

	v.SetDefault("typing.ttl", "2s")
	v.SetDefault("typing.sweep_interval", "250ms")

	v.SetDefault("messages.delete_window", "3m")
	v.SetDefault("messages.thread_delete_policy", "orphan")
	v.SetDefault("messages.page_size", 50)
	v.SetDefault("messages.max_page_size", 100)

	v.SetDefault("attachments.driver", "none")
	v.SetDefault("attachments.max_size", 10<<20)
	v.SetDefault("attachments.s3.region", "us-east-1")
	v.SetDefault("attachments.s3.bucket", "chat-attachments")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("realtime.driver", "REALTIME_DRIVER")
	v.BindEnv("realtime.redis.address", "REDIS_URL")
	v.BindEnv("realtime.redis.password", "REDIS_PASSWORD")
	v.BindEnv("attachments.driver", "ATTACHMENTS_DRIVER")
	v.BindEnv("attachments.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("attachments.s3.bucket", "S3_BUCKET")
	v.BindEnv("attachments.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("attachments.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("attachments.s3.public_url", "S3_PUBLIC_URL")
	v.BindEnv("log.level", "LOG_LEVEL")
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret is required")
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	switch c.Realtime.Driver {
	case "local", "redis":
	default:
		return fmt.Errorf("config: unknown realtime.driver %q", c.Realtime.Driver)
	}
	switch c.Attachments.Driver {
	case "none", "s3":
	default:
		return fmt.Errorf("config: unknown attachments.driver %q", c.Attachments.Driver)
	}
	switch c.Messages.ThreadDeletePolicy {
	case "orphan", "cascade", "block":
	default:
		return fmt.Errorf("config: unknown messages.thread_delete_policy %q", c.Messages.ThreadDeletePolicy)
	}
	if c.Realtime.Shards <= 0 {
		return errors.New("config: realtime.shards must be positive")
	}
	if c.Typing.TTL <= 0 || c.Messages.DeleteWindow <= 0 {
		return errors.New("config: typing.ttl and messages.delete_window must be positive")
	}
	return nil
}
