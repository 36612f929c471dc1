package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/meinhoongagan/service-marketplace/db"
	"gopkg.in/yaml.v3"
)

const EnvDevelopment = "development"

type Config struct {
	Env        string           `yaml:"env"`
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Auth       AuthConfig       `yaml:"auth"`
	Redis      RedisConfig      `yaml:"redis"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Cloudinary CloudinaryConfig `yaml:"cloudinary"`
	NATS       NATSConfig       `yaml:"nats"`
	Cron       CronConfig       `yaml:"cron"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port         string `yaml:"port"`
	AllowOrigins string `yaml:"allow_origins"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	Dir         string `yaml:"dir"`
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

// RedisConfig enables the notification feed when Addr is set.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	FeedLength int64  `yaml:"feed_length"`
}

// SMTPConfig enables notification email when Host is set.
type SMTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

type CloudinaryConfig struct {
	CloudName    string `yaml:"cloud_name"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	UploadPreset string `yaml:"upload_preset"`
	Folder       string `yaml:"folder"`
}

// NATSConfig enables notification events when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type CronConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Reconcile string `yaml:"reconcile"`
	Reminders string `yaml:"reminders"`
	Metrics   string `yaml:"metrics"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Env: EnvDevelopment,
		Server: ServerConfig{
			Port:         "3000",
			AllowOrigins: "*",
		},
		Store: StoreConfig{
			Driver: db.DriverFile,
			Dir:    "data",
			Path:   "marketplace.db",
		},
		Auth: AuthConfig{
			TokenTTL:   72 * time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Redis: RedisConfig{FeedLength: 100},
		SMTP:  SMTPConfig{Port: 587},
		Cloudinary: CloudinaryConfig{
			Folder: "profile_pictures",
		},
		NATS: NATSConfig{SubjectPrefix: "marketplace"},
		Cron: CronConfig{
			Enabled:   true,
			Reconcile: "*/5 * * * *",
			Reminders: "* * * * *",
			Metrics:   "0 * * * *",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty),
// then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("APP_ENV", &c.Env)
	str("PORT", &c.Server.Port)
	str("ALLOW_ORIGINS", &c.Server.AllowOrigins)
	str("STORE_DRIVER", &c.Store.Driver)
	str("DATA_DIR", &c.Store.Dir)
	str("SQLITE_PATH", &c.Store.Path)
	str("DATABASE_URL", &c.Store.DatabaseURL)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("SMTP_HOST", &c.SMTP.Host)
	str("EMAIL_USER", &c.SMTP.User)
	str("EMAIL_PASS", &c.SMTP.Pass)
	str("CLOUDINARY_CLOUD_NAME", &c.Cloudinary.CloudName)
	str("CLOUDINARY_API_KEY", &c.Cloudinary.APIKey)
	str("CLOUDINARY_API_SECRET", &c.Cloudinary.APISecret)
	str("CLOUDINARY_UPLOAD_PRESET", &c.Cloudinary.UploadPreset)
	str("NATS_URL", &c.NATS.URL)
	str("LOG_LEVEL", &c.Logging.Level)

	if v, ok := os.LookupEnv("SMTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SMTP_PORT: %w", err)
		}
		c.SMTP.Port = port
	}
	if v, ok := os.LookupEnv("TOKEN_TTL"); ok {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TOKEN_TTL: %w", err)
		}
		c.Auth.TokenTTL = ttl
	}
	return nil
}

func (c Config) Development() bool { return c.Env == EnvDevelopment }

func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case db.DriverFile:
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for the file driver"))
		}
	case db.DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite driver"))
		}
	case db.DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case db.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Auth.JWTSecret == "" && !c.Development() {
		errs = append(errs, errors.New("JWT_SECRET is required outside development"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.SMTP.Host != "" && (c.SMTP.Port <= 0 || c.SMTP.Port > 65535) {
		errs = append(errs, fmt.Errorf("invalid SMTP_PORT %d", c.SMTP.Port))
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	return errors.Join(errs...)
}

func (c Config) StoreOptions() db.Options {
	return db.Options{
		Driver: c.Store.Driver,
		Dir:    c.Store.Dir,
		Path:   c.Store.Path,
		DSN:    c.Store.DatabaseURL,
	}
}

// Secret returns the signing secret, falling back to a fixed value in
// development.
func (c Config) Secret() string {
	if c.Auth.JWTSecret == "" {
		return "development-secret"
	}
	return c.Auth.JWTSecret
}
