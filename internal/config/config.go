package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pliu/nwitter/internal/retry"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr         string `yaml:"addr"`
		StaticDir    string `yaml:"static_dir"`
		SecureCookie bool   `yaml:"secure_cookie"`
	} `yaml:"server"`

	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	Auth struct {
		JWTSecret     string        `yaml:"jwt_secret"`
		SessionTTL    time.Duration `yaml:"session_ttl"`
		ResetURL      string        `yaml:"reset_url"`
		ResetTokenTTL time.Duration `yaml:"reset_token_ttl"`
	} `yaml:"auth"`

	Blob struct {
		Kind      string `yaml:"kind"` // "dir" or "s3"
		Dir       string `yaml:"dir"`
		PublicURL string `yaml:"public_url"`
		S3        struct {
			Endpoint  string        `yaml:"endpoint"`
			Region    string        `yaml:"region"`
			Bucket    string        `yaml:"bucket"`
			AccessKey string        `yaml:"access_key"`
			SecretKey string        `yaml:"secret_key"`
			UseSSL    bool          `yaml:"use_ssl"`
			URLExpiry time.Duration `yaml:"url_expiry"`
		} `yaml:"s3"`
	} `yaml:"blob"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Email struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"email"`

	Chat struct {
		AggregatorMode string `yaml:"aggregator_mode"` // "latest" or "full"
		DefaultAvatar  string `yaml:"default_avatar"`
	} `yaml:"chat"`

	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	Retry retry.Policy `yaml:"retry"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func Default() *Config {
	c := &Config{}
	c.Server.Addr = ":8080"
	c.Server.StaticDir = "static"
	c.Database.Driver = "sqlite3"
	c.Database.DSN = "nwitter.db"
	c.Auth.SessionTTL = 7 * 24 * time.Hour
	c.Auth.ResetURL = "http://localhost:8080/reset-password"
	c.Auth.ResetTokenTTL = time.Hour
	c.Blob.Kind = "dir"
	c.Blob.Dir = "data/blobs"
	c.Blob.PublicURL = "/blobs"
	c.Blob.S3.URLExpiry = time.Hour
	c.Chat.AggregatorMode = "latest"
	c.Chat.DefaultAvatar = "/defaultavatar.svg"
	c.RateLimit.RPS = 5
	c.RateLimit.Burst = 10
	c.Retry = retry.DefaultPolicy()
	c.Log.Level = "info"
	c.Log.Format = "json"
	return c
}

// Load merges defaults, the optional YAML file at path, a .env file in the
// working directory and NWITTER_* environment variables, in that order.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	str(&c.Server.Addr, "NWITTER_ADDR")
	str(&c.Server.StaticDir, "NWITTER_STATIC_DIR")
	str(&c.Database.Driver, "NWITTER_DB_DRIVER")
	str(&c.Database.DSN, "NWITTER_DB_DSN")
	str(&c.Auth.JWTSecret, "NWITTER_JWT_SECRET")
	str(&c.Auth.ResetURL, "NWITTER_RESET_URL")
	str(&c.Blob.Kind, "NWITTER_BLOB_KIND")
	str(&c.Blob.Dir, "NWITTER_BLOB_DIR")
	str(&c.Blob.PublicURL, "NWITTER_BLOB_PUBLIC_URL")
	str(&c.Blob.S3.Endpoint, "NWITTER_S3_ENDPOINT")
	str(&c.Blob.S3.Region, "NWITTER_S3_REGION")
	str(&c.Blob.S3.Bucket, "NWITTER_S3_BUCKET")
	str(&c.Blob.S3.AccessKey, "NWITTER_S3_ACCESS_KEY")
	str(&c.Blob.S3.SecretKey, "NWITTER_S3_SECRET_KEY")
	str(&c.Redis.Addr, "NWITTER_REDIS_ADDR")
	str(&c.Redis.Password, "NWITTER_REDIS_PASSWORD")
	str(&c.Email.Host, "NWITTER_SMTP_HOST")
	str(&c.Email.Port, "NWITTER_SMTP_PORT")
	str(&c.Email.Username, "NWITTER_SMTP_USERNAME")
	str(&c.Email.Password, "NWITTER_SMTP_PASSWORD")
	str(&c.Email.From, "NWITTER_SMTP_FROM")
	str(&c.Chat.AggregatorMode, "NWITTER_AGGREGATOR_MODE")
	str(&c.Log.Level, "NWITTER_LOG_LEVEL")
	str(&c.Log.Format, "NWITTER_LOG_FORMAT")

	if v, ok := lookup("NWITTER_S3_USE_SSL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid NWITTER_S3_USE_SSL: %w", err)
		}
		c.Blob.S3.UseSSL = b
	}
	if v, ok := lookup("NWITTER_SECURE_COOKIE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid NWITTER_SECURE_COOKIE: %w", err)
		}
		c.Server.SecureCookie = b
	}
	if v, ok := lookup("NWITTER_REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid NWITTER_REDIS_DB: %w", err)
		}
		c.Redis.DB = n
	}
	if v, ok := lookup("NWITTER_SESSION_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid NWITTER_SESSION_TTL: %w", err)
		}
		c.Auth.SessionTTL = d
	}
	if v, ok := lookup("NWITTER_RETRY_MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid NWITTER_RETRY_MAX_ATTEMPTS: %w", err)
		}
		c.Retry.MaxAttempts = n
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func str(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("auth.session_ttl must be positive"))
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}
	switch c.Blob.Kind {
	case "dir":
		if c.Blob.Dir == "" {
			errs = append(errs, errors.New("blob.dir is required for the dir blob store"))
		}
	case "s3":
		s := c.Blob.S3
		if s.Endpoint == "" || s.Bucket == "" || s.AccessKey == "" || s.SecretKey == "" {
			errs = append(errs, errors.New("blob.s3 requires endpoint, bucket, access_key and secret_key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported blob.kind %q", c.Blob.Kind))
	}
	switch c.Chat.AggregatorMode {
	case "latest", "full":
	default:
		errs = append(errs, fmt.Errorf("unsupported chat.aggregator_mode %q", c.Chat.AggregatorMode))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}
