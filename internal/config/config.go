package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"readTimeout"`
		WriteTimeout time.Duration `yaml:"writeTimeout"`
		CORSOrigins  []string      `yaml:"corsOrigins"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		File   string `yaml:"file"`
		Format string `yaml:"format"` // text | json
	} `yaml:"log"`

	Database struct {
		Type       string `yaml:"type"` // sqlite | postgres | mysql | mongodb
		SQLitePath string `yaml:"sqlitePath"`
		URL        string `yaml:"url"`
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		User       string `yaml:"user"`
		Password   string `yaml:"password"`
		Name       string `yaml:"name"`
		SSLMode    string `yaml:"sslMode"`
		MongoURI   string `yaml:"mongoURI"`
		MongoDB    string `yaml:"mongoDatabase"`
	} `yaml:"database"`

	Storage struct {
		Driver      string `yaml:"driver"` // local | minio
		Root        string `yaml:"root"`
		UploadsDir  string `yaml:"uploadsDir"`
		MaxUploadMB int64  `yaml:"maxUploadMB"`
	} `yaml:"storage"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Auth struct {
		JWTSecret       string        `yaml:"jwtSecret"`
		AccessTokenTTL  time.Duration `yaml:"accessTokenTTL"`
		RefreshTokenTTL time.Duration `yaml:"refreshTokenTTL"`
		BootstrapAdmin  struct {
			Username string `yaml:"username"`
			Email    string `yaml:"email"`
			Password string `yaml:"password"`
		} `yaml:"bootstrapAdmin"`
	} `yaml:"auth"`

	AI struct {
		APIKey            string  `yaml:"apiKey"`
		BaseURL           string  `yaml:"baseURL"`
		Model             string  `yaml:"model"`
		MaxTokens         int     `yaml:"maxTokens"`
		RequestsPerMinute float64 `yaml:"requestsPerMinute"`
		Burst             int     `yaml:"burst"`
		MaxDocumentChars  int     `yaml:"maxDocumentChars"`
	} `yaml:"ai"`

	Worker struct {
		Concurrency   int           `yaml:"concurrency"`
		QueueSize     int           `yaml:"queueSize"`
		MaxRetries    int           `yaml:"maxRetries"`
		RetryBackoff  time.Duration `yaml:"retryBackoff"`
		SoftTimeLimit time.Duration `yaml:"softTimeLimit"`
		HardTimeLimit time.Duration `yaml:"hardTimeLimit"`
		ResultTTL     time.Duration `yaml:"resultTTL"`
	} `yaml:"worker"`

	Reaper struct {
		Enabled              bool          `yaml:"enabled"`
		StaleSchedule        string        `yaml:"staleSchedule"`
		StaleAfter           time.Duration `yaml:"staleAfter"`
		MappingSchedule      string        `yaml:"mappingSchedule"`
		MappingRetentionDays int           `yaml:"mappingRetentionDays"`
		SessionSchedule      string        `yaml:"sessionSchedule"`
	} `yaml:"reaper"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`
	} `yaml:"rateLimit"`
}

// Default returns a config that runs locally on sqlite with no external services.
func Default() *Config {
	var c Config
	c.App.Name = "Financial Document Analyzer API"
	c.App.Version = "2.0.0"
	c.Server.Port = 8000
	c.Server.ReadTimeout = 30 * time.Second
	c.Server.WriteTimeout = 60 * time.Second
	c.Server.CORSOrigins = []string{"*"}
	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Database.Type = "sqlite"
	c.Database.SQLitePath = "auth.db"
	c.Database.SSLMode = "disable"
	c.Database.MongoURI = "mongodb://localhost:27017"
	c.Database.MongoDB = "financial_analyzer"
	c.Storage.Driver = "local"
	c.Storage.Root = "."
	c.Storage.UploadsDir = "data"
	c.Storage.MaxUploadMB = 20
	c.Minio.BucketName = "reports"
	c.Auth.JWTSecret = "your-secret-key-change-this-in-production"
	c.Auth.AccessTokenTTL = 30 * time.Minute
	c.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	c.AI.Model = "gpt-4o-mini"
	c.AI.MaxTokens = 2048
	c.AI.RequestsPerMinute = 5
	c.AI.Burst = 1
	c.AI.MaxDocumentChars = 60000
	c.Worker.Concurrency = 2
	c.Worker.QueueSize = 100
	c.Worker.MaxRetries = 3
	c.Worker.RetryBackoff = 60 * time.Second
	c.Worker.SoftTimeLimit = 5 * time.Minute
	c.Worker.HardTimeLimit = 10 * time.Minute
	c.Worker.ResultTTL = time.Hour
	c.Reaper.Enabled = true
	c.Reaper.StaleSchedule = "@every 5m"
	c.Reaper.StaleAfter = time.Hour
	c.Reaper.MappingSchedule = "@daily"
	c.Reaper.MappingRetentionDays = 30
	c.Reaper.SessionSchedule = "@hourly"
	c.RateLimit.Capacity = 100
	c.RateLimit.RefillRate = 2
	return &c
}

// Load baca file config, apply env overrides, validate.
// A missing file is not an error: defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("DATABASE_TYPE", &c.Database.Type)
	str("SQLITE_DB_PATH", &c.Database.SQLitePath)
	str("DATABASE_URL", &c.Database.URL)
	str("MONGODB_CONNECTION_STRING", &c.Database.MongoURI)
	str("MONGODB_DATABASE_NAME", &c.Database.MongoDB)
	str("JWT_SECRET_KEY", &c.Auth.JWTSecret)
	str("OPENAI_API_KEY", &c.AI.APIKey)
	str("OPENAI_MODEL", &c.AI.Model)
	str("LOG_LEVEL", &c.Log.Level)
	str("STORAGE_DRIVER", &c.Storage.Driver)

	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = n
	}
	if v, ok := lookup("ACCESS_TOKEN_EXPIRE_MINUTES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES: %w", err)
		}
		c.Auth.AccessTokenTTL = time.Duration(n) * time.Minute
	}
	if v, ok := lookup("REFRESH_TOKEN_EXPIRE_DAYS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REFRESH_TOKEN_EXPIRE_DAYS: %w", err)
		}
		c.Auth.RefreshTokenTTL = time.Duration(n) * 24 * time.Hour
	}
	return nil
}

// Validate checks the values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	c.Database.Type = strings.ToLower(strings.TrimSpace(c.Database.Type))
	switch c.Database.Type {
	case "sqlite", "postgres", "mysql", "mongodb":
	default:
		return fmt.Errorf("unsupported database type: %s (supported: sqlite, postgres, mysql, mongodb)", c.Database.Type)
	}
	switch c.Storage.Driver {
	case "local", "minio":
	default:
		return fmt.Errorf("unsupported storage driver: %s (supported: local, minio)", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret must not be empty")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.maxRetries must not be negative, got %d", c.Worker.MaxRetries)
	}
	if c.Worker.HardTimeLimit > 0 && c.Worker.SoftTimeLimit > c.Worker.HardTimeLimit {
		return errors.New("worker.softTimeLimit must not exceed worker.hardTimeLimit")
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC&multiStatements=true&clientFoundRows=true",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
