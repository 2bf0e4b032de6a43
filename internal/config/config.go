package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalid marks configuration that is missing or malformed.
var ErrInvalid = errors.New("invalid configuration")

// Config holds runtime configuration values for the scoring service and its CLI.
type Config struct {
	AppName           string
	AppEnv            string
	AppPort           string
	AllowedOrigins    []string
	DatabaseURL       string
	RedisURL          string
	NATSURL           string
	NATSSubject       string
	JWTSecret         string
	LLM               LLMConfig
	RequestTimeout    time.Duration
	TaskTimeout       time.Duration
	BatchConcurrency  int
	LLMConcurrency    int
	QueueDepth        int
	BatchRateLimit    int
	FileSearchRoots   []string
	MaxExtractedChars int
	ParseCacheTTL     time.Duration
}

// LLMConfig configures the chat-completion endpoint.
type LLMConfig struct {
	APIKey        string
	Endpoint      string
	Model         string
	MaxTokens     int
	Temperature   float32
	RetryAttempts int
	RetryBackoff  time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Options tunes how Load resolves configuration.
type Options struct {
	// File is an optional config file (yaml, json, toml or .env) read before the environment.
	File string
	// SkipJWT relaxes the jwt.secret requirement for tools that never serve HTTP.
	SkipJWT bool
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	return LoadWith(Options{})
}

// LoadWith reads configuration like Load, honouring opts.
func LoadWith(opts Options) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SCORING")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrInvalid, opts.File, err)
		}
	}

	requestTimeout := time.Duration(v.GetInt("request_timeout_seconds")) * time.Second
	taskTimeout := time.Duration(v.GetInt("task_timeout_seconds")) * time.Second
	cacheTTL, err := time.ParseDuration(v.GetString("parse_cache_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("%w: parse_cache_ttl: %v", ErrInvalid, err)
	}

	cfg := Config{
		AppName:        v.GetString("app.name"),
		AppEnv:         v.GetString("app.env"),
		AppPort:        v.GetString("app.port"),
		AllowedOrigins: splitList(v.GetString("app.allowed_origins")),
		DatabaseURL:    strings.TrimSpace(v.GetString("database.url")),
		RedisURL:       strings.TrimSpace(v.GetString("redis.url")),
		NATSURL:        strings.TrimSpace(v.GetString("nats.url")),
		NATSSubject:    v.GetString("nats.subject"),
		JWTSecret:      v.GetString("jwt.secret"),
		LLM: LLMConfig{
			APIKey:        strings.TrimSpace(v.GetString("llm.api_key")),
			Endpoint:      v.GetString("llm.endpoint"),
			Model:         v.GetString("llm.model"),
			MaxTokens:     v.GetInt("llm.max_tokens"),
			Temperature:   float32(v.GetFloat64("llm.temperature")),
			RetryAttempts: v.GetInt("retry_attempts"),
			RetryBackoff:  time.Duration(v.GetFloat64("retry_backoff_seconds") * float64(time.Second)),
		},
		RequestTimeout:    requestTimeout,
		TaskTimeout:       taskTimeout,
		BatchConcurrency:  v.GetInt("batch_concurrency"),
		LLMConcurrency:    v.GetInt("llm_concurrency"),
		QueueDepth:        v.GetInt("queue_depth"),
		BatchRateLimit:    v.GetInt("batch_rate_limit"),
		FileSearchRoots:   splitList(v.GetString("file_search_roots")),
		MaxExtractedChars: v.GetInt("max_extracted_chars"),
		ParseCacheTTL:     cacheTTL,
	}
	if cfg.LLMConcurrency <= 0 {
		cfg.LLMConcurrency = cfg.BatchConcurrency
	}

	if err := cfg.validate(opts); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "Teaching Evaluation Scoring")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("nats.subject", "scoring.events")
	v.SetDefault("llm.endpoint", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("request_timeout_seconds", 120)
	v.SetDefault("task_timeout_seconds", 300)
	v.SetDefault("batch_concurrency", 4)
	v.SetDefault("llm_concurrency", 0)
	v.SetDefault("queue_depth", 16)
	v.SetDefault("batch_rate_limit", 6)
	v.SetDefault("file_search_roots", "./uploads")
	v.SetDefault("max_extracted_chars", 60000)
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_backoff_seconds", 1)
	v.SetDefault("parse_cache_ttl", "30m")
}

func (c Config) validate(opts Options) error {
	var problems []string
	if c.DatabaseURL == "" {
		problems = append(problems, "database.url is required")
	}
	if c.LLM.APIKey == "" {
		problems = append(problems, "llm.api_key is required")
	}
	if !opts.SkipJWT && c.JWTSecret == "" {
		problems = append(problems, "jwt.secret is required")
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, "request_timeout_seconds must be positive")
	}
	if c.TaskTimeout < c.RequestTimeout {
		problems = append(problems, "task_timeout_seconds must not be shorter than request_timeout_seconds")
	}
	if c.BatchConcurrency <= 0 {
		problems = append(problems, "batch_concurrency must be positive")
	}
	if c.QueueDepth < 0 {
		problems = append(problems, "queue_depth must not be negative")
	}
	if len(c.FileSearchRoots) == 0 {
		problems = append(problems, "file_search_roots must list at least one directory")
	}
	if c.MaxExtractedChars <= 0 {
		problems = append(problems, "max_extracted_chars must be positive")
	}
	if c.LLM.RetryAttempts < 0 {
		problems = append(problems, "retry_attempts must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// splitList splits a comma separated value, keeping order and dropping blanks.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
