package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the gateway service.
type Config struct {
	AppName                  string
	AppEnv                   string
	AppPort                  string
	BackendBaseURL           string
	BackendPushURL           string
	BackendTimeout           time.Duration
	ReferralTimeout          time.Duration
	ReferralDebounce         time.Duration
	ReferralRateLimit        int
	EnrollmentCacheTTL       time.Duration
	NotificationPageSize     int
	PushMaxRetries           int
	PushRetryBackoff         time.Duration
	PushMinUptime            time.Duration
	FeedReconcileSpec        string
	FeedSessionIdle          time.Duration
	StreamKeepAlive          time.Duration
	DatabaseURL              string
	RedisURL                 string
	NATSURL                  string
	ChannelBase              string
	JWTSecret                string
	AssistantRulesFile       string
	OpenAIAPIKey             string
	OpenAIModel              string
	OpenAIBaseURL            string
	DefaultCollationLanguage string
	AllowOrigins             string
	AccessLog                bool
	LogLevel                 string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("LMS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "LMS Gateway")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("backend.timeout", "15s")
	v.SetDefault("referral.timeout", "10s")
	v.SetDefault("referral.debounce", "300ms")
	v.SetDefault("referral.rate_limit", 60)
	v.SetDefault("enrollment.cache_ttl", "2m")
	v.SetDefault("notification.page_size", 20)
	v.SetDefault("notification.push_max_retries", 5)
	v.SetDefault("notification.push_backoff", "2s")
	v.SetDefault("notification.push_min_uptime", "30s")
	v.SetDefault("notification.reconcile_spec", "@every 1m")
	v.SetDefault("notification.session_idle", "30m")
	v.SetDefault("notification.keepalive", "30s")
	v.SetDefault("channel.base", "lms")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("collation.language", "en")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("http.access_log", false)
	v.SetDefault("log.level", "info")

	durations := map[string]time.Duration{}
	for _, key := range []string{
		"backend.timeout",
		"referral.timeout",
		"referral.debounce",
		"enrollment.cache_ttl",
		"notification.push_backoff",
		"notification.push_min_uptime",
		"notification.session_idle",
		"notification.keepalive",
	} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:                  v.GetString("app.name"),
		AppEnv:                   v.GetString("app.env"),
		AppPort:                  v.GetString("app.port"),
		BackendBaseURL:           strings.TrimRight(v.GetString("backend.base_url"), "/"),
		BackendPushURL:           v.GetString("backend.push_url"),
		BackendTimeout:           durations["backend.timeout"],
		ReferralTimeout:          durations["referral.timeout"],
		ReferralDebounce:         durations["referral.debounce"],
		ReferralRateLimit:        v.GetInt("referral.rate_limit"),
		EnrollmentCacheTTL:       durations["enrollment.cache_ttl"],
		NotificationPageSize:     v.GetInt("notification.page_size"),
		PushMaxRetries:           v.GetInt("notification.push_max_retries"),
		PushRetryBackoff:         durations["notification.push_backoff"],
		PushMinUptime:            durations["notification.push_min_uptime"],
		FeedReconcileSpec:        v.GetString("notification.reconcile_spec"),
		FeedSessionIdle:          durations["notification.session_idle"],
		StreamKeepAlive:          durations["notification.keepalive"],
		DatabaseURL:              v.GetString("database.url"),
		RedisURL:                 v.GetString("redis.url"),
		NATSURL:                  v.GetString("nats.url"),
		ChannelBase:              v.GetString("channel.base"),
		JWTSecret:                v.GetString("jwt.secret"),
		AssistantRulesFile:       v.GetString("assistant.rules_file"),
		OpenAIAPIKey:             v.GetString("openai_api_key"),
		OpenAIModel:              v.GetString("openai.model"),
		OpenAIBaseURL:            v.GetString("openai.base_url"),
		DefaultCollationLanguage: v.GetString("collation.language"),
		AllowOrigins:             v.GetString("cors.allow_origins"),
		AccessLog:                v.GetBool("http.access_log"),
		LogLevel:                 v.GetString("log.level"),
	}

	if cfg.BackendBaseURL == "" {
		return Config{}, fmt.Errorf("backend base url must be provided")
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.ReferralTimeout <= 0 {
		cfg.ReferralTimeout = 10 * time.Second
	}

	if cfg.NotificationPageSize <= 0 || cfg.NotificationPageSize > 100 {
		cfg.NotificationPageSize = 20
	}

	if cfg.PushMaxRetries < 0 {
		cfg.PushMaxRetries = 0
	}

	return cfg, nil
}
