// Package config reads the relay configuration from the environment once at
// startup.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pipeline-chat/internal/integrations/webhook"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	defaultPort        = 3001
	defaultRateWindow  = 15 * time.Minute
	defaultRateMax     = 100
	defaultFrontendURL = "*"

	paramAuthorizationKey = "authorization_key"
	paramToken            = "token"
	paramAPIKey           = "api_key"
)

type Config struct {
	Env                   string
	Port                  int
	FrontendURL           string
	LogLevel              slog.Level
	RedactUpstreamDetails bool
	Webhook               Webhook
	RateLimit             RateLimit
}

type Webhook struct {
	BaseURL     string
	Policy      webhook.PayloadPolicy
	Credentials webhook.Credentials
	Timeout     time.Duration
	// ParamPrefix, when set, points at SSM parameters holding the credentials.
	ParamPrefix string
}

type RateLimit struct {
	Window      time.Duration
	MaxRequests int
	Table       string
}

// ParamGetter is satisfied by *paramstore.Client.
type ParamGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

func (c Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// Load builds a Config from getenv (os.Getenv in production). It does not
// check required values; see Validate.
func Load(getenv func(string) string) (Config, error) {
	policy, err := webhook.ParsePolicy(getenv("WEBHOOK_PAYLOAD_POLICY"))
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	level, err := parseLevel(getenv("LOG_LEVEL"))
	if err != nil {
		return Config{}, err
	}

	env := strings.ToLower(strings.TrimSpace(getenv("APP_ENV")))
	if env == "" {
		env = EnvProduction
	}
	frontend := strings.TrimSpace(getenv("FRONTEND_URL"))
	if frontend == "" {
		frontend = defaultFrontendURL
	}

	return Config{
		Env:                   env,
		Port:                  envInt(getenv, "PORT", defaultPort),
		FrontendURL:           frontend,
		LogLevel:              level,
		RedactUpstreamDetails: envBool(getenv, "REDACT_UPSTREAM_DETAILS"),
		Webhook: Webhook{
			BaseURL: strings.TrimSpace(getenv("WEBHOOK_BASE_URL")),
			Policy:  policy,
			Credentials: webhook.Credentials{
				AuthorizationKey: getenv("WEBHOOK_AUTHORIZATION_KEY"),
				Token:            getenv("WEBHOOK_TOKEN"),
				APIKey:           getenv("WEBHOOK_API_KEY"),
			},
			Timeout:     time.Duration(envInt(getenv, "WEBHOOK_TIMEOUT_MS", int(webhook.DefaultTimeout/time.Millisecond))) * time.Millisecond,
			ParamPrefix: strings.TrimRight(strings.TrimSpace(getenv("WEBHOOK_PARAM_PREFIX")), "/"),
		},
		RateLimit: RateLimit{
			Window:      time.Duration(envInt(getenv, "RATE_LIMIT_WINDOW_MS", int(defaultRateWindow/time.Millisecond))) * time.Millisecond,
			MaxRequests: envInt(getenv, "RATE_LIMIT_MAX_REQUESTS", defaultRateMax),
			Table:       strings.TrimSpace(getenv("RATE_LIMIT_TABLE")),
		},
	}, nil
}

// ResolveSecrets fills credentials that are empty in cfg from Parameter Store
// when a prefix is configured. Environment values win.
func ResolveSecrets(ctx context.Context, getter ParamGetter, cfg Config) (Config, error) {
	prefix := cfg.Webhook.ParamPrefix
	if prefix == "" {
		return cfg, nil
	}
	if getter == nil {
		return Config{}, errors.New("config: parameter getter must not be nil")
	}

	vals, err := getter.GetParameters(ctx,
		prefix+"/"+paramAuthorizationKey,
		prefix+"/"+paramToken,
		prefix+"/"+paramAPIKey,
	)
	if err != nil {
		return Config{}, fmt.Errorf("config: load webhook credentials: %w", err)
	}

	creds := &cfg.Webhook.Credentials
	fill(&creds.AuthorizationKey, vals[prefix+"/"+paramAuthorizationKey])
	fill(&creds.Token, vals[prefix+"/"+paramToken])
	fill(&creds.APIKey, vals[prefix+"/"+paramAPIKey])
	return cfg, nil
}

// Validate reports every missing or invalid setting at once.
func Validate(cfg Config) error {
	var missing []string
	if cfg.Webhook.BaseURL == "" {
		missing = append(missing, "WEBHOOK_BASE_URL")
	}
	switch cfg.Webhook.Policy {
	case webhook.DataWins:
		if cfg.Webhook.Credentials.APIKey == "" {
			missing = append(missing, "WEBHOOK_API_KEY")
		}
	default:
		if cfg.Webhook.Credentials.AuthorizationKey == "" {
			missing = append(missing, "WEBHOOK_AUTHORIZATION_KEY")
		}
		if cfg.Webhook.Credentials.Token == "" {
			missing = append(missing, "WEBHOOK_TOKEN")
		}
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", ")))
	}
	if cfg.Webhook.BaseURL != "" {
		u, err := url.Parse(cfg.Webhook.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("config: WEBHOOK_BASE_URL %q is not an absolute http(s) URL", cfg.Webhook.BaseURL))
		}
	}
	if cfg.Webhook.Timeout <= 0 {
		errs = append(errs, errors.New("config: WEBHOOK_TIMEOUT_MS must be positive"))
	}
	if cfg.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("config: RATE_LIMIT_WINDOW_MS must be positive"))
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		errs = append(errs, errors.New("config: RATE_LIMIT_MAX_REQUESTS must be positive"))
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: PORT %d is out of range", cfg.Port))
	}
	return errors.Join(errs...)
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func envInt(getenv func(string) string, key string, def int) int {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(getenv func(string) string, key string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(getenv(key)))
	return err == nil && b
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return level, nil
}
