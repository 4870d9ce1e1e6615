package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Grant names selectable as the deployment's default authentication flow.
const (
	GrantClientCredentials = "client_credentials"
	GrantUserCode          = "user_code"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Upstream    UpstreamConfig
	Auth        AuthConfig
	Polling     PollingConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Path string
}

type UpstreamConfig struct {
	// APIBaseURL is the merchant API origin all proxied and direct calls target.
	APIBaseURL string
	// AuthPathPrefix is prepended to /oauth/* paths when building upstream URLs.
	AuthPathPrefix string
}

type AuthConfig struct {
	Grant        string
	ExpiryBuffer time.Duration
	ClientID     string
	ClientSecret string
	MerchantID   string
	MerchantUUID string
}

type PollingConfig struct {
	Enabled      bool
	Interval     time.Duration
	AckBatchSize int
	SeenLogCap   int
}

func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("bridge_env", "")
	v.SetDefault("app_env", "")
	v.SetDefault("go_env", "")
	v.SetDefault("bridge_port", 8080)
	v.SetDefault("bridge_db_path", "data/bridge")
	v.SetDefault("bridge_upstream_base_url", "https://merchant-api.ifood.com.br")
	v.SetDefault("bridge_upstream_auth_prefix", "/authentication/v1.0")
	v.SetDefault("bridge_auth_grant", GrantClientCredentials)
	v.SetDefault("bridge_token_expiry_buffer_min", 5)
	v.SetDefault("bridge_client_id", "")
	v.SetDefault("bridge_client_secret", "")
	v.SetDefault("bridge_merchant_id", "")
	v.SetDefault("bridge_merchant_uuid", "")
	v.SetDefault("bridge_polling_enabled", true)
	v.SetDefault("bridge_poll_interval_sec", 30)
	v.SetDefault("bridge_ack_batch_size", 2000)
	v.SetDefault("bridge_seen_log_cap", 1000)

	env := resolveEnvironment(v)
	port := v.GetInt("bridge_port")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid BRIDGE_PORT: %d", port)
	}

	grant := strings.ToLower(strings.TrimSpace(v.GetString("bridge_auth_grant")))
	switch grant {
	case GrantClientCredentials, GrantUserCode:
	case "":
		grant = GrantClientCredentials
	default:
		return Config{}, fmt.Errorf("invalid BRIDGE_AUTH_GRANT: %q", grant)
	}

	bufferMin := v.GetInt("bridge_token_expiry_buffer_min")
	if bufferMin <= 0 {
		bufferMin = 5
	}
	if bufferMin > 60 {
		bufferMin = 60
	}

	intervalSec := v.GetInt("bridge_poll_interval_sec")
	if intervalSec < 5 {
		intervalSec = 5
	}

	batchSize := v.GetInt("bridge_ack_batch_size")
	if batchSize <= 0 || batchSize > 2000 {
		batchSize = 2000
	}

	seenCap := v.GetInt("bridge_seen_log_cap")
	if seenCap <= 0 {
		seenCap = 1000
	}

	baseURL := strings.TrimRight(strings.TrimSpace(v.GetString("bridge_upstream_base_url")), "/")
	if baseURL == "" {
		return Config{}, fmt.Errorf("BRIDGE_UPSTREAM_BASE_URL is required")
	}

	cfg := Config{
		Environment: env,
		Server:      ServerConfig{Port: port},
		Database: DatabaseConfig{
			Path: strings.TrimSpace(v.GetString("bridge_db_path")),
		},
		Upstream: UpstreamConfig{
			APIBaseURL:     baseURL,
			AuthPathPrefix: strings.TrimSpace(v.GetString("bridge_upstream_auth_prefix")),
		},
		Auth: AuthConfig{
			Grant:        grant,
			ExpiryBuffer: time.Duration(bufferMin) * time.Minute,
			ClientID:     strings.TrimSpace(v.GetString("bridge_client_id")),
			ClientSecret: strings.TrimSpace(v.GetString("bridge_client_secret")),
			MerchantID:   strings.TrimSpace(v.GetString("bridge_merchant_id")),
			MerchantUUID: strings.TrimSpace(v.GetString("bridge_merchant_uuid")),
		},
		Polling: PollingConfig{
			Enabled:      v.GetBool("bridge_polling_enabled"),
			Interval:     time.Duration(intervalSec) * time.Second,
			AckBatchSize: batchSize,
			SeenLogCap:   seenCap,
		},
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/bridge"
	}

	return cfg, nil
}

func (c Config) IsLocalDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "local", "dev", "development", "test":
		return true
	default:
		return false
	}
}

func resolveEnvironment(v *viper.Viper) string {
	for _, key := range []string{"bridge_env", "app_env", "go_env"} {
		value := strings.TrimSpace(v.GetString(key))
		if value != "" {
			return strings.ToLower(value)
		}
	}
	return ""
}
