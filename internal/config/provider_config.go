package config

import (
	"strconv"
	"strings"
	"time"
)

type ProviderConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetRedirectURL() string
	GetScopes() []string
	GetRecordsDSN() string
}

type BackendConfig interface {
	GetBackendURL() string
	GetBackendTimeout() time.Duration
	GetBackendProfilePath() string
}

type TelemetryConfig interface {
	GetLogLevel() string
	GetTracingEnabled() bool
	GetTracingEndpoint() string
	GetTracingSampleRate() float64
}

type Provider struct{}

var _ ProviderConfig = Provider{}

func (Provider) GetIssuerURL() string {
	return GetEnv("AUTH_ISSUER_URL", "http://localhost:8080")
}

func (Provider) GetClientID() string {
	return GetEnv("AUTH_CLIENT_ID", "forum-web")
}

// GetClientSecret is empty for public (PKCE) clients
func (Provider) GetClientSecret() string {
	return GetEnv("AUTH_CLIENT_SECRET", "")
}

func (Provider) GetRedirectURL() string {
	return GetEnv("AUTH_REDIRECT_URL", EnvVars{}.GetBaseURL()+"/callback")
}

func (Provider) GetScopes() []string {
	var scopes []string
	for _, s := range strings.Split(GetEnv("AUTH_SCOPES", "openid,profile,email,offline_access"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// GetRecordsDSN is the Postgres DSN of the provider's user record store. Empty
// disables the direct reader and user records come from the UserInfo endpoint.
func (Provider) GetRecordsDSN() string {
	return GetEnv("AUTH_RECORDS_DSN", "")
}

type Backend struct{}

var _ BackendConfig = Backend{}

func (Backend) GetBackendURL() string {
	return GetEnv("FORUM_API_URL", "http://localhost:8000")
}

func (Backend) GetBackendTimeout() time.Duration {
	return GetEnvDuration("FORUM_API_TIMEOUT", 10*time.Second)
}

// GetBackendProfilePath is relative to FORUM_API_URL. The forum API mounts
// its profile routes under /points.
func (Backend) GetBackendProfilePath() string {
	return GetEnv("FORUM_API_PROFILE_PATH", "/points/profile")
}

type Telemetry struct{}

var _ TelemetryConfig = Telemetry{}

func (Telemetry) GetLogLevel() string {
	return GetEnv("LOG_LEVEL", "info")
}

func (Telemetry) GetTracingEnabled() bool {
	return GetEnvBool("TRACING_ENABLED", false)
}

func (Telemetry) GetTracingEndpoint() string {
	return GetEnv("TRACING_ENDPOINT", "localhost:4318")
}

func (Telemetry) GetTracingSampleRate() float64 {
	rate, err := strconv.ParseFloat(GetEnv("TRACING_SAMPLE_RATE", "1"), 64)
	if err != nil || rate < 0 || rate > 1 {
		return 1
	}
	return rate
}
