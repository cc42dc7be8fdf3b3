package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	CorsConfig
	AcquisitionConfig
	ProviderConfig
	BackendConfig
	TelemetryConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetBaseURL() string
	GetEnv() string
	GetEntryType() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Acquisition
	Provider
	Backend
	Telemetry
}

func New() Config {
	return mainConfig{}
}

// Load reads the given dotenv files (".env" when none are named) into the
// process environment and returns the env backed Config. Variables already set
// in the environment win over file values. Missing files are not an error.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return New(), nil
}
