package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides. They win over the config file.
const (
	EnvStorageDSN  = "CROSSPOSTER_STORAGE_DSN"
	EnvStoragePath = "CROSSPOSTER_STORAGE_PATH"
	EnvAlertToken  = "CROSSPOSTER_ALERT_TOKEN"
	EnvLogLevel    = "CROSSPOSTER_LOG_LEVEL"
)

// LoadDotEnv loads the given .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ApplyEnv overlays secrets and deploy-specific values from the environment.
func (c *Config) ApplyEnv() {
	if v, ok := lookup(EnvStorageDSN); ok {
		c.Storage.DSN = v
	}
	if v, ok := lookup(EnvStoragePath); ok {
		c.Storage.Path = v
	}
	if v, ok := lookup(EnvAlertToken); ok {
		c.Alerts.Token = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.Logging.Level = v
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}
