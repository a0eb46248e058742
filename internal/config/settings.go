// internal/config/settings.go

package config

import (
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"

	"sshdeck/internal/apperr"
)

// Settings configures the privileged daemon. Values come from the
// environment with SSHDECK_ prefixed variables.
type Settings struct {
	SocketPath   string `envconfig:"SOCKET_PATH" default:""`
	ProfilesPath string `envconfig:"PROFILES_PATH" default:""`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadSettings reads daemon settings from the environment and fills in the
// default socket location under the user's config directory.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := envconfig.Process("SSHDECK", &s); err != nil {
		return Settings{}, apperr.New(apperr.Validation, "failed to load settings", err)
	}
	if s.SocketPath == "" {
		p, err := DefaultSocketPath()
		if err != nil {
			return Settings{}, err
		}
		s.SocketPath = p
	}
	return s, nil
}

func DefaultSocketPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", apperr.New(apperr.Storage, "could not get home directory", err)
	}
	return filepath.Join(homeDir, DefaultConfigDir, "sshdeckd.sock"), nil
}
