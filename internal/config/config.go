package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the chess server daemon.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
	Backlog     int    `yaml:"backlog"` // advisory; see Server.Run doc comment

	// Logging
	LogLevel string `yaml:"log_level"` // debug, info, warn, error (default: info)

	// Persistence
	UserStorePath string `yaml:"user_store_path"`

	// Matchmaking
	DefaultElo    uint16 `yaml:"default_elo"`
	EloThreshold  uint16 `yaml:"elo_threshold"`
	MatchInterval string `yaml:"match_interval"` // duration, e.g. "500ms"
}

// Default returns Server config with sensible defaults.
func Default() Server {
	return Server{
		BindAddress:   "0.0.0.0",
		Port:          8088,
		Backlog:       16,
		LogLevel:      "info",
		UserStorePath: "users.json",
		DefaultElo:    1200,
		EloThreshold:  200,
		MatchInterval: "500ms",
	}
}

// Load reads server config from a YAML file. If the file doesn't exist,
// it returns defaults.
func Load(path string) (Server, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
