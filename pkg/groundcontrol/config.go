package groundcontrol

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the ground control station settings.
type Config struct {
	ListenPort  int    `json:"listen_port"`            // drone login port
	WorkerCount int    `json:"worker_count"`           // session worker pool size
	StreamPort  uint32 `json:"stream_port"`            // default UDP port for video
	MetricsAddr string `json:"metrics_addr,omitempty"` // optional /metrics listener
}

// DefaultConfig returns the settings used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		ListenPort:  5010,
		WorkerCount: 1,
		StreamPort:  5600,
	}
}

// LoadConfig reads and parses the config file, falling back to
// defaults when the file is absent. Fields left at zero take their
// default value.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "./config.json"
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %v", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %v", absPath, err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %v", absPath, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the config fields are usable.
func (config *Config) Validate() error {
	if config.ListenPort < 1 || config.ListenPort > 65535 {
		return fmt.Errorf("listen_port must be between 1 and 65535")
	}
	if config.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be at least 1")
	}
	if config.StreamPort < 1 || config.StreamPort > 65535 {
		return fmt.Errorf("stream_port must be between 1 and 65535")
	}
	return nil
}
