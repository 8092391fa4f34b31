// Copyright (C) 2025 localfirst
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure for a team device.
type Config struct {
	Environment string          `yaml:"environment" json:"environment"`
	Team        *TeamConfig     `yaml:"team" json:"team"`
	Storage     *StorageConfig  `yaml:"storage" json:"storage"`
	Transport   *TransportConfig `yaml:"transport" json:"transport"`
	KeyStore    *KeyStoreConfig `yaml:"keystore" json:"keystore"`
	Logging     *LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// TeamConfig identifies this device within the team it belongs to.
type TeamConfig struct {
	DataDir      string        `yaml:"data_dir" json:"data_dir"`
	DeviceName   string        `yaml:"device_name" json:"device_name"`
	PendingTTL   time.Duration `yaml:"pending_ttl" json:"pending_ttl"`
	CleanupEvery time.Duration `yaml:"cleanup_every" json:"cleanup_every"`
}

// StorageConfig selects and configures the blob store backing the graph,
// lockbox and coordinator state (memory or postgres).
type StorageConfig struct {
	Type       string `yaml:"type" json:"type"` // memory, postgres
	DSN        string `yaml:"dsn" json:"dsn"`
	Encryption bool   `yaml:"encryption" json:"encryption"`
}

// TransportConfig configures the connection sink used to exchange wire
// messages with peers (in-process loopback or websocket).
type TransportConfig struct {
	Type      string `yaml:"type" json:"type"` // local, websocket
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// KeyStoreConfig represents key storage configuration
type KeyStoreConfig struct {
	Type          string `yaml:"type" json:"type"`
	Directory     string `yaml:"directory" json:"directory"`
	PassphraseEnv string `yaml:"passphrase_env" json:"passphrase_env"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile loads configuration from a file
func LoadFromFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}

	// Try to parse as YAML first
	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Try JSON if YAML fails
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	// Set defaults
	setDefaults(cfg)

	return cfg, nil
}

// SaveToFile saves configuration to a file
func SaveToFile(cfg *Config, path string) error {
	// Determine format by extension
	var data []byte
	var err error

	if len(path) >= 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Team != nil {
		if cfg.Team.DataDir == "" {
			cfg.Team.DataDir = ".teamgraph"
		}
		if cfg.Team.PendingTTL == 0 {
			cfg.Team.PendingTTL = 15 * time.Minute
		}
		if cfg.Team.CleanupEvery == 0 {
			cfg.Team.CleanupEvery = 10 * time.Minute
		}
	}

	if cfg.Storage != nil {
		if cfg.Storage.Type == "" {
			cfg.Storage.Type = "memory"
		}
	}

	if cfg.Transport != nil {
		if cfg.Transport.Type == "" {
			cfg.Transport.Type = "local"
		}
	}

	if cfg.KeyStore != nil {
		if cfg.KeyStore.Type == "" {
			cfg.KeyStore.Type = "encrypted-file"
		}
		if cfg.KeyStore.Directory == "" {
			cfg.KeyStore.Directory = ".teamgraph/keys"
		}
	}

	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stdout"
		}
	}
}
