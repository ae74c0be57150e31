// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mdpconfig loads broker and worker configuration from YAML files.
package mdpconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML fields can be written as "5s"
// instead of raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string ("1s", "500ms").
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration back out in Go duration-string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// BrokerConfig is the on-disk shape of a broker's configuration file.
type BrokerConfig struct {
	Broker struct {
		BindAddr          string   `yaml:"bind_addr"`
		PollInterval      Duration `yaml:"poll_interval"`
		RequestTimeout    Duration `yaml:"request_timeout"`
		HeartbeatInterval Duration `yaml:"heartbeat_interval"`
		HeartbeatLiveness int      `yaml:"heartbeat_liveness"`
	} `yaml:"broker"`

	Admin struct {
		Enabled        bool   `yaml:"enabled"`
		ListenAddr     string `yaml:"listen_addr"`
		JWTSecret      string `yaml:"jwt_secret"`
		HashedPassword string `yaml:"hashed_password"`
	} `yaml:"admin"`

	Audit struct {
		Enabled bool   `yaml:"enabled"`
		DBPath  string `yaml:"db_path"`
	} `yaml:"audit"`
}

// WorkerConfig is the on-disk shape of a worker's configuration file.
type WorkerConfig struct {
	Worker struct {
		BrokerAddr        string   `yaml:"broker_addr"`
		Service           string   `yaml:"service"`
		PollInterval      Duration `yaml:"poll_interval"`
		HeartbeatInterval Duration `yaml:"heartbeat_interval"`
		HeartbeatLiveness int      `yaml:"heartbeat_liveness"`
		ReconnectDelay    Duration `yaml:"reconnect_delay"`
	} `yaml:"worker"`
}

// LoadBrokerConfig reads and validates a broker configuration file.
func LoadBrokerConfig(path string) (*BrokerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read broker config: %w", err)
	}

	cfg := DefaultBrokerConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse broker config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("broker config invalid: %w", err)
	}
	return cfg, nil
}

// DefaultBrokerConfig returns a config carrying the protocol's defaults
// (§6), so a YAML file only needs to override what it cares about.
func DefaultBrokerConfig() *BrokerConfig {
	cfg := &BrokerConfig{}
	cfg.Broker.BindAddr = "tcp://*:5555"
	cfg.Broker.PollInterval = Duration(1 * time.Second)
	cfg.Broker.RequestTimeout = Duration(5 * time.Second)
	cfg.Broker.HeartbeatInterval = Duration(1 * time.Second)
	cfg.Broker.HeartbeatLiveness = 3
	cfg.Admin.ListenAddr = "127.0.0.1:8766"
	return cfg
}

// Validate checks required fields and rejects nonsensical durations.
func (c *BrokerConfig) Validate() error {
	if c.Broker.BindAddr == "" {
		return fmt.Errorf("broker.bind_addr is required")
	}
	if c.Broker.HeartbeatLiveness < 1 {
		return fmt.Errorf("broker.heartbeat_liveness must be at least 1")
	}
	if c.Broker.PollInterval <= 0 || c.Broker.RequestTimeout <= 0 || c.Broker.HeartbeatInterval <= 0 {
		return fmt.Errorf("broker poll/request/heartbeat intervals must be positive")
	}
	if c.Admin.Enabled && c.Admin.ListenAddr == "" {
		return fmt.Errorf("admin.listen_addr is required when admin.enabled is true")
	}
	if c.Audit.Enabled && c.Audit.DBPath == "" {
		return fmt.Errorf("audit.db_path is required when audit.enabled is true")
	}
	return nil
}

// Save writes the configuration back out.
func (c *BrokerConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal broker config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadWorkerConfig reads and validates a worker configuration file.
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worker config: %w", err)
	}

	cfg := DefaultWorkerConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse worker config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("worker config invalid: %w", err)
	}
	return cfg, nil
}

// DefaultWorkerConfig returns a config carrying the protocol's defaults.
func DefaultWorkerConfig() *WorkerConfig {
	cfg := &WorkerConfig{}
	cfg.Worker.BrokerAddr = "tcp://127.0.0.1:5555"
	cfg.Worker.PollInterval = Duration(1 * time.Second)
	cfg.Worker.HeartbeatInterval = Duration(1 * time.Second)
	cfg.Worker.HeartbeatLiveness = 3
	cfg.Worker.ReconnectDelay = Duration(2500 * time.Millisecond)
	return cfg
}

// Validate checks required fields on a worker configuration.
func (c *WorkerConfig) Validate() error {
	if c.Worker.BrokerAddr == "" {
		return fmt.Errorf("worker.broker_addr is required")
	}
	if c.Worker.Service == "" {
		return fmt.Errorf("worker.service is required")
	}
	if c.Worker.HeartbeatLiveness < 1 {
		return fmt.Errorf("worker.heartbeat_liveness must be at least 1")
	}
	return nil
}

// Save writes the configuration back out.
func (c *WorkerConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal worker config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
