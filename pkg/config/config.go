// Copyright 2025 Nodeward Systems GmbH
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

// Package config assembles the daemon configuration from defaults, an
// optional YAML file and the process environment. Environment variables
// take precedence over the file, the file over defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nodeward/nodeward/pkg/constants"
	"github.com/nodeward/nodeward/pkg/env"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config holds the full runtime configuration of the watcher daemon.
type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Health   HealthConfig   `yaml:"health"`
	Timing   Timing         `yaml:"-"`
}

// NodeConfig points the watcher at the chain node under observation.
type NodeConfig struct {
	// APIURL is the base URL of the node's REST API, e.g. http://localhost:1317.
	APIURL string `yaml:"apiUrl"`
	// PollInterval is the delay between watch cycles while nothing is due.
	PollInterval time.Duration `yaml:"pollInterval"`
}

// PipelineConfig describes the CI pipeline that performs the upgrade.
type PipelineConfig struct {
	// APIURL is the base URL of the CI server, e.g. https://gitlab.example.com.
	APIURL string `yaml:"apiUrl"`
	// ProjectID identifies the CI project, numeric ID or URL-encoded path.
	ProjectID string `yaml:"projectId"`
	// Ref is the branch or tag the pipeline runs against.
	Ref string `yaml:"ref"`
	// TriggerToken authenticates the trigger request (form field).
	TriggerToken string `yaml:"triggerToken"`
	// AccessToken authenticates status polling (PRIVATE-TOKEN header).
	AccessToken string `yaml:"accessToken"`
	// Variables are passed to the pipeline as variables[KEY]=VALUE.
	Variables map[string]string `yaml:"variables"`
}

// HealthConfig configures the embedded health and metrics server.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// Timing groups the fixed cadences of the watch loop. They are not
// environment-tunable; they live here so tests can shrink them.
type Timing struct {
	// LongPollDelay is requested after a failed identity or liveness check.
	LongPollDelay time.Duration
	// QuietPeriod is the settle time after a pipeline reaches a terminal status.
	QuietPeriod time.Duration
	// CycleRetryDelay is applied by the control loop after a cycle error.
	CycleRetryDelay time.Duration
	// StatusPollInterval is the delay between pipeline status fetches.
	StatusPollInterval time.Duration
}

// DefaultConfig returns the configuration before any file or environment
// overrides are applied.
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{
			PollInterval: constants.DefaultPollInterval,
		},
		Pipeline: PipelineConfig{
			Variables: map[string]string{},
		},
		Health: HealthConfig{
			Port: constants.DefaultHealthPort,
		},
		Timing: Timing{
			LongPollDelay:      constants.LongPollDelay,
			QuietPeriod:        constants.PostUpgradeQuietPeriod,
			CycleRetryDelay:    constants.CycleRetryDelay,
			StatusPollInterval: constants.PipelineStatusPollInterval,
		},
	}
}

// Load assembles the configuration. An optional YAML file is read from the
// path in CONFIG_PATH; a set CONFIG_PATH pointing at an unreadable file is
// an error, an unset one is not. The merged result is validated before it
// is returned.
func Load(log *zap.SugaredLogger) (Config, error) {
	cfg := DefaultConfig()

	path, _ := env.GetAsString("CONFIG_PATH", false, "")
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if cfg.Pipeline.Variables == nil {
			cfg.Pipeline.Variables = map[string]string{}
		}
		if log != nil {
			log.Infof("Loaded configuration file %s", path)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyEnvOverrides copies set environment variables over the current
// values. Variables from PIPELINE_VARIABLES are merged key by key over
// file-provided ones.
func (c *Config) applyEnvOverrides() error {
	overrideString("NODE_API_URL", &c.Node.APIURL)
	overrideString("PIPELINE_API_URL", &c.Pipeline.APIURL)
	overrideString("PIPELINE_PROJECT_ID", &c.Pipeline.ProjectID)
	overrideString("PIPELINE_REF", &c.Pipeline.Ref)
	overrideString("PIPELINE_TRIGGER_TOKEN", &c.Pipeline.TriggerToken)
	overrideString("PIPELINE_ACCESS_TOKEN", &c.Pipeline.AccessToken)

	if err := overrideDuration("POLL_INTERVAL", &c.Node.PollInterval); err != nil {
		return err
	}
	if err := overrideInt("HEALTH_PORT", &c.Health.Port); err != nil {
		return err
	}

	if raw := os.Getenv("PIPELINE_VARIABLES"); raw != "" {
		variables, err := ParseVariables(raw)
		if err != nil {
			return fmt.Errorf("invalid PIPELINE_VARIABLES: %w", err)
		}
		for key, value := range variables {
			c.Pipeline.Variables[key] = value
		}
	}

	return nil
}

// Validate rejects configurations the watcher cannot run with.
func (c Config) Validate() error {
	if c.Node.APIURL == "" {
		return fmt.Errorf("node API URL is required (NODE_API_URL)")
	}
	if c.Node.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.Node.PollInterval)
	}
	if c.Pipeline.APIURL == "" {
		return fmt.Errorf("pipeline API URL is required (PIPELINE_API_URL)")
	}
	if c.Pipeline.ProjectID == "" {
		return fmt.Errorf("pipeline project ID is required (PIPELINE_PROJECT_ID)")
	}
	if c.Pipeline.Ref == "" {
		return fmt.Errorf("pipeline ref is required (PIPELINE_REF)")
	}
	if c.Pipeline.TriggerToken == "" {
		return fmt.Errorf("pipeline trigger token is required (PIPELINE_TRIGGER_TOKEN)")
	}
	if c.Pipeline.AccessToken == "" {
		return fmt.Errorf("pipeline access token is required (PIPELINE_ACCESS_TOKEN)")
	}
	if c.Health.Port <= 0 || c.Health.Port > 65535 {
		return fmt.Errorf("health port must be in 1..65535, got %d", c.Health.Port)
	}
	return nil
}

// Redacted returns a copy with credentials masked, safe for logging.
func (c Config) Redacted() Config {
	redacted := c
	if redacted.Pipeline.TriggerToken != "" {
		redacted.Pipeline.TriggerToken = "[REDACTED]"
	}
	if redacted.Pipeline.AccessToken != "" {
		redacted.Pipeline.AccessToken = "[REDACTED]"
	}
	return redacted
}

// ParseVariables parses a comma-separated K=V list such as
// "CHAIN=gaia,ENV=mainnet". Empty segments are skipped; a segment without
// '=' or with an empty key is an error.
func ParseVariables(raw string) (map[string]string, error) {
	variables := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("variable %q is not of the form KEY=VALUE", pair)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("variable %q has an empty key", pair)
		}
		variables[key] = strings.TrimSpace(value)
	}
	return variables, nil
}

func overrideString(key string, dst *string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func overrideDuration(key string, dst *time.Duration) error {
	if os.Getenv(key) == "" {
		return nil
	}
	value, err := env.GetAsDuration(key, true, *dst)
	if err != nil {
		return err
	}
	*dst = value
	return nil
}

func overrideInt(key string, dst *int) error {
	if os.Getenv(key) == "" {
		return nil
	}
	value, err := env.GetAsInt(key, true, *dst)
	if err != nil {
		return err
	}
	*dst = value
	return nil
}
