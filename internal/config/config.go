// Copyright 2025 Blink Labs Software
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

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "palmyra.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type tempConfig struct {
	Config *yaml.Node `yaml:"config,omitempty"`
}

type DatabaseConfig struct {
	Plugin   string `yaml:"plugin"`
	Dsn      string `yaml:"dsn"      envconfig:"DATABASE_URL"`
	Host     string `yaml:"host"`
	Port     uint   `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SslMode  string `yaml:"sslMode"                           split_words:"true"`
}

type UtxorpcConfig struct {
	URL          string `yaml:"url"`
	Protocol     string `yaml:"protocol"`
	APIKey       string `yaml:"apiKey"       split_words:"true"`
	APIKeyHeader string `yaml:"apiKeyHeader" split_words:"true"`
	Timeout      string `yaml:"timeout"`
}

// ArchiveConfig selects where uploaded metadata documents are copied. An
// empty plugin disables archiving.
type ArchiveConfig struct {
	Plugin          string `yaml:"plugin"`
	Location        string `yaml:"location"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	CredentialsFile string `yaml:"credentialsFile" split_words:"true"`
}

type Config struct {
	Database            DatabaseConfig `yaml:"database"`
	Utxorpc             UtxorpcConfig  `yaml:"utxorpc"`
	Archive             ArchiveConfig  `yaml:"archive"`
	Network             string         `yaml:"network"`
	DatabasePath        string         `yaml:"databasePath"        split_words:"true"`
	BindAddr            string         `yaml:"bindAddr"            split_words:"true"`
	WalletKeyFile       string         `yaml:"walletKeyFile"       split_words:"true"`
	SingletonPolicyFile string         `yaml:"singletonPolicyFile" split_words:"true"`
	ObjectEventFile     string         `yaml:"objectEventFile"     split_words:"true"`
	ProtocolParamsFile  string         `yaml:"protocolParamsFile"  split_words:"true"`
	DeployAddress       string         `yaml:"deployAddress"       split_words:"true"`
	IpfsURL             string         `yaml:"ipfsUrl"             split_words:"true"`
	IpfsTimeout         string         `yaml:"ipfsTimeout"         split_words:"true"`
	SelectorRetryDelay  string         `yaml:"selectorRetryDelay"  split_words:"true"`
	MempoolTTL          string         `yaml:"mempoolTTL"          split_words:"true"`
	JobTimeout          string         `yaml:"jobTimeout"          split_words:"true"`
	ShutdownTimeout     string         `yaml:"shutdownTimeout"     split_words:"true"`
	CommodityLovelace   uint64         `yaml:"commodityLovelace"   split_words:"true"`
	MinLovelace         uint64         `yaml:"minLovelace"         split_words:"true"`
	ApiPort             uint           `yaml:"apiPort"             split_words:"true"`
	MetricsPort         uint           `yaml:"metricsPort"         split_words:"true"`
	RetryAttempts       int            `yaml:"retryAttempts"       split_words:"true"`
	SelectorAttempts    int            `yaml:"selectorAttempts"    split_words:"true"`
	Tracing             bool           `yaml:"tracing"`
	TracingStdout       bool           `yaml:"tracingStdout"       split_words:"true"`
}

// Durations holds the parsed duration settings
type Durations struct {
	UtxorpcTimeout     time.Duration
	IpfsTimeout        time.Duration
	SelectorRetryDelay time.Duration
	MempoolTTL         time.Duration
	JobTimeout         time.Duration
	ShutdownTimeout    time.Duration
}

// ParseDurations validates every duration setting. Empty values are zero,
// which leaves the component default in place.
func (c *Config) ParseDurations() (Durations, error) {
	var ret Durations
	fields := []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{"utxorpc timeout", c.Utxorpc.Timeout, &ret.UtxorpcTimeout},
		{"ipfs timeout", c.IpfsTimeout, &ret.IpfsTimeout},
		{"selector retry delay", c.SelectorRetryDelay, &ret.SelectorRetryDelay},
		{"mempool TTL", c.MempoolTTL, &ret.MempoolTTL},
		{"job timeout", c.JobTimeout, &ret.JobTimeout},
		{"shutdown timeout", c.ShutdownTimeout, &ret.ShutdownTimeout},
	}
	for _, field := range fields {
		if field.value == "" {
			continue
		}
		d, err := time.ParseDuration(field.value)
		if err != nil {
			return Durations{}, fmt.Errorf("invalid %s: %w", field.name, err)
		}
		*field.dest = d
	}
	return ret, nil
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Plugin: "sqlite",
		},
		Utxorpc: UtxorpcConfig{
			Protocol: "grpc",
		},
		Network:             "preview",
		DatabasePath:        ".palmyra",
		BindAddr:            "0.0.0.0",
		WalletKeyFile:       "wallet.skey",
		SingletonPolicyFile: "contracts/singleton.plutus",
		ObjectEventFile:     "contracts/object_event.plutus",
		ApiPort:             3000,
		MetricsPort:         12799,
		RetryAttempts:       3,
		MempoolTTL:          "5m",
		ShutdownTimeout:     DefaultShutdownTimeout,
	}
}

var globalConfig = defaultConfig()

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.palmyra/palmyra.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".palmyra", "palmyra.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/palmyra/palmyra.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/palmyra/palmyra.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}

		var tempCfg tempConfig
		err = yaml.Unmarshal(buf, &tempCfg)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}

		// If config section exists, use it for main config
		if tempCfg.Config != nil {
			// Decoding the node overlays only the keys present in the file
			if err := tempCfg.Config.Decode(globalConfig); err != nil {
				return nil, fmt.Errorf("error parsing config section: %w", err)
			}
		} else {
			err = yaml.Unmarshal(buf, globalConfig)
			if err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}
	}
	// Process environment variables
	err := envconfig.Process("palmyra", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}
	if _, err := globalConfig.ParseDurations(); err != nil {
		return nil, err
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
