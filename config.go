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

package palmyra

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/palmyra/archive"
	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/palmyra/database"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultShutdownTimeout = 30 * time.Second

type Config struct {
	promRegistry prometheus.Registerer
	logger       *slog.Logger
	network      string
	dataDir      string
	database     database.Config
	archive      archive.Config
	// UTxO RPC provider
	utxorpcURL          string
	utxorpcProtocol     string
	utxorpcAPIKey       string
	utxorpcAPIKeyHeader string
	utxorpcTimeout      time.Duration
	// Signing key and validator scripts
	walletKeyFile       string
	singletonPolicyFile string
	objectEventFile     string
	protocolParamsFile  string
	// deployAddress receives reference script deployments. Empty uses the
	// wallet address.
	deployAddress     string
	apiListenAddress  string
	ipfsURL           string
	ipfsTimeout       time.Duration
	retryAttempts     int
	commodityLovelace uint64
	minLovelace       uint64
	selectAttempts    int
	selectRetryDelay  time.Duration
	mempoolTTL        time.Duration
	jobTimeout        time.Duration
	tracing           bool
	tracingStdout     bool
	shutdownTimeout   time.Duration
}

func (n *Node) configValidate() error {
	if _, err := chain.NetworkMagic(n.config.network); err != nil {
		return err
	}
	if n.config.utxorpcURL == "" {
		return errors.New("no UTxO RPC URL configured")
	}
	if n.config.walletKeyFile == "" {
		return errors.New("no wallet key file configured")
	}
	if n.config.singletonPolicyFile == "" || n.config.objectEventFile == "" {
		return errors.New("singleton policy and object event script files are required")
	}
	if n.config.retryAttempts < 0 {
		return errors.New("retry attempts must not be negative")
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new palmyra config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
		network: "preview",
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. The default discards all output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithNetwork specifies the named Cardano network used for addresses
func WithNetwork(network string) ConfigOptionFunc {
	return func(c *Config) {
		c.network = network
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithDatabaseConfig specifies the relational store settings. DataDir and
// Logger are filled in by the node.
func WithDatabaseConfig(cfg database.Config) ConfigOptionFunc {
	return func(c *Config) {
		c.database = cfg
	}
}

// WithArchiveConfig enables copying uploaded metadata documents to the
// archive plugin named in cfg
func WithArchiveConfig(cfg archive.Config) ConfigOptionFunc {
	return func(c *Config) {
		c.archive = cfg
	}
}

// WithUtxorpc specifies the UTxO RPC endpoint and wire protocol
func WithUtxorpc(url string, protocol string) ConfigOptionFunc {
	return func(c *Config) {
		c.utxorpcURL = url
		c.utxorpcProtocol = protocol
	}
}

// WithUtxorpcAPIKey sets a key sent in header on every UTxO RPC call
func WithUtxorpcAPIKey(header string, key string) ConfigOptionFunc {
	return func(c *Config) {
		c.utxorpcAPIKeyHeader = header
		c.utxorpcAPIKey = key
	}
}

func WithUtxorpcTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.utxorpcTimeout = timeout
	}
}

// WithWalletKeyFile specifies the service signing key. The file may be
// encrypted with sops.
func WithWalletKeyFile(path string) ConfigOptionFunc {
	return func(c *Config) {
		c.walletKeyFile = path
	}
}

// WithScriptFiles specifies the text envelopes of the singleton minting
// policy and the object event validator
func WithScriptFiles(singletonPolicy string, objectEvent string) ConfigOptionFunc {
	return func(c *Config) {
		c.singletonPolicyFile = singletonPolicy
		c.objectEventFile = objectEvent
	}
}

// WithProtocolParamsFile specifies a JSON protocol parameters file. Built-in
// values are used when empty.
func WithProtocolParamsFile(path string) ConfigOptionFunc {
	return func(c *Config) {
		c.protocolParamsFile = path
	}
}

func WithDeployAddress(address string) ConfigOptionFunc {
	return func(c *Config) {
		c.deployAddress = address
	}
}

// WithApiListenAddress specifies the listen address for the REST API
func WithApiListenAddress(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = addr
	}
}

// WithIpfs specifies the IPFS HTTP API used for metadata uploads. An empty
// URL disables the upload endpoint.
func WithIpfs(url string, timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.ipfsURL = url
		c.ipfsTimeout = timeout
	}
}

// WithRetryAttempts specifies how many times a queued build is retried
// after the first attempt
func WithRetryAttempts(attempts int) ConfigOptionFunc {
	return func(c *Config) {
		c.retryAttempts = attempts
	}
}

func WithCommodityLovelace(lovelace uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.commodityLovelace = lovelace
	}
}

// WithSelector tunes wallet output selection: the minimum usable output
// value, the number of attempts and the delay between them
func WithSelector(minLovelace uint64, attempts int, retryDelay time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.minLovelace = minLovelace
		c.selectAttempts = attempts
		c.selectRetryDelay = retryDelay
	}
}

func WithMempoolTTL(ttl time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.mempoolTTL = ttl
	}
}

// WithJobTimeout bounds a single queued job. Zero disables the bound.
func WithJobTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.jobTimeout = timeout
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
