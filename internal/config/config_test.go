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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetGlobalConfig(t *testing.T) {
	t.Helper()
	globalConfig = defaultConfig()
	// Keep any real ~/.palmyra/palmyra.yaml out of the test
	t.Setenv("HOME", t.TempDir())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "palmyra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	resetGlobalConfig(t)
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	resetGlobalConfig(t)
	path := writeConfig(t, `
network: preprod
apiPort: 8080
retryAttempts: 5
database:
  plugin: postgres
  host: db.internal
utxorpc:
  url: https://preprod.utxorpc.example
  apiKey: secret
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "preprod", cfg.Network)
	assert.Equal(t, uint(8080), cfg.ApiPort)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, "postgres", cfg.Database.Plugin)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "https://preprod.utxorpc.example", cfg.Utxorpc.URL)
	assert.Equal(t, "secret", cfg.Utxorpc.APIKey)
	// Untouched keys keep their defaults
	assert.Equal(t, "grpc", cfg.Utxorpc.Protocol)
	assert.Equal(t, uint(12799), cfg.MetricsPort)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
}

func TestLoadConfigSection(t *testing.T) {
	resetGlobalConfig(t)
	path := writeConfig(t, `
config:
  databasePath: /var/lib/palmyra
  ipfsUrl: http://ipfs:5001
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/palmyra", cfg.DatabasePath)
	assert.Equal(t, "http://ipfs:5001", cfg.IpfsURL)
	assert.Equal(t, "preview", cfg.Network)
	assert.Equal(t, uint(3000), cfg.ApiPort)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	resetGlobalConfig(t)
	path := writeConfig(t, "apiPort: 8080\n")
	t.Setenv("PALMYRA_API_PORT", "9000")
	t.Setenv("PALMYRA_UTXORPC_URL", "http://localhost:50051")
	t.Setenv("PALMYRA_UTXORPC_API_KEY", "from-env")
	t.Setenv("DATABASE_URL", "postgres://palmyra@db/palmyra")
	t.Setenv("PALMYRA_ARCHIVE_PLUGIN", "s3")
	t.Setenv("PALMYRA_JOB_TIMEOUT", "90s")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint(9000), cfg.ApiPort)
	assert.Equal(t, "http://localhost:50051", cfg.Utxorpc.URL)
	assert.Equal(t, "from-env", cfg.Utxorpc.APIKey)
	assert.Equal(t, "postgres://palmyra@db/palmyra", cfg.Database.Dsn)
	assert.Equal(t, "s3", cfg.Archive.Plugin)
	durations, err := cfg.ParseDurations()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, durations.JobTimeout)
	assert.Equal(t, 5*time.Minute, durations.MempoolTTL)
	assert.Equal(t, 30*time.Second, durations.ShutdownTimeout)
	assert.Zero(t, durations.IpfsTimeout)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	resetGlobalConfig(t)
	path := writeConfig(t, "jobTimeout: soon\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid job timeout")
}

func TestLoadMissingFile(t *testing.T) {
	resetGlobalConfig(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	cfg := defaultConfig()
	ctx := WithContext(context.Background(), cfg)
	assert.Same(t, cfg, FromContext(ctx))
}
