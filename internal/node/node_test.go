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

package node

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/palmyra"
	"github.com/blinklabs-io/palmyra/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Network:             "preview",
		BindAddr:            "127.0.0.1",
		ApiPort:             3000,
		WalletKeyFile:       "wallet.skey",
		SingletonPolicyFile: "singleton.plutus",
		ObjectEventFile:     "object_event.plutus",
		Utxorpc: config.UtxorpcConfig{
			URL:    "http://localhost:50051",
			APIKey: "secret",
		},
		Database: config.DatabaseConfig{
			Password: "hunter2",
		},
		JobTimeout: "2m",
	}
}

func TestOptionsBuildValidNode(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	opts, err := Options(testConfig(), logger)
	require.NoError(t, err)
	n, err := palmyra.New(palmyra.NewConfig(opts...))
	require.NoError(t, err)
	require.NoError(t, n.Stop())
}

func TestOptionsRejectBadDuration(t *testing.T) {
	cfg := testConfig()
	cfg.MempoolTTL = "forever"
	_, err := Options(cfg, slog.Default())
	require.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := testConfig()
	ret := redacted(cfg)
	assert.Equal(t, "REDACTED", ret.Utxorpc.APIKey)
	assert.Equal(t, "REDACTED", ret.Database.Password)
	assert.Empty(t, ret.Database.Dsn)
	// cfg itself keeps the secrets
	assert.Equal(t, "secret", cfg.Utxorpc.APIKey)
}
