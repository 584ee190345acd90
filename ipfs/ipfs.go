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

// Package ipfs publishes event metadata documents to an IPFS node
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ipfs/go-cid"

	"github.com/blinklabs-io/palmyra/archive"
)

const (
	DefaultURL     = "http://127.0.0.1:5001"
	defaultTimeout = 60 * time.Second
)

var (
	ErrInvalidDocument = errors.New("ipfs: document is not valid JSON")
	ErrUpload          = errors.New("ipfs: upload failed")
)

type Config struct {
	Logger *slog.Logger
	// URL of the IPFS HTTP API
	URL     string
	Timeout time.Duration
	// Archive receives a copy of every uploaded document and may be nil
	Archive archive.Archive
}

// Uploader adds and pins documents through the IPFS HTTP API
type Uploader struct {
	logger  *slog.Logger
	shell   *shell.Shell
	archive archive.Archive
}

func New(cfg Config) *Uploader {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	sh := shell.NewShell(cfg.URL)
	sh.SetTimeout(cfg.Timeout)
	return &Uploader{
		logger:  cfg.Logger.With("component", "ipfs"),
		shell:   sh,
		archive: cfg.Archive,
	}
}

// Upload pins doc and returns its content identifier
func (u *Uploader) Upload(ctx context.Context, doc []byte) (string, error) {
	if !json.Valid(doc) {
		return "", ErrInvalidDocument
	}
	hash, err := u.shell.Add(bytes.NewReader(doc), shell.Pin(true))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	c, err := cid.Decode(hash)
	if err != nil {
		return "", fmt.Errorf("%w: invalid cid %q: %w", ErrUpload, hash, err)
	}
	key := c.String()
	if u.archive != nil {
		if err := u.archive.Put(ctx, key, doc); err != nil {
			u.logger.Warn(
				"failed to archive metadata document",
				"cid", key,
				"error", err,
			)
		}
	}
	u.logger.Info(
		"uploaded metadata document",
		"cid", key,
		"size", len(doc),
	)
	return key, nil
}
