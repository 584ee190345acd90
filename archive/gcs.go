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

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsStartupTimeout = 30 * time.Second

type gcsArchive struct {
	logger *slog.Logger
	client *storage.Client
	bucket *storage.BucketHandle
}

// parseGCSLocation extracts the bucket from gcs://<bucket>
func parseGCSLocation(location string) (string, error) {
	bucket, ok := strings.CutPrefix(location, "gcs://")
	if !ok || bucket == "" || strings.Contains(bucket, "/") {
		return "", fmt.Errorf("archive: expected location 'gcs://<bucket>', got %q", location)
	}
	return bucket, nil
}

// validateCredentials checks that an explicitly configured credentials file
// can be read
func validateCredentials(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("gcs credentials file does not exist: %s", path)
		}
		return fmt.Errorf("gcs credentials file: %w", err)
	}
	return nil
}

func newGCSArchive(ctx context.Context, cfg Config) (*gcsArchive, error) {
	bucket, err := parseGCSLocation(cfg.Location)
	if err != nil {
		return nil, err
	}
	if err := validateCredentials(cfg.CredentialsFile); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsStartupTimeout)
	defer cancel()
	clientOpts := []option.ClientOption{storage.WithDisabledClientMetrics()}
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewGRPCClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: create gcs client: %w", err)
	}
	return &gcsArchive{
		logger: cfg.Logger,
		client: client,
		bucket: client.Bucket(bucket),
	}, nil
}

func (g *gcsArchive) Put(ctx context.Context, key string, data []byte) error {
	w := g.bucket.Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("archive: gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive: gcs write %s: %w", key, err)
	}
	g.logger.Debug(fmt.Sprintf("gcs put %q ok (%d bytes)", key, len(data)))
	return nil
}

func (g *gcsArchive) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("archive: gcs read %s: %w", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("archive: gcs read %s: %w", key, err)
	}
	return data, nil
}

func (g *gcsArchive) Close() error {
	return g.client.Close()
}
