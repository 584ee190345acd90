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

// Package archive keeps a copy of uploaded metadata documents keyed by their
// content identifier
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	PluginBadger = "badger"
	PluginGCS    = "gcs"
	PluginS3     = "s3"
)

var (
	ErrNotFound      = errors.New("archive: document not found")
	ErrUnknownPlugin = errors.New("archive: unknown plugin")
)

// Archive is a write-once document store
type Archive interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Plugin       string
	// DataDir holds the badger plugin's files. Empty keeps them in memory.
	DataDir string
	// Location is gcs://<bucket> or s3://<bucket>[/prefix]
	Location        string
	Region          string
	Endpoint        string
	CredentialsFile string
}

// New opens the archive named by cfg.Plugin
func New(ctx context.Context, cfg Config) (Archive, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	cfg.Logger = cfg.Logger.With("component", "archive", "plugin", cfg.Plugin)
	var (
		store Archive
		err   error
	)
	switch cfg.Plugin {
	case PluginBadger:
		store, err = newBadgerArchive(cfg)
	case PluginGCS:
		store, err = newGCSArchive(ctx, cfg)
	case PluginS3:
		store, err = newS3Archive(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, cfg.Plugin)
	}
	if err != nil {
		return nil, err
	}
	return newInstrumented(store, cfg.Plugin, cfg.PromRegistry), nil
}

type instrumented struct {
	Archive
	ops   *prometheus.CounterVec
	bytes *prometheus.CounterVec
}

func newInstrumented(store Archive, plugin string, reg prometheus.Registerer) *instrumented {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"plugin": plugin}
	return &instrumented{
		Archive: store,
		ops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "palmyra_archive_ops_total",
				Help:        "archive operations by kind and result",
				ConstLabels: labels,
			},
			[]string{"op", "result"},
		),
		bytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "palmyra_archive_bytes_total",
				Help:        "bytes read from and written to the archive",
				ConstLabels: labels,
			},
			[]string{"op"},
		),
	}
}

func (i *instrumented) Put(ctx context.Context, key string, data []byte) error {
	err := i.Archive.Put(ctx, key, data)
	i.observe("put", err)
	if err == nil {
		i.bytes.WithLabelValues("put").Add(float64(len(data)))
	}
	return err
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := i.Archive.Get(ctx, key)
	i.observe("get", err)
	if err == nil {
		i.bytes.WithLabelValues("get").Add(float64(len(data)))
	}
	return data, err
}

func (i *instrumented) observe(op string, err error) {
	result := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	i.ops.WithLabelValues(op, result).Inc()
}
