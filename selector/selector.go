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

// Package selector picks the wallet outputs a new transaction may spend.
//
// Outputs already consumed by an unconfirmed transaction are excluded. When
// the remaining balance is below the configured minimum the selector waits
// and tries again, returning whatever it last saw once attempts run out.
package selector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/palmyra/internal/clock"
)

const (
	DefaultMinLovelace uint64 = 20_000_000
	DefaultMaxAttempts        = 6
	DefaultRetryDelay         = 10 * time.Second
)

type Config struct {
	Logger  *slog.Logger
	Fetcher chain.UtxoFetcher
	// Mempool may be nil, in which case no outputs are excluded
	Mempool     chain.MempoolReader
	Address     string
	MinLovelace uint64
	MaxAttempts int
	RetryDelay  time.Duration
	// Sleep defaults to clock.SleepWithContext
	Sleep clock.SleepFunc
}

// ConfirmationTracker is implemented by mempools that forget transactions
// once the wallet outputs they spent leave the chain's UTxO set
type ConfirmationTracker interface {
	PruneConfirmed(walletUtxos []chain.Utxo) int
}

type Selector struct {
	config Config
	logger *slog.Logger
}

func New(cfg Config) (*Selector, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("selector: no UTxO fetcher configured")
	}
	if cfg.Address == "" {
		return nil, errors.New("selector: no wallet address configured")
	}
	if cfg.MinLovelace == 0 {
		cfg.MinLovelace = DefaultMinLovelace
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = clock.SleepWithContext
	}
	s := &Selector{config: cfg}
	if cfg.Logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		s.logger = cfg.Logger.With("component", "selector")
	}
	return s, nil
}

// Select runs the full selection cycle with the configured threshold
func (s *Selector) Select(ctx context.Context) ([]chain.Utxo, error) {
	return s.SelectWith(ctx, s.config.MinLovelace, s.config.MaxAttempts)
}

// SelectWith fetches the wallet outputs, drops those pending in the mempool,
// and retries after a fixed delay while their total is below minLovelace.
// A fetch failure counts as an attempt. Insufficient funds are never an
// error: the last usable set is returned. Only context cancellation fails.
func (s *Selector) SelectWith(
	ctx context.Context,
	minLovelace uint64,
	maxAttempts int,
) ([]chain.Utxo, error) {
	var usable []chain.Utxo
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		utxos, err := s.usable(ctx)
		if err != nil {
			s.logger.Error(
				"failed to fetch wallet utxos",
				"attempt", attempt,
				"error", err,
			)
		} else {
			usable = utxos
			total := chain.TotalLovelace(usable)
			if total >= minLovelace {
				s.logger.Debug(
					"selected wallet utxos",
					"attempt", attempt,
					"count", len(usable),
					"lovelace", total,
				)
				return usable, nil
			}
			s.logger.Warn(
				fmt.Sprintf(
					"attempt %d: no available utxos found, retrying in %s",
					attempt,
					s.config.RetryDelay,
				),
				"lovelace", total,
				"min_lovelace", minLovelace,
			)
		}
		if attempt == maxAttempts {
			break
		}
		if err := s.config.Sleep(ctx, s.config.RetryDelay); err != nil {
			return usable, err
		}
	}
	return usable, nil
}

// Once performs a single fetch for dry-run builds. A mempool read failure is
// logged and ignored.
func (s *Selector) Once(ctx context.Context) ([]chain.Utxo, error) {
	utxos, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if s.config.Mempool == nil {
		return utxos, nil
	}
	pending, err := s.config.Mempool.PendingInputs(ctx)
	if err != nil {
		s.logger.Warn("failed to read mempool, using unfiltered utxos", "error", err)
		return utxos, nil
	}
	return chain.ExcludeOutRefs(utxos, pending), nil
}

func (s *Selector) usable(ctx context.Context) ([]chain.Utxo, error) {
	utxos, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if s.config.Mempool == nil {
		return utxos, nil
	}
	pending, err := s.config.Mempool.PendingInputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("read mempool: %w", err)
	}
	return chain.ExcludeOutRefs(utxos, pending), nil
}

// fetch lists the wallet outputs and lets the mempool forget confirmed
// transactions before pending inputs are read
func (s *Selector) fetch(ctx context.Context) ([]chain.Utxo, error) {
	utxos, err := s.config.Fetcher.UtxosByAddress(ctx, s.config.Address)
	if err != nil {
		return nil, fmt.Errorf("fetch wallet utxos: %w", err)
	}
	if tracker, ok := s.config.Mempool.(ConfirmationTracker); ok {
		if n := tracker.PruneConfirmed(utxos); n > 0 {
			s.logger.Debug(
				"dropped confirmed mempool transactions",
				"count", n,
			)
		}
	}
	return utxos, nil
}
