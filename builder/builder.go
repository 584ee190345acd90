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

// Package builder turns commodity operations into signed and, optionally,
// submitted transactions.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blinklabs-io/palmyra/chain"
)

var (
	ErrProviderQuery     = errors.New("chain provider query failed")
	ErrDatumDecode       = errors.New("datum decode failed")
	ErrLengthMismatch    = errors.New("utxo and data reference lengths differ")
	ErrSameDataReference = errors.New("new data reference matches current")
)

// LengthMismatchError reports a recreate request whose arrays differ in length
type LengthMismatchError struct {
	Utxos          int
	DataReferences int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf(
		"utxo(s) of length %d should match data array of length %d",
		e.Utxos,
		e.DataReferences,
	)
}

func (e *LengthMismatchError) Unwrap() error {
	return ErrLengthMismatch
}

// UtxoSelector supplies spendable wallet outputs
type UtxoSelector interface {
	Select(ctx context.Context) ([]chain.Utxo, error)
	Once(ctx context.Context) ([]chain.Utxo, error)
}

// Wallet is the service signing identity
type Wallet interface {
	chain.Signer
	Address() string
	KeyHashHex() string
}

// TxBuilder assembles transactions against a fixed pair of contracts
type TxBuilder interface {
	chain.TxBuilder
	ContractAddress() string
	PolicyID() string
}

// PendingTracker is told about every submitted transaction
type PendingTracker interface {
	AddTransaction(tx *chain.SignedTx)
}

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Provider     interface {
		chain.UtxoFetcher
		chain.Submitter
	}
	Selector  UtxoSelector
	TxBuilder TxBuilder
	Wallet    Wallet
	// Pending may be nil
	Pending PendingTracker
}

type Builder struct {
	config  Config
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics struct {
		builds       *prometheus.CounterVec
		submits      prometheus.Counter
		submitErrors prometheus.Counter
	}
}

func New(cfg Config) (*Builder, error) {
	if cfg.Provider == nil {
		return nil, errors.New("builder: no chain provider configured")
	}
	if cfg.Selector == nil {
		return nil, errors.New("builder: no utxo selector configured")
	}
	if cfg.TxBuilder == nil {
		return nil, errors.New("builder: no transaction builder configured")
	}
	if cfg.Wallet == nil {
		return nil, errors.New("builder: no wallet configured")
	}
	b := &Builder{
		config: cfg,
		tracer: otel.Tracer("github.com/blinklabs-io/palmyra/builder"),
	}
	if cfg.Logger == nil {
		b.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		b.logger = cfg.Logger.With("component", "builder")
	}
	factory := promauto.With(cfg.PromRegistry)
	b.metrics.builds = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palmyra_builder_builds_total",
			Help: "transactions built by operation and mode",
		},
		[]string{"operation", "mode"},
	)
	b.metrics.submits = factory.NewCounter(prometheus.CounterOpts{
		Name: "palmyra_builder_submits_total",
		Help: "transactions accepted for submission",
	})
	b.metrics.submitErrors = factory.NewCounter(prometheus.CounterOpts{
		Name: "palmyra_builder_submit_errors_total",
		Help: "transactions rejected on submission",
	})
	return b, nil
}

// ContractAddress is the address commodity outputs are locked at
func (b *Builder) ContractAddress() string {
	return b.config.TxBuilder.ContractAddress()
}

func (b *Builder) walletUtxos(ctx context.Context, submit bool) ([]chain.Utxo, error) {
	if submit {
		return b.config.Selector.Select(ctx)
	}
	utxos, err := b.config.Selector.Once(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderQuery, err)
	}
	return utxos, nil
}

// resolve fetches the outputs named by refs, in request order
func (b *Builder) resolve(ctx context.Context, refs []chain.OutRef) ([]chain.Utxo, error) {
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return nil, err
		}
	}
	utxos, err := b.config.Provider.UtxosByRef(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderQuery, err)
	}
	return utxos, nil
}

// finish signs tx and, when submit is set, broadcasts it. The returned hash is
// the one reported by the chain provider for submitted transactions.
func (b *Builder) finish(
	ctx context.Context,
	op string,
	tx *chain.UnsignedTx,
	submit bool,
) (string, error) {
	signed, err := b.config.Wallet.Sign(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	mode := "dry-run"
	if submit {
		mode = "submit"
	}
	b.metrics.builds.WithLabelValues(op, mode).Inc()
	if !submit {
		b.logger.Debug(
			"built transaction",
			"operation", op,
			"tx_hash", signed.Hash,
			"size", len(signed.Cbor),
		)
		return signed.Hash, nil
	}
	txid, err := b.config.Provider.Submit(ctx, signed)
	if err != nil {
		b.metrics.submitErrors.Inc()
		return "", fmt.Errorf("submit transaction: %w", err)
	}
	b.metrics.submits.Inc()
	if b.config.Pending != nil {
		b.config.Pending.AddTransaction(signed)
	}
	b.logger.Info(
		"submitted transaction",
		"operation", op,
		"tx_hash", txid,
	)
	return txid, nil
}

func (b *Builder) startSpan(ctx context.Context, op string, submit bool) (context.Context, trace.Span) {
	return b.tracer.Start(
		ctx,
		"builder."+op,
		trace.WithAttributes(attribute.Bool("palmyra.submit", submit)),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
