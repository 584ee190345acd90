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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/blinklabs-io/palmyra/builder"
	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/palmyra/database"
	"github.com/blinklabs-io/palmyra/database/models"
)

// Dispatch operations
const (
	OpTokenize = "tokenize"
	OpRecreate = "recreate"
	OpSpend    = "spend"
)

// DispatchError reports a request rejected by its pre-flight build. Nothing
// durable was recorded for it.
type DispatchError struct {
	Op  string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s dry run failed: %v", e.Op, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Commodities is the transaction surface used to dry-run and settle requests
type Commodities interface {
	Mint(ctx context.Context, p builder.MintParams, submit bool) (*builder.MintResult, error)
	DeployRef(ctx context.Context, p builder.DeployParams, submit bool) (*builder.DeployResult, error)
	Recreate(ctx context.Context, p builder.RecreateParams, submit bool) (string, error)
	Spend(ctx context.Context, p builder.SpendParams, submit bool) (string, error)
}

// Enqueuer appends a job to the ordered execution queue
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) (uint64, error)
}

// GatewayStore is the persistence used while accepting requests
type GatewayStore interface {
	CreateCheck(ctx context.Context, check *models.Check) error
	DeploymentByContractAddress(ctx context.Context, address string) (*models.Deployment, error)
}

type GatewayConfig struct {
	Logger      *slog.Logger
	Commodities Commodities
	Fetcher     chain.UtxoFetcher
	Queue       Enqueuer
	Store       GatewayStore
	// NewID overrides the check ID generator
	NewID func() string
}

// Gateway validates requests with a dry-run build, queues them and records a
// pending check for the caller to poll
type Gateway struct {
	config GatewayConfig
	logger *slog.Logger
}

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Commodities == nil {
		return nil, errors.New("gateway: no transaction builder configured")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("gateway: no utxo fetcher configured")
	}
	if cfg.Queue == nil {
		return nil, errors.New("gateway: no queue configured")
	}
	if cfg.Store == nil {
		return nil, errors.New("gateway: no store configured")
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	g := &Gateway{config: cfg}
	if cfg.Logger == nil {
		g.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		g.logger = cfg.Logger.With("component", "gateway")
	}
	return g, nil
}

// DispatchTokenize accepts a mint request and returns its check ID
func (g *Gateway) DispatchTokenize(ctx context.Context, p builder.MintParams) (string, error) {
	if _, err := g.config.Commodities.Mint(ctx, p, false); err != nil {
		return "", &DispatchError{Op: OpTokenize, Err: err}
	}
	id := g.config.NewID()
	job := TokenizeJob{
		ID:                id,
		TokenName:         p.TokenName,
		MetadataReference: p.MetadataReference,
	}
	info := map[string]any{
		"tokenName":         p.TokenName,
		"metadataReference": p.MetadataReference,
	}
	if err := g.accept(ctx, JobTokenize, models.CheckTypeTokenize, id, job, info); err != nil {
		return "", err
	}
	return id, nil
}

// DispatchRecreate accepts a recreate request and returns its check ID
func (g *Gateway) DispatchRecreate(
	ctx context.Context,
	utxos []chain.OutRef,
	newDataReferences []string,
) (string, error) {
	if len(utxos) != len(newDataReferences) {
		return "", &builder.LengthMismatchError{
			Utxos:          len(utxos),
			DataReferences: len(newDataReferences),
		}
	}
	utxoRef, err := g.scriptRefs(ctx, utxos)
	if err != nil {
		return "", &DispatchError{Op: OpRecreate, Err: err}
	}
	params := builder.RecreateParams{
		Utxos:             utxos,
		NewDataReferences: newDataReferences,
		UtxoRef:           utxoRef,
	}
	if _, err := g.config.Commodities.Recreate(ctx, params, false); err != nil {
		return "", &DispatchError{Op: OpRecreate, Err: err}
	}
	id := g.config.NewID()
	job := RecreateJob{
		ID:                id,
		Utxos:             utxos,
		NewDataReferences: newDataReferences,
		UtxoRef:           utxoRef,
	}
	info := map[string]any{
		"utxos":             utxos,
		"newDataReferences": newDataReferences,
		"utxoRef":           utxoRef,
	}
	if err := g.accept(ctx, JobRecreate, models.CheckTypeRecreate, id, job, info); err != nil {
		return "", err
	}
	return id, nil
}

// DispatchSpend accepts a spend request and returns its check ID
func (g *Gateway) DispatchSpend(ctx context.Context, utxos []chain.OutRef) (string, error) {
	utxoRef, err := g.scriptRefs(ctx, utxos)
	if err != nil {
		return "", &DispatchError{Op: OpSpend, Err: err}
	}
	params := builder.SpendParams{
		Utxos:   utxos,
		UtxoRef: utxoRef,
	}
	if _, err := g.config.Commodities.Spend(ctx, params, false); err != nil {
		return "", &DispatchError{Op: OpSpend, Err: err}
	}
	id := g.config.NewID()
	job := SpendJob{
		ID:      id,
		Utxos:   utxos,
		UtxoRef: utxoRef,
	}
	if err := g.accept(ctx, JobSpend, models.CheckTypeSpend, id, job, map[string]any{}); err != nil {
		return "", err
	}
	return id, nil
}

// accept queues the job and then records its pending check. The two writes
// are not atomic: a crash between them leaves a job without a check.
func (g *Gateway) accept(
	ctx context.Context,
	name string,
	checkType models.CheckType,
	id string,
	job any,
	info map[string]any,
) error {
	if _, err := g.config.Queue.Enqueue(ctx, name, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	check := &models.Check{
		ID:     id,
		Type:   checkType,
		Status: models.CheckStatusPending,
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode check info: %w", err)
	}
	check.AdditionalInfo = raw
	if err := g.config.Store.CreateCheck(ctx, check); err != nil {
		g.logger.Error(
			"job queued without check",
			"id", id,
			"job", name,
			"error", err,
		)
		return err
	}
	g.logger.Info(
		"request accepted",
		"id", id,
		"job", name,
	)
	return nil
}

// scriptRefs maps the contract address of each referenced output to its
// deployed reference scripts. Addresses without a deployment are omitted.
func (g *Gateway) scriptRefs(
	ctx context.Context,
	refs []chain.OutRef,
) (map[string]chain.ScriptRefs, error) {
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return nil, err
		}
	}
	utxos, err := g.config.Fetcher.UtxosByRef(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", builder.ErrProviderQuery, err)
	}
	var addresses []string
	for _, u := range utxos {
		if !slices.Contains(addresses, u.Address) {
			addresses = append(addresses, u.Address)
		}
	}
	ret := make(map[string]chain.ScriptRefs, len(addresses))
	for _, addr := range addresses {
		dep, err := g.config.Store.DeploymentByContractAddress(ctx, addr)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				g.logger.Warn("no reference script deployment", "address", addr)
			} else {
				g.logger.Warn(
					"failed to look up deployment",
					"address", addr,
					"error", err,
				)
			}
			continue
		}
		ret[addr] = chain.ScriptRefs{
			ObjectEventScript: &chain.OutRef{
				TxHash:      dep.DeploymentTxHash,
				OutputIndex: dep.DeploymentOutputIndex,
			},
		}
	}
	return ret, nil
}
