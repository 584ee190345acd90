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
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/palmyra/builder"
	"github.com/blinklabs-io/palmyra/database"
	"github.com/blinklabs-io/palmyra/database/models"
	"github.com/blinklabs-io/palmyra/event"
	"github.com/blinklabs-io/palmyra/queue"
)

const CheckSettledEventType event.EventType = "palmyra.check_settled"

// CheckSettledEvent is published once a check reaches a terminal status
type CheckSettledEvent struct {
	ID     string
	Type   models.CheckType
	Status models.CheckStatus
	Txid   string
	Error  string
}

// ReconcilerStore is the persistence touched while settling jobs
type ReconcilerStore interface {
	CheckByID(ctx context.Context, id string) (*models.Check, error)
	UpdateCheckStatus(ctx context.Context, id string, status models.CheckStatus) error
	SetCheckSuccess(ctx context.Context, id string, txid string) error
	SetCheckError(ctx context.Context, id string, msg string) error
	CreateTransaction(ctx context.Context, txid string) error
	AppendRecreated(ctx context.Context, txHash string, outputIndex uint32, entry models.Recreated) error
	MarkSpent(ctx context.Context, txHash string, outputIndex uint32, spentBy string) error
	DeploymentExists(ctx context.Context, address string) (bool, error)
	SaveDeployment(ctx context.Context, dep *models.Deployment) (bool, error)
}

// JobRegistrar routes queued jobs to handlers by name
type JobRegistrar interface {
	Handle(name string, handler queue.HandlerFunc)
}

type ReconcilerConfig struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Commodities  Commodities
	Store        ReconcilerStore
	// EventBus may be nil
	EventBus *event.EventBus
	Retry    RetryPolicy
	// DeployAddress receives reference script deployments
	DeployAddress string
}

// Reconciler settles queued jobs by building, signing and submitting their
// transactions and then recording the outcome
type Reconciler struct {
	config  ReconcilerConfig
	logger  *slog.Logger
	metrics struct {
		settled     *prometheus.CounterVec
		deployments *prometheus.CounterVec
	}
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Commodities == nil {
		return nil, errors.New("reconciler: no transaction builder configured")
	}
	if cfg.Store == nil {
		return nil, errors.New("reconciler: no store configured")
	}
	r := &Reconciler{config: cfg}
	if cfg.Logger == nil {
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		r.logger = cfg.Logger.With("component", "reconciler")
	}
	if r.config.Retry.Logger == nil {
		r.config.Retry.Logger = r.logger
	}
	factory := promauto.With(cfg.PromRegistry)
	r.metrics.settled = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palmyra_checks_settled_total",
			Help: "checks settled by type and status",
		},
		[]string{"type", "status"},
	)
	r.metrics.deployments = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palmyra_reference_deployments_total",
			Help: "reference script deployments by result",
		},
		[]string{"result"},
	)
	return r, nil
}

// Register installs a handler for every settled job name
func (r *Reconciler) Register(q JobRegistrar) {
	q.Handle(JobTokenize, r.HandleTokenize)
	q.Handle(JobRecreate, r.HandleRecreate)
	q.Handle(JobSpend, r.HandleSpend)
}

// HandleTokenize mints the commodity, deploys its reference script when the
// contract has none yet and records the new ledger row
func (r *Reconciler) HandleTokenize(ctx context.Context, job queue.Job) error {
	var p TokenizeJob
	return r.settle(ctx, job, &p, func() string { return p.ID }, func(ctx context.Context) (string, error) {
		res, err := RetryBuild(
			ctx,
			r.config.Retry,
			OpTokenize,
			func(ctx context.Context) (*builder.MintResult, error) {
				return r.config.Commodities.Mint(ctx, builder.MintParams{
					TokenName:         p.TokenName,
					MetadataReference: p.MetadataReference,
				}, true)
			},
			func(res *builder.MintResult) string {
				if res == nil {
					return ""
				}
				return res.MintTxHash
			},
		)
		if err != nil {
			return "", err
		}
		r.ensureDeployment(ctx, p.TokenName, res)
		return res.MintTxHash, nil
	}, func(ctx context.Context, txid string) {
		if err := r.config.Store.CreateTransaction(ctx, txid); err != nil {
			r.logger.Error(
				"failed to record transaction",
				"id", p.ID,
				"txid", txid,
				"error", err,
			)
		}
	})
}

// HandleRecreate moves commodities to outputs with new data references and
// links each consumed output to its successor in the ledger
func (r *Reconciler) HandleRecreate(ctx context.Context, job queue.Job) error {
	var p RecreateJob
	return r.settle(ctx, job, &p, func() string { return p.ID }, func(ctx context.Context) (string, error) {
		return RetryBuild(
			ctx,
			r.config.Retry,
			OpRecreate,
			func(ctx context.Context) (string, error) {
				return r.config.Commodities.Recreate(ctx, builder.RecreateParams{
					Utxos:             p.Utxos,
					NewDataReferences: p.NewDataReferences,
					UtxoRef:           p.UtxoRef,
				}, true)
			},
			identity,
		)
	}, func(ctx context.Context, txid string) {
		for i, utxo := range p.Utxos {
			entry := models.Recreated{
				TxHash:      txid,
				OutputIndex: uint32(i), // #nosec G115
			}
			err := r.config.Store.AppendRecreated(ctx, utxo.TxHash, utxo.OutputIndex, entry)
			if err != nil {
				r.logger.Error(
					"failed to record recreated output",
					"id", p.ID,
					"utxo", utxo.String(),
					"error", err,
				)
			}
		}
	})
}

// HandleSpend consumes commodities and marks their ledger rows spent
func (r *Reconciler) HandleSpend(ctx context.Context, job queue.Job) error {
	var p SpendJob
	return r.settle(ctx, job, &p, func() string { return p.ID }, func(ctx context.Context) (string, error) {
		return RetryBuild(
			ctx,
			r.config.Retry,
			OpSpend,
			func(ctx context.Context) (string, error) {
				return r.config.Commodities.Spend(ctx, builder.SpendParams{
					Utxos:   p.Utxos,
					UtxoRef: p.UtxoRef,
				}, true)
			},
			identity,
		)
	}, func(ctx context.Context, txid string) {
		for _, utxo := range p.Utxos {
			if err := r.config.Store.MarkSpent(ctx, utxo.TxHash, utxo.OutputIndex, txid); err != nil {
				r.logger.Error(
					"failed to mark output spent",
					"id", p.ID,
					"utxo", utxo.String(),
					"error", err,
				)
			}
		}
	})
}

func identity(s string) string {
	return s
}

// settle drives one job from QUEUED to a terminal check status. Failures are
// recorded on the check rather than returned, except for shutdown, which
// leaves the job queued for redelivery.
func (r *Reconciler) settle(
	ctx context.Context,
	job queue.Job,
	payload any,
	idOf func() string,
	run func(ctx context.Context) (string, error),
	record func(ctx context.Context, txid string),
) (err error) {
	checkType, ok := checkTypeForJob(job.Name)
	if !ok {
		return fmt.Errorf("unknown job: %s", job.Name)
	}
	if err := job.Decode(payload); err != nil {
		var hdr jobHeader
		if job.Decode(&hdr) == nil && hdr.ID != "" {
			r.fail(ctx, hdr.ID, checkType, fmt.Errorf("decode payload: %w", err))
		}
		return fmt.Errorf("decode %s payload: %w", job.Name, err)
	}
	id := idOf()
	if r.alreadySettled(ctx, id) {
		return nil
	}
	if err := r.config.Store.UpdateCheckStatus(ctx, id, models.CheckStatusQueued); err != nil {
		r.logger.Warn(
			"failed to mark check queued",
			"id", id,
			"error", err,
		)
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.fail(ctx, id, checkType, fmt.Errorf("panic: %v", rec))
			err = nil
		}
	}()
	txid, err := run(ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			r.logger.Info(
				"settlement interrupted",
				"id", id,
				"job", job.Name,
			)
			return ctx.Err()
		}
		r.fail(ctx, id, checkType, err)
		return nil
	}
	// Settlement records use a context that outlives the job deadline
	storeCtx := context.WithoutCancel(ctx)
	if err := r.config.Store.SetCheckSuccess(storeCtx, id, txid); err != nil {
		r.logger.Error(
			"failed to settle check",
			"id", id,
			"txid", txid,
			"error", err,
		)
	}
	record(storeCtx, txid)
	r.logger.Info(
		"check settled",
		"id", id,
		"type", string(checkType),
		"txid", txid,
	)
	r.publish(CheckSettledEvent{
		ID:     id,
		Type:   checkType,
		Status: models.CheckStatusSuccess,
		Txid:   txid,
	})
	return nil
}

func (r *Reconciler) fail(ctx context.Context, id string, checkType models.CheckType, cause error) {
	msg := errorPrefix(checkType) + cause.Error()
	if err := r.config.Store.SetCheckError(context.WithoutCancel(ctx), id, msg); err != nil {
		r.logger.Error(
			"failed to record check error",
			"id", id,
			"error", err,
		)
	}
	r.logger.Error(
		"check failed",
		"id", id,
		"type", string(checkType),
		"error", cause,
	)
	r.publish(CheckSettledEvent{
		ID:     id,
		Type:   checkType,
		Status: models.CheckStatusError,
		Error:  msg,
	})
}

// alreadySettled reports whether a redelivered job's check is terminal
func (r *Reconciler) alreadySettled(ctx context.Context, id string) bool {
	check, err := r.config.Store.CheckByID(ctx, id)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			r.logger.Warn(
				"failed to load check",
				"id", id,
				"error", err,
			)
		}
		return false
	}
	if check.Status.Terminal() {
		r.logger.Info(
			"skipping settled check",
			"id", id,
			"status", string(check.Status),
		)
		return true
	}
	return false
}

// ensureDeployment publishes the contract's reference script after the first
// mint against it. Failures are logged and retried on a later mint.
func (r *Reconciler) ensureDeployment(ctx context.Context, tokenName string, res *builder.MintResult) {
	exists, err := r.config.Store.DeploymentExists(ctx, res.ContractAddress)
	if err != nil {
		r.logger.Error(
			"failed to look up deployment",
			"address", res.ContractAddress,
			"error", err,
		)
		return
	}
	if exists {
		return
	}
	if len(res.InputUtxos) == 0 {
		r.logger.Warn("mint consumed no wallet outputs, skipping deployment")
		return
	}
	dep, err := RetryBuild(
		ctx,
		r.config.Retry,
		"deploy",
		func(ctx context.Context) (*builder.DeployResult, error) {
			return r.config.Commodities.DeployRef(ctx, builder.DeployParams{
				DeployAddress: r.config.DeployAddress,
				TokenName:     tokenName,
				UtxoRef:       res.InputUtxos[0].Ref,
			}, true)
		},
		func(dep *builder.DeployResult) string {
			if dep == nil {
				return ""
			}
			return dep.DeploymentTxHash
		},
	)
	if err != nil {
		r.metrics.deployments.WithLabelValues("error").Inc()
		r.logger.Error(
			"reference script deployment failed",
			"address", res.ContractAddress,
			"error", err,
		)
		return
	}
	saved, err := r.config.Store.SaveDeployment(context.WithoutCancel(ctx), &models.Deployment{
		ContractAddress:       res.ContractAddress,
		DeployAddress:         r.config.DeployAddress,
		DeploymentTxHash:      dep.DeploymentTxHash,
		DeploymentOutputIndex: dep.DeploymentOutputIndex,
	})
	if err != nil {
		r.metrics.deployments.WithLabelValues("error").Inc()
		r.logger.Error(
			"failed to record deployment",
			"address", res.ContractAddress,
			"tx_hash", dep.DeploymentTxHash,
			"error", err,
		)
		return
	}
	r.metrics.deployments.WithLabelValues("success").Inc()
	r.logger.Info(
		"deployed reference script",
		"address", res.ContractAddress,
		"tx_hash", dep.DeploymentTxHash,
		"saved", saved,
	)
}

func (r *Reconciler) publish(evt CheckSettledEvent) {
	r.metrics.settled.WithLabelValues(string(evt.Type), string(evt.Status)).Inc()
	if r.config.EventBus == nil {
		return
	}
	r.config.EventBus.PublishAsync(CheckSettledEventType, event.NewEvent(CheckSettledEventType, evt))
}

func errorPrefix(t models.CheckType) string {
	switch t {
	case models.CheckTypeTokenize:
		return "minting error: "
	case models.CheckTypeRecreate:
		return "recreating error: "
	case models.CheckTypeSpend:
		return "spending error: "
	default:
		return "error: "
	}
}
