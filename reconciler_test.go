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
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/palmyra/builder"
	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/palmyra/database"
	"github.com/blinklabs-io/palmyra/database/models"
	"github.com/blinklabs-io/palmyra/event"
	"github.com/blinklabs-io/palmyra/queue"
)

const testDeployAddress = "addr_test1vqdeploy"

type reconcilerFixture struct {
	reconciler  *Reconciler
	commodities *fakeCommodities
	store       *database.Database
	sleeper     *sleepRecorder
	bus         *event.EventBus
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		commodities: newFakeCommodities(),
		store:       newTestStore(t),
		sleeper:     &sleepRecorder{},
		bus:         event.NewEventBus(prometheus.NewRegistry(), nil),
	}
	t.Cleanup(f.bus.Stop)
	var err error
	f.reconciler, err = NewReconciler(ReconcilerConfig{
		PromRegistry:  prometheus.NewRegistry(),
		Commodities:   f.commodities,
		Store:         f.store,
		EventBus:      f.bus,
		DeployAddress: testDeployAddress,
		Retry: RetryPolicy{
			MaxAttempts: 3,
			Sleep:       f.sleeper.Sleep,
		},
	})
	require.NoError(t, err)
	return f
}

func (f *reconcilerFixture) pending(t *testing.T, id string, checkType models.CheckType) {
	t.Helper()
	require.NoError(t, f.store.CreateCheck(t.Context(), &models.Check{
		ID:     id,
		Type:   checkType,
		Status: models.CheckStatusPending,
	}))
}

func (f *reconcilerFixture) check(t *testing.T, id string) *models.Check {
	t.Helper()
	check, err := f.store.CheckByID(t.Context(), id)
	require.NoError(t, err)
	return check
}

func newJob(t *testing.T, name string, payload any) queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return queue.Job{Name: name, Payload: raw, EnqueuedAt: time.Now()}
}

func TestReconcileTokenizeDeploysOnce(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := t.Context()
	for _, id := range []string{"mint-1", "mint-2"} {
		f.pending(t, id, models.CheckTypeTokenize)
		job := newJob(t, JobTokenize, TokenizeJob{ID: id, TokenName: id})
		require.NoError(t, f.reconciler.HandleTokenize(ctx, job))
	}
	assert.Equal(t, 2, f.commodities.count("mint", true))
	assert.Equal(t, 1, f.commodities.count("deploy", true))
	assert.Equal(t, testDeployAddress, f.commodities.lastDeploy.DeployAddress)
	assert.Equal(t, "mint-1", f.commodities.lastDeploy.TokenName)
	assert.Equal(t, chain.OutRef{TxHash: txHash(1), OutputIndex: 1}, f.commodities.lastDeploy.UtxoRef)

	deployments, err := f.store.Deployments(ctx)
	require.NoError(t, err)
	require.Len(t, deployments, 1)
	assert.Equal(t, testContractAddress, deployments[0].ContractAddress)

	for _, id := range []string{"mint-1", "mint-2"} {
		check := f.check(t, id)
		assert.Equal(t, models.CheckStatusSuccess, check.Status)
		require.NotNil(t, check.Txid)
		_, err := f.store.TransactionByID(ctx, *check.Txid)
		require.NoError(t, err)
	}
}

func TestReconcileTokenizeDeploymentFailureStillSettles(t *testing.T) {
	f := newReconcilerFixture(t)
	f.commodities.deploy = func(builder.DeployParams, bool) (*builder.DeployResult, error) {
		return nil, errors.New("script too large")
	}
	f.pending(t, "mint-1", models.CheckTypeTokenize)
	job := newJob(t, JobTokenize, TokenizeJob{ID: "mint-1", TokenName: "lot"})
	require.NoError(t, f.reconciler.HandleTokenize(t.Context(), job))

	assert.Equal(t, 3, f.commodities.count("deploy", true))
	assert.Equal(t, models.CheckStatusSuccess, f.check(t, "mint-1").Status)
	exists, err := f.store.DeploymentExists(t.Context(), testContractAddress)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReconcileRecreateAncestry(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := t.Context()
	origin := txHash(1)
	recreated := txHash(2)
	require.NoError(t, f.store.CreateTransaction(ctx, origin))
	f.commodities.recreate = func(builder.RecreateParams, bool) (string, error) {
		return recreated, nil
	}
	f.pending(t, "recreate-1", models.CheckTypeRecreate)
	job := newJob(t, JobRecreate, RecreateJob{
		ID:                "recreate-1",
		Utxos:             []chain.OutRef{{TxHash: origin, OutputIndex: 0}},
		NewDataReferences: []string{"ipfs://v2"},
	})
	require.NoError(t, f.reconciler.HandleRecreate(ctx, job))

	check := f.check(t, "recreate-1")
	assert.Equal(t, models.CheckStatusSuccess, check.Status)
	require.NotNil(t, check.Txid)
	assert.Equal(t, recreated, *check.Txid)

	rows, err := f.store.FindRecreatedByHash(ctx, recreated)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, origin, rows[0].Txid)
	assert.Equal(t, []models.Recreated{{TxHash: recreated, OutputIndex: 0}}, []models.Recreated(rows[0].Recreated))

	// Recreating the recreated output links back to the same ledger row
	again := txHash(3)
	f.commodities.recreate = func(builder.RecreateParams, bool) (string, error) {
		return again, nil
	}
	f.pending(t, "recreate-2", models.CheckTypeRecreate)
	job = newJob(t, JobRecreate, RecreateJob{
		ID:                "recreate-2",
		Utxos:             []chain.OutRef{{TxHash: recreated, OutputIndex: 0}},
		NewDataReferences: []string{"ipfs://v3"},
	})
	require.NoError(t, f.reconciler.HandleRecreate(ctx, job))
	row, err := f.store.TransactionByID(ctx, origin)
	require.NoError(t, err)
	assert.Len(t, row.Recreated, 2)
}

func TestReconcileSpend(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := t.Context()
	origin := txHash(1)
	spentBy := txHash(5)
	require.NoError(t, f.store.CreateTransaction(ctx, origin))
	f.commodities.spend = func(builder.SpendParams, bool) (string, error) {
		return spentBy, nil
	}
	f.pending(t, "spend-1", models.CheckTypeSpend)
	job := newJob(t, JobSpend, SpendJob{
		ID:    "spend-1",
		Utxos: []chain.OutRef{{TxHash: origin, OutputIndex: 0}},
	})
	require.NoError(t, f.reconciler.HandleSpend(ctx, job))
	assert.Equal(t, models.CheckStatusSuccess, f.check(t, "spend-1").Status)
	row, err := f.store.TransactionByID(ctx, origin)
	require.NoError(t, err)
	require.NotNil(t, row.Spent)
	assert.Equal(t, spentBy, *row.Spent)
}

func TestReconcileFailureMarksError(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := t.Context()
	origin := txHash(1)
	require.NoError(t, f.store.CreateTransaction(ctx, origin))
	f.commodities.spend = func(builder.SpendParams, bool) (string, error) {
		return "", errors.New("collateral input spent")
	}
	_, events := f.bus.Subscribe(CheckSettledEventType)
	f.pending(t, "spend-1", models.CheckTypeSpend)
	job := newJob(t, JobSpend, SpendJob{
		ID:    "spend-1",
		Utxos: []chain.OutRef{{TxHash: origin, OutputIndex: 0}},
	})
	require.NoError(t, f.reconciler.HandleSpend(ctx, job))

	assert.Equal(t, 3, f.commodities.count("spend", true))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeper.delays)
	check := f.check(t, "spend-1")
	assert.Equal(t, models.CheckStatusError, check.Status)
	assert.Nil(t, check.Txid)
	require.NotNil(t, check.Error)
	assert.True(t, strings.HasPrefix(*check.Error, "spending error: "), *check.Error)
	assert.Contains(t, *check.Error, "collateral input spent")

	row, err := f.store.TransactionByID(ctx, origin)
	require.NoError(t, err)
	assert.Nil(t, row.Spent)

	select {
	case evt := <-events:
		settled, ok := evt.Data.(CheckSettledEvent)
		require.True(t, ok)
		assert.Equal(t, "spend-1", settled.ID)
		assert.Equal(t, models.CheckStatusError, settled.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("settlement event not published")
	}
}

func TestReconcileSettledCheckNotReprocessed(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := t.Context()
	f.pending(t, "mint-1", models.CheckTypeTokenize)
	require.NoError(t, f.store.SetCheckSuccess(ctx, "mint-1", txHash(8)))
	job := newJob(t, JobTokenize, TokenizeJob{ID: "mint-1", TokenName: "lot"})
	require.NoError(t, f.reconciler.HandleTokenize(ctx, job))

	assert.Zero(t, f.commodities.count("mint", true))
	check := f.check(t, "mint-1")
	assert.Equal(t, models.CheckStatusSuccess, check.Status)
	require.NotNil(t, check.Txid)
	assert.Equal(t, txHash(8), *check.Txid)
}

func TestReconcileErrorIsTerminal(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := t.Context()
	f.commodities.mint = func(builder.MintParams, bool) (*builder.MintResult, error) {
		return nil, errors.New("policy script failed")
	}
	f.pending(t, "mint-1", models.CheckTypeTokenize)
	job := newJob(t, JobTokenize, TokenizeJob{ID: "mint-1", TokenName: "lot"})
	require.NoError(t, f.reconciler.HandleTokenize(ctx, job))
	assert.Equal(t, models.CheckStatusError, f.check(t, "mint-1").Status)

	// A later success report cannot move a settled check
	err := f.store.SetCheckSuccess(ctx, "mint-1", txHash(1))
	require.ErrorIs(t, err, database.ErrCheckTerminal)
	assert.Equal(t, models.CheckStatusError, f.check(t, "mint-1").Status)
}

func TestReconcilePanicMarksError(t *testing.T) {
	f := newReconcilerFixture(t)
	f.commodities.recreate = func(builder.RecreateParams, bool) (string, error) {
		panic("nil datum")
	}
	f.pending(t, "recreate-1", models.CheckTypeRecreate)
	job := newJob(t, JobRecreate, RecreateJob{
		ID:                "recreate-1",
		Utxos:             []chain.OutRef{{TxHash: txHash(1), OutputIndex: 0}},
		NewDataReferences: []string{"ipfs://v2"},
	})
	require.NoError(t, f.reconciler.HandleRecreate(t.Context(), job))
	check := f.check(t, "recreate-1")
	assert.Equal(t, models.CheckStatusError, check.Status)
	require.NotNil(t, check.Error)
	assert.Equal(t, "recreating error: panic: nil datum", *check.Error)
}

func TestReconcileShutdownLeavesCheckQueued(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx, cancel := context.WithCancel(t.Context())
	f.commodities.mint = func(builder.MintParams, bool) (*builder.MintResult, error) {
		cancel()
		return nil, context.Canceled
	}
	f.pending(t, "mint-1", models.CheckTypeTokenize)
	job := newJob(t, JobTokenize, TokenizeJob{ID: "mint-1", TokenName: "lot"})
	err := f.reconciler.HandleTokenize(ctx, job)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.CheckStatusQueued, f.check(t, "mint-1").Status)
}

func TestPipelineSerializesJobs(t *testing.T) {
	f := newReconcilerFixture(t)
	q, err := queue.New(queue.Config{PromRegistry: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = q.Stop(context.Background())
	})
	f.reconciler.Register(q)
	gateway, err := NewGateway(GatewayConfig{
		Commodities: f.commodities,
		Fetcher:     &fakeFetcher{},
		Queue:       q,
		Store:       f.store,
	})
	require.NoError(t, err)

	var ids []string
	for range 5 {
		id, err := gateway.DispatchTokenize(t.Context(), builder.MintParams{TokenName: "lot"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, q.Start(context.Background()))
	require.Eventually(t, func() bool {
		for _, id := range ids {
			check, err := f.store.CheckByID(context.Background(), id)
			if err != nil || check.Status != models.CheckStatusSuccess {
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond)

	f.commodities.mu.Lock()
	defer f.commodities.mu.Unlock()
	assert.Equal(t, 1, f.commodities.maxActive)
}
