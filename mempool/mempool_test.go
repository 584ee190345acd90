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

package mempool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/palmyra/event"
)

type fakeRemote struct {
	refs []chain.OutRef
	err  error
}

func (f *fakeRemote) PendingInputs(context.Context) ([]chain.OutRef, error) {
	return f.refs, f.err
}

func ref(b byte, idx uint32) chain.OutRef {
	return chain.OutRef{TxHash: strings.Repeat(string(b), 64), OutputIndex: idx}
}

func newTestMempool(t *testing.T, remote chain.MempoolReader) (*Mempool, *event.EventBus, *time.Time) {
	t.Helper()
	eb := event.NewEventBus(nil, nil)
	t.Cleanup(eb.Stop)
	m := NewMempool(MempoolConfig{
		PromRegistry: prometheus.NewRegistry(),
		EventBus:     eb,
		Remote:       remote,
		TTL:          time.Minute,
	})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, eb, &now
}

func TestPendingInputsMergesLocalAndRemote(t *testing.T) {
	remote := &fakeRemote{refs: []chain.OutRef{ref('a', 0), ref('b', 1)}}
	m, _, _ := newTestMempool(t, remote)
	m.AddTransaction(&chain.SignedTx{
		Hash:   strings.Repeat("f", 64),
		Cbor:   []byte{0x84},
		Inputs: []chain.OutRef{ref('b', 1), ref('c', 2)},
	})
	refs, err := m.PendingInputs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(
		t,
		[]chain.OutRef{ref('a', 0), ref('b', 1), ref('c', 2)},
		refs,
	)
	assert.InDelta(t, 3, testutil.ToFloat64(m.metrics.pendingInputs), 0)
}

func TestPendingInputsRemoteError(t *testing.T) {
	m, _, _ := newTestMempool(t, &fakeRemote{err: errors.New("boom")})
	_, err := m.PendingInputs(context.Background())
	require.Error(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(m.metrics.remoteErrors), 0)
}

func TestAddTransactionDedup(t *testing.T) {
	m, _, _ := newTestMempool(t, nil)
	tx := &chain.SignedTx{Hash: strings.Repeat("1", 64), Cbor: make([]byte, 100)}
	m.AddTransaction(tx)
	m.AddTransaction(tx)
	m.AddTransaction(nil)
	assert.Len(t, m.Transactions(), 1)
	assert.InDelta(t, 1, testutil.ToFloat64(m.metrics.txsSubmitted), 0)
	assert.InDelta(t, 100, testutil.ToFloat64(m.metrics.mempoolBytes), 0)
}

func TestTransactionExpiry(t *testing.T) {
	m, eb, now := newTestMempool(t, nil)
	_, removed := eb.Subscribe(RemoveTransactionEventType)
	m.AddTransaction(&chain.SignedTx{
		Hash:   strings.Repeat("2", 64),
		Inputs: []chain.OutRef{ref('d', 0)},
	})
	*now = now.Add(30 * time.Second)
	refs, err := m.PendingInputs(context.Background())
	require.NoError(t, err)
	assert.Len(t, refs, 1)
	*now = now.Add(31 * time.Second)
	refs, err = m.PendingInputs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.InDelta(t, 0, testutil.ToFloat64(m.metrics.txsInMempool), 0)
	select {
	case evt := <-removed:
		data, ok := evt.Data.(RemoveTransactionEvent)
		require.True(t, ok)
		assert.Equal(t, strings.Repeat("2", 64), data.Hash)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for remove event")
	}
}

func TestPruneConfirmed(t *testing.T) {
	m, eb, _ := newTestMempool(t, nil)
	_, added := eb.Subscribe(AddTransactionEventType)
	_, removed := eb.Subscribe(RemoveTransactionEventType)
	confirmed := strings.Repeat("3", 64)
	pending := strings.Repeat("4", 64)
	m.AddTransaction(&chain.SignedTx{
		Hash:   confirmed,
		Cbor:   make([]byte, 10),
		Inputs: []chain.OutRef{ref('e', 4), ref('c', 0)},
	})
	select {
	case evt := <-added:
		data, ok := evt.Data.(AddTransactionEvent)
		require.True(t, ok)
		assert.Equal(t, []chain.OutRef{ref('e', 4), ref('c', 0)}, data.Inputs)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for add event")
	}
	m.AddTransaction(&chain.SignedTx{
		Hash:   pending,
		Cbor:   make([]byte, 20),
		Inputs: []chain.OutRef{ref('e', 5)},
	})

	// The wallet still lists e#5 but no longer e#4
	live := ref('e', 5)
	live.TxHash = strings.ToUpper(live.TxHash)
	walletUtxos := []chain.Utxo{{Ref: live}, {Ref: ref('f', 0)}}
	assert.Equal(t, 1, m.PruneConfirmed(walletUtxos))
	assert.Equal(t, 0, m.PruneConfirmed(walletUtxos))

	txs := m.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, pending, txs[0].Hash)
	assert.InDelta(t, 1, testutil.ToFloat64(m.metrics.txsInMempool), 0)
	assert.InDelta(t, 20, testutil.ToFloat64(m.metrics.mempoolBytes), 0)
	select {
	case evt := <-removed:
		data, ok := evt.Data.(RemoveTransactionEvent)
		require.True(t, ok)
		assert.Equal(t, confirmed, data.Hash)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for remove event")
	}
}
