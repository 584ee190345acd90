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

package selector_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/palmyra/selector"
)

const testAddr = "addr_test1vqwallet"

// seqFetcher returns one entry of responses per call, repeating the last
type seqFetcher struct {
	responses [][]chain.Utxo
	errs      []error
	calls     int
}

func (f *seqFetcher) UtxosByAddress(_ context.Context, addr string) ([]chain.Utxo, error) {
	idx := min(f.calls, len(f.responses)-1)
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	return f.responses[idx], nil
}

func (f *seqFetcher) UtxosByRef(context.Context, []chain.OutRef) ([]chain.Utxo, error) {
	return nil, errors.New("not implemented")
}

func (f *seqFetcher) UtxoByAsset(context.Context, string, string, string) (chain.Utxo, error) {
	return chain.Utxo{}, errors.New("not implemented")
}

type staticMempool struct {
	refs []chain.OutRef
	err  error
}

func (m staticMempool) PendingInputs(context.Context) ([]chain.OutRef, error) {
	return m.refs, m.err
}

type sleepRecorder struct {
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return ctx.Err()
}

func utxo(b byte, idx uint32, lovelace uint64) chain.Utxo {
	return chain.Utxo{
		Ref:      chain.OutRef{TxHash: strings.Repeat(string(b), 64), OutputIndex: idx},
		Address:  testAddr,
		Lovelace: lovelace,
	}
}

func newSelector(t *testing.T, f chain.UtxoFetcher, m chain.MempoolReader, rec *sleepRecorder) *selector.Selector {
	t.Helper()
	s, err := selector.New(selector.Config{
		Fetcher: f,
		Mempool: m,
		Address: testAddr,
		Sleep:   rec.sleep,
	})
	require.NoError(t, err)
	return s
}

func TestSelectThresholdSequence(t *testing.T) {
	f := &seqFetcher{
		responses: [][]chain.Utxo{
			{utxo('a', 0, 1_000_000)},
			{utxo('a', 0, 1_000_000)},
			{utxo('b', 0, 20_000_000), utxo('b', 1, 5_000_000)},
		},
	}
	rec := &sleepRecorder{}
	s := newSelector(t, f, nil, rec)
	utxos, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, uint64(25_000_000), chain.TotalLovelace(utxos))
	assert.Equal(t, []time.Duration{selector.DefaultRetryDelay, selector.DefaultRetryDelay}, rec.sleeps)
}

func TestSelectReturnsLastSetWhenExhausted(t *testing.T) {
	f := &seqFetcher{responses: [][]chain.Utxo{{utxo('a', 0, 1_000_000)}}}
	rec := &sleepRecorder{}
	s := newSelector(t, f, nil, rec)
	utxos, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, selector.DefaultMaxAttempts, f.calls)
	assert.Len(t, rec.sleeps, selector.DefaultMaxAttempts-1)
	assert.Equal(t, []chain.Utxo{utxo('a', 0, 1_000_000)}, utxos)
}

func TestSelectFetchErrorCountsAsAttempt(t *testing.T) {
	f := &seqFetcher{
		responses: [][]chain.Utxo{nil, {utxo('c', 0, 30_000_000)}},
		errs:      []error{errors.New("provider down")},
	}
	rec := &sleepRecorder{}
	s := newSelector(t, f, nil, rec)
	utxos, err := s.SelectWith(context.Background(), 20_000_000, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
	assert.Len(t, utxos, 1)
	assert.Len(t, rec.sleeps, 1)
}

func TestSelectExcludesMempoolInputs(t *testing.T) {
	pendingRef := utxo('d', 1, 0).Ref
	pendingRef.TxHash = strings.ToUpper(pendingRef.TxHash)
	f := &seqFetcher{
		responses: [][]chain.Utxo{
			{utxo('d', 0, 30_000_000), utxo('d', 1, 30_000_000)},
		},
	}
	rec := &sleepRecorder{}
	s := newSelector(t, f, staticMempool{refs: []chain.OutRef{pendingRef}}, rec)
	utxos, err := s.Select(context.Background())
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.Equal(t, uint32(0), utxos[0].Ref.OutputIndex)
	assert.Empty(t, rec.sleeps)
}

func TestSelectContextCanceled(t *testing.T) {
	f := &seqFetcher{responses: [][]chain.Utxo{{utxo('e', 0, 1)}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newSelector(t, f, nil, &sleepRecorder{})
	utxos, err := s.Select(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, utxos, 1)
	assert.Equal(t, 1, f.calls)
}

func TestOnce(t *testing.T) {
	f := &seqFetcher{
		responses: [][]chain.Utxo{{utxo('f', 0, 1), utxo('f', 1, 2)}},
	}
	rec := &sleepRecorder{}
	s := newSelector(t, f, staticMempool{refs: []chain.OutRef{utxo('f', 0, 0).Ref}}, rec)
	utxos, err := s.Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []chain.Utxo{utxo('f', 1, 2)}, utxos)
	assert.Equal(t, 1, f.calls)
	assert.Empty(t, rec.sleeps)

	// a mempool failure falls back to the unfiltered set
	s = newSelector(t, f, staticMempool{err: errors.New("down")}, rec)
	utxos, err = s.Once(context.Background())
	require.NoError(t, err)
	assert.Len(t, utxos, 2)
}

type trackingMempool struct {
	staticMempool
	pruned [][]chain.Utxo
}

func (m *trackingMempool) PruneConfirmed(walletUtxos []chain.Utxo) int {
	m.pruned = append(m.pruned, walletUtxos)
	return 0
}

func TestFetchPrunesConfirmedTransactions(t *testing.T) {
	wallet := []chain.Utxo{utxo('g', 0, 30_000_000)}
	f := &seqFetcher{responses: [][]chain.Utxo{wallet}}
	m := &trackingMempool{}
	s := newSelector(t, f, m, &sleepRecorder{})
	_, err := s.Select(context.Background())
	require.NoError(t, err)
	_, err = s.Once(context.Background())
	require.NoError(t, err)
	require.Len(t, m.pruned, 2)
	assert.Equal(t, wallet, m.pruned[0])
}

func TestNewValidation(t *testing.T) {
	_, err := selector.New(selector.Config{Address: testAddr})
	require.Error(t, err)
	_, err = selector.New(selector.Config{Fetcher: &seqFetcher{}})
	require.Error(t, err)
}
