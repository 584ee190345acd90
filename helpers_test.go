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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/palmyra/builder"
	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/palmyra/database"
)

const testContractAddress = "addr_test1wqcontract"

func txHash(n int) string {
	return fmt.Sprintf("%064x", n)
}

func newTestStore(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(database.Config{
		Plugin:  database.PluginSqlite,
		DataDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ret time.Duration
	for _, d := range s.delays {
		ret += d
	}
	return ret
}

// fakeCommodities records every build and tracks how many run at once
type fakeCommodities struct {
	mu        sync.Mutex
	active    int
	maxActive int
	calls     map[string][]bool
	next      int

	mint     func(p builder.MintParams, submit bool) (*builder.MintResult, error)
	deploy   func(p builder.DeployParams, submit bool) (*builder.DeployResult, error)
	recreate func(p builder.RecreateParams, submit bool) (string, error)
	spend    func(p builder.SpendParams, submit bool) (string, error)

	lastDeploy   builder.DeployParams
	lastRecreate builder.RecreateParams
	lastSpend    builder.SpendParams
}

func newFakeCommodities() *fakeCommodities {
	return &fakeCommodities{calls: make(map[string][]bool)}
}

func (f *fakeCommodities) enter(op string, submit bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op] = append(f.calls[op], submit)
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	f.next++
	return f.next
}

func (f *fakeCommodities) leave() {
	// Widen the window in which overlapping builds would be observed
	time.Sleep(time.Millisecond)
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
}

func (f *fakeCommodities) count(op string, submit bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, s := range f.calls[op] {
		if s == submit {
			n++
		}
	}
	return n
}

func (f *fakeCommodities) Mint(
	_ context.Context,
	p builder.MintParams,
	submit bool,
) (*builder.MintResult, error) {
	n := f.enter("mint", submit)
	defer f.leave()
	if f.mint != nil {
		return f.mint(p, submit)
	}
	return &builder.MintResult{
		MintTxHash: txHash(1000 + n),
		InputUtxos: []chain.Utxo{
			{Ref: chain.OutRef{TxHash: txHash(n), OutputIndex: 1}},
		},
		TokenName:       p.TokenName,
		ContractAddress: testContractAddress,
	}, nil
}

func (f *fakeCommodities) DeployRef(
	_ context.Context,
	p builder.DeployParams,
	submit bool,
) (*builder.DeployResult, error) {
	n := f.enter("deploy", submit)
	defer f.leave()
	f.mu.Lock()
	f.lastDeploy = p
	f.mu.Unlock()
	if f.deploy != nil {
		return f.deploy(p, submit)
	}
	return &builder.DeployResult{DeploymentTxHash: txHash(2000 + n)}, nil
}

func (f *fakeCommodities) Recreate(
	_ context.Context,
	p builder.RecreateParams,
	submit bool,
) (string, error) {
	n := f.enter("recreate", submit)
	defer f.leave()
	f.mu.Lock()
	f.lastRecreate = p
	f.mu.Unlock()
	if f.recreate != nil {
		return f.recreate(p, submit)
	}
	return txHash(3000 + n), nil
}

func (f *fakeCommodities) Spend(
	_ context.Context,
	p builder.SpendParams,
	submit bool,
) (string, error) {
	n := f.enter("spend", submit)
	defer f.leave()
	f.mu.Lock()
	f.lastSpend = p
	f.mu.Unlock()
	if f.spend != nil {
		return f.spend(p, submit)
	}
	return txHash(4000 + n), nil
}

// fakeFetcher serves outputs from a fixed set keyed by reference
type fakeFetcher struct {
	utxos map[chain.OutRef]chain.Utxo
	err   error
	calls int
}

func (f *fakeFetcher) UtxosByAddress(context.Context, string) ([]chain.Utxo, error) {
	return nil, nil
}

func (f *fakeFetcher) UtxosByRef(_ context.Context, refs []chain.OutRef) ([]chain.Utxo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ret := make([]chain.Utxo, 0, len(refs))
	for _, ref := range refs {
		u, ok := f.utxos[ref]
		if !ok {
			return nil, chain.ErrUtxoNotFound
		}
		ret = append(ret, u)
	}
	return ret, nil
}

func (f *fakeFetcher) UtxoByAsset(context.Context, string, string, string) (chain.Utxo, error) {
	return chain.Utxo{}, chain.ErrUtxoNotFound
}

type enqueued struct {
	name    string
	payload any
}

type fakeEnqueuer struct {
	jobs []enqueued
	err  error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, name string, payload any) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.jobs = append(f.jobs, enqueued{name: name, payload: payload})
	return uint64(len(f.jobs) - 1), nil
}
