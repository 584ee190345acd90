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

// Package mempool tracks the outputs that unconfirmed transactions are about
// to consume, so that the selector does not hand them out twice.
package mempool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/palmyra/event"
)

const (
	AddTransactionEventType    event.EventType = "mempool.add_tx"
	RemoveTransactionEventType event.EventType = "mempool.remove_tx"

	DefaultTTL = 5 * time.Minute
)

type AddTransactionEvent struct {
	Hash   string
	Inputs []chain.OutRef
}

type RemoveTransactionEvent struct {
	Hash string
}

// MempoolTransaction is a transaction submitted by this service
type MempoolTransaction struct {
	Submitted time.Time
	Hash      string
	Inputs    []chain.OutRef
	Size      int
}

type MempoolConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	EventBus     *event.EventBus
	// Remote is the node or indexer mempool. It may be nil.
	Remote chain.MempoolReader
	// TTL bounds how long a submitted transaction is assumed unconfirmed
	TTL time.Duration
}

type Mempool struct {
	config  MempoolConfig
	metrics struct {
		txsSubmitted  prometheus.Counter
		txsInMempool  prometheus.Gauge
		mempoolBytes  prometheus.Gauge
		remoteErrors  prometheus.Counter
		pendingInputs prometheus.Gauge
	}
	logger       *slog.Logger
	eventBus     *event.EventBus
	transactions []*MempoolTransaction
	now          func() time.Time
	sync.Mutex
}

func NewMempool(config MempoolConfig) *Mempool {
	m := &Mempool{
		config:   config,
		eventBus: config.EventBus,
		now:      time.Now,
	}
	if config.Logger == nil {
		m.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		m.logger = config.Logger.With("component", "mempool")
	}
	if m.config.TTL <= 0 {
		m.config.TTL = DefaultTTL
	}
	promautoFactory := promauto.With(config.PromRegistry)
	m.metrics.txsSubmitted = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "palmyra_mempool_txs_submitted_total",
			Help: "total transactions submitted by this service",
		},
	)
	m.metrics.txsInMempool = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "palmyra_mempool_txs",
		Help: "current count of locally tracked unconfirmed transactions",
	})
	m.metrics.mempoolBytes = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "palmyra_mempool_bytes",
		Help: "current size of locally tracked transactions in bytes",
	})
	m.metrics.remoteErrors = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "palmyra_mempool_remote_errors_total",
			Help: "failed remote mempool reads",
		},
	)
	m.metrics.pendingInputs = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "palmyra_mempool_pending_inputs",
		Help: "outputs consumed by unconfirmed transactions at the last read",
	})
	return m
}

// AddTransaction records a transaction this service just submitted
func (m *Mempool) AddTransaction(tx *chain.SignedTx) {
	if tx == nil {
		return
	}
	m.Lock()
	defer m.Unlock()
	if existing := m.getTransaction(tx.Hash); existing != nil {
		existing.Submitted = m.now()
		m.logger.Debug(
			"updated submit time for transaction",
			"tx_hash", tx.Hash,
		)
		return
	}
	entry := &MempoolTransaction{
		Submitted: m.now(),
		Hash:      tx.Hash,
		Inputs:    slices.Clone(tx.Inputs),
		Size:      len(tx.Cbor),
	}
	m.transactions = append(m.transactions, entry)
	m.logger.Debug(
		"added transaction",
		"tx_hash", tx.Hash,
		"inputs", len(entry.Inputs),
	)
	m.metrics.txsSubmitted.Inc()
	m.metrics.txsInMempool.Inc()
	m.metrics.mempoolBytes.Add(float64(entry.Size))
	if m.eventBus != nil {
		m.eventBus.PublishAsync(
			AddTransactionEventType,
			event.NewEvent(
				AddTransactionEventType,
				AddTransactionEvent{
					Hash:   entry.Hash,
					Inputs: slices.Clone(entry.Inputs),
				},
			),
		)
	}
}

// PruneConfirmed drops local transactions whose inputs are all absent from
// walletUtxos. Every transaction this service builds spends wallet outputs, so
// once none of them is listed the transaction is on chain (or was replaced by
// one that is). It returns the number of transactions dropped.
func (m *Mempool) PruneConfirmed(walletUtxos []chain.Utxo) int {
	live := make(map[chain.OutRef]struct{}, len(walletUtxos))
	for _, u := range walletUtxos {
		live[chain.NormalizeOutRef(u.Ref)] = struct{}{}
	}
	m.Lock()
	defer m.Unlock()
	pruned := 0
	for i := len(m.transactions) - 1; i >= 0; i-- {
		tx := m.transactions[i]
		if slices.ContainsFunc(tx.Inputs, func(ref chain.OutRef) bool {
			_, ok := live[chain.NormalizeOutRef(ref)]
			return ok
		}) {
			continue
		}
		m.removeTransactionByIndex(i)
		pruned++
		m.logger.Debug(
			"removed confirmed transaction",
			"tx_hash", tx.Hash,
		)
	}
	return pruned
}

func (m *Mempool) Transactions() []MempoolTransaction {
	m.Lock()
	defer m.Unlock()
	m.expire()
	ret := make([]MempoolTransaction, len(m.transactions))
	for i := range m.transactions {
		ret[i] = *m.transactions[i]
	}
	return ret
}

// PendingInputs returns the union of the remote mempool inputs and the inputs
// of locally submitted transactions that have not expired.
func (m *Mempool) PendingInputs(ctx context.Context) ([]chain.OutRef, error) {
	m.Lock()
	m.expire()
	var ret []chain.OutRef
	seen := make(map[chain.OutRef]struct{})
	for _, tx := range m.transactions {
		for _, ref := range tx.Inputs {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			ret = append(ret, ref)
		}
	}
	m.Unlock()
	if m.config.Remote != nil {
		remote, err := m.config.Remote.PendingInputs(ctx)
		if err != nil {
			m.metrics.remoteErrors.Inc()
			return nil, fmt.Errorf("read remote mempool: %w", err)
		}
		for _, ref := range remote {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			ret = append(ret, ref)
		}
	}
	m.metrics.pendingInputs.Set(float64(len(ret)))
	return ret, nil
}

func (m *Mempool) getTransaction(txHash string) *MempoolTransaction {
	for _, tx := range m.transactions {
		if tx.Hash == txHash {
			return tx
		}
	}
	return nil
}

// expire drops transactions older than the TTL. The caller holds the lock.
func (m *Mempool) expire() {
	cutoff := m.now().Add(-m.config.TTL)
	for i := len(m.transactions) - 1; i >= 0; i-- {
		tx := m.transactions[i]
		if tx.Submitted.After(cutoff) {
			continue
		}
		m.removeTransactionByIndex(i)
		m.logger.Debug(
			"expired transaction",
			"tx_hash", tx.Hash,
		)
	}
}

func (m *Mempool) removeTransactionByIndex(txIdx int) bool {
	if txIdx >= len(m.transactions) {
		return false
	}
	tx := m.transactions[txIdx]
	m.transactions = slices.Delete(m.transactions, txIdx, txIdx+1)
	m.metrics.txsInMempool.Dec()
	m.metrics.mempoolBytes.Sub(float64(tx.Size))
	if m.eventBus != nil {
		m.eventBus.PublishAsync(
			RemoveTransactionEventType,
			event.NewEvent(
				RemoveTransactionEventType,
				RemoveTransactionEvent{Hash: tx.Hash},
			),
		)
	}
	return true
}
