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

// Package queue is a durable FIFO job queue backed by badger with a single
// consumer.
//
// Jobs are keyed by a monotonic sequence and removed only after their handler
// returns, so jobs in flight when the process stops are delivered again on
// the next start.
package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/blinklabs-io/gouroboros/cbor"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/palmyra/internal/badgerlog"
)

const (
	DefaultGCInterval = 5 * time.Minute

	sequenceBandwidth = 100
)

var (
	ErrStopped = errors.New("queue stopped")

	jobPrefix   = []byte("job/")
	sequenceKey = []byte("seq/job")
)

// Job is a unit of work delivered to the handler registered for its name
type Job struct {
	ID         uint64
	Name       string
	Payload    []byte
	EnqueuedAt time.Time
}

// Decode unmarshals the JSON payload into v
func (j Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// HandlerFunc processes a job. A job whose context was canceled before the
// handler returned is kept for redelivery.
type HandlerFunc func(ctx context.Context, job Job) error

// jobRecord is the on-disk form of a Job
type jobRecord struct {
	cbor.StructAsArray
	Name       string
	Payload    []byte
	EnqueuedAt int64
}

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	// DataDir selects an on-disk store. Empty runs in memory.
	DataDir    string
	GCInterval time.Duration
	// JobTimeout bounds a single handler run. Zero disables it.
	JobTimeout time.Duration
}

type Queue struct {
	config   Config
	logger   *slog.Logger
	db       *badger.DB
	seq      *badger.Sequence
	handlers map[string]HandlerFunc
	notifyCh chan struct{}
	metrics  struct {
		enqueued  *prometheus.CounterVec
		completed *prometheus.CounterVec
		depth     prometheus.Gauge
	}

	mu        sync.Mutex
	started   bool
	stopped   bool
	stopCh    chan struct{}
	jobCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New opens the queue store. Handlers must be registered before Start.
func New(cfg Config) (*Queue, error) {
	q := &Queue{
		config:   cfg,
		handlers: make(map[string]HandlerFunc),
		notifyCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	if cfg.Logger == nil {
		q.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		q.logger = cfg.Logger.With("component", "queue")
	}
	if q.config.GCInterval <= 0 {
		q.config.GCInterval = DefaultGCInterval
	}
	var badgerOpts badger.Options
	if cfg.DataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true)
	} else {
		if _, err := os.Stat(cfg.DataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(cfg.DataDir).
			WithCompression(options.Snappy)
	}
	badgerOpts = badgerOpts.
		WithLogger(badgerlog.New(q.logger)).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	q.db = db
	seq, err := db.GetSequence(sequenceKey, sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open queue sequence: %w", err)
	}
	q.seq = seq
	q.initMetrics()
	depth, err := q.Len()
	if err != nil {
		_ = q.close()
		return nil, err
	}
	q.metrics.depth.Set(float64(depth))
	if depth > 0 {
		q.logger.Info(
			fmt.Sprintf("recovered %d pending jobs", depth),
		)
	}
	return q, nil
}

func (q *Queue) initMetrics() {
	factory := promauto.With(q.config.PromRegistry)
	q.metrics.enqueued = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palmyra_queue_jobs_enqueued_total",
			Help: "jobs added to the queue",
		},
		[]string{"name"},
	)
	q.metrics.completed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palmyra_queue_jobs_completed_total",
			Help: "jobs removed from the queue by result",
		},
		[]string{"name", "result"},
	)
	q.metrics.depth = factory.NewGauge(prometheus.GaugeOpts{
		Name: "palmyra_queue_depth",
		Help: "jobs waiting or running",
	})
}

// Handle registers the handler for a job name
func (q *Queue) Handle(name string, handler HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = handler
}

// Enqueue appends a job with a JSON encoded payload and returns its ID
func (q *Queue) Enqueue(ctx context.Context, name string, payload any) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return 0, ErrStopped
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode job payload: %w", err)
	}
	id, err := q.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("allocate job id: %w", err)
	}
	record, err := cbor.Encode(&jobRecord{
		Name:       name,
		Payload:    payloadJSON,
		EnqueuedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return 0, fmt.Errorf("encode job: %w", err)
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(id), record)
	})
	if err != nil {
		return 0, fmt.Errorf("store job: %w", err)
	}
	q.metrics.enqueued.WithLabelValues(name).Inc()
	q.metrics.depth.Inc()
	q.logger.Debug(
		"enqueued job",
		"job_id", id,
		"job_name", name,
	)
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
	return id, nil
}

// Len returns the number of jobs not yet acknowledged
func (q *Queue) Len() (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = jobPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

// Start launches the consumer and the value log GC loop. Cancelling ctx does
// not interrupt a running job; only Stop does.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrStopped
	}
	if q.started {
		return nil
	}
	q.started = true
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.jobCancel = cancel
	q.wg.Add(2)
	go q.consume(jobCtx)
	go q.runGC()
	return nil
}

// Stop waits for the running job to finish, or cancels it when ctx expires
// first, and closes the store.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	started := q.started
	close(q.stopCh)
	q.mu.Unlock()
	if started {
		done := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			q.jobCancel()
			<-done
		}
		q.jobCancel()
	}
	return q.close()
}

func (q *Queue) close() error {
	var err error
	if q.seq != nil {
		err = q.seq.Release()
	}
	return errors.Join(err, q.db.Close())
}

func (q *Queue) consume(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		id, job, err := q.next()
		if err != nil {
			q.logger.Error("failed to read next job", "error", err)
		}
		if job == nil {
			select {
			case <-q.stopCh:
				return
			case <-ctx.Done():
				return
			case <-q.notifyCh:
			case <-time.After(time.Second):
			}
			continue
		}
		if !q.run(ctx, *job) {
			// Interrupted, leave the job for the next start
			return
		}
		if err := q.ack(id); err != nil {
			q.logger.Error(
				"failed to remove completed job",
				"job_id", id,
				"error", err,
			)
		}
	}
}

// run dispatches job and reports whether it should be acknowledged
func (q *Queue) run(ctx context.Context, job Job) bool {
	q.mu.Lock()
	handler, ok := q.handlers[job.Name]
	q.mu.Unlock()
	if !ok {
		q.logger.Warn(
			"dropping job with unknown name",
			"job_id", job.ID,
			"job_name", job.Name,
		)
		q.metrics.completed.WithLabelValues(job.Name, "unknown").Inc()
		return true
	}
	runCtx := ctx
	if q.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, q.config.JobTimeout)
		defer cancel()
	}
	start := time.Now()
	err := q.invoke(runCtx, handler, job)
	if ctx.Err() != nil {
		q.logger.Warn(
			"job interrupted by shutdown",
			"job_id", job.ID,
			"job_name", job.Name,
		)
		return false
	}
	result := "success"
	if err != nil {
		result = "error"
		q.logger.Error(
			"job failed",
			"job_id", job.ID,
			"job_name", job.Name,
			"error", err,
		)
	} else {
		q.logger.Debug(
			"job completed",
			"job_id", job.ID,
			"job_name", job.Name,
			"duration", time.Since(start),
		)
	}
	q.metrics.completed.WithLabelValues(job.Name, result).Inc()
	return true
}

func (q *Queue) invoke(ctx context.Context, handler HandlerFunc, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

// next returns the oldest job, or nil when the queue is empty
func (q *Queue) next() (uint64, *Job, error) {
	var id uint64
	var job *Job
	undecodable := false
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = jobPrefix
		opts.PrefetchSize = 1
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		if !it.Valid() {
			return nil
		}
		item := it.Item()
		id = binary.BigEndian.Uint64(item.Key()[len(jobPrefix):])
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var record jobRecord
		if _, err := cbor.Decode(val, &record); err != nil {
			undecodable = true
			return fmt.Errorf("decode job %d: %w", id, err)
		}
		job = &Job{
			ID:         id,
			Name:       record.Name,
			Payload:    record.Payload,
			EnqueuedAt: time.UnixMilli(record.EnqueuedAt),
		}
		return nil
	})
	if undecodable {
		// Drop records that can never be decoded
		if ackErr := q.ack(id); ackErr != nil {
			err = errors.Join(err, ackErr)
		}
	}
	return id, job, err
}

func (q *Queue) ack(id uint64) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(jobKey(id))
	})
	if err != nil {
		return err
	}
	q.metrics.depth.Dec()
	return nil
}

func (q *Queue) runGC() {
	defer q.wg.Done()
	if q.config.DataDir == "" {
		return
	}
	ticker := time.NewTicker(q.config.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for {
				err := q.db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					q.logger.Warn(
						fmt.Sprintf("queue value log GC failure: %s", err),
					)
				}
				break
			}
		case <-q.stopCh:
			return
		}
	}
}

func jobKey(id uint64) []byte {
	key := make([]byte, len(jobPrefix)+8)
	copy(key, jobPrefix)
	binary.BigEndian.PutUint64(key[len(jobPrefix):], id)
	return key
}
