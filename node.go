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
	"path/filepath"
	"sync"

	"github.com/blinklabs-io/palmyra/api"
	"github.com/blinklabs-io/palmyra/archive"
	"github.com/blinklabs-io/palmyra/builder"
	"github.com/blinklabs-io/palmyra/chain/utxorpc"
	"github.com/blinklabs-io/palmyra/database"
	"github.com/blinklabs-io/palmyra/event"
	"github.com/blinklabs-io/palmyra/ipfs"
	"github.com/blinklabs-io/palmyra/mempool"
	"github.com/blinklabs-io/palmyra/queue"
	"github.com/blinklabs-io/palmyra/selector"
	"github.com/blinklabs-io/palmyra/txbuilder"
	"github.com/blinklabs-io/palmyra/wallet"
)

type Node struct {
	eventBus      *event.EventBus
	db            *database.Database
	provider      *utxorpc.Client
	mempool       *mempool.Mempool
	builder       *builder.Builder
	queue         *queue.Queue
	gateway       *Gateway
	reconciler    *Reconciler
	archive       archive.Archive
	api           *api.API
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	eventBus := event.NewEventBus(cfg.promRegistry, cfg.logger)
	n := &Node{
		config:   cfg,
		eventBus: eventBus,
		done:     make(chan struct{}),
	}
	if err := n.configValidate(); err != nil {
		eventBus.Stop()
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return n, nil
}

// Run starts every component and blocks until ctx is done or Stop is called
func (n *Node) Run(ctx context.Context) error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	dbConfig := n.config.database
	dbConfig.Logger = n.config.logger
	if dbConfig.DataDir == "" {
		dbConfig.DataDir = n.config.dataDir
	}
	db, err := database.New(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	// Chain access
	provider, err := utxorpc.New(utxorpc.Config{
		Logger:       n.config.logger,
		URL:          n.config.utxorpcURL,
		Protocol:     n.config.utxorpcProtocol,
		APIKey:       n.config.utxorpcAPIKey,
		APIKeyHeader: n.config.utxorpcAPIKeyHeader,
		Timeout:      n.config.utxorpcTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to configure utxorpc: %w", err)
	}
	n.provider = provider
	n.mempool = mempool.NewMempool(mempool.MempoolConfig{
		PromRegistry: n.config.promRegistry,
		Logger:       n.config.logger,
		EventBus:     n.eventBus,
		Remote:       provider,
		TTL:          n.config.mempoolTTL,
	})
	// Signing identity and transaction assembly
	w, err := wallet.Load(wallet.Config{
		Logger:  n.config.logger,
		KeyFile: n.config.walletKeyFile,
		Network: n.config.network,
	})
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}
	tb, err := n.loadTxBuilder(w)
	if err != nil {
		return err
	}
	sel, err := selector.New(selector.Config{
		Logger:      n.config.logger,
		Fetcher:     provider,
		Mempool:     n.mempool,
		Address:     w.Address(),
		MinLovelace: n.config.minLovelace,
		MaxAttempts: n.config.selectAttempts,
		RetryDelay:  n.config.selectRetryDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to configure selector: %w", err)
	}
	n.builder, err = builder.New(builder.Config{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		Provider:     provider,
		Selector:     sel,
		TxBuilder:    tb,
		Wallet:       w,
		Pending:      n.mempool,
	})
	if err != nil {
		return fmt.Errorf("failed to configure builder: %w", err)
	}
	// Settlement pipeline
	queueDir := ""
	if n.config.dataDir != "" {
		queueDir = filepath.Join(n.config.dataDir, "queue")
	}
	n.queue, err = queue.New(queue.Config{
		Logger:       n.config.logger,
		PromRegistry: n.config.promRegistry,
		DataDir:      queueDir,
		JobTimeout:   n.config.jobTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	deployAddress := n.config.deployAddress
	if deployAddress == "" {
		deployAddress = w.Address()
	}
	n.reconciler, err = NewReconciler(ReconcilerConfig{
		Logger:        n.config.logger,
		PromRegistry:  n.config.promRegistry,
		Commodities:   n.builder,
		Store:         n.db,
		EventBus:      n.eventBus,
		Retry:         RetryPolicy{Logger: n.config.logger, MaxAttempts: n.config.retryAttempts},
		DeployAddress: deployAddress,
	})
	if err != nil {
		return err
	}
	n.reconciler.Register(n.queue)
	n.gateway, err = NewGateway(GatewayConfig{
		Logger:      n.config.logger,
		Commodities: n.builder,
		Fetcher:     provider,
		Queue:       n.queue,
		Store:       n.db,
	})
	if err != nil {
		return err
	}
	services := api.Services{
		Dispatcher: n.gateway,
		Details:    n.builder,
		Store:      n.db,
	}
	// Metadata uploads
	if n.config.archive.Plugin != "" {
		archiveConfig := n.config.archive
		archiveConfig.Logger = n.config.logger
		archiveConfig.PromRegistry = n.config.promRegistry
		if archiveConfig.DataDir == "" && n.config.dataDir != "" {
			archiveConfig.DataDir = filepath.Join(n.config.dataDir, "archive")
		}
		n.archive, err = archive.New(ctx, archiveConfig)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
	}
	if n.config.ipfsURL != "" {
		services.Uploader = ipfs.New(ipfs.Config{
			Logger:  n.config.logger,
			URL:     n.config.ipfsURL,
			Timeout: n.config.ipfsTimeout,
			Archive: n.archive,
		})
	}
	// Start processing
	if err := n.queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue: %w", err)
	}
	n.api = api.New(
		api.Config{ListenAddress: n.config.apiListenAddress},
		services,
		n.config.logger,
	)
	if err := n.api.Start(ctx); err != nil {
		return err
	}

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case <-n.done:
	}
	return nil
}

func (n *Node) loadTxBuilder(w *wallet.Wallet) (*txbuilder.Builder, error) {
	policy, err := txbuilder.LoadScript(n.config.singletonPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load singleton policy: %w", err)
	}
	objectEvent, err := txbuilder.LoadScript(n.config.objectEventFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load object event script: %w", err)
	}
	params := txbuilder.DefaultProtocolParams()
	if n.config.protocolParamsFile != "" {
		params, err = txbuilder.LoadProtocolParams(n.config.protocolParamsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load protocol parameters: %w", err)
		}
	}
	tb, err := txbuilder.New(txbuilder.Config{
		Logger:            n.config.logger,
		Network:           n.config.network,
		Params:            params,
		SingletonPolicy:   policy,
		ObjectEvent:       objectEvent,
		ChangeAddress:     w.Address(),
		SignerKeyHash:     w.KeyHash(),
		CommodityLovelace: n.config.commodityLovelace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure transaction builder: %w", err)
	}
	return tb, nil
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	shutdownTimeout := DefaultShutdownTimeout
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	n.config.logger.Debug("shutdown phase 1: stopping new work")

	if n.api != nil {
		if stopErr := n.api.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("api shutdown: %w", stopErr))
		}
	}

	// Phase 2: Let the running job finish
	n.config.logger.Debug("shutdown phase 2: draining queue")

	if n.queue != nil {
		if stopErr := n.queue.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("queue shutdown: %w", stopErr))
		}
	}

	// Phase 3: Close storage
	n.config.logger.Debug("shutdown phase 3: closing storage")

	if n.archive != nil {
		if closeErr := n.archive.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("archive close: %w", closeErr))
		}
	}

	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Phase 4: Cleanup resources
	n.config.logger.Debug("shutdown phase 4: cleanup resources")

	// Call registered shutdown functions
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	n.config.logger.Debug("graceful shutdown complete")
	close(n.done)
	return err
}
