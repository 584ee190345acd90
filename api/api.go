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

// Package api serves the commodity REST interface
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"
)

const DefaultListenAddress = ":3000"

type Config struct {
	ListenAddress string
}

// API is the REST server in front of the gateway and the audit store
type API struct {
	config     Config
	logger     *slog.Logger
	services   Services
	httpServer *http.Server
	mu         sync.Mutex
}

func New(cfg Config, services Services, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	return &API{
		config:   cfg,
		logger:   logger.With("component", "api"),
		services: services,
	}
}

// Handler returns the routed handler with CORS applied
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /palmyra/tokenizeCommodity", a.handleTokenize)
	mux.HandleFunc("POST /palmyra/spendCommodity", a.handleSpend)
	mux.HandleFunc("POST /palmyra/recreateCommodity", a.handleRecreate)
	mux.HandleFunc("POST /palmyra/commodityDetails", a.handleCommodityDetails)
	mux.HandleFunc("GET /check", a.handleChecks)
	mux.HandleFunc("GET /check/{id}", a.handleCheck)
	mux.HandleFunc("GET /transactions", a.handleTransactions)
	mux.HandleFunc("GET /transactions/{txid}", a.handleTransaction)
	mux.HandleFunc("GET /deployments", a.handleDeployments)
	mux.HandleFunc("GET /deployments/{contractAddress}", a.handleDeployment)
	mux.HandleFunc("POST /ipfs", a.handleIpfs)
	return cors.AllowAll().Handler(mux)
}

// Start binds the listener and serves in the background until ctx is done
// or Stop is called
func (a *API) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.httpServer != nil {
		a.mu.Unlock()
		return errors.New("server already started")
	}
	server := &http.Server{
		Addr:              a.config.ListenAddress,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	a.httpServer = server
	a.mu.Unlock()
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(
				"API server error",
				"error", err,
			)
		}
	}()
	a.logger.Info("API listener started on " + ln.Addr().String())

	go func() {
		<-ctx.Done()
		//nolint:contextcheck
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			30*time.Second,
		)
		defer cancel()
		//nolint:contextcheck
		if err := a.Stop(shutdownCtx); err != nil {
			a.logger.Error(
				"failed to shutdown API server on context cancellation",
				"error", err,
			)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (a *API) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.httpServer
	a.httpServer = nil
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	a.logger.Debug("shutting down API server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}
	return nil
}
