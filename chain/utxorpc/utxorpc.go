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

// Package utxorpc implements chain.Provider against a UTxO RPC endpoint
package utxorpc

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/blinklabs-io/gouroboros/cbor"
	gledger "github.com/blinklabs-io/gouroboros/ledger"
	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
	"github.com/blinklabs-io/palmyra/chain"
	"github.com/utxorpc/go-codegen/utxorpc/v1alpha/cardano"
	"github.com/utxorpc/go-codegen/utxorpc/v1alpha/query"
	"github.com/utxorpc/go-codegen/utxorpc/v1alpha/query/queryconnect"
	"github.com/utxorpc/go-codegen/utxorpc/v1alpha/submit"
	"github.com/utxorpc/go-codegen/utxorpc/v1alpha/submit/submitconnect"
	"golang.org/x/net/http2"
)

const (
	ProtocolGRPC    = "grpc"
	ProtocolGRPCWeb = "grpcweb"
	ProtocolConnect = "connect"

	DefaultAPIKeyHeader = "dmtr-api-key"
	defaultTimeout      = 30 * time.Second
)

type Config struct {
	Logger *slog.Logger
	// URL of the UTxO RPC endpoint. http:// URLs use HTTP/2 without TLS.
	URL          string
	Protocol     string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	// HTTPClient overrides the client built from URL
	HTTPClient connect.HTTPClient
}

// Client is a chain.Provider backed by UTxO RPC query and submit services
type Client struct {
	logger *slog.Logger
	query  queryconnect.QueryServiceClient
	submit submitconnect.SubmitServiceClient
}

var _ chain.Provider = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.URL == "" {
		return nil, errors.New("utxorpc URL not configured")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}
	opts := []connect.ClientOption{}
	switch cfg.Protocol {
	case ProtocolGRPC, "":
		opts = append(opts, connect.WithGRPC())
	case ProtocolGRPCWeb:
		opts = append(opts, connect.WithGRPCWeb())
	case ProtocolConnect:
	default:
		return nil, fmt.Errorf("unknown utxorpc protocol: %s", cfg.Protocol)
	}
	if cfg.APIKey != "" {
		opts = append(
			opts,
			connect.WithInterceptors(apiKeyInterceptor(cfg.APIKeyHeader, cfg.APIKey)),
		)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(cfg.URL, cfg.Timeout)
	}
	url := strings.TrimSuffix(cfg.URL, "/")
	return &Client{
		logger: cfg.Logger.With("component", "utxorpc"),
		query:  queryconnect.NewQueryServiceClient(httpClient, url, opts...),
		submit: submitconnect.NewSubmitServiceClient(httpClient, url, opts...),
	}, nil
}

// newHTTPClient negotiates HTTP/2 over TLS for https URLs and speaks h2c
// otherwise, since gRPC requires HTTP/2.
func newHTTPClient(url string, timeout time.Duration) *http.Client {
	if strings.HasPrefix(url, "https://") {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

func apiKeyInterceptor(header, key string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			req.Header().Set(header, key)
			return next(ctx, req)
		}
	}
}

// UtxosByAddress returns all outputs held at address
func (c *Client) UtxosByAddress(ctx context.Context, address string) ([]chain.Utxo, error) {
	addrBytes, err := rawAddress(address)
	if err != nil {
		return nil, err
	}
	return c.search(ctx, &cardano.TxOutputPattern{
		Address: &cardano.AddressPattern{ExactAddress: addrBytes},
	})
}

// UtxoByAsset returns the output at address holding the given asset
func (c *Client) UtxoByAsset(
	ctx context.Context,
	address string,
	policyID string,
	assetName string,
) (chain.Utxo, error) {
	addrBytes, err := rawAddress(address)
	if err != nil {
		return chain.Utxo{}, err
	}
	policy, err := hex.DecodeString(policyID)
	if err != nil {
		return chain.Utxo{}, fmt.Errorf("invalid policy ID %q: %w", policyID, err)
	}
	name, err := hex.DecodeString(assetName)
	if err != nil {
		return chain.Utxo{}, fmt.Errorf("invalid asset name %q: %w", assetName, err)
	}
	utxos, err := c.search(ctx, &cardano.TxOutputPattern{
		Address: &cardano.AddressPattern{ExactAddress: addrBytes},
		Asset: &cardano.AssetPattern{
			PolicyId:  policy,
			AssetName: name,
		},
	})
	if err != nil {
		return chain.Utxo{}, err
	}
	if len(utxos) == 0 {
		return chain.Utxo{}, fmt.Errorf(
			"%w: %s%s at %s",
			chain.ErrUtxoNotFound,
			policyID,
			assetName,
			address,
		)
	}
	return utxos[0], nil
}

func (c *Client) search(ctx context.Context, pattern *cardano.TxOutputPattern) ([]chain.Utxo, error) {
	req := connect.NewRequest(&query.SearchUtxosRequest{
		Predicate: &query.UtxoPredicate{
			Match: &query.AnyUtxoPattern{
				UtxoPattern: &query.AnyUtxoPattern_Cardano{Cardano: pattern},
			},
		},
	})
	resp, err := c.query.SearchUtxos(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search utxos: %w", err)
	}
	return decodeItems(resp.Msg.GetItems())
}

// UtxosByRef resolves each reference, failing when any is missing
func (c *Client) UtxosByRef(ctx context.Context, refs []chain.OutRef) ([]chain.Utxo, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	keys := make([]*query.TxoRef, 0, len(refs))
	for _, ref := range refs {
		if err := ref.Validate(); err != nil {
			return nil, err
		}
		hash, _ := hex.DecodeString(ref.TxHash)
		keys = append(keys, &query.TxoRef{Hash: hash, Index: ref.OutputIndex})
	}
	resp, err := c.query.ReadUtxos(ctx, connect.NewRequest(&query.ReadUtxosRequest{Keys: keys}))
	if err != nil {
		return nil, fmt.Errorf("read utxos: %w", err)
	}
	utxos, err := decodeItems(resp.Msg.GetItems())
	if err != nil {
		return nil, err
	}
	found := make(map[chain.OutRef]chain.Utxo, len(utxos))
	for _, u := range utxos {
		found[u.Ref] = u
	}
	// Keep request order
	ret := make([]chain.Utxo, 0, len(refs))
	for _, ref := range refs {
		u, ok := found[chain.OutRef{TxHash: strings.ToLower(ref.TxHash), OutputIndex: ref.OutputIndex}]
		if !ok {
			return nil, fmt.Errorf("%w: %s", chain.ErrUtxoNotFound, ref)
		}
		ret = append(ret, u)
	}
	return ret, nil
}

// PendingInputs lists the inputs consumed by transactions in the mempool
func (c *Client) PendingInputs(ctx context.Context) ([]chain.OutRef, error) {
	resp, err := c.submit.ReadMempool(ctx, connect.NewRequest(&submit.ReadMempoolRequest{}))
	if err != nil {
		return nil, fmt.Errorf("read mempool: %w", err)
	}
	var ret []chain.OutRef
	for _, item := range resp.Msg.GetItems() {
		inputs, err := TxInputs(item.GetNativeBytes())
		if err != nil {
			// A single undecodable entry should not hide the rest
			c.logger.Warn("skipping undecodable mempool transaction", "error", err)
			continue
		}
		ret = append(ret, inputs...)
	}
	return ret, nil
}

// Submit broadcasts a signed transaction
func (c *Client) Submit(ctx context.Context, tx *chain.SignedTx) (string, error) {
	req := connect.NewRequest(&submit.SubmitTxRequest{
		Tx: []*submit.AnyChainTx{
			{Type: &submit.AnyChainTx_Raw{Raw: tx.Cbor}},
		},
	})
	resp, err := c.submit.SubmitTx(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", chain.ErrSubmitRejected, err)
	}
	refs := resp.Msg.GetRef()
	if len(refs) == 0 || len(refs[0]) == 0 {
		return "", fmt.Errorf("%w: empty transaction reference", chain.ErrSubmitRejected)
	}
	txHash := hex.EncodeToString(refs[0])
	c.logger.Info("submitted transaction", "tx_hash", txHash)
	return txHash, nil
}

// TxInputs decodes a transaction and returns the outputs it spends
func TxInputs(txCbor []byte) ([]chain.OutRef, error) {
	txType, err := gledger.DetermineTransactionType(txCbor)
	if err != nil {
		return nil, fmt.Errorf("determine tx type: %w", err)
	}
	tx, err := gledger.NewTransactionFromCbor(txType, txCbor)
	if err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	inputs := tx.Inputs()
	ret := make([]chain.OutRef, 0, len(inputs))
	for _, in := range inputs {
		ret = append(ret, chain.OutRef{
			TxHash:      in.Id().String(),
			OutputIndex: in.Index(),
		})
	}
	return ret, nil
}

func decodeItems(items []*query.AnyUtxoData) ([]chain.Utxo, error) {
	ret := make([]chain.Utxo, 0, len(items))
	for _, item := range items {
		u, err := decodeUtxo(item)
		if err != nil {
			return nil, err
		}
		ret = append(ret, u)
	}
	return ret, nil
}

func decodeUtxo(item *query.AnyUtxoData) (chain.Utxo, error) {
	ref := item.GetTxoRef()
	if ref == nil {
		return chain.Utxo{}, errors.New("utxo without reference")
	}
	out, err := gledger.NewTransactionOutputFromCbor(item.GetNativeBytes())
	if err != nil {
		return chain.Utxo{}, fmt.Errorf(
			"decode output %x#%d: %w",
			ref.GetHash(),
			ref.GetIndex(),
			err,
		)
	}
	ret := chain.Utxo{
		Ref: chain.OutRef{
			TxHash:      hex.EncodeToString(ref.GetHash()),
			OutputIndex: ref.GetIndex(),
		},
		Address:  out.Address().String(),
		Lovelace: toUint64(out.Amount()),
	}
	if assets := out.Assets(); assets != nil {
		for _, policy := range assets.Policies() {
			for _, name := range assets.Assets(policy) {
				ret.Assets = append(ret.Assets, chain.Asset{
					PolicyID:  hex.EncodeToString(policy[:]),
					AssetName: hex.EncodeToString(name),
					Quantity:  toUint64(assets.Asset(policy, name)),
				})
			}
		}
	}
	if d := out.Datum(); d != nil {
		ret.DatumCbor = d.Cbor()
	}
	if sr := out.ScriptRef(); sr != nil {
		if enc, err := cbor.Encode(sr); err == nil {
			ret.ScriptRef = enc
		}
	}
	return ret, nil
}

// toUint64 accepts the integer representations used for ledger amounts
func toUint64(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case *big.Int:
		if n == nil || !n.IsUint64() {
			return 0
		}
		return n.Uint64()
	case interface{ Uint64() uint64 }:
		return n.Uint64()
	default:
		return 0
	}
}

// rawAddress returns the header and payload bytes of a bech32 address
func rawAddress(address string) ([]byte, error) {
	addr, err := lcommon.NewAddress(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	enc, err := cbor.Encode(&addr)
	if err != nil {
		return nil, err
	}
	var raw []byte
	if _, err := cbor.Decode(enc, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
