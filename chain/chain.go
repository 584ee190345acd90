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

// Package chain defines the boundary between the settlement pipeline and the
// Cardano chain-access provider. Everything behind these interfaces (address
// derivation, script evaluation, CBOR encoding) is treated as opaque.
package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const LovelaceUnit = "lovelace"

var (
	ErrUtxoNotFound   = errors.New("utxo not found")
	ErrInvalidOutRef  = errors.New("invalid output reference")
	ErrSubmitRejected = errors.New("transaction rejected")
)

// OutRef points at a single transaction output
type OutRef struct {
	TxHash      string `json:"txHash"`
	OutputIndex uint32 `json:"outputIndex"`
}

func (o OutRef) String() string {
	return fmt.Sprintf("%s#%d", o.TxHash, o.OutputIndex)
}

// Validate checks that the transaction hash is 32 bytes of hex
func (o OutRef) Validate() error {
	if !IsTxHash(o.TxHash) {
		return fmt.Errorf("%w: %q", ErrInvalidOutRef, o.TxHash)
	}
	return nil
}

// IsTxHash reports whether s is a 64 character hex string
func IsTxHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Asset is a native token quantity held in an output
type Asset struct {
	PolicyID  string `json:"policyId"`
	AssetName string `json:"assetName"`
	Quantity  uint64 `json:"quantity"`
}

// Unit returns the concatenated policy ID and hex asset name
func (a Asset) Unit() string {
	return a.PolicyID + a.AssetName
}

// Utxo is an unspent output as seen by the provider
type Utxo struct {
	Ref       OutRef  `json:"input"`
	Address   string  `json:"address"`
	Lovelace  uint64  `json:"lovelace"`
	Assets    []Asset `json:"assets,omitempty"`
	DatumCbor []byte  `json:"-"`
	ScriptRef []byte  `json:"-"`
}

// HasAssets reports whether the output carries native tokens
func (u Utxo) HasAssets() bool {
	return len(u.Assets) > 0
}

// TotalLovelace sums the ADA held across utxos
func TotalLovelace(utxos []Utxo) uint64 {
	var total uint64
	for _, u := range utxos {
		total += u.Lovelace
	}
	return total
}

// ExcludeOutRefs returns the utxos whose reference is not in spent
func ExcludeOutRefs(utxos []Utxo, spent []OutRef) []Utxo {
	if len(spent) == 0 {
		return utxos
	}
	pending := make(map[OutRef]struct{}, len(spent))
	for _, ref := range spent {
		pending[NormalizeOutRef(ref)] = struct{}{}
	}
	ret := make([]Utxo, 0, len(utxos))
	for _, u := range utxos {
		if _, ok := pending[NormalizeOutRef(u.Ref)]; ok {
			continue
		}
		ret = append(ret, u)
	}
	return ret
}

// NormalizeOutRef lowercases the hash so refs compare by value
func NormalizeOutRef(ref OutRef) OutRef {
	ref.TxHash = strings.ToLower(ref.TxHash)
	return ref
}

// UtxoFetcher resolves outputs from the chain
type UtxoFetcher interface {
	UtxosByAddress(ctx context.Context, address string) ([]Utxo, error)
	UtxosByRef(ctx context.Context, refs []OutRef) ([]Utxo, error)
	UtxoByAsset(
		ctx context.Context,
		address string,
		policyID string,
		assetName string,
	) (Utxo, error)
}

// MempoolReader lists the outputs consumed by unconfirmed transactions
type MempoolReader interface {
	PendingInputs(ctx context.Context) ([]OutRef, error)
}

// Submitter broadcasts a signed transaction and returns its hash
type Submitter interface {
	Submit(ctx context.Context, tx *SignedTx) (string, error)
}

// TxBuilder assembles an unsigned transaction for one operation
type TxBuilder interface {
	Build(ctx context.Context, req BuildRequest) (*UnsignedTx, error)
}

// Signer adds the service wallet witness to a transaction
type Signer interface {
	Sign(ctx context.Context, tx *UnsignedTx) (*SignedTx, error)
}

// Provider is the chain access needed by the settlement pipeline
type Provider interface {
	UtxoFetcher
	MempoolReader
	Submitter
}
