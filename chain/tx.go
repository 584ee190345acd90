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

package chain

import "encoding/hex"

// BuildRequest is implemented by the four transaction shapes the builder
// knows how to assemble.
type BuildRequest interface {
	isBuildRequest()
}

// ScriptRefs points at deployed reference scripts for a contract address.
// A nil entry means the script is embedded in the transaction.
type ScriptRefs struct {
	SingletonScript   *OutRef `json:"singletonScript,omitempty"`
	ObjectEventScript *OutRef `json:"objectEventScript"`
}

// MintRequest mints a singleton carrying an object datum to the contract
type MintRequest struct {
	WalletUtxos []Utxo
	TokenName   string
	Datum       []byte
}

// DeployRefRequest places the object event script at output 0 of a new
// transaction paying to DeployAddress.
type DeployRefRequest struct {
	WalletUtxos   []Utxo
	DeployAddress string
	TokenName     string
	Anchor        OutRef
}

// RecreateRequest spends commodity outputs and recreates them with new datums
type RecreateRequest struct {
	WalletUtxos []Utxo
	Inputs      []Utxo
	NewDatums   [][]byte
	ScriptRefs  map[string]ScriptRefs
}

// SpendRequest spends commodity outputs and burns their singletons
type SpendRequest struct {
	WalletUtxos []Utxo
	Inputs      []Utxo
	ScriptRefs  map[string]ScriptRefs
}

func (MintRequest) isBuildRequest()      {}
func (DeployRefRequest) isBuildRequest() {}
func (RecreateRequest) isBuildRequest()  {}
func (SpendRequest) isBuildRequest()     {}

// UnsignedTx is a fully balanced transaction lacking the wallet witness
type UnsignedTx struct {
	// Body is the CBOR encoded transaction body
	Body []byte
	// Witness holds the CBOR encoded witness set without vkey witnesses
	Witness map[uint]any
	// Hash is the hex encoded blake2b-256 of Body
	Hash string
	// Inputs are the wallet and script inputs consumed
	Inputs []OutRef
	// Extra carries operation specific results, such as the minted unit
	Extra map[string]string
}

// SignedTx is ready for submission
type SignedTx struct {
	Cbor []byte
	Hash string
	// Inputs are carried forward so the pending view can track them
	Inputs []OutRef
}

func (s *SignedTx) Hex() string {
	return hex.EncodeToString(s.Cbor)
}
