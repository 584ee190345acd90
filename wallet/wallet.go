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

// Package wallet holds the service payment key used to fund and sign every
// settlement transaction.
package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"

	"github.com/blinklabs-io/gouroboros/cbor"
	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
	"github.com/blinklabs-io/palmyra/chain"
	"golang.org/x/crypto/blake2b"
)

type Config struct {
	Logger  *slog.Logger
	KeyFile string
	Network string
}

// Wallet is an enterprise address controlled by a single ed25519 key
type Wallet struct {
	logger  *slog.Logger
	skey    ed25519.PrivateKey
	vkey    ed25519.PublicKey
	keyHash lcommon.Blake2b224
	address lcommon.Address
}

// Load reads the signing key named in cfg
func Load(cfg Config) (*Wallet, error) {
	if cfg.KeyFile == "" {
		return nil, errors.New("wallet key file not configured")
	}
	skey, err := loadSigningKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	return New(skey, cfg.Network, cfg.Logger)
}

// New builds a wallet around an existing private key
func New(skey ed25519.PrivateKey, network string, logger *slog.Logger) (*Wallet, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if len(skey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size %d", len(skey))
	}
	netID, err := chain.AddressNetworkID(network)
	if err != nil {
		return nil, err
	}
	vkey, ok := skey.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("unexpected public key type")
	}
	keyHash := lcommon.Blake2b224Hash(vkey)
	addr, err := lcommon.NewAddressFromParts(
		lcommon.AddressTypeKeyNone,
		netID,
		keyHash[:],
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("build address: %w", err)
	}
	w := &Wallet{
		logger:  logger.With("component", "wallet"),
		skey:    skey,
		vkey:    vkey,
		keyHash: keyHash,
		address: addr,
	}
	w.logger.Info(
		"loaded wallet",
		"address", addr.String(),
		"key_hash", hex.EncodeToString(keyHash[:]),
	)
	return w, nil
}

// Address returns the bech32 enterprise address
func (w *Wallet) Address() string {
	return w.address.String()
}

// KeyHash returns the payment key hash
func (w *Wallet) KeyHash() []byte {
	return w.keyHash[:]
}

// KeyHashHex returns the payment key hash as hex
func (w *Wallet) KeyHashHex() string {
	return hex.EncodeToString(w.keyHash[:])
}

// VerificationKey returns the ed25519 public key
func (w *Wallet) VerificationKey() ed25519.PublicKey {
	return w.vkey
}

// Sign adds a vkey witness over the body hash and assembles the full
// transaction as [body, witness_set, is_valid, auxiliary_data].
func (w *Wallet) Sign(_ context.Context, tx *chain.UnsignedTx) (*chain.SignedTx, error) {
	if tx == nil || len(tx.Body) == 0 {
		return nil, errors.New("empty transaction body")
	}
	bodyHash := blake2b.Sum256(tx.Body)
	sig := ed25519.Sign(w.skey, bodyHash[:])
	witness := make(map[uint]any, len(tx.Witness)+1)
	maps.Copy(witness, tx.Witness)
	witness[0] = []lcommon.VkeyWitness{
		{
			Vkey:      w.vkey,
			Signature: sig,
		},
	}
	// Keep the body as raw bytes so the hash stays valid
	signed := []any{
		cbor.RawMessage(tx.Body),
		witness,
		true,
		nil,
	}
	signedCbor, err := cbor.Encode(signed)
	if err != nil {
		return nil, fmt.Errorf("encode signed tx: %w", err)
	}
	return &chain.SignedTx{
		Cbor:   signedCbor,
		Hash:   hex.EncodeToString(bodyHash[:]),
		Inputs: tx.Inputs,
	}, nil
}
