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

package builder

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/palmyra/datum"
	"github.com/blinklabs-io/palmyra/txbuilder"
)

// policyIDHexLen is the hex length of a blake2b-224 script hash
const policyIDHexLen = 56

type MintParams struct {
	TokenName         string `json:"tokenName"`
	MetadataReference string `json:"metadataReference"`
}

type MintResult struct {
	MintTxHash string
	// InputUtxos are the wallet outputs consumed, anchor first
	InputUtxos      []chain.Utxo
	TokenName       string
	Singleton       string
	ContractAddress string
}

type DeployParams struct {
	DeployAddress string
	TokenName     string
	UtxoRef       chain.OutRef
}

type DeployResult struct {
	DeploymentTxHash      string
	DeploymentOutputIndex uint32
}

type RecreateParams struct {
	Utxos             []chain.OutRef
	NewDataReferences []string
	UtxoRef           map[string]chain.ScriptRefs
}

type SpendParams struct {
	Utxos   []chain.OutRef
	UtxoRef map[string]chain.ScriptRefs
}

// Mint creates a singleton commodity token holding a fresh provenance datum
func (b *Builder) Mint(ctx context.Context, p MintParams, submit bool) (result *MintResult, err error) {
	ctx, span := b.startSpan(ctx, "mint", submit)
	defer func() { endSpan(span, err) }()
	params := datum.NewParams(p.MetadataReference, b.config.Wallet.KeyHashHex())
	objectDatum, err := datum.FromParams(params)
	if err != nil {
		return nil, err
	}
	datumCbor, err := objectDatum.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode datum: %w", err)
	}
	walletUtxos, err := b.walletUtxos(ctx, submit)
	if err != nil {
		return nil, err
	}
	tx, err := b.config.TxBuilder.Build(ctx, chain.MintRequest{
		WalletUtxos: walletUtxos,
		TokenName:   p.TokenName,
		Datum:       datumCbor,
	})
	if err != nil {
		return nil, fmt.Errorf("build mint: %w", err)
	}
	hash, err := b.finish(ctx, "mint", tx, submit)
	if err != nil {
		return nil, err
	}
	return &MintResult{
		MintTxHash:      hash,
		InputUtxos:      consumed(walletUtxos, tx),
		TokenName:       p.TokenName,
		Singleton:       tx.Extra[txbuilder.ExtraUnit],
		ContractAddress: tx.Extra[txbuilder.ExtraContractAddress],
	}, nil
}

// DeployRef publishes the object event validator as a reference script
func (b *Builder) DeployRef(ctx context.Context, p DeployParams, submit bool) (result *DeployResult, err error) {
	ctx, span := b.startSpan(ctx, "deploy_ref", submit)
	defer func() { endSpan(span, err) }()
	walletUtxos, err := b.walletUtxos(ctx, submit)
	if err != nil {
		return nil, err
	}
	tx, err := b.config.TxBuilder.Build(ctx, chain.DeployRefRequest{
		WalletUtxos:   walletUtxos,
		DeployAddress: p.DeployAddress,
		TokenName:     p.TokenName,
		Anchor:        p.UtxoRef,
	})
	if err != nil {
		return nil, fmt.Errorf("build deployment: %w", err)
	}
	idx, err := txbuilder.ParseOutputIndex(tx)
	if err != nil {
		return nil, fmt.Errorf("build deployment: %w", err)
	}
	hash, err := b.finish(ctx, "deploy_ref", tx, submit)
	if err != nil {
		return nil, err
	}
	return &DeployResult{
		DeploymentTxHash:      hash,
		DeploymentOutputIndex: idx,
	}, nil
}

// Recreate moves each commodity output to a new output carrying an updated
// data reference. Output i of the new transaction recreates Utxos[i].
func (b *Builder) Recreate(ctx context.Context, p RecreateParams, submit bool) (hash string, err error) {
	ctx, span := b.startSpan(ctx, "recreate", submit)
	defer func() { endSpan(span, err) }()
	if len(p.Utxos) != len(p.NewDataReferences) {
		return "", &LengthMismatchError{
			Utxos:          len(p.Utxos),
			DataReferences: len(p.NewDataReferences),
		}
	}
	inputs, err := b.resolve(ctx, p.Utxos)
	if err != nil {
		return "", err
	}
	newDatums := make([][]byte, 0, len(inputs))
	for i, in := range inputs {
		current, err := datum.Decode(in.DatumCbor)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrDatumDecode, in.Ref, err)
		}
		ref := []byte(p.NewDataReferences[i])
		if bytes.Equal(current.DataReference, ref) {
			return "", fmt.Errorf("%w: %s", ErrSameDataReference, in.Ref)
		}
		encoded, err := current.WithDataReference(ref).Encode()
		if err != nil {
			return "", fmt.Errorf("encode datum: %w", err)
		}
		newDatums = append(newDatums, encoded)
	}
	walletUtxos, err := b.walletUtxos(ctx, submit)
	if err != nil {
		return "", err
	}
	tx, err := b.config.TxBuilder.Build(ctx, chain.RecreateRequest{
		WalletUtxos: walletUtxos,
		Inputs:      inputs,
		NewDatums:   newDatums,
		ScriptRefs:  p.UtxoRef,
	})
	if err != nil {
		return "", fmt.Errorf("build recreate: %w", err)
	}
	return b.finish(ctx, "recreate", tx, submit)
}

// Spend consumes commodity outputs, burning their singletons and returning
// the remaining value to the wallet.
func (b *Builder) Spend(ctx context.Context, p SpendParams, submit bool) (hash string, err error) {
	ctx, span := b.startSpan(ctx, "spend", submit)
	defer func() { endSpan(span, err) }()
	inputs, err := b.resolve(ctx, p.Utxos)
	if err != nil {
		return "", err
	}
	walletUtxos, err := b.walletUtxos(ctx, submit)
	if err != nil {
		return "", err
	}
	tx, err := b.config.TxBuilder.Build(ctx, chain.SpendRequest{
		WalletUtxos: walletUtxos,
		Inputs:      inputs,
		ScriptRefs:  p.UtxoRef,
	})
	if err != nil {
		return "", fmt.Errorf("build spend: %w", err)
	}
	return b.finish(ctx, "spend", tx, submit)
}

// CommodityDetails returns the provenance datum of each token. A token ID is
// either a full asset unit or a token name minted under the service policy.
func (b *Builder) CommodityDetails(ctx context.Context, tokenIDs []string) ([]datum.Fields, error) {
	ret := make([]datum.Fields, 0, len(tokenIDs))
	contract := b.config.TxBuilder.ContractAddress()
	for _, id := range tokenIDs {
		policyID, assetName := b.splitTokenID(id)
		utxo, err := b.config.Provider.UtxoByAsset(ctx, contract, policyID, assetName)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrProviderQuery, id, err)
		}
		d, err := datum.Decode(utxo.DatumCbor)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDatumDecode, id, err)
		}
		ret = append(ret, d.Fields())
	}
	return ret, nil
}

func (b *Builder) splitTokenID(id string) (string, string) {
	id = strings.TrimSpace(id)
	if len(id) >= policyIDHexLen {
		if _, err := hex.DecodeString(id); err == nil {
			return strings.ToLower(id[:policyIDHexLen]), strings.ToLower(id[policyIDHexLen:])
		}
	}
	return b.config.TxBuilder.PolicyID(), hex.EncodeToString([]byte(id))
}

// consumed returns the wallet outputs spent by tx with the mint anchor first
func consumed(walletUtxos []chain.Utxo, tx *chain.UnsignedTx) []chain.Utxo {
	var ret []chain.Utxo
	for _, u := range walletUtxos {
		if slices.Contains(tx.Inputs, u.Ref) {
			ret = append(ret, u)
		}
	}
	anchor := tx.Extra[txbuilder.ExtraAnchor]
	slices.SortStableFunc(ret, func(a, b chain.Utxo) int {
		switch {
		case a.Ref.String() == anchor:
			return -1
		case b.Ref.String() == anchor:
			return 1
		default:
			return 0
		}
	})
	return ret
}
