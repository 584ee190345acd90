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

// Package txbuilder assembles balanced Conway-era transactions for the
// commodity contract: singleton mints, reference script deployments,
// recreations and burns.
package txbuilder

import (
	"cmp"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"slices"
	"strconv"

	"github.com/blinklabs-io/gouroboros/cbor"
	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/plutigo/data"
	"golang.org/x/crypto/blake2b"
)

const (
	redeemerTagSpend = 0
	redeemerTagMint  = 1

	// ADA held back from selection to cover the fee and the change output
	feeReserve      = 5_000_000
	minCollateral   = 5_000_000
	maxFeeIteration = 10
	// Encoded size of one vkey witness added at signing time
	vkeyWitnessSize = 110
)

var (
	ErrInsufficientFunds = errors.New("insufficient wallet funds")
	ErrNoCollateral      = errors.New("no suitable collateral utxo")
	ErrMissingCostModel  = errors.New("missing PlutusV3 cost model")
	ErrTxTooLarge        = errors.New("transaction exceeds maximum size")
	ErrInvalidRequest    = errors.New("invalid build request")
)

// Extra keys set on built transactions
const (
	ExtraPolicyID        = "policyId"
	ExtraAssetName       = "assetName"
	ExtraUnit            = "unit"
	ExtraContractAddress = "contractAddress"
	ExtraAnchor          = "anchor"
	ExtraOutputIndex     = "outputIndex"
)

type Config struct {
	Logger          *slog.Logger
	Network         string
	Params          ProtocolParams
	SingletonPolicy *Script
	ObjectEvent     *Script
	// ChangeAddress receives change and returned commodity value
	ChangeAddress string
	// SignerKeyHash is listed as a required signer on script transactions
	SignerKeyHash []byte
	// ExUnits is the budget given to each redeemer
	ExUnits ExUnits
	// CommodityLovelace is locked with each minted commodity, raised to the
	// minimum UTxO value when lower
	CommodityLovelace uint64
}

// Builder implements chain.TxBuilder
type Builder struct {
	config       Config
	logger       *slog.Logger
	networkID    uint8
	contractAddr lcommon.Address
	changeAddr   lcommon.Address
}

func New(cfg Config) (*Builder, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.SingletonPolicy == nil || cfg.ObjectEvent == nil {
		return nil, errors.New("singleton policy and object event scripts are required")
	}
	if cfg.ExUnits.Memory == 0 && cfg.ExUnits.Steps == 0 {
		cfg.ExUnits = ExUnits{Memory: 3_000_000, Steps: 1_000_000_000}
	}
	networkID, err := chain.AddressNetworkID(cfg.Network)
	if err != nil {
		return nil, err
	}
	contractAddr, err := cfg.ObjectEvent.Address(networkID)
	if err != nil {
		return nil, fmt.Errorf("build contract address: %w", err)
	}
	changeAddr, err := lcommon.NewAddress(cfg.ChangeAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid change address: %w", err)
	}
	return &Builder{
		config:       cfg,
		logger:       cfg.Logger.With("component", "txbuilder"),
		networkID:    networkID,
		contractAddr: contractAddr,
		changeAddr:   changeAddr,
	}, nil
}

// ContractAddress returns the address commodities are locked at
func (b *Builder) ContractAddress() string {
	return b.contractAddr.String()
}

// PolicyID returns the singleton minting policy ID as hex
func (b *Builder) PolicyID() string {
	return b.config.SingletonPolicy.HashHex()
}

// Build assembles an unsigned transaction for req
func (b *Builder) Build(ctx context.Context, req chain.BuildRequest) (*chain.UnsignedTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch r := req.(type) {
	case chain.MintRequest:
		return b.buildMint(r)
	case chain.DeployRefRequest:
		return b.buildDeployRef(r)
	case chain.RecreateRequest:
		return b.buildRecreate(r)
	case chain.SpendRequest:
		return b.buildSpend(r)
	default:
		return nil, fmt.Errorf("%w: unknown request type %T", ErrInvalidRequest, req)
	}
}

func (b *Builder) buildMint(r chain.MintRequest) (*chain.UnsignedTx, error) {
	if r.TokenName == "" {
		return nil, fmt.Errorf("%w: empty token name", ErrInvalidRequest)
	}
	if len(r.TokenName) > 32 {
		return nil, fmt.Errorf("%w: token name longer than 32 bytes", ErrInvalidRequest)
	}
	if len(r.Datum) == 0 {
		return nil, fmt.Errorf("%w: missing datum", ErrInvalidRequest)
	}
	candidates := pureAda(r.WalletUtxos, nil)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no ada-only wallet utxos", ErrInsufficientFunds)
	}
	// The largest ADA-only output is always selected first, so it anchors the mint
	anchor := candidates[0].Ref
	anchorData, err := outRefData(anchor)
	if err != nil {
		return nil, err
	}
	redeemer, err := data.Encode(data.NewConstr(0, anchorData))
	if err != nil {
		return nil, fmt.Errorf("encode mint redeemer: %w", err)
	}
	policyID := b.PolicyID()
	assetName := hex.EncodeToString([]byte(r.TokenName))
	minted := make(assetMap)
	minted.add(policyID, assetName, 1)
	d := &draft{
		walletUtxos: r.WalletUtxos,
		outputs: []txOutput{
			{
				address: b.contractAddr,
				value: value{
					lovelace: b.config.CommodityLovelace,
					assets:   minted.clone(),
				},
				datum: r.Datum,
			},
		},
		mint:          minted,
		mintRedeemer:  redeemer,
		inlineScripts: []*Script{b.config.SingletonPolicy},
	}
	tx, err := b.assemble(d)
	if err != nil {
		return nil, err
	}
	tx.Extra = map[string]string{
		ExtraPolicyID:        policyID,
		ExtraAssetName:       assetName,
		ExtraUnit:            policyID + assetName,
		ExtraContractAddress: b.ContractAddress(),
		ExtraAnchor:          anchor.String(),
	}
	return tx, nil
}

func (b *Builder) buildDeployRef(r chain.DeployRefRequest) (*chain.UnsignedTx, error) {
	addr, err := lcommon.NewAddress(r.DeployAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: deploy address: %w", ErrInvalidRequest, err)
	}
	d := &draft{
		walletUtxos: r.WalletUtxos,
		outputs: []txOutput{
			{
				address:   addr,
				scriptRef: b.config.ObjectEvent,
			},
		},
	}
	tx, err := b.assemble(d)
	if err != nil {
		return nil, err
	}
	tx.Extra = map[string]string{
		ExtraOutputIndex:     "0",
		ExtraContractAddress: b.ContractAddress(),
		ExtraAnchor:          r.Anchor.String(),
	}
	return tx, nil
}

func (b *Builder) buildRecreate(r chain.RecreateRequest) (*chain.UnsignedTx, error) {
	if len(r.Inputs) == 0 {
		return nil, fmt.Errorf("%w: no inputs", ErrInvalidRequest)
	}
	if len(r.Inputs) != len(r.NewDatums) {
		return nil, fmt.Errorf(
			"%w: %d inputs but %d datums",
			ErrInvalidRequest,
			len(r.Inputs),
			len(r.NewDatums),
		)
	}
	redeemer, err := data.Encode(data.NewConstr(0))
	if err != nil {
		return nil, err
	}
	d := &draft{walletUtxos: r.WalletUtxos}
	for i, in := range r.Inputs {
		if err := b.addScriptInput(d, in, redeemer, r.ScriptRefs); err != nil {
			return nil, err
		}
		// Output i recreates input i
		d.outputs = append(d.outputs, txOutput{
			address: b.contractAddr,
			value: value{
				lovelace: in.Lovelace,
				assets:   assetsOf(in.Assets),
			},
			datum: r.NewDatums[i],
		})
	}
	tx, err := b.assemble(d)
	if err != nil {
		return nil, err
	}
	tx.Extra = map[string]string{
		ExtraContractAddress: b.ContractAddress(),
	}
	return tx, nil
}

func (b *Builder) buildSpend(r chain.SpendRequest) (*chain.UnsignedTx, error) {
	if len(r.Inputs) == 0 {
		return nil, fmt.Errorf("%w: no inputs", ErrInvalidRequest)
	}
	redeemer, err := data.Encode(data.NewConstr(1))
	if err != nil {
		return nil, err
	}
	policyID := b.PolicyID()
	d := &draft{
		walletUtxos: r.WalletUtxos,
		mint:        make(assetMap),
	}
	for _, in := range r.Inputs {
		if err := b.addScriptInput(d, in, redeemer, r.ScriptRefs); err != nil {
			return nil, err
		}
		for _, a := range in.Assets {
			if a.PolicyID == policyID {
				d.mint.add(a.PolicyID, a.AssetName, -int64(a.Quantity)) // #nosec G115
			}
		}
	}
	if len(d.mint) > 0 {
		burn, err := data.Encode(data.NewConstr(1))
		if err != nil {
			return nil, err
		}
		d.mintRedeemer = burn
		d.inlineScripts = append(d.inlineScripts, b.config.SingletonPolicy)
	}
	tx, err := b.assemble(d)
	if err != nil {
		return nil, err
	}
	tx.Extra = map[string]string{
		ExtraContractAddress: b.ContractAddress(),
	}
	return tx, nil
}

// addScriptInput spends a contract output, citing the deployed validator when
// a reference is known and embedding it otherwise.
func (b *Builder) addScriptInput(
	d *draft,
	in chain.Utxo,
	redeemer []byte,
	refs map[string]chain.ScriptRefs,
) error {
	if err := in.Ref.Validate(); err != nil {
		return err
	}
	if in.Address != b.ContractAddress() {
		return fmt.Errorf(
			"%w: %s is not locked at the contract address",
			ErrInvalidRequest,
			in.Ref,
		)
	}
	d.scriptInputs = append(d.scriptInputs, scriptInput{utxo: in, redeemer: redeemer})
	if ref, ok := refs[in.Address]; ok && ref.ObjectEventScript != nil {
		if !slices.Contains(d.refInputs, *ref.ObjectEventScript) {
			d.refInputs = append(d.refInputs, *ref.ObjectEventScript)
			d.refScriptSize += len(b.config.ObjectEvent.Bytes)
		}
		return nil
	}
	if !slices.Contains(d.inlineScripts, b.config.ObjectEvent) {
		d.inlineScripts = append(d.inlineScripts, b.config.ObjectEvent)
	}
	return nil
}

type txOutput struct {
	address   lcommon.Address
	value     value
	datum     []byte
	scriptRef *Script
}

type scriptInput struct {
	utxo     chain.Utxo
	redeemer []byte
}

type redeemer struct {
	tag   uint64
	index uint64
	data  []byte
}

type draft struct {
	walletUtxos   []chain.Utxo
	scriptInputs  []scriptInput
	outputs       []txOutput
	mint          assetMap
	mintRedeemer  []byte
	refInputs     []chain.OutRef
	inlineScripts []*Script
	refScriptSize int
}

func (d *draft) needsScripts() bool {
	return len(d.scriptInputs) > 0 || d.mintRedeemer != nil
}

// assemble selects wallet inputs, prices the transaction and balances change
// back to the wallet until the fee stops moving.
func (b *Builder) assemble(d *draft) (*chain.UnsignedTx, error) {
	params := b.config.Params
	if d.needsScripts() && len(params.CostModels.PlutusV3) == 0 {
		return nil, ErrMissingCostModel
	}
	for i := range d.outputs {
		if err := b.fillMinLovelace(&d.outputs[i]); err != nil {
			return nil, err
		}
	}

	var outLovelace uint64
	outAssets := make(assetMap)
	for _, o := range d.outputs {
		outLovelace += o.value.lovelace
		outAssets.merge(o.value.assets, 1)
	}
	var inLovelace uint64
	inAssets := make(assetMap)
	var scriptRefs []chain.OutRef
	for _, si := range d.scriptInputs {
		inLovelace += si.utxo.Lovelace
		inAssets.merge(assetsOf(si.utxo.Assets), 1)
		scriptRefs = append(scriptRefs, si.utxo.Ref)
	}

	candidates := pureAda(d.walletUtxos, scriptRefs)
	need := outLovelace + feeReserve
	var selected []chain.Utxo
	for _, u := range candidates {
		if inLovelace >= need && len(selected) > 0 {
			break
		}
		selected = append(selected, u)
		inLovelace += u.Lovelace
	}
	if inLovelace < need {
		return nil, fmt.Errorf(
			"%w: have %d lovelace, need %d",
			ErrInsufficientFunds,
			inLovelace,
			need,
		)
	}

	var collateral *chain.Utxo
	if d.needsScripts() {
		if len(candidates) == 0 || candidates[0].Lovelace < minCollateral {
			return nil, ErrNoCollateral
		}
		collateral = &candidates[0]
	}

	inputs := make([]chain.OutRef, 0, len(selected)+len(scriptRefs))
	for _, u := range selected {
		inputs = append(inputs, u.Ref)
	}
	inputs = append(inputs, scriptRefs...)
	sortOutRefs(inputs)

	redeemers := make([]redeemer, 0, len(d.scriptInputs)+1)
	for _, si := range d.scriptInputs {
		idx := slices.Index(inputs, si.utxo.Ref)
		redeemers = append(redeemers, redeemer{
			tag:   redeemerTagSpend,
			index: uint64(idx), // #nosec G115
			data:  si.redeemer,
		})
	}
	if d.mintRedeemer != nil {
		// Only the singleton policy ever mints, so it is always policy 0
		redeemers = append(redeemers, redeemer{
			tag:  redeemerTagMint,
			data: d.mintRedeemer,
		})
	}
	units := b.redeemerBudget(len(redeemers))

	witness := map[uint]any{}
	var scriptDataHash []byte
	if len(redeemers) > 0 {
		redeemersCbor, err := encodeRedeemers(redeemers, units)
		if err != nil {
			return nil, err
		}
		witness[5] = cbor.RawMessage(redeemersCbor)
		scriptDataHash, err = b.scriptDataHash(redeemersCbor)
		if err != nil {
			return nil, err
		}
	}
	if len(d.inlineScripts) > 0 {
		scripts := make([][]byte, 0, len(d.inlineScripts))
		for _, s := range d.inlineScripts {
			scripts = append(scripts, s.Bytes)
		}
		witness[7] = scripts
	}

	var exUnitsFee uint64
	for range redeemers {
		exUnitsFee += params.exUnitsFee(units)
	}
	refFee := params.refScriptFee(d.refScriptSize)

	mintAssets := d.mint
	if mintAssets == nil {
		mintAssets = make(assetMap)
	}
	changeAssets := inAssets.clone()
	changeAssets.merge(mintAssets, 1)
	changeAssets.merge(outAssets, -1)

	var fee uint64
	for range maxFeeIteration {
		body, err := b.encodeBody(bodyParts{
			inputs:         inputs,
			outputs:        d.outputs,
			inLovelace:     inLovelace,
			outLovelace:    outLovelace,
			changeAssets:   changeAssets,
			fee:            fee,
			mint:           mintAssets,
			scriptDataHash: scriptDataHash,
			collateral:     collateral,
			refInputs:      d.refInputs,
			signer:         d.needsScripts(),
		})
		if err != nil {
			return nil, err
		}
		txCbor, err := cbor.Encode([]any{cbor.RawMessage(body), witness, true, nil})
		if err != nil {
			return nil, fmt.Errorf("encode tx: %w", err)
		}
		size := uint64(len(txCbor) + vkeyWitnessSize)
		if params.MaxTxSize > 0 && size > params.MaxTxSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrTxTooLarge, size)
		}
		required := params.TxFeeFixed + params.TxFeePerByte*size + exUnitsFee + refFee
		if required <= fee {
			hash := blake2b.Sum256(body)
			b.logger.Debug(
				"built transaction",
				"hash", hex.EncodeToString(hash[:]),
				"fee", fee,
				"inputs", len(inputs),
				"size", size,
			)
			return &chain.UnsignedTx{
				Body:    body,
				Witness: witness,
				Hash:    hex.EncodeToString(hash[:]),
				Inputs:  inputs,
			}, nil
		}
		fee = required
	}
	return nil, errors.New("fee calculation did not converge")
}

type bodyParts struct {
	inputs         []chain.OutRef
	outputs        []txOutput
	inLovelace     uint64
	outLovelace    uint64
	changeAssets   assetMap
	fee            uint64
	mint           assetMap
	scriptDataHash []byte
	collateral     *chain.Utxo
	refInputs      []chain.OutRef
	signer         bool
}

func (b *Builder) encodeBody(p bodyParts) ([]byte, error) {
	if p.inLovelace < p.outLovelace+p.fee {
		return nil, fmt.Errorf(
			"%w: inputs %d lovelace, outputs %d plus fee %d",
			ErrInsufficientFunds,
			p.inLovelace,
			p.outLovelace,
			p.fee,
		)
	}
	change := txOutput{
		address: b.changeAddr,
		value: value{
			lovelace: p.inLovelace - p.outLovelace - p.fee,
			assets:   p.changeAssets,
		},
	}
	minChange, err := b.minLovelace(change)
	if err != nil {
		return nil, err
	}
	if change.value.lovelace < minChange {
		return nil, fmt.Errorf(
			"%w: change of %d lovelace is below the minimum %d",
			ErrInsufficientFunds,
			change.value.lovelace,
			minChange,
		)
	}
	outputs := make([]any, 0, len(p.outputs)+1)
	for _, o := range append(slices.Clone(p.outputs), change) {
		enc, err := encodeOutput(o)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, enc)
	}
	inputs, err := encodeInputSet(p.inputs)
	if err != nil {
		return nil, err
	}
	body := map[uint]any{
		0: inputs,
		1: outputs,
		2: p.fee,
	}
	if len(p.mint) > 0 {
		mint, err := p.mint.cborMap(true)
		if err != nil {
			return nil, err
		}
		body[9] = mint
	}
	if p.scriptDataHash != nil {
		body[11] = p.scriptDataHash
	}
	if p.collateral != nil {
		collateral, err := encodeInputSet([]chain.OutRef{p.collateral.Ref})
		if err != nil {
			return nil, err
		}
		body[13] = collateral
		total := (p.fee*b.config.Params.CollateralPercentage + 99) / 100
		if p.collateral.Lovelace > total {
			ret := txOutput{
				address: b.changeAddr,
				value:   value{lovelace: p.collateral.Lovelace - total},
			}
			minRet, err := b.minLovelace(ret)
			if err != nil {
				return nil, err
			}
			if ret.value.lovelace >= minRet {
				enc, err := encodeOutput(ret)
				if err != nil {
					return nil, err
				}
				body[16] = enc
				body[17] = total
			}
		}
	}
	if p.signer && len(b.config.SignerKeyHash) > 0 {
		body[14] = cbor.Tag{Number: 258, Content: []any{b.config.SignerKeyHash}}
	}
	if len(p.refInputs) > 0 {
		refs := slices.Clone(p.refInputs)
		sortOutRefs(refs)
		refSet, err := encodeInputSet(refs)
		if err != nil {
			return nil, err
		}
		body[18] = refSet
	}
	ret, err := cbor.Encode(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return ret, nil
}

// scriptDataHash hashes the redeemers with the PlutusV3 language view. No
// datums are ever carried in the witness set.
func (b *Builder) scriptDataHash(redeemersCbor []byte) ([]byte, error) {
	views, err := cbor.Encode(map[uint]any{
		plutusV3ViewKey: b.config.Params.CostModels.PlutusV3,
	})
	if err != nil {
		return nil, fmt.Errorf("encode language views: %w", err)
	}
	preimage := make([]byte, 0, len(redeemersCbor)+len(views))
	preimage = append(preimage, redeemersCbor...)
	preimage = append(preimage, views...)
	hash := blake2b.Sum256(preimage)
	return hash[:], nil
}

// redeemerBudget splits the per transaction limit when the configured
// per redeemer budget would exceed it.
func (b *Builder) redeemerBudget(count int) ExUnits {
	units := b.config.ExUnits
	if count == 0 {
		return units
	}
	maxUnits := b.config.Params.MaxTxExecutionUnits
	n := uint64(count) // #nosec G115
	if maxUnits.Memory > 0 && units.Memory*n > maxUnits.Memory {
		units.Memory = maxUnits.Memory / n
	}
	if maxUnits.Steps > 0 && units.Steps*n > maxUnits.Steps {
		units.Steps = maxUnits.Steps / n
	}
	return units
}

func (b *Builder) minLovelace(o txOutput) (uint64, error) {
	enc, err := encodeOutput(o)
	if err != nil {
		return 0, err
	}
	size, err := cbor.Encode(enc)
	if err != nil {
		return 0, err
	}
	return b.config.Params.minLovelace(len(size)), nil
}

// fillMinLovelace raises the output value to the minimum UTxO value
func (b *Builder) fillMinLovelace(o *txOutput) error {
	// The encoded size grows with the lovelace amount, so settle in a few rounds
	for range 3 {
		minimum, err := b.minLovelace(*o)
		if err != nil {
			return err
		}
		if o.value.lovelace >= minimum {
			return nil
		}
		o.value.lovelace = minimum
	}
	return nil
}

func encodeOutput(o txOutput) (map[uint]any, error) {
	addrCbor, err := cbor.Encode(&o.address)
	if err != nil {
		return nil, fmt.Errorf("encode address: %w", err)
	}
	val, err := o.value.cbor()
	if err != nil {
		return nil, err
	}
	ret := map[uint]any{
		0: cbor.RawMessage(addrCbor),
		1: val,
	}
	if o.datum != nil {
		ret[2] = []any{uint64(1), cbor.Tag{Number: 24, Content: o.datum}}
	}
	if o.scriptRef != nil {
		ref, err := o.scriptRef.refCbor()
		if err != nil {
			return nil, err
		}
		ret[3] = cbor.RawMessage(ref)
	}
	return ret, nil
}

func encodeInputSet(refs []chain.OutRef) (cbor.Tag, error) {
	items := make([]any, 0, len(refs))
	for _, ref := range refs {
		hash, err := hex.DecodeString(ref.TxHash)
		if err != nil || len(hash) != 32 {
			return cbor.Tag{}, fmt.Errorf("%w: %s", chain.ErrInvalidOutRef, ref)
		}
		items = append(items, []any{hash, uint64(ref.OutputIndex)})
	}
	return cbor.Tag{Number: 258, Content: items}, nil
}

func encodeRedeemers(redeemers []redeemer, units ExUnits) ([]byte, error) {
	slices.SortFunc(redeemers, func(a, b redeemer) int {
		if c := cmp.Compare(a.tag, b.tag); c != 0 {
			return c
		}
		return cmp.Compare(a.index, b.index)
	})
	items := make([]any, 0, len(redeemers))
	for _, r := range redeemers {
		items = append(items, []any{
			r.tag,
			r.index,
			cbor.RawMessage(r.data),
			[]any{units.Memory, units.Steps},
		})
	}
	ret, err := cbor.Encode(items)
	if err != nil {
		return nil, fmt.Errorf("encode redeemers: %w", err)
	}
	return ret, nil
}

func outRefData(ref chain.OutRef) (data.PlutusData, error) {
	hash, err := hex.DecodeString(ref.TxHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", chain.ErrInvalidOutRef, ref)
	}
	return data.NewConstr(
		0,
		data.NewByteString(hash),
		data.NewInteger(new(big.Int).SetUint64(uint64(ref.OutputIndex))),
	), nil
}

// pureAda returns ADA-only utxos not in exclude, largest first
func pureAda(utxos []chain.Utxo, exclude []chain.OutRef) []chain.Utxo {
	ret := make([]chain.Utxo, 0, len(utxos))
	for _, u := range chain.ExcludeOutRefs(utxos, exclude) {
		if u.HasAssets() {
			continue
		}
		ret = append(ret, u)
	}
	slices.SortStableFunc(ret, func(a, b chain.Utxo) int {
		return cmp.Compare(b.Lovelace, a.Lovelace)
	})
	return ret
}

func sortOutRefs(refs []chain.OutRef) {
	slices.SortFunc(refs, func(a, b chain.OutRef) int {
		if c := cmp.Compare(a.TxHash, b.TxHash); c != 0 {
			return c
		}
		return cmp.Compare(a.OutputIndex, b.OutputIndex)
	})
}

// ParseOutputIndex reads the output index recorded on a deployment build
func ParseOutputIndex(tx *chain.UnsignedTx) (uint32, error) {
	v, ok := tx.Extra[ExtraOutputIndex]
	if !ok {
		return 0, errors.New("output index not recorded")
	}
	idx, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(idx), nil
}
