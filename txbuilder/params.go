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

package txbuilder

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// ExUnits is an execution budget
type ExUnits struct {
	Memory uint64 `json:"memory" yaml:"memory"`
	Steps  uint64 `json:"steps"  yaml:"steps"`
}

type ExecutionUnitPrices struct {
	PriceMemory float64 `json:"priceMemory"`
	PriceSteps  float64 `json:"priceSteps"`
}

type CostModels struct {
	PlutusV3 []int64 `json:"PlutusV3"`
}

// ProtocolParams holds the subset of protocol parameters needed to balance a
// transaction. Field names follow cardano-cli query protocol-parameters.
type ProtocolParams struct {
	TxFeeFixed                 uint64              `json:"txFeeFixed"`
	TxFeePerByte               uint64              `json:"txFeePerByte"`
	UtxoCostPerByte            uint64              `json:"utxoCostPerByte"`
	CollateralPercentage       uint64              `json:"collateralPercentage"`
	MaxTxSize                  uint64              `json:"maxTxSize"`
	MinFeeRefScriptCostPerByte float64             `json:"minFeeRefScriptCostPerByte"`
	ExecutionUnitPrices        ExecutionUnitPrices `json:"executionUnitPrices"`
	MaxTxExecutionUnits        ExUnits             `json:"maxTxExecutionUnits"`
	CostModels                 CostModels          `json:"costModels"`
}

// DefaultProtocolParams returns current Conway mainnet values without a cost model
func DefaultProtocolParams() ProtocolParams {
	return ProtocolParams{
		TxFeeFixed:                 155381,
		TxFeePerByte:               44,
		UtxoCostPerByte:            4310,
		CollateralPercentage:       150,
		MaxTxSize:                  16384,
		MinFeeRefScriptCostPerByte: 15,
		ExecutionUnitPrices: ExecutionUnitPrices{
			PriceMemory: 0.0577,
			PriceSteps:  0.0000721,
		},
		MaxTxExecutionUnits: ExUnits{
			Memory: 14_000_000,
			Steps:  10_000_000_000,
		},
	}
}

// LoadProtocolParams reads a cardano-cli protocol parameters JSON file.
// Missing fields keep their default values.
func LoadProtocolParams(path string) (ProtocolParams, error) {
	ret := DefaultProtocolParams()
	data, err := os.ReadFile(path)
	if err != nil {
		return ret, fmt.Errorf("read protocol parameters: %w", err)
	}
	if err := json.Unmarshal(data, &ret); err != nil {
		return ret, fmt.Errorf("parse protocol parameters: %w", err)
	}
	return ret, nil
}

// exUnitsFee prices an execution budget
func (p ProtocolParams) exUnitsFee(units ExUnits) uint64 {
	return uint64(math.Ceil( // #nosec G115
		p.ExecutionUnitPrices.PriceMemory*float64(units.Memory) +
			p.ExecutionUnitPrices.PriceSteps*float64(units.Steps),
	))
}

// refScriptFee prices reference scripts by size
func (p ProtocolParams) refScriptFee(size int) uint64 {
	return uint64(math.Ceil(p.MinFeeRefScriptCostPerByte * float64(size))) // #nosec G115
}

// minLovelace is the minimum ADA an output of encodedSize bytes must carry
func (p ProtocolParams) minLovelace(encodedSize int) uint64 {
	return (160 + uint64(encodedSize)) * p.UtxoCostPerByte // #nosec G115
}
