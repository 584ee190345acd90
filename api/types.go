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

package api

import (
	"errors"
	"fmt"
	"math"

	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/palmyra/datum"
)

// maxTokenNameLen is the ledger limit on asset name length
const maxTokenNameLen = 32

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// DispatchResponse acknowledges an accepted operation
type DispatchResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

type DetailsResponse struct {
	Message []datum.Fields `json:"message"`
}

type UploadResponse struct {
	Hash string `json:"hash"`
}

type HealthResponse struct {
	IsHealthy bool `json:"isHealthy"`
}

type TokenizeRequest struct {
	TokenName         string `json:"tokenName"`
	MetadataReference string `json:"metadataReference"`
}

func (r TokenizeRequest) Validate() error {
	if r.TokenName == "" {
		return errors.New("tokenName is required")
	}
	if len(r.TokenName) > maxTokenNameLen {
		return fmt.Errorf("tokenName must be at most %d bytes", maxTokenNameLen)
	}
	if r.MetadataReference == "" {
		return errors.New("metadataReference is required")
	}
	return nil
}

// UtxoRequest names an output in a request body. The index is signed so
// that negative values are reported rather than failing to decode.
type UtxoRequest struct {
	TxHash      string `json:"txHash"`
	OutputIndex *int64 `json:"outputIndex"`
}

func (u UtxoRequest) outRef() (chain.OutRef, error) {
	if !chain.IsTxHash(u.TxHash) {
		return chain.OutRef{}, fmt.Errorf("txHash must be 64 hex characters: %q", u.TxHash)
	}
	if u.OutputIndex == nil {
		return chain.OutRef{}, errors.New("outputIndex is required")
	}
	idx := *u.OutputIndex
	if idx < 0 || idx > math.MaxUint32 {
		return chain.OutRef{}, fmt.Errorf("outputIndex out of range: %d", idx)
	}
	return chain.OutRef{
		TxHash:      u.TxHash,
		OutputIndex: uint32(idx), // #nosec G115: bounds checked above
	}, nil
}

func outRefs(utxos []UtxoRequest) ([]chain.OutRef, error) {
	if len(utxos) == 0 {
		return nil, errors.New("utxos must not be empty")
	}
	ret := make([]chain.OutRef, 0, len(utxos))
	for _, u := range utxos {
		ref, err := u.outRef()
		if err != nil {
			return nil, err
		}
		ret = append(ret, ref)
	}
	return ret, nil
}

type SpendRequest struct {
	Utxos []UtxoRequest `json:"utxos"`
}

type RecreateRequest struct {
	Utxos             []UtxoRequest `json:"utxos"`
	NewDataReferences []string      `json:"newDataReferences"`
}

type DetailsRequest struct {
	TokenIDs []string `json:"tokenIds"`
}
