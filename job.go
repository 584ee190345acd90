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
	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/palmyra/database/models"
)

// Queue job names, one per settled operation
const (
	JobTokenize = "tokenize-commodity"
	JobRecreate = "recreate-commodity"
	JobSpend    = "spend-commodity"
)

// TokenizeJob is the queued payload for minting a commodity
type TokenizeJob struct {
	ID                string `json:"id"`
	TokenName         string `json:"tokenName"`
	MetadataReference string `json:"metadataReference"`
}

// RecreateJob is the queued payload for moving commodities to new datums
type RecreateJob struct {
	ID                string                      `json:"id"`
	Utxos             []chain.OutRef              `json:"utxos"`
	NewDataReferences []string                    `json:"newDataReferences"`
	UtxoRef           map[string]chain.ScriptRefs `json:"utxoRef,omitempty"`
}

// SpendJob is the queued payload for consuming commodities
type SpendJob struct {
	ID      string                      `json:"id"`
	Utxos   []chain.OutRef              `json:"utxos"`
	UtxoRef map[string]chain.ScriptRefs `json:"utxoRef,omitempty"`
}

type jobHeader struct {
	ID string `json:"id"`
}

// checkTypeForJob maps a job name to the audit record type it settles
func checkTypeForJob(name string) (models.CheckType, bool) {
	switch name {
	case JobTokenize:
		return models.CheckTypeTokenize, true
	case JobRecreate:
		return models.CheckTypeRecreate, true
	case JobSpend:
		return models.CheckTypeSpend, true
	default:
		return "", false
	}
}
