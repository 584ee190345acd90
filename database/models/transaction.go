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

package models

import (
	"time"

	"gorm.io/datatypes"
)

// Recreated records an output produced by a later recreate operation
type Recreated struct {
	TxHash      string `json:"txHash"`
	OutputIndex uint32 `json:"outputIndex"`
}

// Transaction is a ledger entry for a transaction this service settled.
// Ancestry is tracked on the root row: recreates append to Recreated and
// spends set Spent.
type Transaction struct {
	CreatedAt time.Time                      `json:"createdAt"`
	UpdatedAt time.Time                      `json:"updatedAt"`
	Spent     *string                        `json:"spent"`
	Txid      string                         `json:"txid"      gorm:"primaryKey;size:64"`
	Recreated datatypes.JSONSlice[Recreated] `json:"recreated"`
}

func (Transaction) TableName() string {
	return "transaction"
}
