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
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// CheckType identifies the commodity operation a check tracks
type CheckType string

const (
	CheckTypeSpend    CheckType = "SPEND"
	CheckTypeTokenize CheckType = "TOKENIZE"
	CheckTypeRecreate CheckType = "RECREATE"
)

func (t CheckType) Valid() bool {
	switch t {
	case CheckTypeSpend, CheckTypeTokenize, CheckTypeRecreate:
		return true
	default:
		return false
	}
}

// CheckStatus is the settlement state of a check
type CheckStatus string

const (
	CheckStatusPending CheckStatus = "PENDING"
	CheckStatusQueued  CheckStatus = "QUEUED"
	CheckStatusSuccess CheckStatus = "SUCCESS"
	CheckStatusError   CheckStatus = "ERROR"
)

func (s CheckStatus) Valid() bool {
	switch s {
	case CheckStatusPending,
		CheckStatusQueued,
		CheckStatusSuccess,
		CheckStatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are allowed
func (s CheckStatus) Terminal() bool {
	switch s {
	case CheckStatusSuccess, CheckStatusError:
		return true
	case CheckStatusPending, CheckStatusQueued:
		return false
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is permitted
func (s CheckStatus) CanTransition(next CheckStatus) bool {
	switch s {
	case CheckStatusPending:
		return next == CheckStatusQueued ||
			next == CheckStatusSuccess ||
			next == CheckStatusError
	case CheckStatusQueued:
		return next == CheckStatusQueued ||
			next == CheckStatusSuccess ||
			next == CheckStatusError
	case CheckStatusSuccess, CheckStatusError:
		return false
	default:
		return false
	}
}

// NonTerminalCheckStatuses lists the states a check can still leave
var NonTerminalCheckStatuses = []CheckStatus{
	CheckStatusPending,
	CheckStatusQueued,
}

// Check is the audit record for a single dispatched request
type Check struct {
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	Txid           *string        `json:"txid"`
	Error          *string        `json:"error"`
	ID             string         `json:"id"             gorm:"primaryKey;size:36"`
	Type           CheckType      `json:"type"           gorm:"size:16;not null"`
	Status         CheckStatus    `json:"status"         gorm:"size:16;not null;index"`
	AdditionalInfo datatypes.JSON `json:"additionalInfo"`
}

func (Check) TableName() string {
	return "check"
}

func (c *Check) String() string {
	return fmt.Sprintf("check %s (%s, %s)", c.ID, c.Type, c.Status)
}
