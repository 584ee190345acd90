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

import "time"

// Deployment records where the reference script for a contract address lives
type Deployment struct {
	CreatedAt             time.Time `json:"createdAt"             gorm:"index"`
	ContractAddress       string    `json:"contractAddress"       gorm:"primaryKey;size:128"`
	DeployAddress         string    `json:"deployAddress"         gorm:"not null"`
	DeploymentTxHash      string    `json:"deploymentTxHash"      gorm:"size:64;not null"`
	DeploymentOutputIndex uint32    `json:"deploymentOutputIndex"`
}

func (Deployment) TableName() string {
	return "deployment"
}
