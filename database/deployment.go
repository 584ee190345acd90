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

package database

import (
	"context"
	"fmt"

	"github.com/blinklabs-io/palmyra/database/models"
)

// SaveDeployment stores a deployment unless one already exists for the
// contract address. It reports whether a row was written.
func (d *Database) SaveDeployment(ctx context.Context, dep *models.Deployment) (bool, error) {
	exists, err := d.DeploymentExists(ctx, dep.ContractAddress)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := d.db.WithContext(ctx).Create(dep).Error; err != nil {
		return false, fmt.Errorf("create deployment %s: %w", dep.ContractAddress, err)
	}
	return true, nil
}

// DeploymentExists reports whether a deployment is recorded for address
func (d *Database) DeploymentExists(ctx context.Context, address string) (bool, error) {
	var count int64
	result := d.db.WithContext(ctx).
		Model(&models.Deployment{}).
		Where("contract_address = ?", address).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// DeploymentByContractAddress returns the deployment for address
func (d *Database) DeploymentByContractAddress(
	ctx context.Context,
	address string,
) (*models.Deployment, error) {
	var ret models.Deployment
	result := d.db.WithContext(ctx).
		Where("contract_address = ?", address).
		First(&ret)
	if result.Error != nil {
		return nil, notFound(result.Error, "deployment "+address)
	}
	return &ret, nil
}

// Deployments lists every deployment, newest first
func (d *Database) Deployments(ctx context.Context) ([]models.Deployment, error) {
	var ret []models.Deployment
	result := d.db.WithContext(ctx).Order("created_at DESC").Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
