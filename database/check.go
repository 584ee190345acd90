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
	"gorm.io/datatypes"
)

// CreateCheck stores a new audit record
func (d *Database) CreateCheck(ctx context.Context, check *models.Check) error {
	if !check.Type.Valid() {
		return fmt.Errorf("invalid check type: %q", check.Type)
	}
	if !check.Status.Valid() {
		return fmt.Errorf("invalid check status: %q", check.Status)
	}
	if len(check.AdditionalInfo) == 0 {
		check.AdditionalInfo = datatypes.JSON("{}")
	}
	if err := d.db.WithContext(ctx).Create(check).Error; err != nil {
		return fmt.Errorf("create check %s: %w", check.ID, err)
	}
	return nil
}

// CheckByID returns the check with the given id
func (d *Database) CheckByID(ctx context.Context, id string) (*models.Check, error) {
	var ret models.Check
	result := d.db.WithContext(ctx).Where("id = ?", id).First(&ret)
	if result.Error != nil {
		return nil, notFound(result.Error, "check "+id)
	}
	return &ret, nil
}

// Checks lists audit records ordered by creation time
func (d *Database) Checks(ctx context.Context, p Pagination) ([]models.Check, int64, error) {
	var total int64
	if err := d.db.WithContext(ctx).Model(&models.Check{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var ret []models.Check
	q := p.apply(d.db.WithContext(ctx), "created_at")
	if err := q.Find(&ret).Error; err != nil {
		return nil, 0, err
	}
	return ret, total, nil
}

// UpdateCheckStatus moves a non-terminal check to status
func (d *Database) UpdateCheckStatus(
	ctx context.Context,
	id string,
	status models.CheckStatus,
) error {
	return d.transitionCheck(ctx, id, status, map[string]any{
		"status": status,
	})
}

// SetCheckSuccess settles a check with the resulting transaction hash
func (d *Database) SetCheckSuccess(ctx context.Context, id string, txid string) error {
	return d.transitionCheck(ctx, id, models.CheckStatusSuccess, map[string]any{
		"status": models.CheckStatusSuccess,
		"txid":   txid,
		"error":  nil,
	})
}

// SetCheckError settles a check as failed
func (d *Database) SetCheckError(ctx context.Context, id string, msg string) error {
	return d.transitionCheck(ctx, id, models.CheckStatusError, map[string]any{
		"status": models.CheckStatusError,
		"txid":   nil,
		"error":  msg,
	})
}

// transitionCheck applies updates only while the check is in a state that
// may move to next. Terminal checks are left untouched.
func (d *Database) transitionCheck(
	ctx context.Context,
	id string,
	next models.CheckStatus,
	updates map[string]any,
) error {
	if !next.Valid() {
		return fmt.Errorf("invalid check status: %q", next)
	}
	var from []models.CheckStatus
	for _, s := range models.NonTerminalCheckStatuses {
		if s.CanTransition(next) {
			from = append(from, s)
		}
	}
	result := d.db.WithContext(ctx).
		Model(&models.Check{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update check %s: %w", id, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	existing, err := d.CheckByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.Status == next && !next.Terminal() {
		return nil
	}
	return fmt.Errorf(
		"%w: check %s is %s, cannot move to %s",
		ErrCheckTerminal,
		id,
		existing.Status,
		next,
	)
}
