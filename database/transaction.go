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
	"errors"
	"fmt"

	"github.com/blinklabs-io/palmyra/database/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateTransaction adds a ledger row for a freshly minted commodity
func (d *Database) CreateTransaction(ctx context.Context, txid string) error {
	tx := &models.Transaction{
		Txid:      txid,
		Recreated: datatypes.JSONSlice[models.Recreated]{},
	}
	if err := d.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("create transaction %s: %w", txid, err)
	}
	return nil
}

// TransactionByID looks up a ledger row by primary key
func (d *Database) TransactionByID(ctx context.Context, txid string) (*models.Transaction, error) {
	var ret models.Transaction
	result := d.db.WithContext(ctx).Where("txid = ?", txid).First(&ret)
	if result.Error != nil {
		return nil, notFound(result.Error, "transaction "+txid)
	}
	return &ret, nil
}

// Transactions lists ledger rows
func (d *Database) Transactions(ctx context.Context, p Pagination) ([]models.Transaction, int64, error) {
	var total int64
	if err := d.db.WithContext(ctx).Model(&models.Transaction{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var ret []models.Transaction
	q := p.apply(d.db.WithContext(ctx), "created_at")
	if err := q.Find(&ret).Error; err != nil {
		return nil, 0, err
	}
	return ret, total, nil
}

// recreatedMatch returns the dialect specific predicate matching rows whose
// recreated list holds an entry for txHash, and optionally outputIndex.
func (d *Database) recreatedMatch(withIndex bool) string {
	switch d.dialect {
	case PluginMysql:
		if withIndex {
			return `JSON_CONTAINS(recreated, JSON_OBJECT('txHash', ?, 'outputIndex', ?))`
		}
		return `JSON_CONTAINS(recreated, JSON_OBJECT('txHash', ?))`
	case PluginPostgres:
		if withIndex {
			return `EXISTS (SELECT 1 FROM jsonb_array_elements(recreated) AS r WHERE r->>'txHash' = ? AND (r->>'outputIndex')::int = ?)`
		}
		return `EXISTS (SELECT 1 FROM jsonb_array_elements(recreated) AS r WHERE r->>'txHash' = ?)`
	}
	if withIndex {
		return `EXISTS (SELECT 1 FROM json_each(recreated) AS r WHERE json_extract(r.value, '$.txHash') = ? AND json_extract(r.value, '$.outputIndex') = ?)`
	}
	return `EXISTS (SELECT 1 FROM json_each(recreated) AS r WHERE json_extract(r.value, '$.txHash') = ?)`
}

// FindRecreated returns the row whose recreated list contains the given output
func (d *Database) FindRecreated(
	ctx context.Context,
	txHash string,
	outputIndex uint32,
) (*models.Transaction, error) {
	var ret models.Transaction
	result := d.db.WithContext(ctx).
		Where(d.recreatedMatch(true), txHash, outputIndex).
		First(&ret)
	if result.Error != nil {
		return nil, notFound(
			result.Error,
			fmt.Sprintf("recreated output %s#%d", txHash, outputIndex),
		)
	}
	return &ret, nil
}

// FindRecreatedByHash returns every row with a recreated entry for txHash
func (d *Database) FindRecreatedByHash(
	ctx context.Context,
	txHash string,
) ([]models.Transaction, error) {
	var ret []models.Transaction
	result := d.db.WithContext(ctx).
		Where(d.recreatedMatch(false), txHash).
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// owner finds the ledger row responsible for an output, first by primary key
// and then through recreate ancestry.
func (d *Database) owner(
	ctx context.Context,
	txHash string,
	outputIndex uint32,
) (*models.Transaction, error) {
	tx, err := d.TransactionByID(ctx, txHash)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return d.FindRecreated(ctx, txHash, outputIndex)
}

// AppendRecreated records that the output txHash#outputIndex was recreated
// as entry.
func (d *Database) AppendRecreated(
	ctx context.Context,
	txHash string,
	outputIndex uint32,
	entry models.Recreated,
) error {
	tx, err := d.owner(ctx, txHash, outputIndex)
	if err != nil {
		return err
	}
	recreated := append(tx.Recreated, entry)
	return d.saveTransaction(ctx, tx.Txid, map[string]any{
		"recreated": datatypes.JSONSlice[models.Recreated](recreated),
	})
}

// MarkSpent records that the output txHash#outputIndex was spent by spentBy
func (d *Database) MarkSpent(
	ctx context.Context,
	txHash string,
	outputIndex uint32,
	spentBy string,
) error {
	tx, err := d.owner(ctx, txHash, outputIndex)
	if err != nil {
		return err
	}
	return d.saveTransaction(ctx, tx.Txid, map[string]any{
		"spent": spentBy,
	})
}

func (d *Database) saveTransaction(ctx context.Context, txid string, updates map[string]any) error {
	result := d.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("txid = ?", txid).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update transaction %s: %w", txid, result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "transaction "+txid)
	}
	return nil
}
