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
	"context"

	"github.com/blinklabs-io/palmyra/builder"
	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/palmyra/database"
	"github.com/blinklabs-io/palmyra/database/models"
	"github.com/blinklabs-io/palmyra/datum"
)

// Dispatcher accepts commodity operations for settlement
type Dispatcher interface {
	DispatchTokenize(ctx context.Context, p builder.MintParams) (string, error)
	DispatchSpend(ctx context.Context, utxos []chain.OutRef) (string, error)
	DispatchRecreate(
		ctx context.Context,
		utxos []chain.OutRef,
		newDataReferences []string,
	) (string, error)
}

// DetailsReader decodes the on-chain datum of minted commodities
type DetailsReader interface {
	CommodityDetails(ctx context.Context, tokenIDs []string) ([]datum.Fields, error)
}

// Store is the read side of the audit and ledger tables
type Store interface {
	CheckByID(ctx context.Context, id string) (*models.Check, error)
	Checks(ctx context.Context, p database.Pagination) ([]models.Check, int64, error)
	TransactionByID(ctx context.Context, txid string) (*models.Transaction, error)
	FindRecreatedByHash(ctx context.Context, txHash string) ([]models.Transaction, error)
	Transactions(ctx context.Context, p database.Pagination) ([]models.Transaction, int64, error)
	Deployments(ctx context.Context) ([]models.Deployment, error)
	DeploymentByContractAddress(ctx context.Context, address string) (*models.Deployment, error)
}

// Uploader publishes event metadata documents
type Uploader interface {
	Upload(ctx context.Context, doc []byte) (string, error)
}

// Services bundles the collaborators behind the REST routes. Uploader may be
// nil, which disables POST /ipfs.
type Services struct {
	Dispatcher Dispatcher
	Details    DetailsReader
	Store      Store
	Uploader   Uploader
}
