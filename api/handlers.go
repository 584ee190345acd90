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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/blinklabs-io/palmyra/builder"
	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/palmyra/database"
	"github.com/blinklabs-io/palmyra/database/models"
	"github.com/blinklabs-io/palmyra/ipfs"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}

// decodeBody reads a size limited JSON body into v, rejecting unknown fields
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err))
		return false
	}
	return true
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{IsHealthy: true})
}

func (a *API) handleTokenize(w http.ResponseWriter, r *http.Request) {
	var req TokenizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := a.services.Dispatcher.DispatchTokenize(r.Context(), builder.MintParams{
		TokenName:         req.TokenName,
		MetadataReference: req.MetadataReference,
	})
	if err != nil {
		a.dispatchFailed(w, "Mint Tx Failed", err)
		return
	}
	writeJSON(w, http.StatusOK, DispatchResponse{Message: "success", ID: id})
}

func (a *API) handleSpend(w http.ResponseWriter, r *http.Request) {
	var req SpendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	refs, err := outRefs(req.Utxos)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := a.services.Dispatcher.DispatchSpend(r.Context(), refs)
	if err != nil {
		a.dispatchFailed(w, "Spend Tx Failed", err)
		return
	}
	writeJSON(w, http.StatusOK, DispatchResponse{Message: "success", ID: id})
}

func (a *API) handleRecreate(w http.ResponseWriter, r *http.Request) {
	var req RecreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Utxos) != len(req.NewDataReferences) {
		err := &builder.LengthMismatchError{
			Utxos:          len(req.Utxos),
			DataReferences: len(req.NewDataReferences),
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	refs, err := outRefs(req.Utxos)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := a.services.Dispatcher.DispatchRecreate(r.Context(), refs, req.NewDataReferences)
	if err != nil {
		var mismatch *builder.LengthMismatchError
		if errors.As(err, &mismatch) {
			writeError(w, http.StatusBadRequest, mismatch.Error())
			return
		}
		a.dispatchFailed(w, "Recreate Tx Failed", err)
		return
	}
	writeJSON(w, http.StatusOK, DispatchResponse{Message: "success", ID: id})
}

func (a *API) dispatchFailed(w http.ResponseWriter, message string, err error) {
	a.logger.Warn(
		"request rejected",
		"reason", message,
		"error", err,
	)
	writeError(w, http.StatusBadRequest, message)
}

func (a *API) handleCommodityDetails(w http.ResponseWriter, r *http.Request) {
	var req DetailsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.TokenIDs) == 0 {
		writeError(w, http.StatusBadRequest, "tokenIds must not be empty")
		return
	}
	details, err := a.services.Details.CommodityDetails(r.Context(), req.TokenIDs)
	if err != nil {
		switch {
		case errors.Is(err, builder.ErrProviderQuery):
			a.logger.Warn("commodity lookup failed", "error", err)
			writeError(w, http.StatusBadRequest, "Chain Provider Error")
		case errors.Is(err, builder.ErrDatumDecode):
			a.logger.Warn("commodity datum decode failed", "error", err)
			writeError(w, http.StatusBadRequest, "Datum Decode Error")
		default:
			a.internalError(w, "failed to read commodity details", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, DetailsResponse{Message: details})
}

func (a *API) handleChecks(w http.ResponseWriter, r *http.Request) {
	params, err := parsePagination(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	checks, total, err := a.services.Store.Checks(r.Context(), params)
	if err != nil {
		a.internalError(w, "failed to list checks", err)
		return
	}
	setPaginationHeaders(w, total, params)
	writeJSON(w, http.StatusOK, checks)
}

func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	check, err := a.services.Store.CheckByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "Not Found")
			return
		}
		a.internalError(w, "failed to load check", err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	params, err := parsePagination(r, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	txs, total, err := a.services.Store.Transactions(r.Context(), params)
	if err != nil {
		a.internalError(w, "failed to list transactions", err)
		return
	}
	setPaginationHeaders(w, total, params)
	writeJSON(w, http.StatusOK, txs)
}

// handleTransaction returns the ledger rows for txid: the row itself, or every
// row whose recreate ancestry contains it
func (a *API) handleTransaction(w http.ResponseWriter, r *http.Request) {
	txid := r.PathValue("txid")
	if !chain.IsTxHash(txid) {
		writeError(w, http.StatusBadRequest, "Invalid txid")
		return
	}
	tx, err := a.services.Store.TransactionByID(r.Context(), txid)
	if err == nil {
		writeJSON(w, http.StatusOK, []models.Transaction{*tx})
		return
	}
	if !errors.Is(err, database.ErrNotFound) {
		a.internalError(w, "failed to load transaction", err)
		return
	}
	rows, err := a.services.Store.FindRecreatedByHash(r.Context(), txid)
	if err != nil {
		a.internalError(w, "failed to search recreated transactions", err)
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) handleDeployments(w http.ResponseWriter, r *http.Request) {
	deps, err := a.services.Store.Deployments(r.Context())
	if err != nil {
		a.internalError(w, "failed to list deployments", err)
		return
	}
	writeJSON(w, http.StatusOK, deps)
}

func (a *API) handleDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := a.services.Store.DeploymentByContractAddress(
		r.Context(),
		r.PathValue("contractAddress"),
	)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Not Found")
			return
		}
		a.internalError(w, "failed to load deployment", err)
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func (a *API) handleIpfs(w http.ResponseWriter, r *http.Request) {
	if a.services.Uploader == nil {
		writeError(w, http.StatusNotFound, "IPFS uploads are not enabled")
		return
	}
	doc, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %s", err))
		return
	}
	hash, err := a.services.Uploader.Upload(r.Context(), doc)
	if err != nil {
		if errors.Is(err, ipfs.ErrInvalidDocument) {
			writeError(w, http.StatusBadRequest, "metadata document must be JSON")
			return
		}
		a.logger.Error("metadata upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "IPFS Upload Failed")
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{Hash: hash})
}

func (a *API) internalError(w http.ResponseWriter, message string, err error) {
	a.logger.Error(message, "error", err)
	writeError(w, http.StatusInternalServerError, message)
}
