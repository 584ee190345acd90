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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/palmyra/builder"
	"github.com/blinklabs-io/palmyra/chain"
	"github.com/blinklabs-io/palmyra/database"
	"github.com/blinklabs-io/palmyra/database/models"
	"github.com/blinklabs-io/palmyra/datum"
	"github.com/blinklabs-io/palmyra/ipfs"
)

// mockDispatcher records dispatched operations
type mockDispatcher struct {
	err          error
	tokenize     []builder.MintParams
	spend        [][]chain.OutRef
	recreate     [][]chain.OutRef
	recreateRefs [][]string
}

func (m *mockDispatcher) DispatchTokenize(_ context.Context, p builder.MintParams) (string, error) {
	m.tokenize = append(m.tokenize, p)
	return "tokenize-id", m.err
}

func (m *mockDispatcher) DispatchSpend(_ context.Context, utxos []chain.OutRef) (string, error) {
	m.spend = append(m.spend, utxos)
	return "spend-id", m.err
}

func (m *mockDispatcher) DispatchRecreate(
	_ context.Context,
	utxos []chain.OutRef,
	refs []string,
) (string, error) {
	m.recreate = append(m.recreate, utxos)
	m.recreateRefs = append(m.recreateRefs, refs)
	return "recreate-id", m.err
}

type mockDetails struct {
	fields []datum.Fields
	err    error
}

func (m *mockDetails) CommodityDetails(context.Context, []string) ([]datum.Fields, error) {
	return m.fields, m.err
}

type mockUploader struct {
	hash string
	err  error
}

func (m *mockUploader) Upload(context.Context, []byte) (string, error) {
	return m.hash, m.err
}

type testServer struct {
	handler    http.Handler
	dispatcher *mockDispatcher
	details    *mockDetails
	uploader   *mockUploader
	store      *database.Database
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := database.New(database.Config{
		Plugin:  database.PluginSqlite,
		DataDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	ts := &testServer{
		dispatcher: &mockDispatcher{},
		details:    &mockDetails{},
		uploader:   &mockUploader{},
		store:      store,
	}
	a := New(Config{}, Services{
		Dispatcher: ts.dispatcher,
		Details:    ts.details,
		Store:      store,
		Uploader:   ts.uploader,
	}, nil)
	ts.handler = a.Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func hash(n int) string {
	return fmt.Sprintf("%064x", n)
}

func TestTokenize(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/palmyra/tokenizeCommodity",
		`{"tokenName":"coffee-lot-17","metadataReference":"ipfs://bafkreia"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp DispatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, DispatchResponse{Message: "success", ID: "tokenize-id"}, resp)
	assert.Equal(t, []builder.MintParams{{
		TokenName:         "coffee-lot-17",
		MetadataReference: "ipfs://bafkreia",
	}}, ts.dispatcher.tokenize)
}

func TestTokenizeValidation(t *testing.T) {
	ts := newTestServer(t)
	testDefs := []struct {
		body    string
		message string
	}{
		{body: `{"metadataReference":"ipfs://a"}`, message: "tokenName is required"},
		{body: `{"tokenName":"a"}`, message: "metadataReference is required"},
		{
			body:    `{"tokenName":"0123456789012345678901234567890123","metadataReference":"x"}`,
			message: "tokenName must be at most 32 bytes",
		},
	}
	for _, testDef := range testDefs {
		rec := ts.do(t, http.MethodPost, "/palmyra/tokenizeCommodity", testDef.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, testDef.message, decodeError(t, rec).Message)
	}
	rec := ts.do(t, http.MethodPost, "/palmyra/tokenizeCommodity", `{"tokenName":"a","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.dispatcher.tokenize)
}

func TestTokenizeDispatchFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.dispatcher.err = errors.New("insufficient funds")
	rec := ts.do(t, http.MethodPost, "/palmyra/tokenizeCommodity",
		`{"tokenName":"a","metadataReference":"b"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, ErrorResponse{
		StatusCode: http.StatusBadRequest,
		Error:      "Bad Request",
		Message:    "Mint Tx Failed",
	}, resp)
}

func TestSpendValidatesUtxos(t *testing.T) {
	ts := newTestServer(t)
	testDefs := []string{
		`{"utxos":[]}`,
		`{"utxos":[{"txHash":"abc","outputIndex":0}]}`,
		`{"utxos":[{"txHash":"` + hash(1) + `","outputIndex":-1}]}`,
		`{"utxos":[{"txHash":"` + hash(1) + `"}]}`,
	}
	for _, body := range testDefs {
		rec := ts.do(t, http.MethodPost, "/palmyra/spendCommodity", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, ts.dispatcher.spend)

	rec := ts.do(t, http.MethodPost, "/palmyra/spendCommodity",
		`{"utxos":[{"txHash":"`+hash(1)+`","outputIndex":2}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [][]chain.OutRef{{{TxHash: hash(1), OutputIndex: 2}}}, ts.dispatcher.spend)
}

func TestSpendDispatchFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.dispatcher.err = errors.New("utxo not found")
	rec := ts.do(t, http.MethodPost, "/palmyra/spendCommodity",
		`{"utxos":[{"txHash":"`+hash(1)+`","outputIndex":0}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Spend Tx Failed", decodeError(t, rec).Message)
}

func TestRecreateLengthMismatch(t *testing.T) {
	ts := newTestServer(t)
	body := `{"utxos":[{"txHash":"` + hash(1) + `","outputIndex":0},{"txHash":"` +
		hash(2) + `","outputIndex":0}],"newDataReferences":["ipfs://v2"]}`
	rec := ts.do(t, http.MethodPost, "/palmyra/recreateCommodity", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(
		t,
		"utxo(s) of length 2 should match data array of length 1",
		decodeError(t, rec).Message,
	)
	assert.Empty(t, ts.dispatcher.recreate)
}

func TestRecreate(t *testing.T) {
	ts := newTestServer(t)
	body := `{"utxos":[{"txHash":"` + hash(1) + `","outputIndex":0}],"newDataReferences":["ipfs://v2"]}`
	rec := ts.do(t, http.MethodPost, "/palmyra/recreateCommodity", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [][]string{{"ipfs://v2"}}, ts.dispatcher.recreateRefs)

	ts.dispatcher.err = errors.New("same data reference")
	rec = ts.do(t, http.MethodPost, "/palmyra/recreateCommodity", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Recreate Tx Failed", decodeError(t, rec).Message)
}

func TestCommodityDetails(t *testing.T) {
	ts := newTestServer(t)
	ts.details.fields = []datum.Fields{{ProtocolVersion: 1, DataReference: "ipfs://a"}}
	rec := ts.do(t, http.MethodPost, "/palmyra/commodityDetails", `{"tokenIds":["lot-1"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp DetailsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ts.details.fields, resp.Message)

	ts.details.err = fmt.Errorf("%w: lot-1: timeout", builder.ErrProviderQuery)
	rec = ts.do(t, http.MethodPost, "/palmyra/commodityDetails", `{"tokenIds":["lot-1"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Chain Provider Error", decodeError(t, rec).Message)

	ts.details.err = fmt.Errorf("%w: lot-1", builder.ErrDatumDecode)
	rec = ts.do(t, http.MethodPost, "/palmyra/commodityDetails", `{"tokenIds":["lot-1"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Datum Decode Error", decodeError(t, rec).Message)
}

func TestChecks(t *testing.T) {
	ts := newTestServer(t)
	ctx := t.Context()
	for i := range 3 {
		require.NoError(t, ts.store.CreateCheck(ctx, &models.Check{
			ID:     fmt.Sprintf("check-%d", i),
			Type:   models.CheckTypeTokenize,
			Status: models.CheckStatusPending,
		}))
		// Distinct creation times keep the ordering deterministic
		time.Sleep(2 * time.Millisecond)
	}
	rec := ts.do(t, http.MethodGet, "/check?count=2&order=desc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("X-Pagination-Count-Total"))
	assert.Equal(t, "2", rec.Header().Get("X-Pagination-Page-Total"))
	var checks []models.Check
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checks))
	require.Len(t, checks, 2)
	assert.Equal(t, "check-2", checks[0].ID)

	rec = ts.do(t, http.MethodGet, "/check/check-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/check/missing", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Not Found", decodeError(t, rec).Message)

	rec = ts.do(t, http.MethodGet, "/check?order=sideways", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactionLookup(t *testing.T) {
	ts := newTestServer(t)
	ctx := t.Context()
	origin := hash(1)
	require.NoError(t, ts.store.CreateTransaction(ctx, origin))
	require.NoError(t, ts.store.AppendRecreated(ctx, origin, 0, models.Recreated{
		TxHash:      hash(2),
		OutputIndex: 0,
	}))

	rec := ts.do(t, http.MethodGet, "/transactions/"+origin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var txs []models.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txs))
	require.Len(t, txs, 1)
	assert.Equal(t, origin, txs[0].Txid)

	rec = ts.do(t, http.MethodGet, "/transactions/"+hash(2), "")
	require.Equal(t, http.StatusOK, rec.Code)
	txs = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txs))
	require.Len(t, txs, 1)
	assert.Equal(t, origin, txs[0].Txid)

	rec = ts.do(t, http.MethodGet, "/transactions/"+hash(3), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/transactions/xyz", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid txid", decodeError(t, rec).Message)

	rec = ts.do(t, http.MethodGet, "/transactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-Pagination-Count-Total"))
}

func TestTransactionLookupSharedRecreate(t *testing.T) {
	ts := newTestServer(t)
	ctx := t.Context()
	// One recreate consumed outputs from two separate roots
	for _, root := range []string{hash(1), hash(4)} {
		require.NoError(t, ts.store.CreateTransaction(ctx, root))
	}
	require.NoError(t, ts.store.AppendRecreated(ctx, hash(1), 0, models.Recreated{
		TxHash:      hash(5),
		OutputIndex: 0,
	}))
	require.NoError(t, ts.store.AppendRecreated(ctx, hash(4), 0, models.Recreated{
		TxHash:      hash(5),
		OutputIndex: 1,
	}))

	rec := ts.do(t, http.MethodGet, "/transactions/"+hash(5), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var txs []models.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txs))
	require.Len(t, txs, 2)
	ids := []string{txs[0].Txid, txs[1].Txid}
	assert.ElementsMatch(t, []string{hash(1), hash(4)}, ids)
}

func TestDeployments(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.store.SaveDeployment(t.Context(), &models.Deployment{
		ContractAddress:  "addr_test1wqcontract",
		DeployAddress:    "addr_test1vqdeploy",
		DeploymentTxHash: hash(9),
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/deployments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var deps []models.Deployment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deps))
	require.Len(t, deps, 1)

	rec = ts.do(t, http.MethodGet, "/deployments/addr_test1wqcontract", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/deployments/addr_test1wqother", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIpfsUpload(t *testing.T) {
	ts := newTestServer(t)
	ts.uploader.hash = "bafkreiexample"
	rec := ts.do(t, http.MethodPost, "/ipfs", `{"event":"harvest"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "bafkreiexample", resp.Hash)

	ts.uploader.err = ipfs.ErrInvalidDocument
	rec = ts.do(t, http.MethodPost, "/ipfs", `nope`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.uploader.err = fmt.Errorf("%w: connection refused", ipfs.ErrUpload)
	rec = ts.do(t, http.MethodPost, "/ipfs", `{}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "IPFS Upload Failed", decodeError(t, rec).Message)
}

func TestCorsPreflight(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/palmyra/tokenizeCommodity", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStartStop(t *testing.T) {
	a := New(Config{ListenAddress: "127.0.0.1:0"}, Services{}, nil)
	require.NoError(t, a.Start(t.Context()))
	require.Error(t, a.Start(t.Context()))
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx))
	a.mu.Lock()
	assert.Nil(t, a.httpServer)
	a.mu.Unlock()
}
