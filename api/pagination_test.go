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
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/palmyra/database"
)

func TestParsePagination(t *testing.T) {
	testCases := []struct {
		url         string
		newestFirst bool
		expected    database.Pagination
	}{
		{url: "/transactions", expected: database.Pagination{}},
		{url: "/check", newestFirst: true, expected: database.Pagination{Desc: true}},
		{url: "/check?order=ASC", newestFirst: true, expected: database.Pagination{}},
		{
			url:      "/transactions?count=25&page=3&order=DESC",
			expected: database.Pagination{Count: 25, Page: 3, Desc: true},
		},
		{url: "/check?count=10", expected: database.Pagination{Count: 10, Page: 1}},
		{url: "/check?count=9999", expected: database.Pagination{Count: maxPageSize, Page: 1}},
	}
	for _, tc := range testCases {
		req := httptest.NewRequest(http.MethodGet, tc.url, nil)
		p, err := parsePagination(req, tc.newestFirst)
		require.NoError(t, err, tc.url)
		assert.Equal(t, tc.expected, p, tc.url)
	}
}

func TestParsePaginationInvalid(t *testing.T) {
	for _, url := range []string{
		"/check?count=abc",
		"/check?count=0",
		"/check?count=5&page=abc",
		"/check?count=5&page=0",
		"/check?page=2",
		"/check?order=sideways",
	} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		_, err := parsePagination(req, false)
		require.ErrorIs(t, err, ErrInvalidPagination, url)
	}
}

func TestSetPaginationHeaders(t *testing.T) {
	testCases := []struct {
		total int64
		p     database.Pagination
		pages string
	}{
		{total: 101, p: database.Pagination{Count: 25}, pages: "5"},
		{total: 100, p: database.Pagination{Count: 25}, pages: "4"},
		{total: 7, p: database.Pagination{}, pages: "1"},
		{total: 0, p: database.Pagination{}, pages: "0"},
		{total: -1, p: database.Pagination{Count: 10}, pages: "0"},
	}
	for _, tc := range testCases {
		rec := httptest.NewRecorder()
		setPaginationHeaders(rec, tc.total, tc.p)
		assert.Equal(t, strconv.FormatInt(max(tc.total, 0), 10), rec.Header().Get("X-Pagination-Count-Total"))
		assert.Equal(t, tc.pages, rec.Header().Get("X-Pagination-Page-Total"))
	}
}
