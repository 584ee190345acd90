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
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/blinklabs-io/palmyra/database"
)

// maxPageSize bounds an explicit count
const maxPageSize = 500

var ErrInvalidPagination = errors.New("invalid pagination parameters")

// parsePagination reads the optional count, page and order query values.
// Without a count the listing is returned whole.
func parsePagination(r *http.Request, newestFirst bool) (database.Pagination, error) {
	p := database.Pagination{Desc: newestFirst}
	query := r.URL.Query()
	if v := query.Get("count"); v != "" {
		count, err := strconv.Atoi(v)
		if err != nil || count < 1 {
			return database.Pagination{}, ErrInvalidPagination
		}
		p.Count = min(count, maxPageSize)
		p.Page = 1
	}
	if v := query.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 || p.Count == 0 {
			return database.Pagination{}, ErrInvalidPagination
		}
		p.Page = page
	}
	switch strings.ToLower(query.Get("order")) {
	case "":
	case "asc":
		p.Desc = false
	case "desc":
		p.Desc = true
	default:
		return database.Pagination{}, ErrInvalidPagination
	}
	return p, nil
}

// setPaginationHeaders reports the total item and page counts
func setPaginationHeaders(w http.ResponseWriter, total int64, p database.Pagination) {
	total = max(total, 0)
	var pages int64
	switch {
	case total == 0:
	case p.Count < 1:
		pages = 1
	default:
		pages = (total + int64(p.Count) - 1) / int64(p.Count)
	}
	w.Header().Set("X-Pagination-Count-Total", strconv.FormatInt(total, 10))
	w.Header().Set("X-Pagination-Page-Total", strconv.FormatInt(pages, 10))
}
