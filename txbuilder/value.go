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

package txbuilder

import (
	"encoding/hex"
	"fmt"

	"github.com/blinklabs-io/palmyra/chain"
	fxcbor "github.com/fxamacker/cbor/v2"
)

// assetMap is policy ID hex -> asset name hex -> quantity
type assetMap map[string]map[string]int64

func (m assetMap) add(policyID, assetName string, qty int64) {
	if qty == 0 {
		return
	}
	names, ok := m[policyID]
	if !ok {
		names = make(map[string]int64)
		m[policyID] = names
	}
	names[assetName] += qty
	if names[assetName] == 0 {
		delete(names, assetName)
		if len(names) == 0 {
			delete(m, policyID)
		}
	}
}

func (m assetMap) merge(other assetMap, sign int64) {
	for policyID, names := range other {
		for name, qty := range names {
			m.add(policyID, name, sign*qty)
		}
	}
}

func (m assetMap) clone() assetMap {
	ret := make(assetMap, len(m))
	ret.merge(m, 1)
	return ret
}

func assetsOf(assets []chain.Asset) assetMap {
	ret := make(assetMap)
	for _, a := range assets {
		ret.add(a.PolicyID, a.AssetName, int64(a.Quantity)) // #nosec G115
	}
	return ret
}

// cborMap converts to nested maps keyed by raw bytes. Output values must be
// positive; mint values may be negative.
func (m assetMap) cborMap(allowNegative bool) (map[fxcbor.ByteString]map[fxcbor.ByteString]any, error) {
	ret := make(map[fxcbor.ByteString]map[fxcbor.ByteString]any, len(m))
	for policyHex, names := range m {
		policy, err := hex.DecodeString(policyHex)
		if err != nil || len(policy) != 28 {
			return nil, fmt.Errorf("invalid policy ID %q", policyHex)
		}
		inner := make(map[fxcbor.ByteString]any, len(names))
		for nameHex, qty := range names {
			name, err := hex.DecodeString(nameHex)
			if err != nil || len(name) > 32 {
				return nil, fmt.Errorf("invalid asset name %q", nameHex)
			}
			switch {
			case qty > 0:
				inner[fxcbor.ByteString(name)] = uint64(qty)
			case qty < 0 && allowNegative:
				inner[fxcbor.ByteString(name)] = qty
			default:
				return nil, fmt.Errorf(
					"invalid quantity %d for %s.%s",
					qty,
					policyHex,
					nameHex,
				)
			}
		}
		ret[fxcbor.ByteString(policy)] = inner
	}
	return ret, nil
}

// value is an output amount
type value struct {
	lovelace uint64
	assets   assetMap
}

func (v value) cbor() (any, error) {
	if len(v.assets) == 0 {
		return v.lovelace, nil
	}
	ma, err := v.assets.cborMap(false)
	if err != nil {
		return nil, err
	}
	return []any{v.lovelace, ma}, nil
}
