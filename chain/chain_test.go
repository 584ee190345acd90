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

package chain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHash = strings.Repeat("ab", 32)

func TestIsTxHash(t *testing.T) {
	testDefs := []struct {
		input    string
		expected bool
	}{
		{input: testHash, expected: true},
		{input: strings.ToUpper(testHash), expected: true},
		{input: testHash[:63], expected: false},
		{input: strings.Repeat("zz", 32), expected: false},
		{input: "", expected: false},
	}
	for _, testDef := range testDefs {
		assert.Equal(t, testDef.expected, IsTxHash(testDef.input), testDef.input)
	}
}

func TestOutRefValidate(t *testing.T) {
	require.NoError(t, OutRef{TxHash: testHash}.Validate())
	err := OutRef{TxHash: "nope"}.Validate()
	require.ErrorIs(t, err, ErrInvalidOutRef)
	assert.Equal(t, testHash+"#3", OutRef{TxHash: testHash, OutputIndex: 3}.String())
}

func TestExcludeOutRefs(t *testing.T) {
	utxos := []Utxo{
		{Ref: OutRef{TxHash: testHash, OutputIndex: 0}, Lovelace: 5},
		{Ref: OutRef{TxHash: testHash, OutputIndex: 1}, Lovelace: 7},
		{Ref: OutRef{TxHash: strings.Repeat("cd", 32), OutputIndex: 0}, Lovelace: 11},
	}
	pending := []OutRef{
		{TxHash: strings.ToUpper(testHash), OutputIndex: 1},
		{TxHash: strings.Repeat("ef", 32), OutputIndex: 0},
	}
	usable := ExcludeOutRefs(utxos, pending)
	require.Len(t, usable, 2)
	for _, u := range usable {
		for _, p := range pending {
			assert.False(
				t,
				strings.EqualFold(u.Ref.TxHash, p.TxHash) &&
					u.Ref.OutputIndex == p.OutputIndex,
				"pending input %s returned as usable",
				p,
			)
		}
	}
	assert.Equal(t, uint64(16), TotalLovelace(usable))
	assert.Equal(t, utxos, ExcludeOutRefs(utxos, nil))
}

func TestAssetUnit(t *testing.T) {
	a := Asset{PolicyID: "aa", AssetName: "bb", Quantity: 1}
	assert.Equal(t, "aabb", a.Unit())
	assert.True(t, Utxo{Assets: []Asset{a}}.HasAssets())
	assert.False(t, Utxo{}.HasAssets())
}

func TestAddressNetworkID(t *testing.T) {
	id, err := AddressNetworkID("mainnet")
	require.NoError(t, err)
	assert.Equal(t, uint8(1), id)
	id, err = AddressNetworkID("preview")
	require.NoError(t, err)
	assert.Equal(t, uint8(0), id)
	_, err = AddressNetworkID("atlantis")
	require.Error(t, err)
}
