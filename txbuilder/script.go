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
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/blinklabs-io/gouroboros/cbor"
	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
)

const (
	scriptTypePlutusV3 = "PlutusScriptV3"
	// Language tag used in script hashes, script refs and cost model views
	plutusV3Language = 3
	plutusV3ViewKey  = 2
)

var ErrUnsupportedScript = errors.New("unsupported script type")

type textEnvelope struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	CborHex     string `json:"cborHex"`
}

// Script is a compiled Plutus V3 script
type Script struct {
	// Bytes is the CBOR bytestring content found in the witness set
	Bytes []byte
	hash  lcommon.Blake2b224
}

// LoadScript reads a PlutusScriptV3 text envelope
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %q: %w", path, err)
	}
	var env textEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse script envelope %q: %w", path, err)
	}
	if env.Type != scriptTypePlutusV3 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScript, env.Type)
	}
	raw, err := hex.DecodeString(env.CborHex)
	if err != nil {
		return nil, fmt.Errorf("decode script hex %q: %w", path, err)
	}
	var inner []byte
	if _, err := cbor.Decode(raw, &inner); err != nil {
		return nil, fmt.Errorf("decode script cbor %q: %w", path, err)
	}
	return NewScript(inner), nil
}

// NewScript wraps the serialized script bytes
func NewScript(scriptBytes []byte) *Script {
	tagged := make([]byte, 0, len(scriptBytes)+1)
	tagged = append(tagged, plutusV3Language)
	tagged = append(tagged, scriptBytes...)
	return &Script{
		Bytes: scriptBytes,
		hash:  lcommon.Blake2b224Hash(tagged),
	}
}

// Hash returns the script hash
func (s *Script) Hash() []byte {
	return s.hash[:]
}

func (s *Script) HashHex() string {
	return hex.EncodeToString(s.hash[:])
}

// Address returns the enterprise script address for the network ID
func (s *Script) Address(networkID uint8) (lcommon.Address, error) {
	return lcommon.NewAddressFromParts(
		lcommon.AddressTypeScriptNone,
		networkID,
		s.hash[:],
		nil,
	)
}

// refCbor encodes the script_ref field of an output
func (s *Script) refCbor() ([]byte, error) {
	inner, err := cbor.Encode([]any{uint64(plutusV3Language), s.Bytes})
	if err != nil {
		return nil, err
	}
	return cbor.Encode(cbor.Tag{Number: 24, Content: inner})
}
