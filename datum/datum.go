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

// Package datum encodes and decodes the provenance datum attached to every
// commodity output.
package datum

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"unicode/utf8"

	"github.com/blinklabs-io/plutigo/data"
)

const ProtocolVersion = 1

var ErrInvalidDatum = errors.New("invalid object datum")

// Params are the inputs used to construct an ObjectDatum. Byte fields are
// hex encoded.
type Params struct {
	ProtocolVersion         int64
	DataReferenceHex        string
	EventCreationInfoTxHash string
	SignersPkHash           []string
}

// ObjectDatum is the on-chain provenance record
type ObjectDatum struct {
	ProtocolVersion   int64
	DataReference     []byte
	EventCreationInfo []byte
	Signers           [][]byte
}

// Fields is the JSON view returned to API clients
type Fields struct {
	ProtocolVersion   int64    `json:"protocolVersion"`
	DataReference     string   `json:"dataReference"`
	EventCreationInfo string   `json:"eventCreationInfo"`
	Signers           []string `json:"signers"`
}

// NewParams builds the datum parameters for a freshly tokenized commodity
func NewParams(metadataReference string, signerPkHash string) Params {
	return Params{
		ProtocolVersion:         ProtocolVersion,
		DataReferenceHex:        hex.EncodeToString([]byte(metadataReference)),
		EventCreationInfoTxHash: hex.EncodeToString([]byte("")),
		SignersPkHash:           []string{signerPkHash},
	}
}

// FromParams decodes the hex fields of p
func FromParams(p Params) (*ObjectDatum, error) {
	ref, err := hex.DecodeString(p.DataReferenceHex)
	if err != nil {
		return nil, fmt.Errorf("decode data reference: %w", err)
	}
	info, err := hex.DecodeString(p.EventCreationInfoTxHash)
	if err != nil {
		return nil, fmt.Errorf("decode event creation info: %w", err)
	}
	signers := make([][]byte, 0, len(p.SignersPkHash))
	for _, s := range p.SignersPkHash {
		pkh, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode signer %q: %w", s, err)
		}
		signers = append(signers, pkh)
	}
	return &ObjectDatum{
		ProtocolVersion:   p.ProtocolVersion,
		DataReference:     ref,
		EventCreationInfo: info,
		Signers:           signers,
	}, nil
}

// WithDataReference returns a copy of d pointing at a new off-chain reference
func (d *ObjectDatum) WithDataReference(ref []byte) *ObjectDatum {
	tmp := *d
	tmp.DataReference = append([]byte(nil), ref...)
	return &tmp
}

func (d *ObjectDatum) ToPlutusData() data.PlutusData {
	signers := make([]data.PlutusData, 0, len(d.Signers))
	for _, s := range d.Signers {
		signers = append(signers, data.NewByteString(s))
	}
	return data.NewConstr(
		0,
		data.NewInteger(big.NewInt(d.ProtocolVersion)),
		data.NewByteString(d.DataReference),
		data.NewByteString(d.EventCreationInfo),
		data.NewList(signers...),
	)
}

// Encode returns the CBOR encoding of the datum
func (d *ObjectDatum) Encode() ([]byte, error) {
	return data.Encode(d.ToPlutusData())
}

// Fields renders the datum for API responses. The data reference is shown as
// text when it is valid UTF-8 and as hex otherwise.
func (d *ObjectDatum) Fields() Fields {
	ref := hex.EncodeToString(d.DataReference)
	if utf8.Valid(d.DataReference) {
		ref = string(d.DataReference)
	}
	signers := make([]string, 0, len(d.Signers))
	for _, s := range d.Signers {
		signers = append(signers, hex.EncodeToString(s))
	}
	return Fields{
		ProtocolVersion:   d.ProtocolVersion,
		DataReference:     ref,
		EventCreationInfo: hex.EncodeToString(d.EventCreationInfo),
		Signers:           signers,
	}
}

// Decode parses a CBOR encoded ObjectDatum
func Decode(cborData []byte) (*ObjectDatum, error) {
	pd, err := data.Decode(cborData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDatum, err)
	}
	constr, ok := pd.(*data.Constr)
	if !ok {
		return nil, fmt.Errorf("%w: expected constr, got %T", ErrInvalidDatum, pd)
	}
	if constr.Tag != 0 || len(constr.Fields) != 4 {
		return nil, fmt.Errorf(
			"%w: constr %d with %d fields",
			ErrInvalidDatum,
			constr.Tag,
			len(constr.Fields),
		)
	}
	version, ok := constr.Fields[0].(*data.Integer)
	if !ok || !version.Inner.IsInt64() {
		return nil, fmt.Errorf("%w: bad protocol version", ErrInvalidDatum)
	}
	ref, ok := constr.Fields[1].(*data.ByteString)
	if !ok {
		return nil, fmt.Errorf("%w: bad data reference", ErrInvalidDatum)
	}
	info, ok := constr.Fields[2].(*data.ByteString)
	if !ok {
		return nil, fmt.Errorf("%w: bad event creation info", ErrInvalidDatum)
	}
	list, ok := constr.Fields[3].(*data.List)
	if !ok {
		return nil, fmt.Errorf("%w: bad signer list", ErrInvalidDatum)
	}
	ret := &ObjectDatum{
		ProtocolVersion:   version.Inner.Int64(),
		DataReference:     ref.Inner,
		EventCreationInfo: info.Inner,
	}
	for _, item := range list.Items {
		signer, ok := item.(*data.ByteString)
		if !ok {
			return nil, fmt.Errorf("%w: bad signer", ErrInvalidDatum)
		}
		ret.Signers = append(ret.Signers, signer.Inner)
	}
	return ret, nil
}
