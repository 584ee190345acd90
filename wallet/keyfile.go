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

package wallet

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/getsops/sops/v3/decrypt"
)

const (
	KeyTypePaymentSigning = "PaymentSigningKeyShelley_ed25519"
	KeyTypePaymentVerify  = "PaymentVerificationKeyShelley_ed25519"
)

var (
	// ErrInsecureFileMode is returned when a key file is readable by group or other
	ErrInsecureFileMode   = errors.New("insecure key file permissions")
	ErrUnsupportedKeyType = errors.New("unsupported key type")
)

// keyFileEnvelope represents the JSON structure of a cardano-cli key file.
type keyFileEnvelope struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	CborHex     string `json:"cborHex"`
}

// loadSigningKey reads a payment signing key from a cardano-cli envelope.
// The file is opened first and permissions are checked on the open handle.
func loadSigningKey(path string) (ed25519.PrivateKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file %q: %w", path, err)
	}
	defer f.Close()

	if err := checkOpenFilePermissions(f); err != nil {
		return nil, err
	}

	// Valid key files are well under 1 MiB
	const maxKeyFileSize = 1 << 20
	data, err := io.ReadAll(io.LimitReader(f, maxKeyFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	if isSopsEncrypted(data) {
		data, err = decrypt.Data(data, "json")
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt key file %q: %w", path, err)
		}
	}
	key, err := parseSigningKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %q: %w", path, err)
	}
	return key, nil
}

// isSopsEncrypted reports whether a JSON document carries sops metadata
func isSopsEncrypted(data []byte) bool {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	_, ok := doc["sops"]
	return ok
}

func parseSigningKey(fileBytes []byte) (ed25519.PrivateKey, error) {
	var env keyFileEnvelope
	if err := json.Unmarshal(fileBytes, &env); err != nil {
		return nil, fmt.Errorf("could not parse key file envelope: %w", err)
	}
	if env.Type != KeyTypePaymentSigning {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, env.Type)
	}
	cborData, err := hex.DecodeString(env.CborHex)
	if err != nil {
		return nil, fmt.Errorf("could not decode key from hex: %w", err)
	}
	var keyBytes []byte
	if _, err := cbor.Decode(cborData, &keyBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal skey CBOR: %w", err)
	}
	if len(keyBytes) != ed25519.SeedSize {
		return nil, fmt.Errorf(
			"invalid skey bytes: expected %d, got %d",
			ed25519.SeedSize,
			len(keyBytes),
		)
	}
	return ed25519.NewKeyFromSeed(keyBytes), nil
}

// EncodeSigningKey renders a seed as a cardano-cli signing key envelope
func EncodeSigningKey(seed []byte) ([]byte, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf(
			"invalid seed: expected %d bytes, got %d",
			ed25519.SeedSize,
			len(seed),
		)
	}
	cborData, err := cbor.Encode(seed)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(
		keyFileEnvelope{
			Type:        KeyTypePaymentSigning,
			Description: "Payment Signing Key",
			CborHex:     hex.EncodeToString(cborData),
		},
		"",
		"    ",
	)
}
