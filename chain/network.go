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
	"fmt"

	ouroboros "github.com/blinklabs-io/gouroboros"
	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
)

const mainnetMagic uint32 = 764824073

// NetworkMagic returns the magic for a named network
func NetworkMagic(name string) (uint32, error) {
	network, ok := ouroboros.NetworkByName(name)
	if !ok {
		return 0, fmt.Errorf("unknown network name: %s", name)
	}
	return network.NetworkMagic, nil
}

// AddressNetworkID returns the address header network ID for a named network
func AddressNetworkID(name string) (uint8, error) {
	magic, err := NetworkMagic(name)
	if err != nil {
		return 0, err
	}
	if magic == mainnetMagic {
		return lcommon.AddressNetworkMainnet, nil
	}
	return lcommon.AddressNetworkTestnet, nil
}
