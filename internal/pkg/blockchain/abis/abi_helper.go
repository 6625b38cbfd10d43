// Package abis holds the contract ABIs the pusher calls. Each ABI is parsed
// once per process and the result is shared, so callers must not mutate it.
package abis

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// cached returns a loader that parses abiJSON on first use.
func cached(name, abiJSON string) func() (*abi.ABI, error) {
	return sync.OnceValues(func() (*abi.ABI, error) {
		parsed, err := abi.JSON(strings.NewReader(abiJSON))
		if err != nil {
			return nil, fmt.Errorf("parsing %s ABI: %w", name, err)
		}
		return &parsed, nil
	})
}
