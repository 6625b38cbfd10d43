package entity

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NetworkTarget is a chain the oracle is published on. Immutable after load.
type NetworkTarget struct {
	Name             string
	ChainID          int64
	RPCURL           string
	OracleAddress    common.Address
	MaxFeedsPerBatch int // <= 0 means unlimited
	NativeFeedID     string
	BlockExplorer    string
	MulticallAddress common.Address // zero means direct batched eth_call
}

// NewNetworkTarget creates a NetworkTarget with validated fields.
func NewNetworkTarget(name string, chainID int64, rpcURL, oracle string, maxFeeds int) (*NetworkTarget, error) {
	if name == "" {
		return nil, fmt.Errorf("network name is required")
	}
	if chainID <= 0 {
		return nil, fmt.Errorf("network %s: chain id must be positive, got %d", name, chainID)
	}
	if rpcURL == "" {
		return nil, fmt.Errorf("network %s: rpc url is required", name)
	}
	if !common.IsHexAddress(oracle) {
		return nil, fmt.Errorf("network %s: invalid oracle address %q", name, oracle)
	}
	return &NetworkTarget{
		Name:             name,
		ChainID:          chainID,
		RPCURL:           rpcURL,
		OracleAddress:    common.HexToAddress(oracle),
		MaxFeedsPerBatch: maxFeeds,
	}, nil
}

// HasMulticall reports whether reads on this network can be aggregated
// through a Multicall3 deployment.
func (n *NetworkTarget) HasMulticall() bool {
	return n.MulticallAddress != (common.Address{})
}

// TxURL returns the explorer link for a transaction, or "" when the network
// has no explorer configured.
func (n *NetworkTarget) TxURL(txHash common.Hash) string {
	if n.BlockExplorer == "" {
		return ""
	}
	base := n.BlockExplorer
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + "/tx/" + txHash.Hex()
}
