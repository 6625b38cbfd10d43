package multicall

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

// BatchCaller sends several JSON-RPC requests in one round trip.
// *rpc.Client satisfies it.
type BatchCaller interface {
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

// DirectCaller implements outbound.Multicaller with one eth_call per target,
// sent together as a JSON-RPC batch. It serves networks without a Multicall3
// deployment.
type DirectCaller struct {
	rpcClient BatchCaller
}

var _ outbound.Multicaller = (*DirectCaller)(nil)

// NewDirectCaller creates a new DirectCaller.
func NewDirectCaller(rpcClient BatchCaller) *DirectCaller {
	return &DirectCaller{rpcClient: rpcClient}
}

// ethCallArg mirrors go-ethereum's internal callMsg JSON encoding for eth_call.
type ethCallArg struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// Execute sends all calls in a single JSON-RPC batch request.
func (c *DirectCaller) Execute(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
	if len(calls) == 0 {
		return []outbound.Result{}, nil
	}

	blockArg := toBlockNumArg(blockNumber)

	elems := make([]rpc.BatchElem, len(calls))
	hexResults := make([]hexutil.Bytes, len(calls))

	for i, call := range calls {
		hexResults[i] = nil
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args: []any{
				ethCallArg{
					To:   call.Target.Hex(),
					Data: "0x" + hex.EncodeToString(call.CallData),
				},
				blockArg,
			},
			Result: &hexResults[i],
		}
	}

	if err := c.rpcClient.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("batch eth_call failed: %w", err)
	}

	results := make([]outbound.Result, len(calls))
	for i, elem := range elems {
		if elem.Error != nil || len(hexResults[i]) == 0 {
			if !calls[i].AllowFailure {
				if elem.Error == nil {
					return nil, fmt.Errorf("direct call to %s returned no data", calls[i].Target.Hex())
				}
				return nil, fmt.Errorf("direct call to %s failed: %w", calls[i].Target.Hex(), elem.Error)
			}
			results[i] = outbound.Result{Success: false}
			continue
		}
		results[i] = outbound.Result{
			Success:    true,
			ReturnData: hexResults[i],
		}
	}

	return results, nil
}

// Address returns a zero address since DirectCaller doesn't use a contract.
func (c *DirectCaller) Address() common.Address {
	return common.Address{}
}

func toBlockNumArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	if number.Sign() >= 0 {
		return hexutil.EncodeBig(number)
	}
	return "latest"
}
