package blockchain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/pkg/blockchain/abis"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

// PythPrice mirrors the PythStructs.Price tuple returned by getPriceUnsafe.
type PythPrice struct {
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime *big.Int
}

// Quote converts the on-chain price into a domain quote.
func (p PythPrice) Quote(feedID string) entity.PriceQuote {
	var publish time.Time
	if p.PublishTime != nil {
		publish = time.Unix(p.PublishTime.Int64(), 0).UTC()
	}
	return entity.NewPriceQuote(feedID, p.Price, p.Conf, p.Expo, publish)
}

// PythContract packs and unpacks calls to a Pyth oracle contract.
type PythContract struct {
	abi *abi.ABI
}

// NewPythContract loads the Pyth ABI.
func NewPythContract() (*PythContract, error) {
	parsed, err := abis.GetPythABI()
	if err != nil {
		return nil, fmt.Errorf("loading Pyth ABI: %w", err)
	}
	return &PythContract{abi: parsed}, nil
}

// PackUpdatePriceFeeds encodes updatePriceFeeds(bytes[]).
func (p *PythContract) PackUpdatePriceFeeds(updateData [][]byte) ([]byte, error) {
	data, err := p.abi.Pack("updatePriceFeeds", updateData)
	if err != nil {
		return nil, fmt.Errorf("packing updatePriceFeeds: %w", err)
	}
	return data, nil
}

// PackGetUpdateFee encodes getUpdateFee(bytes[]).
func (p *PythContract) PackGetUpdateFee(updateData [][]byte) ([]byte, error) {
	data, err := p.abi.Pack("getUpdateFee", updateData)
	if err != nil {
		return nil, fmt.Errorf("packing getUpdateFee: %w", err)
	}
	return data, nil
}

// UnpackGetUpdateFee decodes the fee returned by getUpdateFee.
func (p *PythContract) UnpackGetUpdateFee(ret []byte) (*big.Int, error) {
	unpacked, err := p.abi.Unpack("getUpdateFee", ret)
	if err != nil {
		return nil, fmt.Errorf("unpacking getUpdateFee: %w", err)
	}
	fee, ok := unpacked[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getUpdateFee output type %T", unpacked[0])
	}
	return fee, nil
}

// PackGetPriceUnsafe encodes getPriceUnsafe(bytes32).
func (p *PythContract) PackGetPriceUnsafe(feedID string) ([]byte, error) {
	id, err := entity.FeedIDBytes(feedID)
	if err != nil {
		return nil, err
	}
	data, err := p.abi.Pack("getPriceUnsafe", id)
	if err != nil {
		return nil, fmt.Errorf("packing getPriceUnsafe: %w", err)
	}
	return data, nil
}

// UnpackPrice decodes the tuple returned by getPriceUnsafe.
func (p *PythContract) UnpackPrice(ret []byte) (PythPrice, error) {
	unpacked, err := p.abi.Unpack("getPriceUnsafe", ret)
	if err != nil {
		return PythPrice{}, fmt.Errorf("unpacking getPriceUnsafe: %w", err)
	}
	price, ok := abi.ConvertType(unpacked[0], new(PythPrice)).(*PythPrice)
	if !ok {
		return PythPrice{}, fmt.Errorf("unexpected getPriceUnsafe output type %T", unpacked[0])
	}
	return *price, nil
}

// ErrorName returns the name of the Pyth custom error encoded in revert data.
func (p *PythContract) ErrorName(revertData []byte) (string, bool) {
	if len(revertData) < 4 {
		return "", false
	}
	for name, e := range p.abi.Errors {
		if bytes.Equal(e.ID[:4], revertData[:4]) {
			return name, true
		}
	}
	return "", false
}

// ErrorSelector returns the 4-byte selector of a Pyth custom error.
func (p *PythContract) ErrorSelector(name string) ([]byte, bool) {
	e, ok := p.abi.Errors[name]
	if !ok {
		return nil, false
	}
	return e.ID[:4], true
}

// FetchOnchainPrices reads the currently published price of every feed from a
// Pyth contract in a single batched read. Feeds the contract has never seen
// revert and are omitted from the result.
func FetchOnchainPrices(
	ctx context.Context,
	multicaller outbound.Multicaller,
	pyth *PythContract,
	oracleAddr common.Address,
	feedIDs []string,
) (map[string]PythPrice, error) {
	if len(feedIDs) == 0 {
		return map[string]PythPrice{}, nil
	}

	calls := make([]outbound.Call, len(feedIDs))
	for i, id := range feedIDs {
		data, err := pyth.PackGetPriceUnsafe(id)
		if err != nil {
			return nil, err
		}
		calls[i] = outbound.Call{Target: oracleAddr, AllowFailure: true, CallData: data}
	}

	results, err := multicaller.Execute(ctx, calls, nil)
	if err != nil {
		return nil, fmt.Errorf("executing getPriceUnsafe batch: %w", err)
	}
	if len(results) != len(calls) {
		return nil, fmt.Errorf("expected %d results, got %d", len(calls), len(results))
	}

	prices := make(map[string]PythPrice, len(feedIDs))
	for i, r := range results {
		if !r.Success || len(r.ReturnData) == 0 {
			continue
		}
		price, err := pyth.UnpackPrice(r.ReturnData)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", feedIDs[i], err)
		}
		prices[feedIDs[i]] = price
	}
	return prices, nil
}
