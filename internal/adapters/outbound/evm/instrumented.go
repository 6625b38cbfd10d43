package evm

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

// RPCRecorder records JSON-RPC latency. telemetry.Metrics satisfies it.
type RPCRecorder interface {
	RecordRPC(ctx context.Context, network, method string, duration time.Duration, err error)
}

// InstrumentedClient decorates a ChainClient with per-method latency metrics.
type InstrumentedClient struct {
	next    outbound.ChainClient
	network string
	metrics RPCRecorder
}

var _ outbound.ChainClient = (*InstrumentedClient)(nil)

// NewInstrumentedClient wraps next.
func NewInstrumentedClient(next outbound.ChainClient, network string, metrics RPCRecorder) *InstrumentedClient {
	return &InstrumentedClient{next: next, network: network, metrics: metrics}
}

func (c *InstrumentedClient) observe(ctx context.Context, method string, start time.Time, err error) {
	c.metrics.RecordRPC(ctx, c.network, method, time.Since(start), err)
}

func (c *InstrumentedClient) ChainID(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	id, err := c.next.ChainID(ctx)
	c.observe(ctx, "eth_chainId", start, err)
	return id, err
}

func (c *InstrumentedClient) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	start := time.Now()
	nonce, err := c.next.NonceAt(ctx, account, blockNumber)
	c.observe(ctx, "eth_getTransactionCount", start, err)
	return nonce, err
}

func (c *InstrumentedClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	start := time.Now()
	header, err := c.next.HeaderByNumber(ctx, number)
	c.observe(ctx, "eth_getBlockByNumber", start, err)
	return header, err
}

func (c *InstrumentedClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	price, err := c.next.SuggestGasPrice(ctx)
	c.observe(ctx, "eth_gasPrice", start, err)
	return price, err
}

func (c *InstrumentedClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	tip, err := c.next.SuggestGasTipCap(ctx)
	c.observe(ctx, "eth_maxPriorityFeePerGas", start, err)
	return tip, err
}

func (c *InstrumentedClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	start := time.Now()
	gas, err := c.next.EstimateGas(ctx, msg)
	c.observe(ctx, "eth_estimateGas", start, err)
	return gas, err
}

func (c *InstrumentedClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	start := time.Now()
	out, err := c.next.CallContract(ctx, msg, blockNumber)
	c.observe(ctx, "eth_call", start, err)
	return out, err
}

func (c *InstrumentedClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	start := time.Now()
	err := c.next.SendTransaction(ctx, tx)
	c.observe(ctx, "eth_sendRawTransaction", start, err)
	return err
}

func (c *InstrumentedClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	start := time.Now()
	receipt, err := c.next.TransactionReceipt(ctx, txHash)
	// A pending transaction is not a failed call.
	if errors.Is(err, ethereum.NotFound) {
		c.observe(ctx, "eth_getTransactionReceipt", start, nil)
	} else {
		c.observe(ctx, "eth_getTransactionReceipt", start, err)
	}
	return receipt, err
}

func (c *InstrumentedClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	start := time.Now()
	balance, err := c.next.BalanceAt(ctx, account, blockNumber)
	c.observe(ctx, "eth_getBalance", start, err)
	return balance, err
}
