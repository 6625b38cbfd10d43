// Package evm connects to the JSON-RPC endpoint of each configured network
// and exposes the chain client used by the submitter and the oracle reader
// used by bootstrap.
package evm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/archon-research/oracle-pusher/internal/domain/entity"
	"github.com/archon-research/oracle-pusher/internal/pkg/blockchain"
	"github.com/archon-research/oracle-pusher/internal/pkg/blockchain/multicall"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

// Config holds connection settings shared by every network.
type Config struct {
	// HTTPTimeout bounds a single JSON-RPC round trip.
	HTTPTimeout time.Duration

	// Metrics is optional.
	Metrics RPCRecorder

	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		HTTPTimeout: 30 * time.Second,
		Logger:      slog.Default(),
	}
}

// Network is an open connection to one chain.
type Network struct {
	target *entity.NetworkTarget
	rpc    *rpc.Client
	client outbound.ChainClient
	reader *OracleReader
}

// Dial prepares the network's RPC client. HTTP endpoints are not contacted
// here, so an unreachable node does not fail startup; the submitter checks
// the chain id before its first transaction.
func Dial(ctx context.Context, target *entity.NetworkTarget, config Config) (*Network, error) {
	if target == nil {
		return nil, fmt.Errorf("network target cannot be nil")
	}
	defaults := ConfigDefaults()
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = defaults.HTTPTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	httpClient := &http.Client{
		Timeout: config.HTTPTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	rpcClient, err := rpc.DialOptions(ctx, target.RPCURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s RPC: %w", target.Name, err)
	}

	var client outbound.ChainClient = ethclient.NewClient(rpcClient)
	if config.Metrics != nil {
		client = NewInstrumentedClient(client, target.Name, config.Metrics)
	}

	var mc outbound.Multicaller
	if target.HasMulticall() {
		mc, err = multicall.NewClient(client, target.MulticallAddress)
		if err != nil {
			rpcClient.Close()
			return nil, err
		}
	} else {
		mc = multicall.NewDirectCaller(rpcClient)
	}

	pyth, err := blockchain.NewPythContract()
	if err != nil {
		rpcClient.Close()
		return nil, err
	}

	config.Logger.Info("network configured",
		"component", "evm",
		"network", target.Name,
		"chainId", target.ChainID,
		"multicall", target.HasMulticall(),
	)

	return &Network{
		target: target,
		rpc:    rpcClient,
		client: client,
		reader: NewOracleReader(mc, pyth, target.OracleAddress),
	}, nil
}

// Target returns the network the connection serves.
func (n *Network) Target() *entity.NetworkTarget {
	return n.target
}

// Client returns the chain client for the submitter.
func (n *Network) Client() outbound.ChainClient {
	return n.client
}

// Reader returns the oracle price reader for bootstrap.
func (n *Network) Reader() *OracleReader {
	return n.reader
}

// Close closes the underlying RPC connection.
func (n *Network) Close() {
	n.rpc.Close()
}
