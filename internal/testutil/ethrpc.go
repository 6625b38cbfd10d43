package testutil

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/oracle-pusher/internal/pkg/blockchain/abis"
)

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// OnchainPrice is a price a MockPythNode reports for getPriceUnsafe.
type OnchainPrice struct {
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime int64
}

// MockPythNode is a JSON-RPC node serving eth_chainId and eth_call against a
// Pyth contract, either directly or through Multicall3.aggregate3. Feeds
// without a price revert with PriceFeedNotFound. Batch requests are supported.
type MockPythNode struct {
	*httptest.Server

	ChainID   int64
	Oracle    common.Address
	Multicall common.Address

	t            *testing.T
	pyth         *abi.ABI
	multicallABI *abi.ABI

	mu      sync.Mutex
	prices  map[[32]byte]OnchainPrice
	methods map[string]int
	batches int
}

// StartMockPythNode starts a mock node. The server is closed on test cleanup.
func StartMockPythNode(t *testing.T, chainID int64, oracle, multicall common.Address) *MockPythNode {
	t.Helper()

	pythABI, err := abis.GetPythABI()
	if err != nil {
		t.Fatalf("load Pyth ABI: %v", err)
	}
	multicallABI, err := abis.GetMulticall3ABI()
	if err != nil {
		t.Fatalf("load multicall3 ABI: %v", err)
	}

	n := &MockPythNode{
		ChainID:      chainID,
		Oracle:       oracle,
		Multicall:    multicall,
		t:            t,
		pyth:         pythABI,
		multicallABI: multicallABI,
		prices:       make(map[[32]byte]OnchainPrice),
		methods:      make(map[string]int),
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.Close)
	return n
}

// SetPrice makes getPriceUnsafe(feedID) return p.
func (n *MockPythNode) SetPrice(feedID string, p OnchainPrice) {
	b, err := hex.DecodeString(strings.TrimPrefix(feedID, "0x"))
	if err != nil || len(b) != 32 {
		n.t.Fatalf("invalid feed id %q", feedID)
	}
	var key [32]byte
	copy(key[:], b)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.prices[key] = p
}

// Calls returns how many times method was requested.
func (n *MockPythNode) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.methods[method]
}

// Batches returns how many batch requests were received.
func (n *MockPythNode) Batches() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.batches
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (n *MockPythNode) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var reqs []JSONRPCRequest
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			WriteRPCError(w, json.RawMessage(`1`), -32700, "parse error")
			return
		}
		n.mu.Lock()
		n.batches++
		n.mu.Unlock()

		resps := make([]rpcResponse, len(reqs))
		for i, req := range reqs {
			resps[i] = n.handle(req)
		}
		_ = json.NewEncoder(w).Encode(resps)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		WriteRPCError(w, json.RawMessage(`1`), -32700, "parse error")
		return
	}
	_ = json.NewEncoder(w).Encode(n.handle(req))
}

func (n *MockPythNode) handle(req JSONRPCRequest) rpcResponse {
	n.mu.Lock()
	n.methods[req.Method]++
	n.mu.Unlock()

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "eth_chainId":
		resp.Result = hexResult(fmt.Sprintf("0x%x", n.ChainID))

	case "eth_call":
		to, data, err := parseCall(req.Params)
		if err != nil {
			resp.Error = &rpcError{Code: -32602, Message: err.Error()}
			return resp
		}
		switch to {
		case n.Oracle:
			ret, revert := n.getPriceUnsafe(data)
			if revert != nil {
				resp.Error = &rpcError{Code: 3, Message: "execution reverted", Data: "0x" + hex.EncodeToString(revert)}
				return resp
			}
			resp.Result = hexResult("0x" + hex.EncodeToString(ret))
		case n.Multicall:
			ret, err := n.aggregate3(data)
			if err != nil {
				resp.Error = &rpcError{Code: -32000, Message: err.Error()}
				return resp
			}
			resp.Result = hexResult("0x" + hex.EncodeToString(ret))
		default:
			resp.Result = hexResult("0x")
		}

	default:
		resp.Error = &rpcError{Code: -32601, Message: "method not found: " + req.Method}
	}
	return resp
}

func (n *MockPythNode) getPriceUnsafe(data []byte) (ret, revert []byte) {
	method := n.pyth.Methods["getPriceUnsafe"]
	notFoundID := n.pyth.Errors["PriceFeedNotFound"].ID
	invalidID := n.pyth.Errors["InvalidArgument"].ID
	notFound := notFoundID[:4]
	if len(data) < 36 || !bytes.Equal(data[:4], method.ID) {
		return nil, invalidID[:4]
	}

	var key [32]byte
	copy(key[:], data[4:36])

	n.mu.Lock()
	p, ok := n.prices[key]
	n.mu.Unlock()
	if !ok {
		return nil, notFound
	}

	type tuple struct {
		Price       int64
		Conf        uint64
		Expo        int32
		PublishTime *big.Int
	}
	out, err := method.Outputs.Pack(tuple{
		Price:       p.Price,
		Conf:        p.Conf,
		Expo:        p.Expo,
		PublishTime: big.NewInt(p.PublishTime),
	})
	if err != nil {
		n.t.Errorf("packing price: %v", err)
		return nil, notFound
	}
	return out, nil
}

type call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type result3 struct {
	Success    bool
	ReturnData []byte
}

func (n *MockPythNode) aggregate3(data []byte) ([]byte, error) {
	method := n.multicallABI.Methods["aggregate3"]
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return nil, fmt.Errorf("unexpected multicall selector")
	}
	unpacked, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpacking aggregate3: %w", err)
	}
	calls := *abi.ConvertType(unpacked[0], new([]call3)).(*[]call3)

	results := make([]result3, len(calls))
	for i, c := range calls {
		if c.Target != n.Oracle {
			results[i] = result3{Success: false}
			continue
		}
		ret, revert := n.getPriceUnsafe(c.CallData)
		if revert != nil {
			if !c.AllowFailure {
				return nil, fmt.Errorf("call %d reverted", i)
			}
			results[i] = result3{Success: false, ReturnData: revert}
			continue
		}
		results[i] = result3{Success: true, ReturnData: ret}
	}
	return method.Outputs.Pack(results)
}

// parseCall extracts the target and calldata of an eth_call. go-ethereum may
// use "data" or "input" for the calldata field.
func parseCall(params json.RawMessage) (common.Address, []byte, error) {
	var p []json.RawMessage
	if err := json.Unmarshal(params, &p); err != nil || len(p) < 1 {
		return common.Address{}, nil, fmt.Errorf("invalid params")
	}
	var callObj struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Input string `json:"input"`
	}
	if err := json.Unmarshal(p[0], &callObj); err != nil {
		return common.Address{}, nil, fmt.Errorf("invalid call object: %w", err)
	}
	dataHex := callObj.Input
	if dataHex == "" {
		dataHex = callObj.Data
	}
	data, err := hex.DecodeString(strings.TrimPrefix(dataHex, "0x"))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("invalid calldata: %w", err)
	}
	return common.HexToAddress(callObj.To), data, nil
}

func hexResult(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// WriteRPCError writes a JSON-RPC error response.
func WriteRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	errJSON, _ := json.Marshal(map[string]interface{}{"code": code, "message": message})
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"error":   json.RawMessage(errJSON),
	})
}
