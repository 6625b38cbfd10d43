package multicall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/archon-research/oracle-pusher/internal/pkg/blockchain"
	"github.com/archon-research/oracle-pusher/internal/pkg/blockchain/abis"
	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

var target = common.HexToAddress("0x4305FB66699C3B2702D4d05CF36551390A4c69C6")

// echoCaller answers aggregate3 by echoing each inner call's data back,
// failing calls whose data is empty.
type echoCaller struct {
	t         *testing.T
	lastTo    *common.Address
	lastBlock *big.Int
	err       error
}

func (e *echoCaller) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	e.lastTo = msg.To
	e.lastBlock = block
	if e.err != nil {
		return nil, e.err
	}

	mcABI, err := abis.GetMulticall3ABI()
	if err != nil {
		e.t.Fatalf("load ABI: %v", err)
	}
	args, err := mcABI.Methods["aggregate3"].Inputs.Unpack(msg.Data[4:])
	if err != nil {
		e.t.Fatalf("unpack aggregate3 input: %v", err)
	}
	calls := args[0].([]struct {
		Target       common.Address `json:"target"`
		AllowFailure bool           `json:"allowFailure"`
		CallData     []byte         `json:"callData"`
	})

	type result struct {
		Success    bool
		ReturnData []byte
	}
	out := make([]result, len(calls))
	for i, c := range calls {
		out[i] = result{Success: len(c.CallData) > 0, ReturnData: c.CallData}
	}
	return mcABI.Methods["aggregate3"].Outputs.Pack(out)
}

func TestClient_Execute(t *testing.T) {
	caller := &echoCaller{t: t}
	client, err := NewClient(caller, blockchain.Multicall3)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	calls := []outbound.Call{
		{Target: target, AllowFailure: true, CallData: []byte{0x01, 0x02}},
		{Target: target, AllowFailure: true, CallData: nil},
	}
	results, err := client.Execute(context.Background(), calls, big.NewInt(100))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Success || !bytes.Equal(results[0].ReturnData, []byte{0x01, 0x02}) {
		t.Errorf("result[0] = %+v, want echoed success", results[0])
	}
	if results[1].Success {
		t.Errorf("result[1] should have failed")
	}
	if caller.lastTo == nil || *caller.lastTo != blockchain.Multicall3 {
		t.Errorf("call sent to %v, want multicall3", caller.lastTo)
	}
	if caller.lastBlock.Int64() != 100 {
		t.Errorf("block = %v, want 100", caller.lastBlock)
	}
	if client.Address() != blockchain.Multicall3 {
		t.Errorf("Address() = %s", client.Address())
	}
}

func TestClient_EmptyCallsSkipRPC(t *testing.T) {
	caller := &echoCaller{t: t, err: errors.New("should not be called")}
	client, err := NewClient(caller, blockchain.Multicall3)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	results, err := client.Execute(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestClient_PropagatesRPCError(t *testing.T) {
	client, err := NewClient(&echoCaller{t: t, err: errors.New("connection refused")}, blockchain.Multicall3)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Execute(context.Background(), []outbound.Call{{Target: target, CallData: []byte{1}}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNewClient_NilCaller(t *testing.T) {
	if _, err := NewClient(nil, blockchain.Multicall3); err == nil {
		t.Fatal("expected error for nil caller")
	}
}

// fakeBatch answers eth_call batches from a map of call data to response.
type fakeBatch struct {
	responses map[string]string
	failures  map[string]error
	lastBlock string
}

func (f *fakeBatch) BatchCallContext(_ context.Context, elems []rpc.BatchElem) error {
	for i := range elems {
		arg := elems[i].Args[0].(ethCallArg)
		f.lastBlock = elems[i].Args[1].(string)
		if err, ok := f.failures[arg.Data]; ok {
			elems[i].Error = err
			continue
		}
		raw, _ := json.Marshal(f.responses[arg.Data])
		if err := json.Unmarshal(raw, elems[i].Result); err != nil {
			return err
		}
	}
	return nil
}

func TestDirectCaller_Execute(t *testing.T) {
	batch := &fakeBatch{
		responses: map[string]string{"0x01": "0xaabb"},
		failures:  map[string]error{"0x02": errors.New("execution reverted")},
	}
	caller := NewDirectCaller(batch)

	results, err := caller.Execute(context.Background(), []outbound.Call{
		{Target: target, AllowFailure: true, CallData: []byte{0x01}},
		{Target: target, AllowFailure: true, CallData: []byte{0x02}},
	}, big.NewInt(16))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !results[0].Success || !bytes.Equal(results[0].ReturnData, hexutil.MustDecode("0xaabb")) {
		t.Errorf("result[0] = %+v", results[0])
	}
	if results[1].Success {
		t.Errorf("result[1] should be a failure")
	}
	if batch.lastBlock != "0x10" {
		t.Errorf("block arg = %q, want 0x10", batch.lastBlock)
	}
	if caller.Address() != (common.Address{}) {
		t.Errorf("Address() should be zero")
	}
}

func TestDirectCaller_FailureNotAllowed(t *testing.T) {
	caller := NewDirectCaller(&fakeBatch{failures: map[string]error{"0x02": errors.New("execution reverted")}})

	_, err := caller.Execute(context.Background(), []outbound.Call{
		{Target: target, AllowFailure: false, CallData: []byte{0x02}},
	}, nil)
	if err == nil {
		t.Fatal("expected error when a required call fails")
	}
}
