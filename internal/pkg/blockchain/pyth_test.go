package blockchain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
	"github.com/archon-research/oracle-pusher/internal/testutil"
)

var pythAddr = common.HexToAddress("0x4305FB66699C3B2702D4d05CF36551390A4c69C6")

func newPyth(t *testing.T) *PythContract {
	t.Helper()
	p, err := NewPythContract()
	if err != nil {
		t.Fatalf("NewPythContract: %v", err)
	}
	return p
}

func TestPythContract_UnpackPrice(t *testing.T) {
	p := newPyth(t)

	price, err := p.UnpackPrice(testutil.PackPythPrice(t, 200012345678, 150000000, -8, 1700000000))
	if err != nil {
		t.Fatalf("UnpackPrice: %v", err)
	}
	if price.Price != 200012345678 || price.Conf != 150000000 || price.Expo != -8 {
		t.Errorf("unexpected price %+v", price)
	}

	q := price.Quote(testutil.FeedID(1))
	if want := decimal.RequireFromString("2000.12345678"); !q.Price.Equal(want) {
		t.Errorf("quote price = %s, want %s", q.Price, want)
	}
	if !q.PublishTime.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("publish time = %v", q.PublishTime)
	}
}

func TestPythContract_UpdateFee(t *testing.T) {
	p := newPyth(t)

	data, err := p.PackGetUpdateFee([][]byte{{0x50, 0x4e}})
	if err != nil {
		t.Fatalf("PackGetUpdateFee: %v", err)
	}
	if len(data) < 4 {
		t.Fatalf("packed data too short: %x", data)
	}

	fee, err := p.UnpackGetUpdateFee(testutil.PackUpdateFee(t, big.NewInt(42)))
	if err != nil {
		t.Fatalf("UnpackGetUpdateFee: %v", err)
	}
	if fee.Int64() != 42 {
		t.Errorf("fee = %s, want 42", fee)
	}
}

func TestPythContract_ErrorName(t *testing.T) {
	p := newPyth(t)

	sel, ok := p.ErrorSelector(ErrNameInsufficientFee)
	if !ok {
		t.Fatal("InsufficientFee selector missing")
	}
	if want := []byte{0x02, 0x5d, 0xbd, 0xd4}; !bytes.Equal(sel, want) {
		t.Errorf("InsufficientFee selector = %x, want %x", sel, want)
	}

	name, ok := p.ErrorName(append(sel, 0x00))
	if !ok || name != ErrNameInsufficientFee {
		t.Errorf("ErrorName() = %q, %v", name, ok)
	}
	if _, ok := p.ErrorName([]byte{0xde, 0xad}); ok {
		t.Error("ErrorName() matched short data")
	}
	if _, ok := p.ErrorName([]byte{0xde, 0xad, 0xbe, 0xef}); ok {
		t.Error("ErrorName() matched unknown selector")
	}
}

func TestFetchOnchainPrices(t *testing.T) {
	p := newPyth(t)
	known := testutil.FeedID(1)
	unknown := testutil.FeedID(2)

	mc := testutil.NewMockMulticaller()
	mc.ExecuteFn = func(_ context.Context, calls []outbound.Call, _ *big.Int) ([]outbound.Result, error) {
		if len(calls) != 2 {
			t.Fatalf("expected 2 calls, got %d", len(calls))
		}
		for _, c := range calls {
			if c.Target != pythAddr || !c.AllowFailure {
				t.Errorf("unexpected call %+v", c)
			}
		}
		return []outbound.Result{
			{Success: true, ReturnData: testutil.PackPythPrice(t, 6500000, 100, -2, 1700000100)},
			{Success: false},
		}, nil
	}

	prices, err := FetchOnchainPrices(context.Background(), mc, p, pythAddr, []string{known, unknown})
	if err != nil {
		t.Fatalf("FetchOnchainPrices: %v", err)
	}
	if len(prices) != 1 {
		t.Fatalf("expected 1 price, got %d", len(prices))
	}
	if got := prices[known].Price; got != 6500000 {
		t.Errorf("price = %d, want 6500000", got)
	}
	if _, ok := prices[unknown]; ok {
		t.Error("feed without on-chain price should be absent")
	}

	batches := mc.Batches()
	if len(batches) != 1 {
		t.Fatalf("expected 1 multicall batch, got %d", len(batches))
	}
	want, err := p.PackGetPriceUnsafe(known)
	if err != nil {
		t.Fatalf("PackGetPriceUnsafe: %v", err)
	}
	if !bytes.Equal(batches[0][0].CallData, want) {
		t.Error("first call should read the first requested feed")
	}
}

func TestFetchOnchainPrices_Errors(t *testing.T) {
	p := newPyth(t)

	t.Run("no feeds skips rpc", func(t *testing.T) {
		mc := testutil.NewMockMulticaller()
		prices, err := FetchOnchainPrices(context.Background(), mc, p, pythAddr, nil)
		if err != nil || len(prices) != 0 {
			t.Fatalf("got %v, %v", prices, err)
		}
		if mc.Calls() != 0 {
			t.Errorf("expected no multicall, got %d", mc.Calls())
		}
	})

	t.Run("rpc failure", func(t *testing.T) {
		mc := testutil.NewMockMulticaller()
		mc.ExecuteFn = func(context.Context, []outbound.Call, *big.Int) ([]outbound.Result, error) {
			return nil, errors.New("timeout")
		}
		if _, err := FetchOnchainPrices(context.Background(), mc, p, pythAddr, []string{testutil.FeedID(1)}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("invalid feed id", func(t *testing.T) {
		mc := testutil.NewMockMulticaller()
		if _, err := FetchOnchainPrices(context.Background(), mc, p, pythAddr, []string{"0x12"}); err == nil {
			t.Fatal("expected error")
		}
	})
}
