package abis

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func TestABIs(t *testing.T) {
	tests := []struct {
		name    string
		load    func() (*abi.ABI, error)
		methods []string
		errors  []string
	}{
		{
			name:    "pyth",
			load:    GetPythABI,
			methods: []string{"updatePriceFeeds", "getUpdateFee", "getPriceUnsafe"},
			errors:  []string{"InsufficientFee", "StalePrice", "PriceFeedNotFound"},
		},
		{
			name:    "multicall3",
			load:    GetMulticall3ABI,
			methods: []string{"aggregate3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, err := tt.load()
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			for _, m := range tt.methods {
				if _, ok := first.Methods[m]; !ok {
					t.Errorf("missing method %s", m)
				}
			}
			for _, e := range tt.errors {
				if _, ok := first.Errors[e]; !ok {
					t.Errorf("missing error %s", e)
				}
			}

			second, err := tt.load()
			if err != nil {
				t.Fatalf("second load: %v", err)
			}
			if first != second {
				t.Error("expected the parsed ABI to be shared")
			}
		})
	}
}

func TestCached_InvalidJSON(t *testing.T) {
	load := cached("Broken", `[{"type": "function", "name": }]`)
	if _, err := load(); err == nil {
		t.Fatal("expected parse error")
	}
}
