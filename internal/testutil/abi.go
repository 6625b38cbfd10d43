package testutil

import (
	"math/big"
	"testing"

	"github.com/archon-research/oracle-pusher/internal/pkg/blockchain/abis"
)

// PackPythPrice ABI-encodes getPriceUnsafe() return data.
func PackPythPrice(t *testing.T, price int64, conf uint64, expo int32, publishTime int64) []byte {
	t.Helper()
	pythABI, err := abis.GetPythABI()
	if err != nil {
		t.Fatalf("loading Pyth ABI: %v", err)
	}
	type tuple struct {
		Price       int64
		Conf        uint64
		Expo        int32
		PublishTime *big.Int
	}
	data, err := pythABI.Methods["getPriceUnsafe"].Outputs.Pack(tuple{
		Price:       price,
		Conf:        conf,
		Expo:        expo,
		PublishTime: big.NewInt(publishTime),
	})
	if err != nil {
		t.Fatalf("packing price: %v", err)
	}
	return data
}

// PackUpdateFee ABI-encodes getUpdateFee() return data.
func PackUpdateFee(t *testing.T, fee *big.Int) []byte {
	t.Helper()
	pythABI, err := abis.GetPythABI()
	if err != nil {
		t.Fatalf("loading Pyth ABI: %v", err)
	}
	data, err := pythABI.Methods["getUpdateFee"].Outputs.Pack(fee)
	if err != nil {
		t.Fatalf("packing fee: %v", err)
	}
	return data
}

// PythErrorData returns the revert data of a Pyth custom error.
func PythErrorData(t *testing.T, name string) []byte {
	t.Helper()
	pythABI, err := abis.GetPythABI()
	if err != nil {
		t.Fatalf("loading Pyth ABI: %v", err)
	}
	e, ok := pythABI.Errors[name]
	if !ok {
		t.Fatalf("unknown Pyth error %q", name)
	}
	return append([]byte(nil), e.ID[:4]...)
}
