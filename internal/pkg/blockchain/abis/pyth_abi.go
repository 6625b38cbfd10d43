package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetPythABI returns the subset of the Pyth IPyth interface used by the
// pusher, including the custom errors it reverts with.
func GetPythABI() (*abi.ABI, error) {
	return pythABI()
}

var pythABI = cached("Pyth", pythJSON)

const pythJSON = `[
		{
			"inputs": [{"name": "updateData", "type": "bytes[]"}],
			"name": "updatePriceFeeds",
			"outputs": [],
			"stateMutability": "payable",
			"type": "function"
		},
		{
			"inputs": [{"name": "updateData", "type": "bytes[]"}],
			"name": "getUpdateFee",
			"outputs": [{"name": "feeAmount", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [{"name": "id", "type": "bytes32"}],
			"name": "getPriceUnsafe",
			"outputs": [
				{
					"name": "price",
					"type": "tuple",
					"components": [
						{"name": "price", "type": "int64"},
						{"name": "conf", "type": "uint64"},
						{"name": "expo", "type": "int32"},
						{"name": "publishTime", "type": "uint256"}
					]
				}
			],
			"stateMutability": "view",
			"type": "function"
		},
		{"inputs": [], "name": "InvalidArgument", "type": "error"},
		{"inputs": [], "name": "InvalidUpdateDataSource", "type": "error"},
		{"inputs": [], "name": "InvalidUpdateData", "type": "error"},
		{"inputs": [], "name": "InsufficientFee", "type": "error"},
		{"inputs": [], "name": "NoFreshUpdate", "type": "error"},
		{"inputs": [], "name": "PriceFeedNotFoundWithinRange", "type": "error"},
		{"inputs": [], "name": "PriceFeedNotFound", "type": "error"},
		{"inputs": [], "name": "StalePrice", "type": "error"},
		{"inputs": [], "name": "InvalidWormholeVaa", "type": "error"}
	]`
