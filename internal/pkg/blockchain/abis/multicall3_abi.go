package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetMulticall3ABI returns the aggregate3 entry point of Multicall3.
func GetMulticall3ABI() (*abi.ABI, error) {
	return multicall3ABI()
}

var multicall3ABI = cached("Multicall3", multicall3JSON)

const multicall3JSON = `[
		{
			"inputs": [
				{
					"name": "calls",
					"type": "tuple[]",
					"components": [
						{"name": "target", "type": "address"},
						{"name": "allowFailure", "type": "bool"},
						{"name": "callData", "type": "bytes"}
					]
				}
			],
			"name": "aggregate3",
			"outputs": [
				{
					"name": "returnData",
					"type": "tuple[]",
					"components": [
						{"name": "success", "type": "bool"},
						{"name": "returnData", "type": "bytes"}
					]
				}
			],
			"stateMutability": "payable",
			"type": "function"
		}
	]`
