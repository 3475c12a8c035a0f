package registry

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ERC20TransferABI covers the calls made when moving tokens over a custom RPC.
const ERC20TransferABI = `[
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var ERC20 = mustABI(ERC20TransferABI)

var erc20ByNetwork = map[string]map[string]string{
	Base:        {"usdc": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"},
	BaseSepolia: {"usdc": "0x036CbD53842c5426634e7929541eC2318f3dCF7e"},
}

// ERC20Address resolves a token symbol to its contract on network. Full
// addresses pass through; unknown symbols are returned unchanged.
func ERC20Address(token, network string) string {
	if strings.HasPrefix(token, "0x") && len(token) == 42 {
		return token
	}
	if addr, ok := erc20ByNetwork[normalize(network)][strings.ToLower(token)]; ok {
		return addr
	}
	return token
}

// IsNativeToken reports whether token names the chain's gas asset.
func IsNativeToken(token string) bool {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "eth", "pol", "matic":
		return true
	}
	return false
}

func IsAddress(value string) bool {
	return common.IsHexAddress(value)
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
