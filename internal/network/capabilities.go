package network

import (
	"sort"
	"strings"

	"github.com/ggonzalez94/cdp-cli/internal/registry"
)

// Method names gated by the capability matrix.
const (
	MethodListTokenBalances           = "listTokenBalances"
	MethodRequestFaucet               = "requestFaucet"
	MethodQuoteFund                   = "quoteFund"
	MethodFund                        = "fund"
	MethodWaitForFundOperationReceipt = "waitForFundOperationReceipt"
	MethodTransfer                    = "transfer"
	MethodSendTransaction             = "sendTransaction"
	MethodQuoteSwap                   = "quoteSwap"
	MethodSwap                        = "swap"
	MethodWaitForTransactionReceipt   = "waitForTransactionReceipt"
)

// alwaysAvailable methods exist on every scoped account regardless of the
// matrix.
var alwaysAvailable = map[string]bool{
	MethodSendTransaction:           true,
	MethodTransfer:                  true,
	MethodWaitForTransactionReceipt: true,
}

type capabilitySet struct {
	listTokenBalances bool
	requestFaucet     bool
	fund              bool
	transfer          bool
	sendTransaction   bool
	swap              bool
}

// Fund quotes, funding and fund receipts share one flag, as do swap quotes
// and swaps.
var matrix = map[string]capabilitySet{
	registry.Base:            {listTokenBalances: true, fund: true, transfer: true, sendTransaction: true, swap: true},
	registry.BaseSepolia:     {listTokenBalances: true, requestFaucet: true, transfer: true, sendTransaction: true},
	registry.Ethereum:        {listTokenBalances: true, transfer: true, sendTransaction: true, swap: true},
	registry.EthereumSepolia: {requestFaucet: true, transfer: true, sendTransaction: true},
	registry.EthereumHoodi:   {requestFaucet: true, sendTransaction: true},
	registry.Polygon:         {transfer: true, sendTransaction: true},
	registry.PolygonMumbai:   {requestFaucet: true, transfer: true, sendTransaction: true},
	registry.Arbitrum:        {transfer: true, sendTransaction: true},
	registry.ArbitrumSepolia: {requestFaucet: true, transfer: true, sendTransaction: true},
	registry.Optimism:        {transfer: true, sendTransaction: true},
	registry.OptimismSepolia: {requestFaucet: true, transfer: true, sendTransaction: true},
}

// Methods lists every matrix method in a stable order.
func Methods() []string {
	return []string{
		MethodListTokenBalances,
		MethodRequestFaucet,
		MethodQuoteFund,
		MethodFund,
		MethodWaitForFundOperationReceipt,
		MethodTransfer,
		MethodSendTransaction,
		MethodQuoteSwap,
		MethodSwap,
	}
}

// IsMethodSupported consults the matrix only; unknown networks and methods
// report false.
func IsMethodSupported(method, network string) bool {
	caps, ok := matrix[strings.ToLower(strings.TrimSpace(network))]
	if !ok {
		return false
	}
	switch method {
	case MethodListTokenBalances:
		return caps.listTokenBalances
	case MethodRequestFaucet:
		return caps.requestFaucet
	case MethodQuoteFund, MethodFund, MethodWaitForFundOperationReceipt:
		return caps.fund
	case MethodTransfer:
		return caps.transfer
	case MethodSendTransaction:
		return caps.sendTransaction
	case MethodQuoteSwap, MethodSwap:
		return caps.swap
	default:
		return false
	}
}

func SupportedNetworks(method string) []string {
	var out []string
	for name := range matrix {
		if IsMethodSupported(method, name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Table is the matrix as network -> method -> supported.
func Table() map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(matrix))
	for name := range matrix {
		row := make(map[string]bool, len(Methods()))
		for _, m := range Methods() {
			row[m] = IsMethodSupported(m, name)
		}
		out[name] = row
	}
	return out
}

// AvailableMethods is what a scoped account on network exposes: the matrix
// entries plus the methods every account has. Sorted.
func AvailableMethods(network string) []string {
	var out []string
	for _, m := range append(Methods(), MethodWaitForTransactionReceipt) {
		if alwaysAvailable[m] || IsMethodSupported(m, network) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
