package registry

import (
	"fmt"
	"sort"
	"strings"
)

// Network names understood by the Platform.
const (
	Base            = "base"
	BaseSepolia     = "base-sepolia"
	Ethereum        = "ethereum"
	EthereumSepolia = "ethereum-sepolia"
	EthereumHoodi   = "ethereum-hoodi"
	Polygon         = "polygon"
	PolygonMumbai   = "polygon-mumbai"
	Arbitrum        = "arbitrum"
	ArbitrumSepolia = "arbitrum-sepolia"
	Optimism        = "optimism"
	OptimismSepolia = "optimism-sepolia"

	// Custom names a chain reached through a caller RPC that has no Platform name.
	Custom = "custom"
)

var chainIDByNetwork = map[string]int64{
	Base:            8453,
	BaseSepolia:     84532,
	Ethereum:        1,
	EthereumSepolia: 11155111,
	EthereumHoodi:   560048,
	Polygon:         137,
	PolygonMumbai:   80001,
	Arbitrum:        42161,
	ArbitrumSepolia: 421614,
	Optimism:        10,
	OptimismSepolia: 11155420,
}

// Default public RPC endpoints, used for receipt polling and when no
// custom RPC URL is supplied.
var defaultRPCByNetwork = map[string]string{
	Base:            "https://mainnet.base.org",
	BaseSepolia:     "https://sepolia.base.org",
	Ethereum:        "https://eth.llamarpc.com",
	EthereumSepolia: "https://rpc.sepolia.org",
	EthereumHoodi:   "https://ethereum-hoodi-rpc.publicnode.com",
	Polygon:         "https://polygon-rpc.com",
	PolygonMumbai:   "https://rpc-mumbai.maticvigil.com",
	Arbitrum:        "https://arb1.arbitrum.io/rpc",
	ArbitrumSepolia: "https://sepolia-rollup.arbitrum.io/rpc",
	Optimism:        "https://mainnet.optimism.io",
	OptimismSepolia: "https://sepolia.optimism.io",
}

// platformSendNetworks always send through the Platform's managed nodes.
var platformSendNetworks = map[string]bool{
	Base:            true,
	BaseSepolia:     true,
	Ethereum:        true,
	EthereumSepolia: true,
}

// poaMarkers identify proof-of-authority chains by name.
var poaMarkers = []string{"polygon", "mumbai", "binance", "bsc"}

func ChainID(network string) (int64, bool) {
	id, ok := chainIDByNetwork[normalize(network)]
	return id, ok
}

// NetworkName maps a chain ID back to its Platform network name, or Custom.
func NetworkName(chainID int64) string {
	for name, id := range chainIDByNetwork {
		if id == chainID {
			return name
		}
	}
	return Custom
}

func IsKnownNetwork(network string) bool {
	_, ok := chainIDByNetwork[normalize(network)]
	return ok
}

func Networks() []string {
	out := make([]string, 0, len(chainIDByNetwork))
	for name := range chainIDByNetwork {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func DefaultRPCURL(network string) (string, bool) {
	value, ok := defaultRPCByNetwork[normalize(network)]
	return value, ok
}

func ResolveRPCURL(override, network string) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := DefaultRPCURL(network); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for network %q; supply an rpc url", network)
}

// UsesPlatformForSends reports whether sends on network bypass any custom RPC.
func UsesPlatformForSends(network string) bool {
	return platformSendNetworks[normalize(network)]
}

func IsPoANetwork(network string) bool {
	n := normalize(network)
	for _, marker := range poaMarkers {
		if strings.Contains(n, marker) {
			return true
		}
	}
	return false
}

func normalize(network string) string {
	return strings.ToLower(strings.TrimSpace(network))
}
