// Package x402 holds the protocol types, network tables, amount arithmetic and
// error catalog shared by the x402 payment gate. The request-time gate itself
// lives in the http package; configuration resolution in config; requirement
// construction in requirements.
package x402

import (
	"fmt"
	"strconv"
	"strings"
)

// EVMNamespace is the CAIP-2 namespace for EVM chains.
const EVMNamespace = "eip155"

// DefaultNetwork is used when a location configures neither a network nor a network id.
const DefaultNetwork = "eip155:8453"

// ChainConfig contains chain-specific configuration for the default USDC token.
// USDC addresses and EIP-3009 parameters were verified on 2025-10-28.
type ChainConfig struct {
	// Name is the friendly network name accepted in configuration (e.g., "base").
	Name string

	// ChainID is the EVM chain id.
	ChainID uint64

	// USDCAddress is the official Circle USDC contract address. Empty when the
	// gate does not default an asset for this chain.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals uint8

	// EIP3009Name is the EIP-712 domain parameter "name".
	EIP3009Name string

	// EIP3009Version is the EIP-712 domain parameter "version".
	EIP3009Version string
}

// CAIP2 returns the chain's namespaced network identifier.
func (c ChainConfig) CAIP2() string {
	return FormatCAIP2(c.ChainID)
}

// Mainnet chain configurations
var (
	BaseMainnet = ChainConfig{
		Name:           "base",
		ChainID:        8453,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	PolygonMainnet = ChainConfig{
		Name:           "polygon",
		ChainID:        137,
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	AvalancheMainnet = ChainConfig{
		Name:           "avalanche",
		ChainID:        43114,
		USDCAddress:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

// Testnet chain configurations
var (
	// BaseSepolia USDC parameters verified 2025-10-30 via on-chain contract read.
	BaseSepolia = ChainConfig{
		Name:           "base-sepolia",
		ChainID:        84532,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	PolygonAmoy = ChainConfig{
		Name:           "polygon-amoy",
		ChainID:        80002,
		USDCAddress:    "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	AvalancheFuji = ChainConfig{
		Name:           "avalanche-fuji",
		ChainID:        43113,
		USDCAddress:    "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

// Chains lists every network the gate knows by friendly name.
var Chains = []ChainConfig{
	BaseMainnet,
	BaseSepolia,
	PolygonMainnet,
	PolygonAmoy,
	AvalancheMainnet,
	AvalancheFuji,
}

// ChainByName looks up a chain by its friendly name.
func ChainByName(name string) (ChainConfig, bool) {
	for _, c := range Chains {
		if c.Name == name {
			return c, true
		}
	}
	return ChainConfig{}, false
}

// ChainByID looks up a chain by its numeric id.
func ChainByID(id uint64) (ChainConfig, bool) {
	for _, c := range Chains {
		if c.ChainID == id {
			return c, true
		}
	}
	return ChainConfig{}, false
}

// ChainByCAIP2 looks up a chain by its namespaced identifier.
func ChainByCAIP2(network string) (ChainConfig, bool) {
	namespace, reference, ok := strings.Cut(network, ":")
	if !ok || namespace != EVMNamespace {
		return ChainConfig{}, false
	}
	id, err := strconv.ParseUint(reference, 10, 64)
	if err != nil {
		return ChainConfig{}, false
	}
	return ChainByID(id)
}

// ChainIDToNetwork maps a numeric chain id to its friendly network name.
func ChainIDToNetwork(id uint64) (string, error) {
	c, ok := ChainByID(id)
	if !ok {
		return "", fmt.Errorf("Unsupported chain ID: %d", id)
	}
	return c.Name, nil
}

// NetworkToChainID maps a friendly network name to its chain id.
func NetworkToChainID(name string) (uint64, error) {
	c, ok := ChainByName(name)
	if !ok {
		return 0, fmt.Errorf("Unsupported network: %s", name)
	}
	return c.ChainID, nil
}

// FormatCAIP2 renders an EVM chain id as a CAIP-2 identifier.
func FormatCAIP2(chainID uint64) string {
	return EVMNamespace + ":" + strconv.FormatUint(chainID, 10)
}

// NormalizeNetwork converts a configured network string to CAIP-2 form.
// Strings already containing ':' pass through verbatim; known friendly names are
// mapped; unknown names pass through unchanged.
func NormalizeNetwork(network string) string {
	if strings.Contains(network, ":") {
		return network
	}
	if c, ok := ChainByName(network); ok {
		return c.CAIP2()
	}
	return network
}

// DefaultAsset returns the USDC address for a CAIP-2 network, if the gate knows one.
func DefaultAsset(network string) (string, bool) {
	c, ok := ChainByCAIP2(network)
	if !ok || c.USDCAddress == "" {
		return "", false
	}
	return c.USDCAddress, true
}

// AssetDomainFor returns the EIP-712 domain of a recognised stablecoin contract.
// The comparison is case-insensitive.
func AssetDomainFor(asset string) (*AssetDomain, bool) {
	if asset == "" {
		return nil, false
	}
	for _, c := range Chains {
		if c.USDCAddress != "" && strings.EqualFold(c.USDCAddress, asset) {
			return &AssetDomain{Name: c.EIP3009Name, Version: c.EIP3009Version}, true
		}
	}
	return nil, false
}
