package domain

import "fmt"

// Chain identifier in the "<chain>-<env>" form used by the indexer and the
// price APIs
type NetworkID string

const (
	NetworkCeloMainnet    NetworkID = "celo-mainnet"
	NetworkEthereum       NetworkID = "ethereum-mainnet"
	NetworkArbitrumOne    NetworkID = "arbitrum-one"
	NetworkOpMainnet      NetworkID = "op-mainnet"
	NetworkPolygonPoS     NetworkID = "polygon-pos-mainnet"
	NetworkBaseMainnet    NetworkID = "base-mainnet"
	NetworkCeloAlfajores  NetworkID = "celo-alfajores"
	NetworkEthereumSepolia NetworkID = "ethereum-sepolia"
	NetworkBaseSepolia    NetworkID = "base-sepolia"
)

// Chain slug used by the block-timestamp index (DefiLlama-style path
// parameter). Networks missing here cannot be resolved to blocks
var networkToChainSlug = map[NetworkID]string{
	NetworkEthereum:    "ethereum",
	NetworkArbitrumOne: "arbitrum",
	NetworkOpMainnet:   "optimism",
	NetworkCeloMainnet: "celo",
	NetworkPolygonPoS:  "polygon",
	NetworkBaseMainnet: "base",
}

func (n NetworkID) ChainSlug() (string, error) {
	slug, ok := networkToChainSlug[n]
	if !ok {
		return "", fmt.Errorf("no chain slug for network %s", n)
	}
	return slug, nil
}

func MainnetNetworks() []NetworkID {
	return []NetworkID{
		NetworkCeloMainnet,
		NetworkEthereum,
		NetworkArbitrumOne,
		NetworkOpMainnet,
		NetworkPolygonPoS,
		NetworkBaseMainnet,
	}
}
