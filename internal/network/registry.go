// Package network maps chain selector names to chain metadata.
package network

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

var ErrUnknownChain = errors.New("unknown chain name")

// Network identifies an EVM chain by its selector name.
type Network struct {
	Name        string
	ChainID     *big.Int
	Testnet     bool
	ExplorerURL string
}

// TxURL links a transaction hash to the chain's block explorer, or returns "" when
// no explorer is known.
func (n Network) TxURL(txHash string) string {
	if n.ExplorerURL == "" || txHash == "" {
		return ""
	}
	return strings.TrimRight(n.ExplorerURL, "/") + "/tx/" + txHash
}

// Registry is a read-only lookup table of known networks.
type Registry struct {
	byName map[string]Network
}

func NewRegistry(networks ...Network) *Registry {
	r := &Registry{byName: make(map[string]Network, len(networks))}
	for _, n := range networks {
		r.byName[n.Name] = n
	}
	return r
}

// Lookup resolves a selector name. Matching is exact after trimming whitespace.
func (r *Registry) Lookup(name string) (Network, error) {
	n, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		return Network{}, fmt.Errorf("%w: %q", ErrUnknownChain, name)
	}
	return n, nil
}

// Names lists the registered selector names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default holds the chains the sweeper ships with.
var Default = NewRegistry(
	Network{
		Name:        "ethereum-mainnet",
		ChainID:     params.MainnetChainConfig.ChainID,
		ExplorerURL: "https://etherscan.io",
	},
	Network{
		Name:        "ethereum-testnet-sepolia",
		ChainID:     params.SepoliaChainConfig.ChainID,
		Testnet:     true,
		ExplorerURL: "https://sepolia.etherscan.io",
	},
	Network{
		Name:        "ethereum-testnet-holesky",
		ChainID:     params.HoleskyChainConfig.ChainID,
		Testnet:     true,
		ExplorerURL: "https://holesky.etherscan.io",
	},
	Network{
		Name:        "ethereum-testnet-sepolia-base-1",
		ChainID:     big.NewInt(84532),
		Testnet:     true,
		ExplorerURL: "https://sepolia.basescan.org",
	},
	Network{
		Name:        "ethereum-testnet-sepolia-arbitrum-1",
		ChainID:     big.NewInt(421614),
		Testnet:     true,
		ExplorerURL: "https://sepolia.arbiscan.io",
	},
	Network{
		Name:        "ethereum-testnet-sepolia-optimism-1",
		ChainID:     big.NewInt(11155420),
		Testnet:     true,
		ExplorerURL: "https://sepolia-optimism.etherscan.io",
	},
	Network{
		Name:        "polygon-testnet-amoy",
		ChainID:     big.NewInt(80002),
		Testnet:     true,
		ExplorerURL: "https://amoy.polygonscan.com",
	},
)

// Lookup resolves name against the Default registry.
func Lookup(name string) (Network, error) {
	return Default.Lookup(name)
}
