package asset

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// Network identifies the chain an asset lives on.
type Network string

// Supported networks. The set mirrors what the upstream providers index.
const (
	NetworkEthereum Network = "ethereum"
	NetworkSolana   Network = "solana"
	NetworkBSC      Network = "bsc"
	NetworkBase     Network = "base"
	NetworkPolygon  Network = "polygon"
	NetworkArbitrum Network = "arbitrum"
)

var networks = map[Network]bool{
	NetworkEthereum: true,
	NetworkSolana:   true,
	NetworkBSC:      true,
	NetworkBase:     true,
	NetworkPolygon:  true,
	NetworkArbitrum: true,
}

// ParseNetwork normalises and validates a network identifier.
func ParseNetwork(raw string) (Network, error) {
	n := Network(strings.ToLower(strings.TrimSpace(raw)))
	if !networks[n] {
		return "", fmt.Errorf("unknown network %q", raw)
	}
	return n, nil
}

// IsEVM reports whether the network uses hex contract addresses.
func (n Network) IsEVM() bool {
	return n != NetworkSolana
}

// Asset is the immutable identity of a tracked token.
type Asset struct {
	Network Network
	Address string
}

// New validates and constructs an asset identity.
func New(network, address string) (Asset, error) {
	n, err := ParseNetwork(network)
	if err != nil {
		return Asset{}, err
	}

	addr := strings.TrimSpace(address)
	if n.IsEVM() {
		if !common.IsHexAddress(addr) {
			return Asset{}, fmt.Errorf("invalid %s contract address %q", n, address)
		}
		addr = strings.ToLower(addr)
	} else {
		decoded, decErr := base58.Decode(addr)
		if decErr != nil || len(decoded) != 32 {
			return Asset{}, fmt.Errorf("invalid solana mint address %q", address)
		}
	}

	return Asset{Network: n, Address: addr}, nil
}

// ID returns the canonical "network:address" key used for caching and storage.
func (a Asset) ID() string {
	return string(a.Network) + ":" + a.Address
}

func (a Asset) String() string {
	return a.ID()
}

// Call pairs an asset with the moment it was recorded.
type Call struct {
	Asset       Asset
	CalledAt    time.Time
	FirstSeenAt time.Time
}
