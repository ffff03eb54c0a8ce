package onchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"call-price-tracker/internal/asset"
)

const erc20ABIJSON = `[
	{"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// ErrNoRPC means no RPC endpoint is configured for the asset's network.
var ErrNoRPC = errors.New("onchain: no rpc endpoint configured")

// SupplyOptions parameterise the on-chain supply reader.
type SupplyOptions struct {
	// RPCURLs maps EVM networks to JSON-RPC endpoints. Networks without an
	// entry skip the on-chain fallback.
	RPCURLs map[asset.Network]string
	Timeout time.Duration
}

// SupplyReader resolves ERC-20 total supply directly from the chain when
// market-data providers omit both FDV and supply.
type SupplyReader struct {
	opts   SupplyOptions
	logger zerolog.Logger

	clientMux sync.Mutex
	clients   map[asset.Network]*ethclient.Client
}

// NewSupplyReader builds a supply reader.
func NewSupplyReader(opts SupplyOptions, logger zerolog.Logger) *SupplyReader {
	return &SupplyReader{
		opts:    opts,
		logger:  logger.With().Str("component", "onchain_supply").Logger(),
		clients: make(map[asset.Network]*ethclient.Client),
	}
}

// TotalSupply returns the token's decimal-adjusted total supply.
func (s *SupplyReader) TotalSupply(ctx context.Context, a asset.Asset) (decimal.Decimal, error) {
	if !a.Network.IsEVM() {
		return decimal.Decimal{}, fmt.Errorf("onchain: %s is not an EVM network", a.Network)
	}

	timeout := s.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := s.getClient(ctx, a.Network)
	if err != nil {
		return decimal.Decimal{}, err
	}

	addr := common.HexToAddress(a.Address)

	supply, err := s.callBigInt(ctx, client, addr, "totalSupply")
	if err != nil {
		return decimal.Decimal{}, err
	}

	decimals, err := s.callUint8(ctx, client, addr, "decimals")
	if err != nil {
		return decimal.Decimal{}, err
	}

	return decimal.NewFromBigInt(supply, -int32(decimals)), nil
}

func (s *SupplyReader) callBigInt(ctx context.Context, client *ethclient.Client, addr common.Address, method string) (*big.Int, error) {
	outputs, err := s.call(ctx, client, addr, method)
	if err != nil {
		return nil, err
	}
	value, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("onchain: unexpected %s output type", method)
	}
	return value, nil
}

func (s *SupplyReader) callUint8(ctx context.Context, client *ethclient.Client, addr common.Address, method string) (uint8, error) {
	outputs, err := s.call(ctx, client, addr, method)
	if err != nil {
		return 0, err
	}
	value, ok := outputs[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("onchain: unexpected %s output type", method)
	}
	return value, nil
}

func (s *SupplyReader) call(ctx context.Context, client *ethclient.Client, addr common.Address, method string) ([]interface{}, error) {
	payload, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, err
	}

	outputs, err := erc20ABI.Unpack(method, res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("onchain: unexpected %s response", method)
	}
	return outputs, nil
}

func (s *SupplyReader) getClient(ctx context.Context, network asset.Network) (*ethclient.Client, error) {
	url := s.opts.RPCURLs[network]
	if url == "" {
		return nil, ErrNoRPC
	}

	s.clientMux.Lock()
	defer s.clientMux.Unlock()

	if client, ok := s.clients[network]; ok {
		return client, nil
	}

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	s.clients[network] = client
	return client, nil
}
