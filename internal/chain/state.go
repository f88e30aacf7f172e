package chain

import (
	"context"
	"divvi/internal/domain"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"gitlab.com/nevasik7/alerting/logger"
)

const erc20ABIJSON = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"type":"uint256"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]}
]`

const poolABIJSON = `[
	{"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
	{"name":"fee","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]}
]`

const vaultABIJSON = `[
	{"name":"strategy","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]}
]`

const strategyABIJSON = `[
	{"name":"native","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]}
]`

var (
	erc20ABI    = mustParseABI(erc20ABIJSON)
	poolABI     = mustParseABI(poolABIJSON)
	vaultABI    = mustParseABI(vaultABIJSON)
	strategyABI = mustParseABI(strategyABIJSON)
)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Caller abstracts eth_call against one network
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// StateReader is the live contract state surface the revenue adapters need
type StateReader interface {
	ERC20BalanceOf(ctx context.Context, network domain.NetworkID, token, holder common.Address) (*big.Int, error)
	ERC20Decimals(ctx context.Context, network domain.NetworkID, token common.Address) (uint8, error)
	PoolToken0(ctx context.Context, network domain.NetworkID, pool common.Address) (common.Address, error)
	PoolFee(ctx context.Context, network domain.NetworkID, pool common.Address) (*big.Int, error)
	VaultStrategy(ctx context.Context, network domain.NetworkID, vault common.Address) (common.Address, error)
	StrategyNative(ctx context.Context, network domain.NetworkID, strategy common.Address) (common.Address, error)
}

// RPCPool keeps one dialed JSON-RPC client per configured network
type RPCPool struct {
	log     logger.Logger
	clients map[domain.NetworkID]Caller
}

func DialRPCPool(log logger.Logger, urls map[string]string) (*RPCPool, error) {
	clients := make(map[domain.NetworkID]Caller, len(urls))
	for network, url := range urls {
		client, err := ethclient.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("dial rpc for %s: %w", network, err)
		}
		clients[domain.NetworkID(network)] = client
	}
	return &RPCPool{log: log, clients: clients}, nil
}

// NewRPCPool wraps pre-built callers, used by tests and custom wiring
func NewRPCPool(log logger.Logger, clients map[domain.NetworkID]Caller) *RPCPool {
	return &RPCPool{log: log, clients: clients}
}

func (p *RPCPool) Caller(network domain.NetworkID) (Caller, error) {
	c, ok := p.clients[network]
	if !ok {
		return nil, fmt.Errorf("no rpc endpoint configured for network %s", network)
	}
	return c, nil
}

func (p *RPCPool) call(ctx context.Context, network domain.NetworkID, to common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	caller, err := p.Caller(network)
	if err != nil {
		return nil, err
	}

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s at %s: %w", method, network, to.Hex(), err)
	}

	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (p *RPCPool) ERC20BalanceOf(ctx context.Context, network domain.NetworkID, token, holder common.Address) (*big.Int, error) {
	values, err := p.call(ctx, network, token, erc20ABI, "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(values[0], new(big.Int)).(*big.Int), nil
}

func (p *RPCPool) ERC20Decimals(ctx context.Context, network domain.NetworkID, token common.Address) (uint8, error) {
	values, err := p.call(ctx, network, token, erc20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(values[0], new(uint8)).(*uint8), nil
}

func (p *RPCPool) PoolToken0(ctx context.Context, network domain.NetworkID, pool common.Address) (common.Address, error) {
	values, err := p.call(ctx, network, pool, poolABI, "token0")
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(values[0], new(common.Address)).(*common.Address), nil
}

func (p *RPCPool) PoolFee(ctx context.Context, network domain.NetworkID, pool common.Address) (*big.Int, error) {
	values, err := p.call(ctx, network, pool, poolABI, "fee")
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(values[0], new(big.Int)).(*big.Int), nil
}

func (p *RPCPool) VaultStrategy(ctx context.Context, network domain.NetworkID, vault common.Address) (common.Address, error) {
	values, err := p.call(ctx, network, vault, vaultABI, "strategy")
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(values[0], new(common.Address)).(*common.Address), nil
}

// StrategyNative returns the token a vault strategy charges its fees in
func (p *RPCPool) StrategyNative(ctx context.Context, network domain.NetworkID, strategy common.Address) (common.Address, error) {
	values, err := p.call(ctx, network, strategy, strategyABI, "native")
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(values[0], new(common.Address)).(*common.Address), nil
}
