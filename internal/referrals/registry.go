package referrals

import (
	"context"
	"divvi/internal/chain"
	"divvi/internal/domain"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"gitlab.com/nevasik7/alerting/logger"
)

const registryABIJSON = `[
	{"name":"getReferrers","type":"function","stateMutability":"view","inputs":[{"name":"protocolId","type":"string"}],"outputs":[{"type":"string[]"}]},
	{"name":"getUsers","type":"function","stateMutability":"view","inputs":[{"name":"protocolId","type":"string"},{"name":"referrerId","type":"string"}],"outputs":[{"type":"address[]"},{"type":"uint256[]"}]}
]`

var registryABI = mustParseABI(registryABIJSON)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

// CallerSource hands out a read-only contract caller per network
type CallerSource interface {
	Caller(network domain.NetworkID) (chain.Caller, error)
}

// ContractRegistry reads referral registrations from the on-chain registry
// deployed on each network
type ContractRegistry struct {
	log       logger.Logger
	pool      CallerSource
	addresses map[domain.NetworkID]common.Address
}

func NewContractRegistry(log logger.Logger, pool CallerSource, addresses map[string]string) (*ContractRegistry, error) {
	parsed := make(map[domain.NetworkID]common.Address, len(addresses))
	for network, raw := range addresses {
		addr, err := domain.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("registry address for %s: %w", network, err)
		}
		parsed[domain.NetworkID(network)] = addr
	}
	return &ContractRegistry{log: log, pool: pool, addresses: parsed}, nil
}

// Networks lists the networks a registry is deployed on, in stable order
func (r *ContractRegistry) Networks() []domain.NetworkID {
	networks := make([]domain.NetworkID, 0, len(r.addresses))
	for network := range r.addresses {
		networks = append(networks, network)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

func (r *ContractRegistry) Referrers(ctx context.Context, network domain.NetworkID, protocol domain.Protocol) ([]string, error) {
	values, err := r.call(ctx, network, "getReferrers", string(protocol))
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(values[0], new([]string)).(*[]string), nil
}

func (r *ContractRegistry) Users(ctx context.Context, network domain.NetworkID, protocol domain.Protocol, referrer string) ([]common.Address, []time.Time, error) {
	values, err := r.call(ctx, network, "getUsers", string(protocol), referrer)
	if err != nil {
		return nil, nil, err
	}

	addresses := *abi.ConvertType(values[0], new([]common.Address)).(*[]common.Address)
	raw := *abi.ConvertType(values[1], new([]*big.Int)).(*[]*big.Int)
	if len(addresses) != len(raw) {
		return nil, nil, fmt.Errorf("registry on %s returned %d users but %d timestamps", network, len(addresses), len(raw))
	}

	timestamps := make([]time.Time, len(raw))
	for i, ts := range raw {
		timestamps[i] = time.Unix(ts.Int64(), 0).UTC()
	}
	return addresses, timestamps, nil
}

func (r *ContractRegistry) call(ctx context.Context, network domain.NetworkID, method string, args ...any) ([]any, error) {
	address, ok := r.addresses[network]
	if !ok {
		return nil, fmt.Errorf("no registry deployed on network %s", network)
	}
	caller, err := r.pool.Caller(network)
	if err != nil {
		return nil, err
	}

	data, err := registryABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s at %s: %w", method, network, address.Hex(), err)
	}

	values, err := registryABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}
