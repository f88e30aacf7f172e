package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TokenID = "<network_id>:<token_address>" (address lowercased)
type TokenID string

func MakeTokenID(network NetworkID, address common.Address) TokenID {
	return TokenID(fmt.Sprintf("%s:%s", network, strings.ToLower(address.Hex())))
}

type ParsedTokenID struct {
	NetworkID NetworkID
	Address   common.Address
}

func ParseTokenID(id TokenID) (ParsedTokenID, error) {
	var out ParsedTokenID

	idx := strings.LastIndex(string(id), ":")
	if idx < 0 {
		return out, fmt.Errorf("invalid token_id format: %s", id)
	}

	addr := string(id)[idx+1:]
	if !common.IsHexAddress(addr) {
		return out, fmt.Errorf("invalid token address in token_id: %s", id)
	}

	out.NetworkID = NetworkID(string(id)[:idx])
	out.Address = common.HexToAddress(addr)

	return out, nil
}
