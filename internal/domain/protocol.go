package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidWindow   = errors.New("window start is after window end")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrUnknownProtocol = errors.New("unknown protocol")
)

// Supported protocol. The set is closed: the revenue dispatcher and the
// referral filters switch over it exhaustively
type Protocol string

const (
	ProtocolBeefy     Protocol = "beefy"
	ProtocolSomm      Protocol = "somm"
	ProtocolAerodrome Protocol = "aerodrome"
	ProtocolVelodrome Protocol = "velodrome"
	ProtocolFonbnk    Protocol = "fonbnk"
	ProtocolCelo      Protocol = "celo"
	ProtocolArbitrum  Protocol = "arbitrum"
)

func Protocols() []Protocol {
	return []Protocol{
		ProtocolBeefy,
		ProtocolSomm,
		ProtocolAerodrome,
		ProtocolVelodrome,
		ProtocolFonbnk,
		ProtocolCelo,
		ProtocolArbitrum,
	}
}

func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Protocols() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
}

// ParseAddress validates a 0x-prefixed 20-byte hex address
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}
