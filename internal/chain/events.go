package chain

import (
	"context"
	"divvi/internal/domain"
	"divvi/internal/hypersync"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EventTopic hashes a canonical event signature into its topic0
func EventTopic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

// Backends cap the number of blocks scanned per log query; stay under it
const blocksPerRequest = 10_000

// Retrieved contract event with its block timestamp already resolved
type Event struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	Timestamp   time.Time
}

// FetchEvents returns all logs emitted by address with topic0 in
// [startTs, endTs], in block order. The window is resolved to a block range
// via the block index, then paged through in bounded chunks. A contract not
// yet deployed in the range simply yields no logs, which is not an error
func (i *Index) FetchEvents(
	ctx context.Context,
	network domain.NetworkID,
	address common.Address,
	topic0 common.Hash,
	startTs, endTs time.Time,
) ([]Event, error) {
	client, err := i.pool.ForNetwork(network)
	if err != nil {
		return nil, err
	}

	startBlock, err := i.NearestBlock(ctx, network, startTs)
	if err != nil {
		return nil, err
	}
	endBlock, err := i.NearestBlock(ctx, network, endTs)
	if err != nil {
		return nil, err
	}

	var events []Event

	current := startBlock
	for current <= endBlock {
		to := min(current+blocksPerRequest, endBlock) + 1 // to_block is exclusive

		q := hypersync.Query{
			FromBlock: current,
			ToBlock:   &to,
			Logs: []hypersync.LogFilter{{
				Address: []string{strings.ToLower(address.Hex())},
				Topics:  [][]string{{topic0.Hex()}},
			}},
			// every topic is selected by name: consumers filter on the
			// indexed arguments, and unselected fields never come back
			FieldSelection: hypersync.FieldSelection{
				Log: []string{
					hypersync.LogFieldBlockNumber,
					hypersync.LogFieldAddress,
					hypersync.LogFieldData,
					hypersync.LogFieldTopic0,
					hypersync.LogFieldTopic1,
					hypersync.LogFieldTopic2,
					hypersync.LogFieldTopic3,
				},
			},
		}

		err = hypersync.Paginate(ctx, client, q, func(resp *hypersync.QueryResponse) (bool, error) {
			for _, l := range resp.Data.Logs {
				ev, convErr := i.toEvent(ctx, network, l)
				if convErr != nil {
					return false, convErr
				}
				events = append(events, ev)
			}
			return false, nil
		})
		if err != nil {
			return nil, fmt.Errorf("fetch events for %s on %s: %w", address.Hex(), network, err)
		}

		current = to
	}

	return events, nil
}

func (i *Index) toEvent(ctx context.Context, network domain.NetworkID, l hypersync.Log) (Event, error) {
	ts, err := i.BlockTimestamp(ctx, network, l.BlockNumber)
	if err != nil {
		return Event{}, err
	}

	topics := make([]common.Hash, 0, len(l.Topics))
	for _, t := range l.Topics {
		topics = append(topics, common.HexToHash(t))
	}

	return Event{
		Address:     common.HexToAddress(l.Address),
		Topics:      topics,
		Data:        common.FromHex(l.Data),
		BlockNumber: l.BlockNumber,
		Timestamp:   ts,
	}, nil
}
