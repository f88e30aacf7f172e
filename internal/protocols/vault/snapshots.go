package vault

import (
	"context"
	"divvi/internal/domain"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const snapshotPeriod = 24 * time.Hour

// ErrMissingSnapshots marks a daily series with holes, or one that does not
// cover the requested window. Averaging over such a series would silently
// misweight, so it is a hard error
var ErrMissingSnapshots = errors.New("missing daily snapshots")

// DailySnapshots fetches the vault's one-per-day price/share series covering
// w and validates it is contiguous. The fetch starts one period early so the
// snapshot in effect at w.Start is included
func (a *Adapter) DailySnapshots(ctx context.Context, network domain.NetworkID, vaultAddr common.Address, w domain.Window) ([]domain.DailySnapshot, error) {
	slug, err := network.ChainSlug()
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/dailyData/%s/%s/%d/%d",
		a.registryURL, slug, vaultAddr.Hex(),
		w.Start.Add(-snapshotPeriod).Unix(), w.End.Unix(),
	)

	var snapshots []domain.DailySnapshot
	if err := a.fetcher.GetJSON(ctx, url, nil, &snapshots); err != nil {
		return nil, fmt.Errorf("fetch daily snapshots for %s on %s: %w", vaultAddr.Hex(), network, err)
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("%w: empty series for %s", ErrMissingSnapshots, vaultAddr.Hex())
	}

	slices.SortFunc(snapshots, func(x, y domain.DailySnapshot) int {
		return x.Timestamp.Compare(y.Timestamp)
	})

	first := snapshots[0].Timestamp
	last := snapshots[len(snapshots)-1].Timestamp

	if w.Start.Before(first) {
		return nil, fmt.Errorf("%w: window starts before the first snapshot", ErrMissingSnapshots)
	}
	if w.End.After(last.Add(snapshotPeriod)) {
		return nil, fmt.Errorf("%w: window ends after the last snapshot's validity", ErrMissingSnapshots)
	}

	expected := int(last.Sub(first)/snapshotPeriod) + 1
	if len(snapshots) != expected {
		return nil, fmt.Errorf("%w: got %d snapshots, expected %d", ErrMissingSnapshots, len(snapshots), expected)
	}

	return snapshots, nil
}
