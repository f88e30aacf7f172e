package transfervolume

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"divvi/pkg/httputil"

	"github.com/ethereum/go-ethereum/common"
	"gitlab.com/nevasik7/alerting/logger"
)

// Asset is an on-ramp asset listed by the payout provider
type Asset struct {
	Network string `json:"network"`
	Asset   string `json:"asset"`
}

type payoutWalletsResponse struct {
	Wallets []string `json:"wallets"`
}

// PayoutClient talks to the payout provider's merchant API. Requests are
// signed with an HMAC-SHA256 of "<timestamp>:<endpoint>" keyed by the
// base64-decoded client secret
type PayoutClient struct {
	log      logger.Logger
	fetcher  *httputil.Client
	baseURL  string
	clientID string
	secret   []byte
	now      func() time.Time
}

func NewPayoutClient(log logger.Logger, fetcher *httputil.Client, baseURL, clientID, clientSecret string) (*PayoutClient, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("payout client id and secret are required")
	}
	secret, err := base64.StdEncoding.DecodeString(clientSecret)
	if err != nil {
		return nil, fmt.Errorf("decode client secret: %w", err)
	}
	return &PayoutClient{
		log:      log,
		fetcher:  fetcher,
		baseURL:  baseURL,
		clientID: clientID,
		secret:   secret,
		now:      time.Now,
	}, nil
}

func (c *PayoutClient) Assets(ctx context.Context) ([]Asset, error) {
	var assets []Asset
	if err := c.getSigned(ctx, "/api/pay-widget-merchant/assets", &assets); err != nil {
		return nil, fmt.Errorf("fetch payout assets: %w", err)
	}
	return assets, nil
}

func (c *PayoutClient) PayoutWallets(ctx context.Context, network, asset string) ([]common.Address, error) {
	endpoint := fmt.Sprintf("/api/util/payout-wallets?network=%s&asset=%s", network, asset)

	var resp payoutWalletsResponse
	if err := c.getSigned(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch payout wallets for %s/%s: %w", network, asset, err)
	}

	wallets := make([]common.Address, 0, len(resp.Wallets))
	for _, w := range resp.Wallets {
		if !common.IsHexAddress(w) {
			return nil, fmt.Errorf("invalid payout wallet address %q", w)
		}
		wallets = append(wallets, common.HexToAddress(w))
	}
	return wallets, nil
}

func (c *PayoutClient) getSigned(ctx context.Context, endpoint string, out any) error {
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)

	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(timestamp + ":" + endpoint))

	headers := map[string]string{
		"x-client-id": c.clientID,
		"x-timestamp": timestamp,
		"x-signature": base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}

	err := c.fetcher.GetJSONWithHeaders(ctx, c.baseURL+endpoint, nil, headers, out)

	// unknown asset or network, nothing to pay out
	var upstream *httputil.UpstreamError
	if errors.As(err, &upstream) && upstream.IsNotFound() {
		return nil
	}
	return err
}
