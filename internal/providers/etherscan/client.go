package etherscan

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/history"
	"github.com/ggonzalez94/semi-cli/internal/httpx"
	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/registry"
)

// Client reads account transfer feeds from an Etherscan v2 compatible API.
type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	now     func() time.Time
}

// New builds a client. requestsPerSecond <= 0 disables rate limiting.
func New(httpClient *httpx.Client, baseURL, apiKey string, requestsPerSecond float64) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = registry.EtherscanBaseURL
	}
	c := &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, now: time.Now}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "etherscan",
		Type:          "explorer",
		RequiresKey:   true,
		KeyEnvVarName: "SEMI_ETHERSCAN_API_KEY",
		Capabilities:  []string{"history.native", "history.token"},
	}
}

func (c *Client) NativeTransfers(ctx context.Context, address string, chainID int64) ([]history.RawTransferRecord, error) {
	body, err := c.fetch(ctx, history.FeedNative, address, chainID)
	if err != nil {
		return nil, err
	}
	return history.DecodeFeed(model.AssetNative, body), nil
}

func (c *Client) TokenTransfers(ctx context.Context, address string, chainID int64) ([]history.RawTransferRecord, error) {
	body, err := c.fetch(ctx, history.FeedToken, address, chainID)
	if err != nil {
		return nil, err
	}
	return history.DecodeFeed(model.AssetERC20, body), nil
}

// fetch performs a single attempt; the caller treats failure as an empty feed.
func (c *Client) fetch(ctx context.Context, action, address string, chainID int64) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "explorer rate limiter", err)
		}
	}
	vals := url.Values{}
	vals.Set("chainid", strconv.FormatInt(chainID, 10))
	vals.Set("module", "account")
	vals.Set("action", action)
	vals.Set("address", strings.TrimSpace(address))
	vals.Set("startblock", "0")
	vals.Set("endblock", "99999999")
	vals.Set("sort", "desc")
	if c.apiKey != "" {
		vals.Set("apikey", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+vals.Encode(), nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build explorer request", err)
	}
	body, _, err := c.http.WithRetries(0).DoRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	return body, nil
}
