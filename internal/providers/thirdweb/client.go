package thirdweb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/httpx"
	"github.com/ggonzalez94/semi-cli/internal/id"
	"github.com/ggonzalez94/semi-cli/internal/ipfs"
	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/registry"
)

const (
	defaultPageSize = 50
	maxPages        = 20
)

// Client lists owned NFTs through the thirdweb Insight API. Requests target
// the public Insight base; a proxy is reached by giving the http client an
// httpx.Resolver that rewrites that base.
type Client struct {
	http     *httpx.Client
	baseURL  string
	clientID string
	ipfs     *ipfs.Resolver
	pageSize int
}

func New(httpClient *httpx.Client, baseURL, clientID string, gateways *ipfs.Resolver) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = registry.ThirdwebInsightBaseURL
	}
	if gateways == nil {
		gateways = ipfs.NewResolver(nil)
	}
	return &Client{
		http:     httpClient,
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		clientID: strings.TrimSpace(clientID),
		ipfs:     gateways,
		pageSize: defaultPageSize,
	}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "thirdweb",
		Type:          "nft",
		RequiresKey:   true,
		KeyEnvVarName: "SEMI_THIRDWEB_CLIENT_ID",
		Capabilities:  []string{"nfts.owned"},
	}
}

type ownedResponse struct {
	Data []ownedNFT `json:"data"`
}

type ownedNFT struct {
	TokenAddress string `json:"token_address"`
	TokenID      string `json:"token_id"`
	TokenType    string `json:"token_type"`
	Balance      string `json:"balance"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	ImageURL     string `json:"image_url"`
	AnimationURL string `json:"animation_url"`
	Collection   *struct {
		Name string `json:"name"`
	} `json:"collection"`
	Metadata map[string]any `json:"metadata"`
}

// OwnedNFTs pages through every NFT held by owner on chain.
func (c *Client) OwnedNFTs(ctx context.Context, owner string, chain id.Chain) ([]model.NFT, error) {
	if c.clientID == "" {
		return nil, clierr.New(clierr.CodeAuth, "missing thirdweb client id (set SEMI_THIRDWEB_CLIENT_ID or thirdweb.client_id)")
	}
	out := make([]model.NFT, 0)
	for page := 0; page < maxPages; page++ {
		items, err := c.fetchPage(ctx, owner, chain.EVMChainID, page)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			out = append(out, c.toModel(item, chain))
		}
		if len(items) < c.pageSize {
			break
		}
	}
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, owner string, chainID int64, page int) ([]ownedNFT, error) {
	vals := url.Values{}
	vals.Set("chain", strconv.FormatInt(chainID, 10))
	vals.Set("limit", strconv.Itoa(c.pageSize))
	vals.Set("page", strconv.Itoa(page))
	vals.Set("metadata", "true")
	endpoint := fmt.Sprintf("%s/v1/nfts/balance/%s?%s", c.baseURL, url.PathEscape(strings.TrimSpace(owner)), vals.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build thirdweb request", err)
	}
	req.Header.Set("x-client-id", c.clientID)
	var resp ownedResponse
	if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) toModel(item ownedNFT, chain id.Chain) model.NFT {
	name := item.Name
	if name == "" {
		name = metadataString(item.Metadata, "name")
	}
	image := item.ImageURL
	if image == "" {
		image = metadataString(item.Metadata, "image")
	}
	animation := item.AnimationURL
	if animation == "" {
		animation = metadataString(item.Metadata, "animation_url")
	}
	description := item.Description
	if description == "" {
		description = metadataString(item.Metadata, "description")
	}
	nft := model.NFT{
		ChainID:         chain.CAIP2,
		ContractAddress: item.TokenAddress,
		TokenID:         item.TokenID,
		TokenType:       strings.ToUpper(item.TokenType),
		Name:            name,
		Description:     description,
		Balance:         item.Balance,
		ImageURL:        c.ipfs.Resolve(image),
		AnimationURL:    c.ipfs.Resolve(animation),
	}
	if image != "" {
		nft.ImageCandidates = c.ipfs.Candidates(image)
	}
	if item.Collection != nil {
		nft.Collection = item.Collection.Name
	}
	return nft
}

func metadataString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
