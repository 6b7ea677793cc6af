// Package market enriches an analysis with live DexScreener data. A missing
// or failed lookup is never an error the caller has to act on; the primary
// reply goes out with or without enrichment.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Pair is the cleaned-up view of the best DexScreener pair for a token.
type Pair struct {
	Chain           string  `json:"chain"`
	Dex             string  `json:"dex"`
	URL             string  `json:"url"`
	ContractAddress string  `json:"contract_address"`
	BaseName        string  `json:"base_name"`
	BaseSymbol      string  `json:"base_symbol"`
	PriceUSD        float64 `json:"price_usd"`
	MarketCap       float64 `json:"market_cap"`
	LiquidityUSD    float64 `json:"liquidity_usd"`
	Volume24h       float64 `json:"volume_24h"`
	PriceChange5m   float64 `json:"price_change_5m"`
	PriceChange1h   float64 `json:"price_change_1h"`
	PriceChange6h   float64 `json:"price_change_6h"`
	PriceChange24h  float64 `json:"price_change_24h"`
	Buys24h         int     `json:"buys_24h"`
	Sells24h        int     `json:"sells_24h"`
}

// BuyRatio is the share of 24h transactions that were buys, in percent.
// With no recorded transactions it reports a neutral 50.
func (p *Pair) BuyRatio() float64 {
	total := p.Buys24h + p.Sells24h
	if total == 0 {
		return 50
	}
	return float64(p.Buys24h) / float64(total) * 100
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *Cache
	log        *slog.Logger
}

func NewClient(baseURL string, cache *Cache, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache: cache,
		log:   log,
	}
}

var addressRe = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// Lookup tries the contract address first, then the ticker, then the token
// name, returning the first match. (nil, nil) means nothing was found.
func (c *Client) Lookup(ctx context.Context, contractAddress, ticker, token string) (*Pair, error) {
	for _, query := range []string{contractAddress, ticker, token} {
		if skipQuery(query) {
			continue
		}
		pair, err := c.search(ctx, query)
		if err != nil {
			return nil, err
		}
		if pair != nil {
			return pair, nil
		}
	}
	return nil, nil
}

func skipQuery(q string) bool {
	switch strings.ToLower(strings.TrimSpace(q)) {
	case "", "unknown", "n/a", "null", "none", "???":
		return true
	}
	return false
}

func (c *Client) search(ctx context.Context, query string) (*Pair, error) {
	query = strings.TrimSpace(query)

	if c.cache != nil {
		if pair, ok := c.cache.Get(ctx, query); ok {
			return pair, nil
		}
	}

	var endpoint string
	if len(query) > 30 && addressRe.MatchString(query) {
		endpoint = c.baseURL + "/latest/dex/tokens/" + url.PathEscape(query)
	} else {
		endpoint = c.baseURL + "/latest/dex/search?q=" + url.QueryEscape(query)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get dexscreener: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("dexscreener non-200", "status", resp.StatusCode, "query", query)
		return nil, nil
	}

	var payload struct {
		Pairs []wirePair `json:"pairs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode dexscreener response: %w", err)
	}
	if len(payload.Pairs) == 0 {
		return nil, nil
	}

	// The most liquid pair is the one traders actually use.
	sort.Slice(payload.Pairs, func(i, j int) bool {
		return payload.Pairs[i].Liquidity.USD > payload.Pairs[j].Liquidity.USD
	})
	pair := payload.Pairs[0].clean()

	if c.cache != nil {
		c.cache.Set(ctx, query, pair)
	}
	return pair, nil
}

type wirePair struct {
	ChainID   string `json:"chainId"`
	DexID     string `json:"dexId"`
	URL       string `json:"url"`
	BaseToken struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD  string `json:"priceUsd"`
	MarketCap float64 `json:"marketCap"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		M5  float64 `json:"m5"`
		H1  float64 `json:"h1"`
		H6  float64 `json:"h6"`
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Txns struct {
		H24 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"h24"`
	} `json:"txns"`
}

func (w wirePair) clean() *Pair {
	price, _ := strconv.ParseFloat(w.PriceUSD, 64)
	return &Pair{
		Chain:           w.ChainID,
		Dex:             w.DexID,
		URL:             w.URL,
		ContractAddress: w.BaseToken.Address,
		BaseName:        w.BaseToken.Name,
		BaseSymbol:      w.BaseToken.Symbol,
		PriceUSD:        price,
		MarketCap:       w.MarketCap,
		LiquidityUSD:    w.Liquidity.USD,
		Volume24h:       w.Volume.H24,
		PriceChange5m:   w.PriceChange.M5,
		PriceChange1h:   w.PriceChange.H1,
		PriceChange6h:   w.PriceChange.H6,
		PriceChange24h:  w.PriceChange.H24,
		Buys24h:         w.Txns.H24.Buys,
		Sells24h:        w.Txns.H24.Sells,
	}
}
