package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"lock-points-system/internal/config"
	"lock-points-system/internal/metrics"
	"lock-points-system/pkg/logger"
)

const userAgent = "lock-points-system/1.0"

// CoinGecko resolves token contracts to USD spot prices. Lookups are
// best-effort: every failure is reported as "no price".
type CoinGecko struct {
	baseURL        string
	platform       string
	apiKey         string
	symbolFallback bool
	httpClient     *http.Client
	limiter        *rate.Limiter
	cache          *PriceCache
}

func NewCoinGecko(cfg *config.PriceConfig) *CoinGecko {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}

	return &CoinGecko{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		platform:       cfg.Platform,
		apiKey:         cfg.APIKey,
		symbolFallback: cfg.SymbolFallback,
		httpClient:     &http.Client{Timeout: timeout},
		limiter:        rate.NewLimiter(limit, 1),
		cache:          NewPriceCache(time.Duration(cfg.CacheTTL) * time.Second),
	}
}

// GetUSDPrice returns the USD unit price of token. symbol is only used
// when the contract address is unlisted and symbol fallback is enabled.
func (c *CoinGecko) GetUSDPrice(ctx context.Context, token common.Address, symbol string) (float64, bool) {
	key := strings.ToLower(token.Hex())
	if price, ok, hit := c.cache.Get(key); hit {
		metrics.Get().ObservePriceLookup("cache")
		return price, ok
	}

	price, ok := c.lookupByAddress(ctx, key)
	if !ok && c.symbolFallback && symbol != "" {
		price, ok = c.lookupBySymbol(ctx, strings.ToLower(symbol))
	}

	if ok {
		metrics.Get().ObservePriceLookup("hit")
	} else {
		metrics.Get().ObservePriceLookup("miss")
	}

	if ctx.Err() == nil {
		c.cache.Set(key, price, ok)
	}
	return price, ok
}

func (c *CoinGecko) lookupByAddress(ctx context.Context, address string) (float64, bool) {
	q := url.Values{}
	q.Set("contract_addresses", address)
	q.Set("vs_currencies", "usd")
	endpoint := fmt.Sprintf("%s/simple/token_price/%s?%s", c.baseURL, c.platform, q.Encode())

	return c.fetch(ctx, endpoint, address)
}

func (c *CoinGecko) lookupBySymbol(ctx context.Context, id string) (float64, bool) {
	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	endpoint := fmt.Sprintf("%s/simple/price?%s", c.baseURL, q.Encode())

	return c.fetch(ctx, endpoint, id)
}

func (c *CoinGecko) fetch(ctx context.Context, endpoint, key string) (float64, bool) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.WithFields(map[string]interface{}{"key": key}).Warn("price lookup failed: ", err)
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.WithFields(map[string]interface{}{
			"key":    key,
			"status": resp.Status,
		}).Warn("price lookup returned non-2xx")
		return 0, false
	}

	var result map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		logger.WithFields(map[string]interface{}{"key": key}).Warn("decode price response: ", err)
		return 0, false
	}

	data, ok := result[key]
	if !ok || data.USD <= 0 {
		return 0, false
	}
	return data.USD, true
}
