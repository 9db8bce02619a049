// Package oracle resolves token prices and metadata through an HTTP price
// service, behind time-bounded in-memory caches. Misses and upstream errors
// surface as "unknown", never as fatal errors: callers decide how to degrade.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"near-buybot/shared/logger"
)

const (
	DefaultBaseURL = "https://prices.intear.tech"

	priceCacheTTL    = 5 * time.Minute
	metadataCacheTTL = time.Hour
	requestTimeout   = 10 * time.Second
)

// Metadata is the subset of FT metadata the display components need.
type Metadata struct {
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Decimals    int32           `json:"decimals"`
	TotalSupply decimal.Decimal `json:"total_supply"`
}

type priceEntry struct {
	price     float64
	fetchedAt time.Time
}

type metaEntry struct {
	meta      Metadata
	fetchedAt time.Time
}

type Oracle struct {
	baseURL string
	client  *http.Client
	log     *logger.Logger

	mu     sync.RWMutex
	prices map[string]priceEntry
	metas  map[string]metaEntry
}

func New(baseURL string, log *logger.Logger) *Oracle {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Oracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
		log:     log,
		prices:  make(map[string]priceEntry),
		metas:   make(map[string]metaEntry),
	}
}

// GetPrice returns the USD price of one whole token, or false when the price
// is unknown. A fetch failure is an expected condition, logged at debug.
func (o *Oracle) GetPrice(ctx context.Context, tokenID string) (float64, bool) {
	o.mu.RLock()
	entry, ok := o.prices[tokenID]
	o.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < priceCacheTTL {
		return entry.price, true
	}

	var price float64
	err := o.fetchJSON(ctx, fmt.Sprintf("%s/price?token_id=%s", o.baseURL, tokenID), &price)
	if err != nil {
		o.log.Debug("Price lookup failed", "tokenID", tokenID, "error", err)
		// Serve a stale cached price over no price at all.
		if ok {
			return entry.price, true
		}
		return 0, false
	}

	o.mu.Lock()
	o.prices[tokenID] = priceEntry{price: price, fetchedAt: time.Now()}
	o.mu.Unlock()
	return price, true
}

// GetMetadata returns the token's FT metadata, cached for an hour.
func (o *Oracle) GetMetadata(ctx context.Context, tokenID string) (Metadata, error) {
	o.mu.RLock()
	entry, ok := o.metas[tokenID]
	o.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < metadataCacheTTL {
		return entry.meta, nil
	}

	var meta Metadata
	err := o.fetchJSON(ctx, fmt.Sprintf("%s/token?token_id=%s", o.baseURL, tokenID), &meta)
	if err != nil {
		if ok {
			return entry.meta, nil
		}
		return Metadata{}, fmt.Errorf("metadata lookup for %s: %w", tokenID, err)
	}

	o.mu.Lock()
	o.metas[tokenID] = metaEntry{meta: meta, fetchedAt: time.Now()}
	o.mu.Unlock()
	return meta, nil
}

// SetCached seeds the caches directly, bypassing HTTP. Used by tests and by
// embedders that already hold fresh price data.
func (o *Oracle) SetCached(tokenID string, price float64, meta *Metadata) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[tokenID] = priceEntry{price: price, fetchedAt: time.Now()}
	if meta != nil {
		o.metas[tokenID] = metaEntry{meta: *meta, fetchedAt: time.Now()}
	}
}

func (o *Oracle) fetchJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
