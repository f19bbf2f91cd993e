package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dualpay/fiat-wallet-service/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Snapshot is one fetch of the provider's rate table, filtered to the
// supported currency set. It is not persisted; callers use it within a
// single conversion.
type Snapshot struct {
	Base      model.Currency
	Timestamp time.Time
	Rates     map[model.Currency]decimal.Decimal
}

// Client fetches exchange rates from the configured provider.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.SugaredLogger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// provider response shape, exchangerate-api v4 style
type providerResponse struct {
	Base            string             `json:"base"`
	TimeLastUpdated int64              `json:"time_last_updated"`
	Rates           map[string]float64 `json:"rates"`
}

// Fetch returns the latest rate table with base as the reference currency.
// Provider failures are reported to the caller; there is no fallback rate.
func (c *Client) Fetch(ctx context.Context, base model.Currency) (*Snapshot, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rate provider: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate provider: status %d", resp.StatusCode)
	}
	var pr providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("rate provider: decode: %w", err)
	}

	snap := &Snapshot{
		Base:      base,
		Timestamp: time.Unix(pr.TimeLastUpdated, 0),
		Rates:     make(map[model.Currency]decimal.Decimal, len(model.SupportedCurrencies)),
	}
	for _, cur := range model.SupportedCurrencies {
		if v, ok := pr.Rates[cur.String()]; ok {
			snap.Rates[cur] = decimal.NewFromFloat(v)
		}
	}
	c.log.Debugw("fetched rates", "base", base, "count", len(snap.Rates))
	return snap, nil
}

// Rate returns the base→target rate, or a not-found flag when the
// provider response did not include target.
func (s *Snapshot) Rate(target model.Currency) (decimal.Decimal, bool) {
	r, ok := s.Rates[target]
	return r, ok
}
