// Package price keeps the SOL/USD reference rate used for USD metrics.
package price

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// DefaultURL is a CoinGecko simple-price query for SOL in USD.
const DefaultURL = "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"

// Source fetches the current SOL/USD rate.
type Source interface {
	FetchSolPriceUSD(ctx context.Context) (float64, error)
}

// HTTPSource reads {"solana":{"usd":<rate>}} from a JSON endpoint.
type HTTPSource struct {
	url    string
	client *http.Client
}

// SourceOption configures HTTPSource.
type SourceOption func(*HTTPSource)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) SourceOption {
	return func(s *HTTPSource) {
		s.client = client
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) SourceOption {
	return func(s *HTTPSource) {
		s.client.Timeout = d
	}
}

// NewHTTPSource creates a source for url. An empty url selects DefaultURL.
func NewHTTPSource(url string, opts ...SourceOption) *HTTPSource {
	if url == "" {
		url = DefaultURL
	}
	s := &HTTPSource{url: url, client: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type simplePriceResponse struct {
	Solana struct {
		USD float64 `json:"usd"`
	} `json:"solana"`
}

// FetchSolPriceUSD performs one request. Non-positive or non-finite rates are errors.
func (s *HTTPSource) FetchSolPriceUSD(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "creating price request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "requesting sol price")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, errors.Wrap(err, "reading price response")
	}
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("price endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var out simplePriceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, errors.Wrap(err, "decoding price response")
	}
	usd := out.Solana.USD
	if usd <= 0 || math.IsInf(usd, 0) || math.IsNaN(usd) {
		return 0, errors.Errorf("implausible sol price %v", usd)
	}
	return usd, nil
}
