package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// DefaultQuoteURL is the public BSV exchange rate endpoint.
const DefaultQuoteURL = "https://api.whatsonchain.com/v1/bsv/main/exchangerate"

// quoteResponse is the exchange rate document. The rate is quote-currency
// units per whole coin and may arrive as a number or a string.
type quoteResponse struct {
	Currency string      `json:"currency"`
	Rate     json.Number `json:"rate"`
}

// QuoteClient fetches live rates over HTTP. Calls go through a circuit
// breaker and are never retried.
type QuoteClient struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

// NewQuoteClient returns a client for url. A zero timeout means 10s.
func NewQuoteClient(url string, timeout time.Duration, log *zap.Logger) *QuoteClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("rates")

	settings := gobreaker.Settings{
		Name:        "rate-quote",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &QuoteClient{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     log,
	}
}

// Rate returns quote-currency units per satoshi for currency.
func (c *QuoteClient) Rate(ctx context.Context, currency string) (decimal.Decimal, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, currency)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return PerSatoshi(res.(decimal.Decimal)), nil
}

func (c *QuoteClient) fetch(ctx context.Context, currency string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return decimal.Zero, fmt.Errorf("get %s: status %d", c.url, resp.StatusCode)
	}

	var body quoteResponse
	dec := json.NewDecoder(io.LimitReader(resp.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode: %v", ErrInvalidRate, err)
	}

	if body.Currency != "" && !strings.EqualFold(body.Currency, currency) {
		return decimal.Zero, fmt.Errorf("%w: quote is in %s", ErrUnsupportedCurrency, body.Currency)
	}

	rate, err := decimal.NewFromString(body.Rate.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidRate, body.Rate)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidRate, rate)
	}

	c.log.Debug("fetched quote", zap.String("currency", currency), zap.Stringer("per_coin", rate))
	return rate, nil
}
