package tinkoff

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"tinkoff-trading-bot-go/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL    = "https://invest-public-api.tinkoff.ru/rest"
	defaultHistoryURL = "https://invest-public-api.tinkoff.ru/history-data"

	instrumentsService = "/tinkoff.public.invest.api.contract.v1.InstrumentsService/"

	// The base instrument status excludes instruments that are not
	// available for trading through the API.
	instrumentStatusBase = "INSTRUMENT_STATUS_BASE"
)

// instrumentMethods maps asset type names to InstrumentsService methods.
var instrumentMethods = map[string]string{
	"bond":     "Bonds",
	"currency": "Currencies",
	"etf":      "Etfs",
	"future":   "Futures",
	"option":   "Options",
	"share":    "Shares",
}

// ClientInterface defines the interface for the Tinkoff Invest API client.
type ClientInterface interface {
	Instruments(ctx context.Context, assetType string) ([]Instrument, error)
	HistoryYear(ctx context.Context, instrumentUID string, year int) ([]HistoricCandle, error)
}

// Client is a client for the Tinkoff Invest REST API and its history
// archive endpoint. It implements the ClientInterface.
type Client struct {
	rest           *resty.Client
	history        *resty.Client
	logger         *zap.Logger
	limiter        *rate.Limiter
	historyLimiter *rate.Limiter
	retryBaseDelay time.Duration
}

// ensure Client implements the interface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new Tinkoff Invest API client.
func NewClient(cfg *config.Tinkoff, logger *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	historyURL := cfg.HistoryURL
	if historyURL == "" {
		historyURL = defaultHistoryURL
	}

	rest := resty.New().SetBaseURL(baseURL).SetAuthToken(cfg.Token)
	history := resty.New().SetBaseURL(historyURL).SetAuthToken(cfg.Token)

	// The history archive endpoint has its own, much stricter quota than
	// the regular REST services, so it gets a separate limiter.
	return &Client{
		rest:           rest,
		history:        history,
		logger:         logger,
		limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		historyLimiter: rate.NewLimiter(rate.Limit(cfg.HistoryRateLimit), 1),
		retryBaseDelay: time.Second,
	}
}

// Instrument is the instrument metadata shared by every asset type.
type Instrument struct {
	UID                 string    `json:"uid"`
	FIGI                string    `json:"figi"`
	Name                string    `json:"name"`
	Lot                 int32     `json:"lot"`
	First1MinCandleDate time.Time `json:"first1MinCandleDate"`
	First1DayCandleDate time.Time `json:"first1DayCandleDate"`
	ForQualInvestorFlag bool      `json:"forQualInvestorFlag"`
}

// instrumentsResponse is the common response shape of the
// InstrumentsService getters.
type instrumentsResponse struct {
	Instruments []Instrument `json:"instruments"`
}

// Instruments fetches the instrument list for one asset type
// (bond, currency, etf, future, option or share).
func (c *Client) Instruments(ctx context.Context, assetType string) ([]Instrument, error) {
	method, ok := instrumentMethods[assetType]
	if !ok {
		return nil, fmt.Errorf("unknown asset type %q", assetType)
	}

	req := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"instrumentStatus": instrumentStatusBase}).
		SetResult(&instrumentsResponse{})

	resp, err := c.doRequest(ctx, c.limiter, "POST", instrumentsService+method, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s instruments: %w", assetType, err)
	}

	result := resp.Result().(*instrumentsResponse)
	c.logger.Debug("Received instruments",
		zap.String("asset_type", assetType),
		zap.Int("count", len(result.Instruments)))
	return result.Instruments, nil
}

// doRequest handles the actual request execution with rate limiting and retry
// logic. On a non-retryable HTTP error the response is returned alongside the
// error so callers can inspect the status code.
func (c *Client) doRequest(ctx context.Context, limiter *rate.Limiter, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.RawResponse != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfter = rateLimitReset(resp)
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return resp, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// Retryable HTTP failures come back with a nil transport error;
		// keep the status so the error after the last attempt names it.
		if err == nil {
			err = fmt.Errorf("status %s", resp.Status())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.retryBaseDelay
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// rateLimitReset extracts the wait time the API asks for when it throttles
// a request. The history endpoint uses x-ratelimit-reset, the REST services
// use Retry-After.
func rateLimitReset(resp *resty.Response) time.Duration {
	for _, header := range []string{"Retry-After", "x-ratelimit-reset"} {
		if seconds, err := strconv.Atoi(resp.Header().Get(header)); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}
