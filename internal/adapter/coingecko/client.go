// Package coingecko fetches daily closes and market caps from the
// CoinGecko API to feed the price store.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/quantfolio/indexd/internal/domain"
)

const (
	defaultBaseURL = "https://api.coingecko.com/api/v3"
	requestTimeout = 30 * time.Second
	maxRetries     = 5
	retryWait      = 5 * time.Second
	rateLimitWait  = 60 * time.Second
)

// Client is a rate-limited CoinGecko API client
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	logger     *logrus.Logger

	// injectable for tests
	retryDelay     time.Duration
	rateLimitDelay time.Duration
}

// NewClient creates a new client. requestsPerMinute should stay within
// the API plan's allowance; the free tier sustains about 10.
func NewClient(baseURL, apiKey string, requestsPerMinute int, logger *logrus.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 10
	}
	return &Client{
		httpClient:     &http.Client{Timeout: requestTimeout},
		limiter:        rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		logger:         logger,
		retryDelay:     retryWait,
		rateLimitDelay: rateLimitWait,
	}
}

type marketChartResponse struct {
	Prices [][2]float64 `json:"prices"`
}

// DailyPrices fetches the daily close series of a coin over a date range.
// CoinGecko returns multiple samples per day on short ranges; the last
// sample of each UTC day wins.
func (c *Client) DailyPrices(ctx context.Context, coinID string, from, to time.Time) ([]domain.PricePoint, error) {
	endpoint := fmt.Sprintf("%s/coins/%s/market_chart/range?vs_currency=usd&from=%d&to=%d",
		c.baseURL, url.PathEscape(coinID), domain.Day(from).Unix(), domain.Day(to).AddDate(0, 0, 1).Unix())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetching prices for %s: %w", coinID, err)
	}

	var chart marketChartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("decoding prices for %s: %w", coinID, err)
	}

	byDay := make(map[time.Time]decimal.Decimal)
	var order []time.Time
	for _, sample := range chart.Prices {
		day := domain.Day(time.UnixMilli(int64(sample[0])).UTC())
		if _, seen := byDay[day]; !seen {
			order = append(order, day)
		}
		byDay[day] = decimal.NewFromFloat(sample[1])
	}

	points := make([]domain.PricePoint, 0, len(order))
	for _, day := range order {
		points = append(points, domain.PricePoint{Date: day, Price: byDay[day]})
	}
	return points, nil
}

type coinHistoryResponse struct {
	MarketData struct {
		MarketCap map[string]float64 `json:"market_cap"`
	} `json:"market_data"`
}

// CapsAt fetches the USD market capitalization of each coin on a date.
// Coins the API has no snapshot for are omitted from the result, which
// excludes them from market-cap weighting downstream.
func (c *Client) CapsAt(ctx context.Context, coinIDs []string, date time.Time) (map[string]decimal.Decimal, error) {
	caps := make(map[string]decimal.Decimal, len(coinIDs))
	for _, coinID := range coinIDs {
		endpoint := fmt.Sprintf("%s/coins/%s/history?date=%s&localization=false",
			c.baseURL, url.PathEscape(coinID), domain.Day(date).Format("02-01-2006"))

		body, err := c.get(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("fetching market cap for %s: %w", coinID, err)
		}

		var hist coinHistoryResponse
		if err := json.Unmarshal(body, &hist); err != nil {
			return nil, fmt.Errorf("decoding market cap for %s: %w", coinID, err)
		}

		usd, ok := hist.MarketData.MarketCap["usd"]
		if !ok || usd <= 0 {
			c.logger.WithFields(logrus.Fields{"coin_id": coinID, "date": domain.Day(date)}).
				Warn("no market cap snapshot")
			continue
		}
		caps[coinID] = decimal.NewFromFloat(usd)
	}
	return caps, nil
}

// get performs one rate-limited request with bounded retries. 429s wait
// out the API's cool-down before counting another attempt.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{"attempt": attempt, "url": endpoint}).Warn("retrying request")
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		if c.apiKey != "" {
			req.Header.Set("x-cg-demo-api-key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if !sleep(ctx, c.retryDelay) {
				return nil, ctx.Err()
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited")
			if !sleep(ctx, c.rateLimitDelay) {
				return nil, ctx.Err()
			}
		default:
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			if !sleep(ctx, c.retryDelay) {
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", maxRetries, lastErr)
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
