package pricefeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"agile-solo-strategy/internal/strategy"
)

const currentPricePath = "/v1/prices/current"

// Options parameterise the HTTP price feed.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Feed fetches the current electricity price from the price service.
type Feed struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewFeed constructs an HTTP price feed.
func NewFeed(opts Options, logger zerolog.Logger) *Feed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Feed{
		opts:    opts,
		logger:  logger.With().Str("component", "price_feed").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// CurrentPrice retrieves the latest electricity price sample.
func (f *Feed) CurrentPrice(ctx context.Context) (strategy.PricePoint, error) {
	if f.baseURL == "" {
		return strategy.PricePoint{}, errors.New("price feed base url not configured")
	}

	endpoint := f.baseURL + currentPricePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return strategy.PricePoint{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "agilesolo/1.0")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return strategy.PricePoint{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return strategy.PricePoint{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return strategy.PricePoint{}, parseHTTPError(resp.StatusCode, payload)
	}

	var body priceResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return strategy.PricePoint{}, err
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return strategy.PricePoint{}, fmt.Errorf("parse price: %w", err)
	}

	ts := time.Now().UTC()
	if body.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, body.Timestamp); err == nil {
			ts = parsed
		}
	}

	return strategy.PricePoint{Price: price, Unit: body.Unit, Timestamp: ts}, nil
}

type priceResponse struct {
	Price     string `json:"price"`
	Unit      string `json:"unit"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("price feed error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("price feed error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("price feed error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("price feed error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("price feed error (%d)", status)
}

var _ strategy.PriceSource = (*Feed)(nil)
