package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"agile-solo-strategy/internal/strategy"
)

const applyPlanPath = "/v1/plans/apply"

// HTTPDispatcher hands action plans to the fleet executor over HTTP.
// The executor owns retries and idempotence; re-posting an identical
// plan is a no-op on its side.
type HTTPDispatcher struct {
	baseURL   string
	apiToken  string
	userAgent string
	client    *http.Client
	logger    zerolog.Logger
}

// NewHTTPDispatcher 构造 HTTP 执行器客户端。
func NewHTTPDispatcher(baseURL, apiToken, userAgent string, timeout time.Duration, logger zerolog.Logger) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPDispatcher{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiToken:  apiToken,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Apply posts the plan and decodes the per-device verdicts.
func (d *HTTPDispatcher) Apply(ctx context.Context, plan strategy.Plan) ([]strategy.DeviceResult, error) {
	if d.baseURL == "" {
		return nil, fmt.Errorf("dispatcher base url not configured")
	}

	body, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}

	url := d.baseURL + applyPlanPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(d.userAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if d.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send dispatch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("执行器响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		Results []strategy.DeviceResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode dispatch response: %w", err)
	}

	accepted := 0
	for _, r := range result.Results {
		if r.Accepted {
			accepted++
		}
	}
	d.logger.Info().
		Int64("band", plan.BandID).
		Int("devices", len(plan.Actions)).
		Int("accepted", accepted).
		Msg("action plan delivered")

	return result.Results, nil
}

var _ strategy.Dispatcher = (*HTTPDispatcher)(nil)

// DryRun accepts every action without contacting an executor. Used by
// simulate and replay.
type DryRun struct {
	logger zerolog.Logger
}

// NewDryRun constructs a dispatcher that only logs.
func NewDryRun(logger zerolog.Logger) *DryRun {
	return &DryRun{logger: logger.With().Str("component", "dispatcher_dryrun").Logger()}
}

// Apply logs each action and accepts it.
func (d *DryRun) Apply(_ context.Context, plan strategy.Plan) ([]strategy.DeviceResult, error) {
	results := make([]strategy.DeviceResult, 0, len(plan.Actions))
	for _, action := range plan.Actions {
		pool := "off"
		if action.PoolID != nil {
			pool = *action.PoolID
		}
		mode := "-"
		if action.Mode != nil {
			mode = *action.Mode
		}
		d.logger.Info().
			Str("device", action.DeviceID).
			Str("pool", pool).
			Str("mode", mode).
			Str("reason", action.Reason).
			Msg("dry-run action")
		results = append(results, strategy.DeviceResult{DeviceID: action.DeviceID, Accepted: true})
	}
	return results, nil
}

var _ strategy.Dispatcher = (*DryRun)(nil)
