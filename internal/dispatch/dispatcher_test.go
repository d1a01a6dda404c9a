package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"agile-solo-strategy/internal/strategy"
)

func testPlan() strategy.Plan {
	pool := "pool-a"
	mode := "eco"
	return strategy.Plan{
		BandID: 1,
		Actions: []strategy.DeviceAction{
			{DeviceID: "miner-1", PoolID: &pool, Mode: &mode, Reason: strategy.PlanReasonBandMode},
			{DeviceID: "miner-2", Reason: strategy.PlanReasonOffBand},
		},
	}
}

func TestHTTPDispatcherSuccess(t *testing.T) {
	var received strategy.Plan
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "plans/apply") {
			t.Fatalf("路径应包含 plans/apply, 实际 %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer token" {
			t.Fatalf("missing bearer token: %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"deviceId": "miner-1", "accepted": true},
				{"deviceId": "miner-2", "accepted": false, "error": "plug offline"},
			},
		})
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, "token", "test", time.Second, zerolog.Nop())
	results, err := d.Apply(context.Background(), testPlan())
	if err != nil {
		t.Fatalf("Apply 应成功: %v", err)
	}

	if received.BandID != 1 || len(received.Actions) != 2 {
		t.Fatalf("plan not delivered intact: %+v", received)
	}
	if len(results) != 2 || results[0].Accepted == results[1].Accepted {
		t.Fatalf("per-device verdicts wrong: %+v", results)
	}
	if results[1].Error != "plug offline" {
		t.Fatalf("rejection error lost: %+v", results[1])
	}
}

func TestHTTPDispatcherServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, "", "test", time.Second, zerolog.Nop())
	if _, err := d.Apply(context.Background(), testPlan()); err == nil {
		t.Fatal("HTTP 502 应报错")
	}
}

func TestHTTPDispatcherMissingBaseURL(t *testing.T) {
	d := NewHTTPDispatcher("", "", "", time.Second, zerolog.Nop())
	if _, err := d.Apply(context.Background(), testPlan()); err == nil {
		t.Fatal("missing base url must error")
	}
}

func TestDryRunAcceptsAll(t *testing.T) {
	d := NewDryRun(zerolog.Nop())
	results, err := d.Apply(context.Background(), testPlan())
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if !r.Accepted {
			t.Fatalf("dry run must accept everything: %+v", r)
		}
	}
}
