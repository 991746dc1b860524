package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordercrud/internal/service/orders"
	"github.com/vladislavdragonenkov/ordercrud/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordercrud/internal/transport/httpapi"
)

func newOrderServer(t *testing.T) *httptest.Server {
	t.Helper()

	svc := orders.NewService(memory.NewOrderRepository(), orders.WithTimeline(memory.NewTimelineRepository()))
	server := httptest.NewServer(httpapi.NewRouter(httpapi.NewHandler(svc, nil),
		httpapi.WithIdempotency(memory.NewIdempotencyRepository()),
	))
	t.Cleanup(server.Close)
	return server
}

func loadConfig(t *testing.T, baseURL string, args ...string) config {
	t.Helper()

	cfg, err := parseConfig(append([]string{"-url=" + baseURL, "-concurrency=4"}, args...), io.Discard)
	require.NoError(t, err)
	return cfg
}

func TestParseMode(t *testing.T) {
	for _, mode := range []string{"create", " create-update ", "crud"} {
		_, err := parseMode(mode)
		assert.NoError(t, err, mode)
	}
	_, err := parseMode("create-pay")
	assert.Error(t, err)
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.baseURL)
	assert.Equal(t, 400, cfg.total)
	assert.False(t, cfg.totalSet)
	assert.Equal(t, modeCreate, cfg.mode)
	assert.Equal(t, "10", cfg.unitPrice.String())

	cfg, err = parseConfig([]string{
		"-url=http://orders:8080/",
		"-total=20",
		"-duration=1m",
		"-mode=crud",
		"-unit-price=2.50",
	}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "http://orders:8080", cfg.baseURL)
	assert.True(t, cfg.totalSet)
	assert.Equal(t, time.Minute, cfg.duration)
	assert.Equal(t, modeCRUD, cfg.mode)
	assert.Equal(t, "2.5", cfg.unitPrice.String())
}

func TestParseConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "bad mode", args: []string{"-mode=pay"}, wantErr: "unsupported mode"},
		{name: "bad price", args: []string{"-unit-price=abc"}, wantErr: "parse unit-price"},
		{name: "negative price", args: []string{"-unit-price=-1"}, wantErr: "unit-price must be >= 0"},
		{name: "empty url", args: []string{"-url= "}, wantErr: "url is required"},
		{name: "negative duration", args: []string{"-duration=-1s"}, wantErr: "duration must be >= 0"},
		{name: "zero total", args: []string{"-total=0"}, wantErr: "total must be > 0"},
		{name: "zero total with duration", args: []string{"-total=0", "-duration=1s"}, wantErr: "explicitly set"},
		{name: "zero concurrency", args: []string{"-concurrency=0"}, wantErr: "concurrency must be > 0"},
		{name: "zero timeout", args: []string{"-timeout=0s"}, wantErr: "timeout must be > 0"},
		{name: "empty product", args: []string{"-product= "}, wantErr: "product is required"},
		{name: "empty customer tag", args: []string{"-customer-tag="}, wantErr: "customer-tag is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.args, io.Discard)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDispatchJobs(t *testing.T) {
	collect := func(ctx context.Context, cfg config) []int {
		jobs := make(chan int, 16)
		go dispatchJobs(ctx, jobs, cfg)

		var got []int
		for id := range jobs {
			got = append(got, id)
		}
		return got
	}

	assert.Equal(t, []int{0, 1, 2}, collect(context.Background(), config{total: 3}))
	assert.Len(t, collect(context.Background(), config{total: 5, totalSet: true, duration: time.Minute}), 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, collect(ctx, config{total: 1000}))
}

func TestRunLoad_Modes(t *testing.T) {
	for _, mode := range []loadMode{modeCreate, modeCreateUpdate, modeCRUD} {
		t.Run(string(mode), func(t *testing.T) {
			server := newOrderServer(t)
			cfg := loadConfig(t, server.URL, "-total=12", "-mode="+string(mode))

			result := runLoad(context.Background(), cfg, server.Client())

			assert.Equal(t, int64(12), result.TotalScenarios)
			assert.Equal(t, int64(12), result.SuccessScenarios)
			assert.Zero(t, result.FailedScenarios)
			assert.Equal(t, int64(12), result.Operations["CreateOrder"].Calls)
			assert.Equal(t, int64(12), result.Operations["CreateOrder"].Statuses["200"])

			_, hasUpdate := result.Operations["UpdateOrder"]
			_, hasDelete := result.Operations["DeleteOrder"]
			assert.Equal(t, mode != modeCreate, hasUpdate)
			assert.Equal(t, mode == modeCRUD, hasDelete)

			resp, err := server.Client().Get(server.URL + "/orders")
			require.NoError(t, err)
			defer resp.Body.Close()
			var page orders.Page[orders.OrderView]
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))

			wantRemaining := 12
			if mode == modeCRUD {
				wantRemaining = 0
			}
			assert.Equal(t, wantRemaining, page.TotalElements)
		})
	}
}

func TestRunLoad_FailingServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"internal_error"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	result := runLoad(context.Background(), loadConfig(t, server.URL, "-total=5"), server.Client())

	assert.Equal(t, int64(5), result.FailedScenarios)
	assert.InDelta(t, 1.0, result.ErrorRate, 0.0001)
	assert.Equal(t, int64(5), result.Operations["CreateOrder"].Statuses["503"])
}

func TestRunLoad_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	result := runLoad(context.Background(), loadConfig(t, url, "-total=2", "-timeout=500ms"), &http.Client{})

	assert.Equal(t, int64(2), result.FailedScenarios)
	assert.Equal(t, int64(2), result.Operations["CreateOrder"].Statuses["transport_error"])
}

func TestCollectorAndReport(t *testing.T) {
	col := newCollector()
	col.record(scenarioMetric, 10*time.Millisecond, "ok", true)
	col.record(scenarioMetric, 30*time.Millisecond, "failed", false)
	col.record("CreateOrder", 5*time.Millisecond, statusLabel(200), true)
	col.record("CreateOrder", 7*time.Millisecond, statusLabel(500), false)

	result := col.buildReport(time.Now(), 2*time.Second)

	assert.Equal(t, int64(2), result.TotalScenarios)
	assert.Equal(t, int64(1), result.FailedScenarios)
	assert.InDelta(t, 0.5, result.ErrorRate, 0.0001)
	assert.InDelta(t, 1.0, result.RPS, 0.0001)
	assert.InDelta(t, 10.0, result.ScenarioLatencyMs.Min, 0.0001)
	assert.InDelta(t, 30.0, result.ScenarioLatencyMs.Max, 0.0001)
	assert.NotContains(t, result.Operations, scenarioMetric)
	assert.Equal(t, map[string]int64{"200": 1, "500": 1}, result.Operations["CreateOrder"].Statuses)
}

func TestLatencyHelpers(t *testing.T) {
	assert.Equal(t, latencySummary{}, buildLatencySummary(nil))
	assert.Zero(t, percentile(nil, 50))
	assert.Equal(t, 7.0, percentile([]float64{7}, 99))
	assert.InDelta(t, 2.5, percentile([]float64{1, 2, 3, 4}, 50), 0.0001)

	summary := buildLatencySummary([]float64{4, 1, 3, 2})
	assert.Equal(t, 1.0, summary.Min)
	assert.Equal(t, 4.0, summary.Max)
	assert.InDelta(t, 2.5, summary.Avg, 0.0001)

	assert.Zero(t, ratio(1, 0))
	assert.Equal(t, "transport_error", statusLabel(0))
	assert.Equal(t, "count:3", runTarget(config{total: 3}))
	assert.Equal(t, "duration:1m0s", runTarget(config{duration: time.Minute}))
	assert.Equal(t, "duration:1m0s,max-total:3", runTarget(config{duration: time.Minute, total: 3, totalSet: true}))
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, writeJSONReport(path, report{TotalScenarios: 3}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, int64(3), decoded.TotalScenarios)

	assert.Error(t, writeJSONReport(".", report{}))
	assert.Error(t, writeJSONReport("../outside.json", report{}))
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		Operations: map[string]operationReport{
			"UpdateOrder": {Calls: 2, Success: 2},
			"CreateOrder": {Calls: 2, Success: 2},
		},
	}, config{mode: modeCreateUpdate, total: 2})

	text := out.String()
	assert.Contains(t, text, "mode=create-update run=count:2 total=2 success=2")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("CreateOrder:")), bytes.Index(out.Bytes(), []byte("UpdateOrder:")))
}
