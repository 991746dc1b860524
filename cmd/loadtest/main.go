package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

const (
	idempotencyHeader = "Idempotency-Key"
	defaultQuantity   = int32(1)
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateUpdate loadMode = "create-update"
	modeCRUD         loadMode = "crud"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	productID   string
	unitPrice   decimal.Decimal
	customerTag string
	outputPath  string
}

type itemPayload struct {
	ProductID string          `json:"productId"`
	Quantity  int32           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type orderPayload struct {
	CustomerID string        `json:"customerId"`
	Items      []itemPayload `json:"items"`
}

type orderResponse struct {
	ID int64 `json:"id"`
}

func parseConfig(args []string, output io.Writer) (config, error) {
	var (
		cfg          config
		modeValue    string
		priceValue   string
		totalVisited bool
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "order service base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-update | crud")
	fs.StringVar(&cfg.productID, "product", "SKU-LOAD", "order item product id")
	fs.StringVar(&priceValue, "unit-price", "10.00", "order item unit price")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			totalVisited = true
		}
	})
	cfg.totalSet = totalVisited
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	price, err := decimal.NewFromString(strings.TrimSpace(priceValue))
	if err != nil {
		return cfg, fmt.Errorf("parse unit-price: %w", err)
	}
	cfg.unitPrice = price

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.unitPrice.IsNegative():
		return cfg, errors.New("unit-price must be >= 0")
	case strings.TrimSpace(cfg.productID) == "":
		return cfg, errors.New("product is required")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeCreateUpdate, modeCRUD:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := runLoad(context.Background(), cfg, &http.Client{Timeout: cfg.timeout})

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runLoad прогоняет сценарии пулом воркеров и собирает отчёт.
func runLoad(ctx context.Context, cfg config, client *http.Client) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	runner := &scenarioRunner{cfg: cfg, client: client, runID: runID, col: newCollector()}

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := runner.run(ctx, id); err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()

	result := runner.col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for i := 0; ; i++ {
		if (cfg.duration <= 0 || cfg.totalSet) && i >= cfg.total {
			return
		}
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

type scenarioRunner struct {
	cfg    config
	client *http.Client
	runID  string
	col    *collector
}

// run выполняет один сценарий: создание и, в зависимости от режима, чтение, обновление и удаление.
func (r *scenarioRunner) run(ctx context.Context, index int) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "failed"
		}
		r.col.record(scenarioMetric, time.Since(start), outcome, err == nil)
	}()

	created, err := r.createOrder(ctx, index)
	if err != nil {
		return err
	}
	if created.ID <= 0 {
		return errors.New("create response returned empty order id")
	}
	if r.cfg.mode == modeCreate {
		return nil
	}

	path := fmt.Sprintf("/orders/%d", created.ID)
	update := r.order(index, 2)
	if err := r.call(ctx, "UpdateOrder", http.MethodPut, path, update, "", http.StatusOK, nil); err != nil {
		return err
	}
	if r.cfg.mode == modeCreateUpdate {
		return nil
	}

	if err := r.call(ctx, "GetOrder", http.MethodGet, path, nil, "", http.StatusOK, nil); err != nil {
		return err
	}
	return r.call(ctx, "DeleteOrder", http.MethodDelete, path, nil, "", http.StatusNoContent, nil)
}

func (r *scenarioRunner) createOrder(ctx context.Context, index int) (orderResponse, error) {
	var created orderResponse
	key := fmt.Sprintf("lt-create-%s-%d", r.runID, index)
	err := r.call(ctx, "CreateOrder", http.MethodPost, "/orders", r.order(index, 1), key, http.StatusOK, &created)
	return created, err
}

func (r *scenarioRunner) order(index int, itemCount int) orderPayload {
	items := make([]itemPayload, 0, itemCount)
	for i := range itemCount {
		items = append(items, itemPayload{
			ProductID: fmt.Sprintf("%s-%d", r.cfg.productID, i),
			Quantity:  defaultQuantity,
			UnitPrice: r.cfg.unitPrice,
		})
	}
	return orderPayload{
		CustomerID: fmt.Sprintf("%s-%s-%d", r.cfg.customerTag, r.runID, index),
		Items:      items,
	}
}

// call выполняет запрос, учитывает его в collector и декодирует тело в out, если он задан.
func (r *scenarioRunner) call(ctx context.Context, operation, method, path string, body any, idempotencyKey string, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", operation, err)
		}
		reader = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, r.cfg.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", operation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.col.record(operation, time.Since(start), statusLabel(0), false)
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	ok := readErr == nil && resp.StatusCode == wantStatus
	r.col.record(operation, time.Since(start), statusLabel(resp.StatusCode), ok)

	switch {
	case readErr != nil:
		return fmt.Errorf("%s: read body: %w", operation, readErr)
	case resp.StatusCode != wantStatus:
		return fmt.Errorf("%s: unexpected status %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(raw)))
	case out != nil:
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", operation, err)
		}
	}
	return nil
}
