// Command loadtest создаёт конкурентную нагрузку на оформление заказов через
// HTTP API и проверяет, что успешных заказов не больше, чем было на складе.
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
	"time"
)

const (
	headerUserID         = "X-User-ID"
	headerUserRole       = "X-User-Role"
	headerIdempotencyKey = "Idempotency-Key"

	codeInsufficientStock = "insufficient_stock"
	codeTransportError    = "transport_error"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateCancel loadMode = "create-cancel"
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
	quantity    int64
	stock       int64
	buyerTag    string
	outputPath  string
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	flag.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "order engine HTTP base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent buyers")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-cancel")
	flag.StringVar(&cfg.productID, "product", "", "contended product id")
	flag.Int64Var(&cfg.quantity, "quantity", 1, "units per order")
	flag.Int64Var(&cfg.stock, "stock", 0, "seeded stock of the product; > 0 enables the oversell check in create mode")
	flag.StringVar(&cfg.buyerTag, "buyer-tag", "load", "buyer id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	return cfg, cfg.validate()
}

func (cfg config) validate() error {
	switch {
	case cfg.baseURL == "":
		return errors.New("url is required")
	case cfg.duration < 0:
		return errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return errors.New("timeout must be > 0")
	case strings.TrimSpace(cfg.productID) == "":
		return errors.New("product is required")
	case cfg.quantity <= 0:
		return errors.New("quantity must be > 0")
	case cfg.stock < 0:
		return errors.New("stock must be >= 0")
	case strings.TrimSpace(cfg.buyerTag) == "":
		return errors.New("buyer-tag is required")
	}
	return nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateCancel:
		return modeCreateCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := run(cfg, newOrderClient(cfg.baseURL, cfg.timeout, cfg.concurrency))

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || result.Oversold {
		os.Exit(1)
	}
}

// run прогоняет сценарии и собирает отчёт.
func run(cfg config, client *orderClient) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				runScenario(client, cfg, id, runID, col)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if cfg.mode == modeCreate && cfg.stock > 0 {
		result.StockChecked = true
		result.Oversold = result.UnitsOrdered > cfg.stock
	}
	return result
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// runScenario оформляет заказ от уникального покупателя и, в режиме
// create-cancel, сразу его отменяет. Отказ по остатку — ожидаемый исход.
func runScenario(client *orderClient, cfg config, index int, runID string, col *collector) {
	scenarioStart := time.Now()
	outcome := outcomeFailed
	defer func() {
		col.recordScenario(time.Since(scenarioStart), outcome, cfg.quantity)
	}()

	buyerID := fmt.Sprintf("%s-%s-%d", cfg.buyerTag, runID, index)
	created := client.createOrder(buyerID, fmt.Sprintf("lt-create-%s-%d", runID, index), cfg.productID, cfg.quantity)
	col.record("CreateOrder", created.latency, created.code, created.ok())

	switch {
	case created.status == http.StatusConflict && created.code == codeInsufficientStock:
		outcome = outcomeRejected
		return
	case !created.ok() || created.orderID == "":
		return
	}

	if cfg.mode == modeCreateCancel {
		cancelled := client.cancelOrder(buyerID, created.orderID)
		col.record("CancelOrder", cancelled.latency, cancelled.code, cancelled.ok())
		if !cancelled.ok() {
			return
		}
		outcome = outcomeCancelled
		return
	}
	outcome = outcomeCreated
}

// orderClient обращается к HTTP API заказов.
type orderClient struct {
	baseURL string
	http    *http.Client
}

func newOrderClient(baseURL string, timeout time.Duration, conns int) *orderClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = conns
	return &orderClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout, Transport: transport},
	}
}

type callResult struct {
	status  int
	code    string
	orderID string
	latency time.Duration
}

func (r callResult) ok() bool { return r.status >= 200 && r.status < 300 }

func (c *orderClient) createOrder(buyerID, key, productID string, quantity int64) callResult {
	body, _ := json.Marshal(map[string]any{
		"items": []map[string]any{{"product_id": productID, "quantity": quantity}},
	})
	return c.do(http.MethodPost, "/v1/orders", buyerID, key, body)
}

func (c *orderClient) cancelOrder(buyerID, orderID string) callResult {
	return c.do(http.MethodPost, "/v1/orders/"+orderID+"/cancel", buyerID, "", nil)
}

func (c *orderClient) do(method, path, buyerID, key string, body []byte) callResult {
	start := time.Now()
	result := callResult{code: codeTransportError}

	req, err := http.NewRequestWithContext(context.Background(), method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		result.latency = time.Since(start)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerUserID, buyerID)
	req.Header.Set(headerUserRole, "buyer")
	if key != "" {
		req.Header.Set(headerIdempotencyKey, key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		result.latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	result.latency = time.Since(start)
	result.status = resp.StatusCode
	result.code = decodeCode(resp.StatusCode, raw, &result.orderID)
	return result
}

// decodeCode возвращает машинный код ошибки API или HTTP-статус для успешных ответов.
func decodeCode(status int, raw []byte, orderID *string) string {
	if status < 400 {
		var ok struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(raw, &ok) == nil {
			*orderID = ok.ID
		}
		return fmt.Sprintf("%d", status)
	}

	var problem struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &problem) == nil && problem.Error.Code != "" {
		return problem.Error.Code
	}
	return fmt.Sprintf("%d", status)
}
