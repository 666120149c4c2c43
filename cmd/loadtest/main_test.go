package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

// stockServer имитирует API заказов с одним товаром на складе.
type stockServer struct {
	mu        sync.Mutex
	stock     int64
	enforce   bool
	seq       int
	keys      map[string]bool
	cancelled int
	t         *testing.T
}

func newStockServer(t *testing.T, stock int64, enforce bool) *httptest.Server {
	t.Helper()

	s := &stockServer{stock: stock, enforce: enforce, keys: make(map[string]bool), t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/orders", s.create)
	mux.HandleFunc("POST /v1/orders/{id}/cancel", s.cancel)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (s *stockServer) create(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(headerUserRole) != "buyer" || r.Header.Get(headerUserID) == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	key := r.Header.Get(headerIdempotencyKey)
	if key == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var body struct {
		Items []struct {
			ProductID string `json:"product_id"`
			Quantity  int64  `json:"quantity"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Items) != 1 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys[key] {
		s.t.Errorf("idempotency key reused: %s", key)
	}
	s.keys[key] = true

	qty := body.Items[0].Quantity
	if s.enforce && s.stock < qty {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error":{"code":"insufficient_stock","message":"not enough stock"}}`)
		return
	}
	s.stock -= qty
	s.seq++
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = fmt.Fprintf(w, `{"id":"order-%d","total_minor":100}`, s.seq)
}

func (s *stockServer) cancel(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.PathValue("id"), "order-") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.mu.Lock()
	s.cancelled++
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"id":%q,"status":"cancelled"}`, r.PathValue("id"))
}

func withCLIArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"loadtest"}, args...)
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flag.CommandLine = fs

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    loadMode
		wantErr string
	}{
		{name: "create", input: "create", want: modeCreate},
		{name: "create-cancel", input: " create-cancel ", want: modeCreateCancel},
		{name: "unsupported", input: "create-pay", wantErr: "unsupported mode"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMode(tc.input)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected mode: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		withCLIArgs(t, []string{
			"-url=http://127.0.0.1:8080/",
			"-mode=create-cancel",
			"-total=12",
			"-concurrency=3",
			"-timeout=2s",
			"-product=prod-1",
			"-quantity=2",
			"-stock=10",
			"-buyer-tag=stage",
			"-output=/tmp/out.json",
		}, func() {
			cfg, err := parseConfig()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !cfg.totalSet {
				t.Fatalf("expected totalSet=true")
			}
			if cfg.baseURL != "http://127.0.0.1:8080" {
				t.Fatalf("expected trailing slash trimmed, got %q", cfg.baseURL)
			}
			if cfg.mode != modeCreateCancel {
				t.Fatalf("unexpected mode: %s", cfg.mode)
			}
			if cfg.total != 12 || cfg.concurrency != 3 || cfg.quantity != 2 || cfg.stock != 10 {
				t.Fatalf("unexpected numeric config: %+v", cfg)
			}
			if cfg.timeout != 2*time.Second {
				t.Fatalf("unexpected timeout: %s", cfg.timeout)
			}
		})
	})

	t.Run("duration mode", func(t *testing.T) {
		withCLIArgs(t, []string{
			"-duration=3s",
			"-concurrency=2",
			"-product=prod-1",
		}, func() {
			cfg, err := parseConfig()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.duration != 3*time.Second {
				t.Fatalf("unexpected duration: %s", cfg.duration)
			}
			if cfg.totalSet {
				t.Fatalf("expected totalSet=false when -total was not provided")
			}
		})
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name    string
			args    []string
			wantErr string
		}{
			{name: "invalid duration", args: []string{"-product=p", "-duration=bad"}, wantErr: "parse duration"},
			{name: "invalid timeout", args: []string{"-product=p", "-timeout=soon"}, wantErr: "parse timeout"},
			{name: "negative duration", args: []string{"-product=p", "-duration=-1s"}, wantErr: "duration must be >= 0"},
			{name: "empty total", args: []string{"-product=p", "-duration=0s", "-total=0"}, wantErr: "total must be > 0"},
			{name: "missing product", args: nil, wantErr: "product is required"},
			{name: "zero quantity", args: []string{"-product=p", "-quantity=0"}, wantErr: "quantity must be > 0"},
			{name: "negative stock", args: []string{"-product=p", "-stock=-1"}, wantErr: "stock must be >= 0"},
			{name: "bad mode", args: []string{"-product=p", "-mode=refund"}, wantErr: "unsupported mode"},
			{name: "empty url", args: []string{"-product=p", "-url= "}, wantErr: "url is required"},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				withCLIArgs(t, tc.args, func() {
					_, err := parseConfig()
					if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
						t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
					}
				})
			})
		}
	})
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{total: 5})

		var got []int
		for v := range jobs {
			got = append(got, v)
		}
		if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
			t.Fatalf("unexpected jobs sequence: %v", got)
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		jobs := make(chan int, 32)
		done := make(chan struct{})
		go func() {
			dispatchJobs(jobs, config{duration: 20 * time.Millisecond})
			close(done)
		}()

		count := 0
		for range jobs {
			count++
		}
		<-done
		if count == 0 {
			t.Fatalf("expected non-zero jobs for duration mode")
		}
	})

	t.Run("duration with explicit max total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{duration: time.Second, total: 3, totalSet: true})
		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("expected 3 jobs, got %d", count)
		}
	})
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.recordScenario(10*time.Millisecond, outcomeCreated, 2)
	c.recordScenario(12*time.Millisecond, outcomeRejected, 2)
	c.recordScenario(20*time.Millisecond, outcomeFailed, 2)
	c.recordScenario(30*time.Millisecond, outcomeCancelled, 2)
	c.record("CreateOrder", 15*time.Millisecond, "201", true)
	c.record("CreateOrder", 5*time.Millisecond, codeInsufficientStock, false)

	snap, ok := c.snapshot(scenarioMethod)
	if !ok {
		t.Fatalf("scenario snapshot missing")
	}
	if snap.Calls != 4 || snap.Success != 3 || snap.Failed != 1 {
		t.Fatalf("unexpected scenario snapshot: %+v", snap)
	}
	if snap.Codes["created"] != 1 || snap.Codes["rejected"] != 1 || snap.Codes["failed"] != 1 || snap.Codes["cancelled"] != 1 {
		t.Fatalf("unexpected codes: %+v", snap.Codes)
	}
	if _, ok := c.snapshot("PayOrder"); ok {
		t.Fatalf("unexpected snapshot for unknown method")
	}

	r := c.buildReport(time.Now(), 2*time.Second)
	if r.TotalScenarios != 4 || r.FailedScenarios != 1 {
		t.Fatalf("unexpected report totals: %+v", r)
	}
	if r.OrdersCreated != 2 || r.OrdersCancelled != 1 || r.StockRejected != 1 {
		t.Fatalf("unexpected order counters: %+v", r)
	}
	if r.UnitsOrdered != 2 {
		t.Fatalf("cancelled orders must not count as ordered units, got %d", r.UnitsOrdered)
	}
	if r.RPS <= 0 {
		t.Fatalf("expected positive rps, got %f", r.RPS)
	}
	if create := r.Methods["CreateOrder"]; create.Calls != 2 || create.Codes[codeInsufficientStock] != 1 {
		t.Fatalf("unexpected CreateOrder stats: %+v", create)
	}
}

func TestUtilityFunctions(t *testing.T) {
	if got := ratio(1, 4); got != 0.25 {
		t.Fatalf("ratio mismatch: %f", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("ratio with zero total must be 0, got %f", got)
	}

	values := []float64{10, 20, 30, 40}
	summary := buildLatencySummary(values)
	if summary.P50 <= 0 || summary.P95 <= 0 || summary.Max != 40 || summary.Min != 10 || summary.Avg != 25 {
		t.Fatalf("unexpected latency summary: %+v", summary)
	}
	if p := percentile(values, 50); p != 25 {
		t.Fatalf("unexpected median: %f", p)
	}
	if got := buildLatencySummary(nil); got != (latencySummary{}) {
		t.Fatalf("expected empty summary, got %+v", got)
	}

	if got := runTarget(config{total: 50}); got != "count:50" {
		t.Fatalf("unexpected run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second}); got != "duration:2s" {
		t.Fatalf("unexpected duration run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second, total: 10, totalSet: true}); got != "duration:2s,max-total:10" {
		t.Fatalf("unexpected capped duration run target: %s", got)
	}
}

func TestDecodeCode(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantID   string
	}{
		{name: "created", status: http.StatusCreated, body: `{"id":"o-1"}`, wantCode: "201", wantID: "o-1"},
		{name: "ok without body", status: http.StatusOK, body: ``, wantCode: "200"},
		{name: "api error", status: http.StatusConflict, body: `{"error":{"code":"insufficient_stock"}}`, wantCode: codeInsufficientStock},
		{name: "plain error", status: http.StatusBadGateway, body: `bad gateway`, wantCode: "502"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var id string
			if got := decodeCode(tc.status, []byte(tc.body), &id); got != tc.wantCode {
				t.Fatalf("decodeCode() = %q, want %q", got, tc.wantCode)
			}
			if id != tc.wantID {
				t.Fatalf("order id = %q, want %q", id, tc.wantID)
			}
		})
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	sample := report{TotalScenarios: 2, SuccessScenarios: 2, UnitsOrdered: 4, StockChecked: true}
	if err := writeJSONReport(path, sample); err != nil {
		t.Fatalf("writeJSONReport error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}

	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 2 || decoded.UnitsOrdered != 4 || !decoded.StockChecked {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}

	for _, bad := range []string{".", "../escape.json"} {
		if err := writeJSONReport(bad, sample); err == nil {
			t.Fatalf("expected error for output path %q", bad)
		}
	}
}

func TestRun_StockIsNeverOversold(t *testing.T) {
	srv := newStockServer(t, 10, true)
	cfg := config{
		baseURL:     srv.URL,
		total:       40,
		concurrency: 8,
		timeout:     2 * time.Second,
		mode:        modeCreate,
		productID:   "prod-1",
		quantity:    1,
		stock:       10,
		buyerTag:    "test",
	}

	result := run(cfg, newOrderClient(cfg.baseURL, cfg.timeout, cfg.concurrency))

	if result.FailedScenarios != 0 {
		t.Fatalf("expected no failed scenarios, got %+v", result)
	}
	if result.OrdersCreated != 10 || result.StockRejected != 30 {
		t.Fatalf("expected 10 created and 30 rejected, got created=%d rejected=%d", result.OrdersCreated, result.StockRejected)
	}
	if !result.StockChecked || result.Oversold {
		t.Fatalf("expected passing stock check, got checked=%v oversold=%v", result.StockChecked, result.Oversold)
	}
}

func TestRun_DetectsOversell(t *testing.T) {
	srv := newStockServer(t, 3, false)
	cfg := config{
		baseURL:     srv.URL,
		total:       5,
		concurrency: 2,
		timeout:     2 * time.Second,
		mode:        modeCreate,
		productID:   "prod-1",
		quantity:    1,
		stock:       3,
		buyerTag:    "test",
	}

	result := run(cfg, newOrderClient(cfg.baseURL, cfg.timeout, cfg.concurrency))
	if result.UnitsOrdered != 5 || !result.Oversold {
		t.Fatalf("expected oversell to be detected, got units=%d oversold=%v", result.UnitsOrdered, result.Oversold)
	}
}

func TestRun_CreateCancel(t *testing.T) {
	srv := newStockServer(t, 100, true)
	cfg := config{
		baseURL:     srv.URL,
		total:       6,
		concurrency: 3,
		timeout:     2 * time.Second,
		mode:        modeCreateCancel,
		productID:   "prod-1",
		quantity:    1,
		stock:       100,
		buyerTag:    "test",
	}

	result := run(cfg, newOrderClient(cfg.baseURL, cfg.timeout, cfg.concurrency))
	if result.FailedScenarios != 0 || result.OrdersCancelled != 6 {
		t.Fatalf("expected 6 cancelled scenarios, got %+v", result)
	}
	if result.StockChecked {
		t.Fatalf("stock check only applies to create mode")
	}
	if cancel := result.Methods["CancelOrder"]; cancel.Calls != 6 || cancel.Success != 6 {
		t.Fatalf("unexpected CancelOrder stats: %+v", cancel)
	}
}

func TestRun_TransportErrorsFailScenarios(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := config{
		baseURL:     url,
		total:       2,
		concurrency: 1,
		timeout:     time.Second,
		mode:        modeCreate,
		productID:   "prod-1",
		quantity:    1,
		buyerTag:    "test",
	}

	result := run(cfg, newOrderClient(cfg.baseURL, cfg.timeout, cfg.concurrency))
	if result.FailedScenarios != 2 {
		t.Fatalf("expected 2 failed scenarios, got %+v", result)
	}
	if create := result.Methods["CreateOrder"]; create.Codes[codeTransportError] != 2 {
		t.Fatalf("expected transport errors, got %+v", create.Codes)
	}
}

func TestPrintReport(t *testing.T) {
	r := report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		OrdersCreated:    2,
		UnitsOrdered:     2,
		StockChecked:     true,
		Oversold:         true,
		Methods: map[string]methodReport{
			scenarioMethod: {Calls: 2, Success: 2},
			"CreateOrder":  {Calls: 2, Success: 2},
		},
	}

	var out bytes.Buffer
	printReport(&out, r, config{mode: modeCreate, total: 2, productID: "prod-1", stock: 1})

	for _, want := range []string{"Load test summary", "CreateOrder", "product=prod-1", "verdict=OVERSOLD"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in output, got: %s", want, out.String())
		}
	}
	if strings.Contains(out.String(), "scenario: calls") {
		t.Fatalf("scenario row must not be printed as a method: %s", out.String())
	}
}

func TestMainSmoke(t *testing.T) {
	srv := newStockServer(t, 3, true)
	outPath := filepath.Join(t.TempDir(), "main-report.json")

	withCLIArgs(t, []string{
		"-url=" + srv.URL,
		"-mode=create",
		"-total=5",
		"-concurrency=2",
		"-timeout=2s",
		"-product=prod-1",
		"-stock=3",
		"-output=" + outPath,
	}, func() {
		main()
	})

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("expected report file from main: %v", err)
	}
	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.OrdersCreated != 3 || decoded.StockRejected != 2 || decoded.Oversold {
		t.Fatalf("unexpected report: %+v", decoded)
	}
}
