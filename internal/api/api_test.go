package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/riskboard/internal/bus"
	"github.com/opensource-finance/riskboard/internal/domain"
	"github.com/opensource-finance/riskboard/internal/repository"
	"github.com/opensource-finance/riskboard/internal/risk"
	"github.com/opensource-finance/riskboard/internal/scoring"
	"github.com/opensource-finance/riskboard/internal/session"
	"github.com/opensource-finance/riskboard/internal/worker"
)

type scorerFunc func(ctx context.Context, up scoring.Upload) scoring.Outcome

func (f scorerFunc) Score(ctx context.Context, up scoring.Upload) scoring.Outcome {
	return f(ctx, up)
}

// serviceScorer returns whatever the fake scoring service answers with.
func serviceScorer(status int, body string) scoring.Scorer {
	return scorerFunc(func(ctx context.Context, up scoring.Upload) scoring.Outcome {
		return scoring.InterpretResponse(status, []byte(body), risk.DefaultClassifier())
	})
}

const scoredBody = `{"transactions":[
	{"id":"t1","trans_num":"t1","amt":"120.5","trans_date_trans_time":"2024-03-05 10:00:00","fraud_probability":0.91},
	{"id":"t2","trans_num":"t2","amt":12,"fraud_probability":0.45},
	{"id":"t3","trans_num":"t3","amount":7.25,"date":"03/04/2024","fraud_probability":0.05},
	{"id":"t4","trans_num":"t4","amount":3,"fraud_probability":0.15}
]}`

func createTestServer(t *testing.T, scorer scoring.Scorer) *Server {
	t.Helper()
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	sessions := session.NewManager(session.Options{Scorer: scorer, MockSeed: 7, PageSize: 2})
	t.Cleanup(sessions.Close)

	return NewServer(cfg, sessions, nil, nil, nil, HandlerOptions{
		Version:     "test-v1",
		ScoringMode: domain.ScoringRemote,
	})
}

func multipartBody(t *testing.T, field, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		fw.Write(data)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, s *Server, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func upload(t *testing.T, s *Server, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, "file", name, data)
	return do(t, s, http.MethodPost, "/analyses", body, ct)
}

type analysisBody struct {
	ID      string            `json:"id"`
	Source  string            `json:"source"`
	Summary domain.Summary    `json:"summary"`
	Chart   []domain.ChartBar `json:"chart"`
	Warning *domain.APIError  `json:"warning"`
	Hints   []string          `json:"hints"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response: %v: %s", err, rr.Body.String())
	}
	return v
}

func TestUploadEndpoint(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		server := createTestServer(t, serviceScorer(http.StatusOK, scoredBody))

		rr := upload(t, server, "june.csv", []byte("amt\n1\n"))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[analysisBody](t, rr)
		if resp.ID == "" || resp.Source != "upload" {
			t.Errorf("unexpected analysis: %+v", resp)
		}
		if resp.Summary.Total != 4 {
			t.Errorf("expected 4 rows, got %d", resp.Summary.Total)
		}
		if len(resp.Summary.TopHigh) != 1 || resp.Summary.TopHigh[0].TransNum != "t1" {
			t.Errorf("unexpected top high: %+v", resp.Summary.TopHigh)
		}
		if len(resp.Chart) != 4 || resp.Chart[0].Name != "H1" {
			t.Errorf("unexpected chart: %+v", resp.Chart)
		}
	})

	t.Run("NoFile", func(t *testing.T) {
		server := createTestServer(t, serviceScorer(http.StatusOK, scoredBody))
		body, ct := multipartBody(t, "file", "", nil)
		rr := do(t, server, http.MethodPost, "/analyses", body, ct)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NotMultipart", func(t *testing.T) {
		server := createTestServer(t, serviceScorer(http.StatusOK, scoredBody))
		rr := do(t, server, http.MethodPost, "/analyses", bytes.NewBufferString("{}"), "application/json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidFileType", func(t *testing.T) {
		var calls atomic.Int32
		server := createTestServer(t, scorerFunc(func(ctx context.Context, up scoring.Upload) scoring.Outcome {
			calls.Add(1)
			return scoring.Outcome{}
		}))
		rr := upload(t, server, "june.xlsx", []byte("data"))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
		if calls.Load() != 0 {
			t.Error("scorer must not be called for invalid file type")
		}
	})

	t.Run("ServiceError", func(t *testing.T) {
		server := createTestServer(t, serviceScorer(http.StatusInternalServerError,
			`{"error":"could not convert string to float: 'abc'"}`))

		rr := upload(t, server, "june.csv", []byte("amt\nabc\n"))
		if rr.Code != http.StatusBadGateway {
			t.Fatalf("expected status 502, got %d", rr.Code)
		}
		resp := decode[ErrorResponse](t, rr)
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("expected upstream status 500, got %d", resp.StatusCode)
		}
		if len(resp.Hints) == 0 {
			t.Error("expected remediation hints for a conversion error")
		}

		// nothing replaced
		if rr := do(t, server, http.MethodGet, "/analysis", nil, ""); rr.Code != http.StatusNotFound {
			t.Errorf("expected no analysis after failure, got %d", rr.Code)
		}
	})

	t.Run("PartialFailure", func(t *testing.T) {
		server := createTestServer(t, serviceScorer(http.StatusOK,
			`{"transactions":[{"trans_num":"t1","fraud_probability":0.8},{"trans_num":"t2"}]}`))

		rr := upload(t, server, "june.csv", []byte("amt\n1\n2\n"))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode[analysisBody](t, rr)
		if resp.Warning == nil {
			t.Error("expected a warning for partial failure")
		}
		if resp.Summary.Total != 1 {
			t.Errorf("expected 1 usable row, got %d", resp.Summary.Total)
		}
	})

	t.Run("TooLarge", func(t *testing.T) {
		sessions := session.NewManager(session.Options{Scorer: serviceScorer(http.StatusOK, scoredBody)})
		defer sessions.Close()
		server := NewServer(domain.ServerConfig{}, sessions, nil, nil, nil, HandlerOptions{MaxUploadBytes: 64})

		rr := upload(t, server, "big.csv", bytes.Repeat([]byte("x"), 1024))
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected status 413, got %d", rr.Code)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		server := createTestServer(t, serviceScorer(http.StatusOK, scoredBody))
		body, ct := multipartBody(t, "file", "june.csv", []byte("a"))
		req := httptest.NewRequest(http.MethodPost, "/analyses", body)
		req.Header.Set("Content-Type", ct)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReservedTenantID", func(t *testing.T) {
		server := createTestServer(t, serviceScorer(http.StatusOK, scoredBody))
		req := httptest.NewRequest(http.MethodGet, "/analysis", nil)
		req.Header.Set("X-Tenant-ID", domain.GlobalScope)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestUploadBusy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	server := createTestServer(t, scorerFunc(func(ctx context.Context, up scoring.Upload) scoring.Outcome {
		close(entered)
		<-release
		return scoring.Outcome{}
	}))

	done := make(chan int, 1)
	go func() {
		done <- upload(t, server, "a.csv", []byte("x")).Code
	}()
	<-entered

	if rr := upload(t, server, "a.csv", []byte("x")); rr.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", rr.Code)
	}

	rr := do(t, server, http.MethodGet, "/analysis/progress", nil, "")
	resp := decode[ProgressResponse](t, rr)
	if !resp.InFlight {
		t.Error("expected upload to be in flight")
	}

	close(release)
	if code := <-done; code != http.StatusCreated {
		t.Errorf("expected first upload to finish with 201, got %d", code)
	}
}

func TestDemoEndpoint(t *testing.T) {
	server := createTestServer(t, serviceScorer(http.StatusOK, scoredBody))

	t.Run("Count", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/analyses/demo?count=3", nil, "")
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d", rr.Code)
		}
		resp := decode[analysisBody](t, rr)
		if resp.Source != "demo" || resp.Summary.Total != 3 {
			t.Errorf("unexpected demo analysis: %+v", resp)
		}
		if len(resp.Summary.TopHigh) == 0 || len(resp.Summary.TopMedium) == 0 || len(resp.Summary.TopLow) == 0 {
			t.Error("expected every bucket to be represented")
		}
	})

	t.Run("DefaultCount", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/analyses/demo", nil, "")
		resp := decode[analysisBody](t, rr)
		if resp.Summary.Total != 50 {
			t.Errorf("expected 50 rows, got %d", resp.Summary.Total)
		}
	})

	t.Run("BadCount", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/analyses/demo?count=lots", nil, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CountAboveMaximum", func(t *testing.T) {
		for _, count := range []string{"1000001", "2000000000"} {
			rr := do(t, server, http.MethodPost, "/analyses/demo?count="+count, nil, "")
			if rr.Code != http.StatusBadRequest {
				t.Errorf("count=%s: expected status 400, got %d", count, rr.Code)
			}
		}
		// The previous analysis is still active.
		rr := do(t, server, http.MethodGet, "/analysis", nil, "")
		if resp := decode[analysisBody](t, rr); resp.Summary.Total != 50 {
			t.Errorf("expected the 50-row analysis to survive, got %d rows", resp.Summary.Total)
		}
	})
}

func TestActiveAnalysis(t *testing.T) {
	server := createTestServer(t, serviceScorer(http.StatusOK, scoredBody))

	if rr := do(t, server, http.MethodGet, "/analysis/transactions", nil, ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404 before any analysis, got %d", rr.Code)
	}

	if rr := upload(t, server, "june.csv", []byte("amt\n1\n")); rr.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d", rr.Code)
	}

	t.Run("Current", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/analysis", nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decode[analysisBody](t, rr)
		if resp.Summary.Total != 4 {
			t.Errorf("expected 4 rows, got %d", resp.Summary.Total)
		}
	})

	t.Run("TransactionsPaging", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/analysis/transactions?page=2", nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decode[PageResponse](t, rr)
		if resp.Page != 2 || resp.TotalPages != 2 || len(resp.Rows) != 2 {
			t.Errorf("unexpected page: page=%d total=%d rows=%d", resp.Page, resp.TotalPages, len(resp.Rows))
		}
		if resp.Rows[0].Record.TransNum != "t3" {
			t.Errorf("expected t3 first on page 2, got %s", resp.Rows[0].Record.TransNum)
		}
		if resp.Rows[0].Amount != "$7.25" || resp.Rows[0].Date != "03/04/2024" {
			t.Errorf("unexpected display values: %+v", resp.Rows[0])
		}
	})

	t.Run("SearchResetsPage", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/analysis/transactions?q=t1", nil, "")
		resp := decode[PageResponse](t, rr)
		if resp.Page != 1 || resp.Matched != 1 || resp.Total != 4 {
			t.Errorf("unexpected search result: page=%d matched=%d total=%d", resp.Page, resp.Matched, resp.Total)
		}
		if resp.Rows[0].Amount != "$120.50" || resp.Rows[0].Probability != "91.00%" {
			t.Errorf("unexpected display values: %+v", resp.Rows[0])
		}

		// clear the query
		rr = do(t, server, http.MethodGet, "/analysis/transactions?q=", nil, "")
		if resp := decode[PageResponse](t, rr); resp.Matched != 4 {
			t.Errorf("expected all rows after clearing, got %d", resp.Matched)
		}
	})

	t.Run("Jump", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/analysis/transactions?jump=end", nil, "")
		if resp := decode[PageResponse](t, rr); resp.Page != 2 {
			t.Errorf("expected last page, got %d", resp.Page)
		}
		rr = do(t, server, http.MethodGet, "/analysis/transactions?jump=sideways", nil, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Fraction", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/analysis/transactions?page=1&fraction=1e300", nil, "")
		if resp := decode[PageResponse](t, rr); resp.Page != 2 {
			t.Errorf("expected huge fraction to land on the last page, got %d", resp.Page)
		}
		for _, v := range []string{"Inf", "-Inf", "NaN", "half"} {
			rr := do(t, server, http.MethodGet, "/analysis/transactions?fraction="+v, nil, "")
			if rr.Code != http.StatusBadRequest {
				t.Errorf("fraction=%s: expected status 400, got %d", v, rr.Code)
			}
		}
	})

	t.Run("Top", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/analysis/top/low", nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decode[TopResponse](t, rr)
		if resp.Level != domain.RiskLow || resp.Label != "Low Risk" || len(resp.Rows) != 2 {
			t.Errorf("unexpected top response: %+v", resp)
		}
		if resp.Rows[0].Record.TransNum != "t4" {
			t.Errorf("expected highest low-risk record first, got %s", resp.Rows[0].Record.TransNum)
		}

		if rr := do(t, server, http.MethodGet, "/analysis/top/extreme", nil, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Progress", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/analysis/progress", nil, "")
		resp := decode[ProgressResponse](t, rr)
		if resp.Value != 100 || resp.InFlight {
			t.Errorf("expected completed progress, got %+v", resp)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		if rr := do(t, server, http.MethodDelete, "/analysis", nil, ""); rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if rr := do(t, server, http.MethodGet, "/analysis", nil, ""); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 after reset, got %d", rr.Code)
		}
	})
}

func TestAuditEndpoints(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "riskboard-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	path := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(path)

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: path})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	w := worker.NewWorker(eventBus, repo)
	if err := w.Start(); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}
	defer w.Stop()

	sessions := session.NewManager(session.Options{Scorer: serviceScorer(http.StatusOK, scoredBody), Bus: eventBus})
	defer sessions.Close()
	server := NewServer(domain.ServerConfig{}, sessions, repo, nil, eventBus, HandlerOptions{Version: "test-v1"})

	rr := do(t, server, http.MethodPost, "/analyses/demo?count=5", nil, "")
	created := decode[analysisBody](t, rr)

	deadline := time.Now().Add(2 * time.Second)
	for w.GetStats().Recorded < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	t.Run("List", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/analyses", nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decode[struct {
			Analyses []domain.AnalysisRecord `json:"analyses"`
			Count    int                     `json:"count"`
		}](t, rr)
		if resp.Count != 1 || resp.Analyses[0].ID != created.ID {
			t.Errorf("unexpected audit list: %+v", resp)
		}
	})

	t.Run("Get", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/analyses/"+created.ID, nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		rec := decode[domain.AnalysisRecord](t, rr)
		if rec.Total != 5 || rec.Source != domain.SourceDemo {
			t.Errorf("unexpected record: %+v", rec)
		}

		if rr := do(t, server, http.MethodGet, "/analyses/missing", nil, ""); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Health", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		resp := decode[map[string]any](t, rr)
		if resp["status"] != "healthy" || resp["version"] != "test-v1" {
			t.Errorf("unexpected health: %+v", resp)
		}
	})
}

func TestHealthWithoutComponents(t *testing.T) {
	server := createTestServer(t, serviceScorer(http.StatusOK, scoredBody))

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, rr.Code)
		}
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	server := createTestServer(t, serviceScorer(http.StatusOK, scoredBody))

	rr := do(t, server, http.MethodGet, "/analysis/progress", nil, "")
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID header")
	}
	if rr.Header().Get(TraceIDHeader) == "" {
		t.Error("expected X-Trace-ID header")
	}

	t.Run("TracingDisabled", func(t *testing.T) {
		handler := TracingMiddleware(domain.TracingConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetTraceID(r.Context()) != "req-42" {
				t.Errorf("expected trace ID to fall back to the request ID, got %q", GetTraceID(r.Context()))
			}
		}))
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Header().Get(RequestIDHeader) != "req-42" || rec.Header().Get(TraceIDHeader) != "req-42" {
			t.Errorf("unexpected headers: %v", rec.Header())
		}
	})

	req := httptest.NewRequest(http.MethodOptions, "/analyses", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	pre := httptest.NewRecorder()
	server.Router().ServeHTTP(pre, req)
	if pre.Code != http.StatusNoContent {
		t.Errorf("expected preflight 204, got %d", pre.Code)
	}
	if pre.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Error("expected origin to be echoed")
	}
}
