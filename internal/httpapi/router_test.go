package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Skufu/GoTriage/internal/advice"
	"github.com/Skufu/GoTriage/internal/domain"
	"github.com/Skufu/GoTriage/internal/history"
	"github.com/Skufu/GoTriage/internal/knowledge"
	"github.com/Skufu/GoTriage/internal/metrics"
	"github.com/Skufu/GoTriage/internal/safety"
	"github.com/Skufu/GoTriage/internal/triage"
)

type fakeDB struct {
	err error
}

func (f fakeDB) Ping(ctx context.Context) error {
	return f.err
}

type brokenStore struct{}

func (brokenStore) InsertQuery(context.Context, history.Record) error { return errors.New("down") }
func (brokenStore) InsertSecurityEvent(context.Context, history.SecurityEvent) error {
	return errors.New("down")
}
func (brokenStore) ListQueries(context.Context, int, int) (history.Page, error) {
	return history.Page{}, errors.New("down")
}
func (brokenStore) RecentOutcomes(context.Context, int) ([]history.Outcome, error) {
	return nil, errors.New("down")
}

type testEnv struct {
	router *gin.Engine
	store  *history.FileStore
}

func newTestEnv(t *testing.T, db HealthChecker, maxBody int64) testEnv {
	t.Helper()
	return newTestEnvWith(t, func(d *Deps) {
		d.DB = db
		d.MaxBodyBytes = maxBody
	})
}

func newTestEnvWith(t *testing.T, configure func(*Deps)) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zap.NewNop()
	repo, err := knowledge.LoadJSON("../../data", log)
	if err != nil {
		t.Fatalf("load knowledge: %v", err)
	}
	store, err := history.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	m := metrics.NewCollector("test")
	svc := triage.NewService(triage.Deps{
		Safety:       safety.NewChecker(nil, log),
		Knowledge:    repo,
		Advisor:      advice.NewGenerator(nil, advice.GeneratorConfig{}, m, log),
		Store:        store,
		StoreBackend: "file",
		Metrics:      m,
		Logger:       log,
	})

	deps := Deps{
		Triage:    svc,
		Knowledge: repo,
		Store:     store,
		Metrics:   m,
		Logger:    log,
		Info:      Info{Name: "GoTriage", MockMode: true},
	}
	configure(&deps)
	return testEnv{router: NewRouter(deps), store: store}
}

func (e testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, path, nil)
	} else {
		req, _ = http.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestRouterHealthz(t *testing.T) {
	env := newTestEnv(t, fakeDB{}, 0)

	w := env.do("GET", "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestRouterReadyz(t *testing.T) {
	t.Run("no database", func(t *testing.T) {
		w := newTestEnv(t, nil, 0).do("GET", "/readyz", "")
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"db":"disabled"`) {
			t.Fatalf("expected disabled db, got %d %s", w.Code, w.Body.String())
		}
	})

	t.Run("healthy", func(t *testing.T) {
		w := newTestEnv(t, fakeDB{}, 0).do("GET", "/readyz", "")
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"db":"ok"`) {
			t.Fatalf("expected ok db, got %d %s", w.Code, w.Body.String())
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		w := newTestEnv(t, fakeDB{err: errors.New("connection refused")}, 0).do("GET", "/readyz", "")
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "connection refused") {
			t.Fatalf("expected ping error in body, got %s", w.Body.String())
		}
	})
}

func TestMedicalQuery(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	w := env.do("POST", "/api/medical/query",
		`{"symptom":"我咳嗽还发烧了","patient_info":{"age":30,"gender":"男"}}`,
		sourceChannelHeader, "web")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	res := decode[triage.Result](t, w)
	if res.Status != domain.StatusSuccess || res.DiseaseName != "普通感冒" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Advice == nil || res.Advice.Assessment == "" {
		t.Fatalf("expected advice, got %+v", res.Advice)
	}

	page, err := env.store.ListQueries(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 || page.Items[0].SourceChannel != domain.ChannelWeb {
		t.Fatalf("expected one web record, got %+v", page)
	}
}

func TestMedicalQueryValidation(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing symptom", `{"patient_info":{"age":30}}`, msgMissingSymptom},
		{"malformed json", `{"symptom":`, msgMissingSymptom},
		{"age out of range", `{"symptom":"咳嗽","patient_info":{"age":130}}`, msgBadPatientFmt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", "/api/medical/query", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			body := decode[errorBody](t, w)
			if body.Status != domain.StatusError || !strings.Contains(body.ErrorMessage, tt.want) {
				t.Fatalf("unexpected error body: %+v", body)
			}
		})
	}
}

func TestMedicalQueryBodyTooLarge(t *testing.T) {
	env := newTestEnv(t, nil, 32)

	w := env.do("POST", "/api/medical/query", `{"symptom":"`+strings.Repeat("咳嗽", 40)+`"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStructuredQueryRequiresPatient(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	for _, body := range []string{
		`{"symptom":"咳嗽"}`,
		`{"symptom":"咳嗽","patient_info":{"age":30}}`,
		`{"symptom":"咳嗽","patient_info":{"gender":"女"}}`,
	} {
		if w := env.do("POST", "/api/medical/structured", body); w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, w.Code)
		}
	}

	w := env.do("POST", "/api/medical/structured", `{"symptom":"腹泻还呕吐怎么办","patient_info":{"age":8,"gender":"女"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	page, _ := env.store.ListQueries(context.Background(), 1, 10)
	if page.Total != 1 || page.Items[0].SourceChannel != domain.ChannelStructured {
		t.Fatalf("expected structured record, got %+v", page)
	}
}

func TestHistoryAndStats(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	env.do("POST", "/api/medical/query", `{"symptom":"我咳嗽还发烧了"}`)
	env.do("POST", "/api/medical/query", `{"symptom":"今天天气怎么样"}`)
	env.do("POST", "/api/medical/query", `{"symptom":"<script>alert(1)</script> DROP TABLE users; 攻击系统"}`)

	w := env.do("GET", "/api/history?page=1&page_size=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	page := decode[history.Page](t, w)
	if page.Total != 3 || len(page.Items) != 2 || page.PageSize != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Items[0].Status != domain.StatusFailed {
		t.Fatalf("expected newest record first, got %s", page.Items[0].Status)
	}

	stats := decode[history.Stats](t, env.do("GET", "/api/stats", ""))
	want := history.Counts{Normal: 1, NonMedical: 1, MaliciousOrError: 1, Total: 3}
	if stats.Counts != want {
		t.Fatalf("expected %+v, got %+v", want, stats.Counts)
	}
	if stats.DurationsMS.Count != 3 {
		t.Fatalf("expected 3 durations, got %+v", stats.DurationsMS)
	}
}

func TestHistoryDegradesOnStoreFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := NewRouter(Deps{Store: brokenStore{}, Logger: zap.NewNop()})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/history?page=3", nil)
	router.ServeHTTP(w, req)
	page := decode[history.Page](t, w)
	if w.Code != http.StatusOK || page.Total != 0 || page.Page != 3 || page.Items == nil {
		t.Fatalf("expected empty page 3, got %d %+v", w.Code, page)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/stats", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || decode[history.Stats](t, w).Counts.Total != 0 {
		t.Fatalf("expected zeroed stats, got %d %s", w.Code, w.Body.String())
	}
}

func TestDiseaseEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	detail := decode[knowledge.DiseaseDetail](t, env.do("GET", "/api/diseases/D05", ""))
	if detail.Name != "心脏病发作风险" || detail.Guideline == nil || detail.Guideline.Urgency != knowledge.UrgencyEmergency {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	if w := env.do("GET", "/api/diseases/D99", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := env.do("GET", "/api/diseases/search", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty search, got %d", w.Code)
	}

	type list struct {
		Total int `json:"total"`
	}
	if got := decode[list](t, env.do("GET", "/api/diseases", "")); got.Total != 5 {
		t.Fatalf("expected 5 diseases, got %d", got.Total)
	}
	if got := decode[list](t, env.do("GET", "/api/diseases/search?symptom=打喷嚏", "")); got.Total != 2 {
		t.Fatalf("expected 2 sneezing matches, got %d", got.Total)
	}
	if got := decode[list](t, env.do("GET", "/api/guidelines?urgency=低", "")); got.Total != 2 {
		t.Fatalf("expected 2 low urgency guidelines, got %d", got.Total)
	}
}

func TestInfoAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	info := decode[Info](t, env.do("GET", "/api/info", ""))
	if info.Name != "GoTriage" || !info.MockMode {
		t.Fatalf("unexpected info: %+v", info)
	}

	env.do("GET", "/healthz", "")
	w := env.do("GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `test_http_requests_total{method="GET",path="/healthz",status="200"} 1`) {
		t.Fatalf("expected request counter in metrics output:\n%s", w.Body.String())
	}
}

func TestLimitBodySize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(limitBodySize(10))
	router.POST("/echo", func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too large"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	t.Run("within limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/echo", strings.NewReader("12345"))
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	})

	t.Run("over limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/echo", strings.NewReader("01234567890"))
		router.ServeHTTP(w, req)
		if w.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected 413, got %d", w.Code)
		}
	})
}

func TestRecoveryReturnsErrorBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(recovery(zap.NewNop()))
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/boom", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), `"status":"error"`) {
		t.Fatalf("expected 500 error body, got %d %s", w.Code, w.Body.String())
	}
}

func postFromPeer(env testEnv, remoteAddr, forwardedFor string) {
	req := httptest.NewRequest("POST", "/api/medical/query",
		strings.NewReader(`{"symptom":"<script>alert(1)</script> DROP TABLE users; 攻击系统"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)
	req.RemoteAddr = remoteAddr
	env.router.ServeHTTP(httptest.NewRecorder(), req)
}

func TestSecurityEventIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	env := newTestEnv(t, nil, 0)

	postFromPeer(env, "192.0.2.1:1234", "6.6.6.6")

	events, err := env.store.SecurityEvents(context.Background())
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one security event, got %+v %v", events, err)
	}
	if events[0].ClientIP != "192.0.2.1" {
		t.Fatalf("expected the direct peer address, got %q", events[0].ClientIP)
	}
}

func TestSecurityEventHonoursForwardedForFromTrustedProxy(t *testing.T) {
	env := newTestEnvWith(t, func(d *Deps) {
		d.TrustedProxies = []string{"192.0.2.1"}
	})

	postFromPeer(env, "192.0.2.1:1234", "6.6.6.6")

	events, err := env.store.SecurityEvents(context.Background())
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one security event, got %+v %v", events, err)
	}
	if events[0].ClientIP != "6.6.6.6" {
		t.Fatalf("expected the forwarded address, got %q", events[0].ClientIP)
	}
}

func TestNewRouterFallsBackOnInvalidTrustedProxies(t *testing.T) {
	env := newTestEnvWith(t, func(d *Deps) {
		d.TrustedProxies = []string{"not-an-ip"}
	})

	postFromPeer(env, "192.0.2.1:1234", "6.6.6.6")

	events, _ := env.store.SecurityEvents(context.Background())
	if len(events) != 1 || events[0].ClientIP != "192.0.2.1" {
		t.Fatalf("expected the direct peer address, got %+v", events)
	}
}
