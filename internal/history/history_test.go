package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Skufu/GoTriage/internal/advice"
	"github.com/Skufu/GoTriage/internal/domain"
)

func f64(v float64) *float64 { return &v }

func TestNormalizePaging(t *testing.T) {
	tests := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{0, 0, 1, 20},
		{-3, 5, 1, 5},
		{2, 500, 2, 100},
		{4, 100, 4, 100},
	}
	for _, tt := range tests {
		p, s := NormalizePaging(tt.page, tt.size)
		assert.Equal(t, tt.wantPage, p)
		assert.Equal(t, tt.wantSize, s)
	}
}

func TestComputeEmpty(t *testing.T) {
	assert.Equal(t, Stats{}, Compute(nil))
}

func TestCompute(t *testing.T) {
	outcomes := []Outcome{
		{Status: domain.StatusSuccess, TotalDurationMS: f64(100), ServerDurationMS: f64(80)},
		{Status: domain.StatusSuccess, TotalDurationMS: f64(0), ServerDurationMS: f64(50)},
		{Status: domain.StatusFailed, ServerDurationMS: f64(10)},
		{Status: domain.StatusError, TotalDurationMS: f64(300.456)},
		{Status: domain.StatusNoMatch},
	}

	s := Compute(outcomes)

	assert.Equal(t, Counts{Normal: 2, MaliciousOrError: 2, NonMedical: 1, Total: 5}, s.Counts)
	// durations: 10, 50, 100, 300.456
	assert.Equal(t, 4, s.DurationsMS.Count)
	assert.Equal(t, 115.11, s.DurationsMS.Avg)
	assert.Equal(t, 100.0, s.DurationsMS.P95)
	assert.Equal(t, 300.46, s.DurationsMS.Max)
}

func sampleRecord(symptom string, status domain.Status, at time.Time) Record {
	return Record{
		Timestamp:        at,
		Symptom:          symptom,
		Status:           status,
		DiseaseName:      "普通感冒",
		Advice:           &advice.Advice{Assessment: "疑似普通感冒", ImmediateActions: []string{"多喝水"}},
		ServerDurationMS: 12.5,
		TotalDurationMS:  20,
		SourceChannel:    domain.ChannelAPI,
	}
}

func TestFileStoreRoundTripNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertQuery(ctx, sampleRecord("症状"+strconv.Itoa(i), domain.StatusSuccess, base.Add(time.Duration(i)*time.Minute))))
	}

	p, err := s.ListQueries(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Total)
	require.Len(t, p.Items, 2)
	assert.Equal(t, "症状4", p.Items[0].Symptom)
	assert.Equal(t, "症状3", p.Items[1].Symptom)
	assert.NotEmpty(t, p.Items[0].ID)
	require.NotNil(t, p.Items[0].Advice)
	assert.Equal(t, "疑似普通感冒", p.Items[0].Advice.Assessment)

	p, err = s.ListQueries(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "症状0", p.Items[0].Symptom)

	p, err = s.ListQueries(ctx, 9, 2)
	require.NoError(t, err)
	assert.Empty(t, p.Items)
	assert.NotNil(t, p.Items)

	out, err := s.RecentOutcomes(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "nested"))
	require.NoError(t, err)

	p, err := s.ListQueries(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Zero(t, p.Total)

	out, err := s.RecentOutcomes(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, QueryFile), []byte("{not json"), 0o644))
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = s.ListQueries(context.Background(), 1, 20)
	assert.Error(t, err)
}

func TestFileStoreConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.InsertQuery(ctx, sampleRecord(strconv.Itoa(i), domain.StatusSuccess, time.Time{})))
		}(i)
	}
	wg.Wait()

	p, err := s.ListQueries(ctx, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 20, p.Total)
}

func TestFileStoreSecurityEvents(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.InsertSecurityEvent(ctx, SecurityEvent{Symptom: "drop table", RiskScore: 100, SourceChannel: domain.ChannelAPI}))
	events, err := s.SecurityEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 100, events[0].RiskScore)
	assert.NotNil(t, events[0].Reasons)
}

type supabaseFake struct {
	t        *testing.T
	inserted []map[string]any
	status   int
}

func (f *supabaseFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := f.t
	assert.Equal(t, "service-key", r.Header.Get("apikey"))
	assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
	assert.Equal(t, "return=representation,count=exact", r.Header.Get("Prefer"))

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
		return
	}

	switch {
	case r.Method == http.MethodPost:
		var row map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&row))
		f.inserted = append(f.inserted, row)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode([]map[string]any{row})

	case r.URL.Query().Get("select") == "*":
		assert.Equal(t, "/rest/v1/queries", r.URL.Path)
		assert.Equal(t, "timestamp.desc", r.URL.Query().Get("order"))
		assert.Equal(t, "20-29", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "20-21/22")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte(`[{"id":"a","symptom":"头痛","status":"success","timestamp":"2025-01-01T08:00:00Z"},
			{"id":"b","symptom":"咳嗽","status":"no_match","timestamp":"2025-01-01T07:00:00Z"}]`))

	default:
		assert.Equal(t, "status,server_duration_ms,total_duration_ms", r.URL.Query().Get("select"))
		assert.Equal(t, "0-999", r.Header.Get("Range"))
		_, _ = w.Write([]byte(`[{"status":"success","server_duration_ms":10,"total_duration_ms":null}]`))
	}
}

func TestSupabaseStore(t *testing.T) {
	fake := &supabaseFake{t: t}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s := NewSupabaseStore(srv.URL+"/", "service-key", srv.Client())
	ctx := context.Background()

	require.NoError(t, s.InsertQuery(ctx, sampleRecord("头痛", domain.StatusSuccess, time.Time{})))
	require.Len(t, fake.inserted, 1)
	assert.Equal(t, "头痛", fake.inserted[0]["symptom"])
	assert.Equal(t, "api", fake.inserted[0]["source_channel"])
	assert.NotEmpty(t, fake.inserted[0]["id"])

	p, err := s.ListQueries(ctx, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, 22, p.Total)
	assert.Equal(t, 3, p.Page)
	require.Len(t, p.Items, 2)
	assert.Equal(t, domain.StatusNoMatch, p.Items[1].Status)

	out, err := s.RecentOutcomes(ctx, 1000)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out[0].TotalDurationMS)
	assert.Equal(t, 10.0, *out[0].ServerDurationMS)
}

func TestSupabaseStoreSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(&supabaseFake{t: t, status: http.StatusInternalServerError})
	defer srv.Close()

	s := NewSupabaseStore(srv.URL, "service-key", srv.Client())
	_, err := s.ListQueries(context.Background(), 1, 20)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "500")

	err = s.InsertSecurityEvent(context.Background(), SecurityEvent{Symptom: "x"})
	assert.Error(t, err)
}

func TestContentRangeTotal(t *testing.T) {
	n, ok := contentRangeTotal("0-19/57")
	assert.True(t, ok)
	assert.Equal(t, 57, n)

	_, ok = contentRangeTotal("0-19/*")
	assert.False(t, ok)
	_, ok = contentRangeTotal("")
	assert.False(t, ok)
}

type brokenStore struct{}

var errBroken = errors.New("primary down")

func (brokenStore) InsertQuery(context.Context, Record) error {
	return errBroken
}

func (brokenStore) InsertSecurityEvent(context.Context, SecurityEvent) error {
	return errBroken
}

func (brokenStore) ListQueries(context.Context, int, int) (Page, error) {
	return Page{}, errBroken
}

func (brokenStore) RecentOutcomes(context.Context, int) ([]Outcome, error) {
	return nil, errBroken
}

func TestFallbackStoreUsesFileWhenPrimaryFails(t *testing.T) {
	ctx := context.Background()
	file, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	var failures []string
	s := NewFallbackStore(brokenStore{}, file, zap.NewNop())
	s.OnPrimaryError = func(op string) { failures = append(failures, op) }

	require.NoError(t, s.InsertQuery(ctx, sampleRecord("头痛", domain.StatusSuccess, time.Time{})))
	require.NoError(t, s.InsertSecurityEvent(ctx, SecurityEvent{Symptom: "x"}))

	p, err := s.ListQueries(ctx, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Total)

	out, err := s.RecentOutcomes(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	assert.Equal(t, []string{"insert_query", "insert_security_event", "list_queries", "recent_outcomes"}, failures)
}
