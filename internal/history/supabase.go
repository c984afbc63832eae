package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable marks failures caused by the remote store rather than the
// request: transport errors and 5xx responses.
var ErrUnavailable = errors.New("history store unavailable")

const (
	queriesTable  = "queries"
	securityTable = "security_events"
)

// SupabaseStore talks to the PostgREST endpoint of a Supabase project.
type SupabaseStore struct {
	baseURL string
	key     string
	client  *http.Client
}

func NewSupabaseStore(projectURL, serviceKey string, client *http.Client) *SupabaseStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SupabaseStore{
		baseURL: strings.TrimRight(projectURL, "/") + "/rest/v1/",
		key:     serviceKey,
		client:  client,
	}
}

func (s *SupabaseStore) InsertQuery(ctx context.Context, rec Record) error {
	rec.prepare()
	return s.insert(ctx, queriesTable, rec)
}

func (s *SupabaseStore) InsertSecurityEvent(ctx context.Context, ev SecurityEvent) error {
	ev.prepare()
	return s.insert(ctx, securityTable, ev)
}

func (s *SupabaseStore) ListQueries(ctx context.Context, page, pageSize int) (Page, error) {
	page, pageSize = NormalizePaging(page, pageSize)
	offset := (page - 1) * pageSize

	resp, err := s.get(ctx, queriesTable, "*", offset, offset+pageSize-1)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	var items []Record
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return Page{}, fmt.Errorf("decode %s: %w", queriesTable, err)
	}
	if items == nil {
		items = []Record{}
	}

	total, ok := contentRangeTotal(resp.Header.Get("Content-Range"))
	if !ok {
		total = len(items)
	}
	return Page{Items: items, Page: page, PageSize: pageSize, Total: total}, nil
}

func (s *SupabaseStore) RecentOutcomes(ctx context.Context, limit int) ([]Outcome, error) {
	if limit < 1 {
		return []Outcome{}, nil
	}
	resp, err := s.get(ctx, queriesTable, "status,server_duration_ms,total_duration_ms", 0, limit-1)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out []Outcome
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode outcomes: %w", err)
	}
	if out == nil {
		out = []Outcome{}
	}
	return out, nil
}

func (s *SupabaseStore) insert(ctx context.Context, table string, row any) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode %s row: %w", table, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+table, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("insert %s: %w: %v", table, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError("insert "+table, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// get fetches rows [from, to] ordered newest first. The caller closes the body.
func (s *SupabaseStore) get(ctx context.Context, table, columns string, from, to int) (*http.Response, error) {
	q := url.Values{}
	q.Set("select", columns)
	q.Set("order", "timestamp.desc")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+table+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Range-Unit", "items")
	req.Header.Set("Range", fmt.Sprintf("%d-%d", from, to))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w: %v", table, ErrUnavailable, err)
	}
	// 206 is returned when the range does not cover every row
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		defer resp.Body.Close()
		return nil, statusError("query "+table, resp)
	}
	return resp, nil
}

func (s *SupabaseStore) setHeaders(req *http.Request) {
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation,count=exact")
}

func statusError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// contentRangeTotal parses the total from "0-19/57". A "*" total is unknown.
func contentRangeTotal(header string) (int, bool) {
	i := strings.LastIndexByte(header, '/')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(header[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
