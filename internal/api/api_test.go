package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/saver"
)

func testTable() *saver.Table {
	return &saver.Table{
		Columns: []string{"context_id", "history_id", "flow_label", "node_label"},
		Rows: []saver.Row{
			{"context_id": "A", "history_id": int64(0), "flow_label": "root", "node_label": "start"},
			{"context_id": "A", "history_id": int64(1), "flow_label": "left", "node_label": "step_1"},
			{"context_id": "B", "history_id": int64(0), "flow_label": "root", "node_label": "start"},
			{"context_id": "B", "history_id": int64(1), "flow_label": "right", "node_label": "step_1"},
		},
	}
}

func newTestServer(t *testing.T, table *saver.Table) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(table, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp
}

func TestTransitionCountsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testTable())

	var counts map[string]int
	resp := getJSON(t, srv.URL+"/api/v1/stats/transition-counts", &counts)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	if counts["root:start->left:step_1"] != 1 || counts["root:start->right:step_1"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestTransitionProbsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testTable())

	var probs map[string]float64
	resp := getJSON(t, srv.URL+"/api/v1/stats/transition-probs", &probs)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if probs["root:start->left:step_1"] != 0.5 {
		t.Errorf("probs = %v, want root:start->left:step_1 = 0.5", probs)
	}
}

func TestMissingColumnsResponse(t *testing.T) {
	t.Parallel()

	table := &saver.Table{
		Columns: []string{"context_id", "history_id"},
		Rows:    []saver.Row{{"context_id": "A", "history_id": int64(0)}},
	}
	srv := newTestServer(t, table)

	var body ErrorResponse
	resp := getJSON(t, srv.URL+"/api/v1/stats/transition-counts", &body)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	want := []string{"flow_label", "node_label"}
	if len(body.MissingColumns) != 2 || body.MissingColumns[0] != want[0] || body.MissingColumns[1] != want[1] {
		t.Errorf("missing_columns = %v, want %v", body.MissingColumns, want)
	}
}

func TestEmptyTable(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, nil)

	var counts map[string]int
	resp := getJSON(t, srv.URL+"/api/v1/stats/transition-counts", &counts)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(counts) != 0 {
		t.Errorf("counts = %v, want empty", counts)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testTable())

	var health HealthResponse
	resp := getJSON(t, srv.URL+"/api/health", &health)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
	if health.Rows != 4 {
		t.Errorf("rows = %d, want 4", health.Rows)
	}
}

func TestHandleExtension(t *testing.T) {
	t.Parallel()

	server := NewServer(testTable(), nil)
	server.Handle("GET /api/v1/stats/rows", func(table *saver.Table) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]int{"rows": table.Len()})
		}
	})

	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	var body map[string]int
	resp := getJSON(t, srv.URL+"/api/v1/stats/rows", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["rows"] != 4 {
		t.Errorf("rows = %d, want 4", body["rows"])
	}
}

func TestCORSHeaders(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, testTable())

	req, _ := http.NewRequest("GET", srv.URL+"/api/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q, want the localhost origin echoed", got)
	}

	req, _ = http.NewRequest("GET", srv.URL+"/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("non-localhost origin should get no CORS header, got %q", got)
	}
}
