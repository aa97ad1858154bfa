package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/EmpoweredVote/EV-Reforms/internal/middleware"
	"github.com/EmpoweredVote/EV-Reforms/internal/reforms"
	"github.com/EmpoweredVote/EV-Reforms/internal/seeds"
)

const adminKey = "s3cret"

const batchJSON = `{
  "source": "PRN",
  "reforms": [{
    "place": {"name": "Springfield", "state_code": "IL", "kind": "city"},
    "reform_types": ["parking:eliminated"],
    "status": "Adopted",
    "adoption_date": "2024-01-15",
    "source": {"source_url": "https://example.org/springfield"},
    "citations": [{"url": "https://example.org/council-minutes"}]
  }, {
    "place": {"name": "Springfield", "state_code": "IL", "kind": "city"},
    "reform_types": ["housing:adu"],
    "summary": "ADUs allowed by right"
  }]
}`

type testServer struct {
	store *reforms.MemStore
	srv   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := reforms.NewMemStore()
	require.NoError(t, seeds.SeedAll(context.Background(), st))

	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)

	srv := httptest.NewServer(SetupRoutes(st, string(hash)))
	t.Cleanup(srv.Close)
	return &testServer{store: st, srv: srv}
}

func (ts *testServer) do(t *testing.T, method, path, body string, admin bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set(middleware.AdminKeyHeader, adminKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) ingest(t *testing.T) ingestResponse {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/admin/ingest", batchJSON, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[ingestResponse](t, resp)
	require.Len(t, out.ReformIDs, 2)
	return out
}

func TestRootAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminRoutesRequireKey(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/admin/ingest", batchJSON, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/admin/ingestions", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, ts.store.ReformCount())
}

func TestIngestAndGetReform(t *testing.T) {
	ts := newTestServer(t)
	out := ts.ingest(t)
	assert.Equal(t, "success", out.Run.Status)
	assert.Equal(t, 2, out.Run.ReformsCreated)
	assert.Empty(t, out.Failures)

	resp := ts.do(t, http.MethodGet, "/reforms/"+itoa(out.ReformIDs[0]), "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[map[string]any](t, resp)
	assert.Equal(t, "adopted", view["status"])
	assert.Len(t, view["reform_type_ids"], 1)
	assert.Len(t, view["sources"], 1)
	assert.Len(t, view["citations"], 1)

	// The same batch again only updates.
	again := ts.ingest(t)
	assert.Equal(t, 0, again.Run.ReformsCreated)
	assert.Equal(t, out.ReformIDs, again.ReformIDs)
}

func TestIngestDryRun(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/admin/ingest?dry_run=true", batchJSON, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, ts.store.ReformCount())
}

func TestIngestUnknownSource(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/admin/ingest?source=nobody", batchJSON, true)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	out := decode[ingestResponse](t, resp)
	assert.Equal(t, "failed", out.Run.Status)
	require.NotNil(t, out.Run.ErrorMessage)
	assert.Contains(t, *out.Run.ErrorMessage, "nobody")
}

func TestIngestBadJSON(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/admin/ingest", `{"source":`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetReformErrors(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/reforms/abc", "", false).StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/reforms/999", "", false).StatusCode)
}

func TestEditReform(t *testing.T) {
	ts := newTestServer(t)
	out := ts.ingest(t)

	resp := ts.do(t, http.MethodPatch, "/admin/reforms/"+itoa(out.ReformIDs[1]),
		`{"summary": "Edited", "scope": ["citywide"]}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	r := decode[reforms.Reform](t, resp)
	require.NotNil(t, r.Summary)
	assert.Equal(t, "Edited", *r.Summary)
	assert.Equal(t, []string{"citywide"}, []string(r.Scope))

	resp = ts.do(t, http.MethodPatch, "/admin/reforms/999", `{"summary": "x"}`, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMergeReform(t *testing.T) {
	ts := newTestServer(t)
	out := ts.ingest(t)
	target, loser := out.ReformIDs[0], out.ReformIDs[1]

	resp := ts.do(t, http.MethodPost, "/admin/reforms/"+itoa(loser)+"/merge",
		`{"target_id": `+itoa(target)+`}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/reforms/"+itoa(loser), "", false).StatusCode)

	resp = ts.do(t, http.MethodGet, "/reforms/"+itoa(target), "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[map[string]any](t, resp)
	assert.Equal(t, "ADUs allowed by right", view["summary"])
	assert.Len(t, view["reform_type_ids"], 2)

	// Merging a reform that no longer exists.
	resp = ts.do(t, http.MethodPost, "/admin/reforms/"+itoa(loser)+"/merge",
		`{"target_id": `+itoa(target)+`}`, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/admin/reforms/"+itoa(target)+"/merge", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListIngestions(t *testing.T) {
	ts := newTestServer(t)
	ts.ingest(t)
	ts.ingest(t)

	resp := ts.do(t, http.MethodGet, "/admin/ingestions?limit=1", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[[]reforms.DataIngestion](t, resp)
	require.Len(t, runs, 1)
	assert.Equal(t, "PRN", runs[0].SourceName)

	resp = ts.do(t, http.MethodGet, "/admin/ingestions?limit=zero", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
