package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examline/internal/config"
	"examline/internal/db"
	"examline/internal/domain"
	"examline/internal/engine"
	"examline/internal/metrics"
	"examline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	_, err := db.EnsureWorkspace(workspace)
	require.NoError(t, err)
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))

	reg := prometheus.NewRegistry()
	e := engine.New(conn, config.Default())
	e.Metrics = metrics.NewPrometheus(reg, "examline")
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

// seed creates a job with the given workers attached and n submitted items.
func seed(t *testing.T, srv *testServer, jobID string, workers []string, n int) []string {
	t.Helper()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/jobs", CreateJobRequest{ID: jobID, Title: "Chemistry " + jobID}, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	for _, w := range workers {
		res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/workers", CreateWorkerRequest{ID: w, Name: "Examiner " + w}, nil)
		require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
		res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/jobs/"+jobID+"/workers", AddJobWorkerRequest{WorkerID: w}, nil)
		require.Equal(t, http.StatusNoContent, res.StatusCode, string(body))
	}
	if n == 0 {
		return nil
	}
	subs := make([]string, n)
	for i := range subs {
		subs[i] = fmt.Sprintf("student-%02d", i)
	}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/jobs/"+jobID+"/items", SubmitItemsRequest{SubmitterIDs: subs}, map[string]string{"X-Actor-Id": "registrar"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	items := decode[ItemsResponse](t, body)
	ids := make([]string, len(items.Items))
	for i, it := range items.Items {
		ids[i] = it.ID
	}
	return ids
}

func TestHealthAndOpenAPI(t *testing.T) {
	srv := newTestServer(t)

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"ok","database":"ok"}`, string(body))

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var oas struct {
		Paths map[string]map[string]struct {
			Responses map[string]any `json:"responses"`
		} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(body, &oas))
	require.Contains(t, oas.Paths, "/v1/jobs/{job_id}/distribute")
	require.Contains(t, oas.Paths, "/v1/items/{item_id}/reallocate")
	require.Contains(t, oas.Paths, "/v1/sweep")
	assert.Contains(t, oas.Paths["/v1/sweep"]["post"].Responses, "default")

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/docs", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "/v1/openapi.json")
}

func TestDistributeAndReallocate(t *testing.T) {
	srv := newTestServer(t)
	ids := seed(t, srv, "chem", []string{"ana", "ben"}, 6)

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/jobs/chem/distribute", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	dist := decode[engine.DistributionResult](t, body)
	assert.Equal(t, 6, dist.Assigned)
	assert.Empty(t, dist.Failed)
	assert.NotEmpty(t, dist.Plan.Fingerprint)

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/items/"+ids[0], nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	detail := decode[ItemDetailResponse](t, body)
	require.NotNil(t, detail.WorkerID)
	require.Len(t, detail.History, 1)
	from := *detail.WorkerID
	to := "ana"
	if from == "ana" {
		to = "ben"
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/items/"+ids[0]+"/reallocate", ReallocateRequest{WorkerID: to}, map[string]string{"X-Actor-Id": "head-examiner"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	moved := decode[engine.ReallocationResult](t, body)
	assert.Equal(t, from, moved.FromWorkerID)
	assert.Equal(t, to, moved.ToWorkerID)
	assert.Equal(t, 1, moved.ReassignmentCount)

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/items/"+ids[0]+"/complete", ItemActionRequest{WorkerID: to}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Equal(t, domain.StatusCompleted, decode[domain.WorkItem](t, body).Status)

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/items/"+ids[0]+"/reallocate", ReallocateRequest{WorkerID: from}, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(body))
	env := decode[errorEnvelope](t, body)
	assert.Equal(t, "invalid_state", env.Error.Code)
	assert.Equal(t, domain.StatusCompleted, env.Error.Details["status"])

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/workers/"+to, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	w := decode[domain.Worker](t, body)
	assert.Equal(t, 1, w.Stats.TotalCompleted)

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/jobs/chem/items?unassigned=true", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Empty(t, decode[ItemsResponse](t, body).Items)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	seed(t, srv, "bio", nil, 3)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"no eligible worker", http.MethodPost, "/v1/jobs/bio/distribute", nil, http.StatusNotFound, "no_eligible_worker"},
		{"unknown job", http.MethodGet, "/v1/jobs/missing", nil, http.StatusNotFound, "not_found"},
		{"unknown item", http.MethodPost, "/v1/items/nope/reallocate", ReallocateRequest{WorkerID: "ana"}, http.StatusNotFound, "not_found"},
		{"missing title", http.MethodPost, "/v1/jobs", map[string]string{"id": "x"}, http.StatusBadRequest, "bad_request"},
		{"bad sweep thresholds", http.MethodPost, "/v1/sweep", SweepRequest{IdleHours: 4, WarningHours: 6}, http.StatusBadRequest, "bad_request"},
		{"bad cursor", http.MethodGet, "/v1/events?cursor=abc", nil, http.StatusBadRequest, "bad_request"},
		{"patch without state", http.MethodPatch, "/v1/workers/anyone", UpdateWorkerRequest{}, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, body := doJSON(t, srv.Client(), tc.method, srv.URL+tc.path, tc.body, nil)
			require.Equal(t, tc.status, res.StatusCode, string(body))
			assert.Equal(t, tc.code, decode[errorEnvelope](t, body).Error.Code)
		})
	}
}

func TestCloseJobBlocksDistribution(t *testing.T) {
	srv := newTestServer(t)
	seed(t, srv, "geo", []string{"cal"}, 2)

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/jobs/geo/close", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	assert.Equal(t, domain.JobClosed, decode[domain.Job](t, body).Status)

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/jobs/geo/distribute", nil, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(body))
}

func TestSweepWithDefaults(t *testing.T) {
	srv := newTestServer(t)
	seed(t, srv, "hist", []string{"dee"}, 2)
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/jobs/hist/distribute", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/sweep", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	report := decode[engine.SweepReport](t, body)
	assert.Equal(t, 24.0, report.IdleThresholdHours)
	assert.Equal(t, 12.0, report.WarningThresholdHours)
	assert.Empty(t, report.Warned)
	assert.Empty(t, report.Reallocated)
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t)
	seed(t, srv, "art", []string{"eve", "fay"}, 1)

	var seen []int64
	cursor := ""
	for page := 0; page < 10; page++ {
		url := srv.URL + "/v1/events?limit=2"
		if cursor != "" {
			url += "&cursor=" + cursor
		}
		res, body := doJSON(t, srv.Client(), http.MethodGet, url, nil, nil)
		require.Equal(t, http.StatusOK, res.StatusCode, string(body))
		p := decode[paginatedEvents](t, body)
		for _, evt := range p.Items {
			seen = append(seen, evt.ID)
		}
		if p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}
	// job.created, 2x worker.created, 2x job.worker.added, items.submitted
	require.Len(t, seen, 6)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i], seen[i-1])
	}

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?entity_kind=job&job_id=art", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	p := decode[paginatedEvents](t, body)
	require.Len(t, p.Items, 2)
	assert.Equal(t, "items.submitted", p.Items[0].Type)
	assert.Equal(t, "registrar", p.Items[0].ActorID)
	assert.JSONEq(t, `{"count":1}`, string(p.Items[0].Payload))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	seed(t, srv, "lit", []string{"gus"}, 3)
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/jobs/lit/distribute", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.Contains(string(body), "examline_distribution_items_total 3"), string(body))
}
