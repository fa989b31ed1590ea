package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenlabs/websentry/internal/app"
	"github.com/wrenlabs/websentry/internal/config"
	"github.com/wrenlabs/websentry/internal/history"
	"github.com/wrenlabs/websentry/internal/model"
	"github.com/wrenlabs/websentry/internal/scanerr"
	"github.com/wrenlabs/websentry/internal/server"
	"github.com/wrenlabs/websentry/internal/target"
	"github.com/wrenlabs/websentry/internal/webclient"
)

type stubValidator struct {
	err error
}

func (v *stubValidator) Validate(_ context.Context, rawURL string) (*target.Result, error) {
	if v.err != nil {
		return nil, v.err
	}
	return &target.Result{NormalizedURL: "https://example.com:443/", Host: "example.com"}, nil
}

type stubClient struct{}

func (stubClient) Fetch(_ context.Context, url string) (*webclient.Response, error) {
	h := http.Header{}
	h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
	return &webclient.Response{
		URL:        url,
		FinalURL:   "https://example.com/",
		StatusCode: 200,
		Headers:    h,
		FetchedAt:  time.Now(),
	}, nil
}

func (stubClient) Close() error { return nil }

type stubDNS struct{}

func (stubDNS) CheckDomain(context.Context, string) (model.Finding, model.Finding) {
	return model.Finding{Key: model.KeyDNSSPF, Present: true, Score: 5},
		model.Finding{Key: model.KeyDNSDMARC}
}

type stubStore struct {
	records []history.Record
	listErr error
}

func (s *stubStore) Save(_ context.Context, rec history.Record) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *stubStore) ListByCaller(_ context.Context, callerID string, _ int) ([]history.Record, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []history.Record
	for _, rec := range s.records {
		if rec.CallerID == callerID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *stubStore) Close() error { return nil }

type testAPI struct {
	ts    *httptest.Server
	store *stubStore
}

func newTestAPI(t *testing.T, sync bool, validatorErr error) *testAPI {
	t.Helper()
	cfg := config.Default()
	cfg.SyncMode = sync
	cfg.TaskTimeLimit = 5 * time.Second
	cfg.TaskSoftTimeLimit = 4 * time.Second

	store := &stubStore{}
	orch := app.NewOrchestrator(cfg, &stubValidator{err: validatorErr}, stubClient{}, stubDNS{}, nil, store, nil)
	srv := server.NewServer(server.Config{ListenAddr: ":0"}, orch, store)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)
	return &testAPI{ts: ts, store: store}
}

func (a *testAPI) postScan(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(a.ts.URL+"/scan", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestScan_SyncModeReturnsResult(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, true, nil)

	resp := api.postScan(t, `{"url":"example.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Cached bool              `json:"cached"`
		Result *model.ScanResult `json:"result"`
	}
	decodeBody(t, resp, &body)
	assert.False(t, body.Cached)
	require.NotNil(t, body.Result)
	assert.Equal(t, "example.com", body.Result.Domain)
	assert.Greater(t, body.Result.Score, 0)
}

func TestScan_InvalidJSON(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, true, nil)

	resp := api.postScan(t, `{"url": `)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestScan_SSRFRejectedIs400(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, true,
		scanerr.New(scanerr.KindSSRFRejected, "access to private/internal addresses not allowed (169.254.169.254)"))

	resp := api.postScan(t, `{"url":"http://169.254.169.254/latest/meta-data/"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Contains(t, body["error"], "private/internal addresses")
}

func TestScan_AsyncLifecycleOverREST(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, false, nil)

	resp := api.postScan(t, `{"url":"example.com","caller_id":"alice"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	decodeBody(t, resp, &accepted)
	require.NotEmpty(t, accepted.TaskID)
	assert.Equal(t, "queued", accepted.Status)

	var task struct {
		Status string            `json:"status"`
		Result *model.ScanResult `json:"result"`
	}
	require.Eventually(t, func() bool {
		statusResp, err := http.Get(api.ts.URL + "/scan/status/" + accepted.TaskID)
		if err != nil {
			return false
		}
		decodeBody(t, statusResp, &task)
		return task.Status == "complete" || task.Status == "failed"
	}, 3*time.Second, 25*time.Millisecond)

	assert.Equal(t, "complete", task.Status)
	require.NotNil(t, task.Result)
	assert.Equal(t, "example.com", task.Result.Domain)
}

func TestScanStatus_UnknownTask(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, true, nil)

	resp, err := http.Get(api.ts.URL + "/scan/status/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelScan_UnknownTask(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, true, nil)

	req, err := http.NewRequest(http.MethodDelete, api.ts.URL+"/scan/nope", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistory(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, true, nil)
	api.store.records = []history.Record{
		{ID: "1", CallerID: "alice", Domain: "example.com", Score: 85},
		{ID: "2", CallerID: "bob", Domain: "example.org", Score: 40},
	}

	resp, err := http.Get(api.ts.URL + "/history?caller_id=alice")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Scans []history.Record `json:"scans"`
		Count int              `json:"count"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Scans, 1)
	assert.Equal(t, "example.com", body.Scans[0].Domain)
}

func TestHistory_EmptyIsArrayNotNull(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, true, nil)

	resp, err := http.Get(api.ts.URL + "/history?caller_id=nobody")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"scans":[]`)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, true, nil)

	resp, err := http.Get(api.ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestCORSHeadersPresent(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, true, nil)

	resp, err := http.Get(api.ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestScanWS_StreamsEventsToCompletion(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t, false, nil)

	wsURL := "ws" + strings.TrimPrefix(api.ts.URL, "http") + "/ws/scan"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"url": "example.com"}))

	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))

	sawComplete := false
	for time.Now().Before(deadline) {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if msg["status"] == "complete" {
			sawComplete = true
			if _, ok := msg["result"]; ok {
				break
			}
		}
	}
	assert.True(t, sawComplete)
}
