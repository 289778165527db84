package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/internal/batch"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/convert"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/export"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
	"github.com/joseph-ayodele/docextract/internal/repository"
	"github.com/joseph-ayodele/docextract/internal/session"
	"github.com/joseph-ayodele/docextract/internal/stream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type sseEvent struct {
	Name string
	Data stream.Event
	Raw  json.RawMessage
}

func echoModel() llm.BatchExtractor {
	return llm.ExtractorFunc(func(_ context.Context, pc entity.ProcessingContext, reqs []llm.Request) ([]llm.Outcome, error) {
		out := make([]llm.Outcome, len(reqs))
		for i := range reqs {
			out[i] = llm.Outcome{
				Data:  json.RawMessage(fmt.Sprintf(`{"vendor":"ACME","model":%q}`, pc.ModelID())),
				Model: pc.ModelID(),
			}
		}
		return out, nil
	})
}

type downPinger struct{}

func (downPinger) HealthCheck(context.Context, time.Duration) error {
	return errors.New("dial tcp: connection refused")
}

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dsn := "file:" + filepath.Join(t.TempDir(), "http.db")
	db, err := repository.Open(context.Background(), repository.Config{Driver: repository.DriverSQLite, DSN: dsn}, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	sched := batch.NewScheduler(echoModel(), nil, logger, batch.WithFlushInterval(5*time.Millisecond))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})
	mgr := session.NewManager(repository.NewRepositories(db, logger), session.Config{}, logger)
	svc := pipeline.NewService(mgr, sched, convert.New(common.ConvertConfig{}, logger), llm.NewRegistry(), logger)

	opts = append([]Option{WithExporter(export.NewService(svc, logger)), WithPinger(db)}, opts...)
	ts := httptest.NewServer(NewServer(svc, logger, opts...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

// readSSE parses an event stream body until EOF.
func readSSE(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			cur.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			cur.Raw = json.RawMessage(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			require.NoError(t, json.Unmarshal(cur.Raw, &cur.Data))
		case line == "" && cur.Name != "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	require.NoError(t, sc.Err())
	return events
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func submit(t *testing.T, ts *httptest.Server, files ...map[string]string) (string, []sseEvent) {
	t.Helper()
	resp := postJSON(t, ts.URL+"/v1/runs", map[string]any{
		"schema_key": "receipt",
		"model_id":   "gpt-4o-mini",
		"files":      files,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	return resp.Header.Get("X-Session-ID"), readSSE(t, resp.Body)
}

func TestSubmitRun_JSONStreamsEvents(t *testing.T) {
	ts := newTestServer(t)
	sid, events := submit(t, ts,
		map[string]string{"filename": "a.md", "content": "receipt a"},
		map[string]string{"filename": "b.txt", "content": "receipt b"},
	)
	require.NotEmpty(t, sid)
	require.NotEmpty(t, events)

	assert.Equal(t, "init", events[0].Name)
	last := events[len(events)-1]
	assert.Equal(t, "complete", last.Name)

	results := 0
	for i, ev := range events {
		if i > 0 {
			assert.Greater(t, ev.Data.Seq, events[i-1].Data.Seq)
		}
		if ev.Name == "result" {
			results++
		}
	}
	assert.Equal(t, 2, results)

	var body struct {
		Payload stream.CompletePayload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(last.Raw, &body))
	assert.Equal(t, 2, body.Payload.Successful)
}

func TestSubmitRun_Multipart(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("schema_key", "receipt"))
	fw, err := mw.CreateFormFile("files", "upload.md")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("# receipt\nTotal 3.00"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/v1/runs", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readSSE(t, resp.Body)
	require.NotEmpty(t, events)
	assert.Equal(t, "complete", events[len(events)-1].Name)
}

func TestSubmitRun_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/runs", map[string]any{"schema_key": "receipt"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/runs", map[string]any{
		"schema_key": "unknown-schema",
		"files":      []map[string]string{{"filename": "a.md", "content": "x"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "INVALID_CONTEXT", body["code"])
}

func TestReExtractCompareAndExport(t *testing.T) {
	ts := newTestServer(t)
	sid, _ := submit(t, ts, map[string]string{"filename": "a.md", "content": "receipt a"})

	resp := postJSON(t, ts.URL+"/v1/sessions/"+sid+"/versions", map[string]any{"model_id": "gpt-4o"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := readSSE(t, resp.Body)
	assert.Equal(t, "complete", events[len(events)-1].Name)

	resp = postJSON(t, ts.URL+"/v1/sessions/"+sid+"/versions", map[string]any{"model_id": "gpt-4o"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var versions struct {
		Versions []entity.Version `json:"versions"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/sessions/"+sid+"/versions", &versions))
	require.Len(t, versions.Versions, 2)
	assert.Equal(t, 2, versions.Versions[1].Number)

	var cmp struct {
		Files []struct {
			Fields []struct {
				Path   string `json:"path"`
				Status string `json:"status"`
			} `json:"fields"`
		} `json:"files"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/sessions/"+sid+"/compare?a=1&b=2", &cmp))
	require.Len(t, cmp.Files, 1)
	statuses := map[string]string{}
	for _, f := range cmp.Files[0].Fields {
		statuses[f.Path] = f.Status
	}
	assert.Equal(t, "different", statuses["model"])
	assert.Equal(t, "same", statuses["vendor"])

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/v1/sessions/"+sid+"/compare?a=1", nil))

	xresp, err := http.Get(ts.URL + "/v1/sessions/" + sid + "/export?versions=1,2")
	require.NoError(t, err)
	defer xresp.Body.Close()
	require.Equal(t, http.StatusOK, xresp.StatusCode)
	assert.Equal(t, xlsxContentType, xresp.Header.Get("Content-Type"))
	data, err := io.ReadAll(xresp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PK")))
}

func TestSessionErrors(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/v1/sessions/not-a-uuid/versions", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/v1/sessions/7d9f3c4e-1b2a-4c5d-8e6f-0a1b2c3d4e5f/versions", nil))

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/runs/missing", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndStats(t *testing.T) {
	ts := newTestServer(t)
	var health map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &health))
	assert.Equal(t, "ok", health["status"])

	var stats pipeline.Stats
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/v1/cache/stats", &stats))
	assert.Zero(t, stats.ActiveRuns)

	down := newTestServer(t, WithPinger(downPinger{}))
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, down.URL+"/health", nil))
}
