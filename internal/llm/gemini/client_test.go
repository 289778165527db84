package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

// redirect sends every request to the test server, keeping path and query.
type redirect struct{ target *url.URL }

func (rt redirect) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	r.Host = ""
	return http.DefaultTransport.RoundTrip(r)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	c, err := NewClient(context.Background(), Config{APIKey: "test-key"}, llm.NewRegistry(), nil,
		option.WithHTTPClient(&http.Client{Transport: redirect{target: target}}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func candidate(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"role": "model", "parts": []map[string]any{{"text": text}}}},
		},
	})
	return string(b)
}

func TestClient_ExtractBatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)
		_, _ = io.WriteString(w, candidate(`{"results":[
			{"index":0,"data":{"summary":"first"}},
			{"index":1,"error":"not a document"}
		]}`))
	})
	pc, err := entity.NewProcessingContext("document", "", "gemini-1.5-flash")
	require.NoError(t, err)

	outcomes, err := c.ExtractBatch(context.Background(), pc, []llm.Request{
		{ID: "a", Filename: "a.md", Content: "# A"},
		{ID: "b", Filename: "b.md", Content: "???"},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.JSONEq(t, `{"summary":"first"}`, string(outcomes[0].Data))
	assert.Equal(t, "gemini-1.5-flash", outcomes[0].Model)
	assert.True(t, errors.Is(outcomes[1].Err, common.ErrExtractionSemantic))
}

func TestClient_ConcurrentContextsKeepTheirOwnSettings(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string][]string{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies[r.URL.Path] = append(bodies[r.URL.Path], string(b))
		mu.Unlock()
		_, _ = io.WriteString(w, candidate(`{"results":[{"index":0,"data":{"summary":"ok"}}]}`))
	})

	contexts := map[string]string{"gemini-a": "style-alpha", "gemini-b": "style-beta"}
	var wg sync.WaitGroup
	for model, instr := range contexts {
		pc, err := entity.NewProcessingContext("document", instr, model)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcomes, err := c.ExtractBatch(context.Background(), pc, []llm.Request{{ID: "a", Content: "x"}})
				if assert.NoError(t, err) {
					assert.Equal(t, pc.ModelID(), outcomes[0].Model)
				}
			}()
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for model, instr := range contexts {
		got := bodies["/v1beta/models/"+model+":generateContent"]
		require.Len(t, got, 5, model)
		for _, body := range got {
			assert.True(t, strings.Contains(body, instr), "%s request carries its own instructions", model)
			for other, otherInstr := range contexts {
				if other != model {
					assert.False(t, strings.Contains(body, otherInstr), "%s request leaked %s instructions", model, other)
				}
			}
		}
	}
}

func TestClient_UnknownModelIsFatal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"models/gemini-nope is not found","status":"NOT_FOUND"}}`)
	})
	pc, err := entity.NewProcessingContext("document", "", "gemini-nope")
	require.NoError(t, err)

	_, err = c.ExtractBatch(context.Background(), pc, []llm.Request{{ID: "a", Content: "x"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidContext))
	assert.True(t, common.IsFatal(err))
}

func TestClient_ServerErrorIsTransport(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	pc, err := entity.NewProcessingContext("document", "", "gemini-1.5-flash")
	require.NoError(t, err)

	_, err = c.ExtractBatch(context.Background(), pc, []llm.Request{{ID: "a", Content: "x"}})
	assert.True(t, errors.Is(err, common.ErrExtractionTransport))
	assert.False(t, common.IsFatal(err))
}
