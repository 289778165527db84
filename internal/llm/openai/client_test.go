package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"model": "gpt-4o-mini-2024",
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(b)
}

func TestClient_ExtractBatch(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(b, &got))
		_, _ = io.WriteString(w, completion(`{"results":[
			{"index":0,"data":{"summary":"first"}},
			{"index":1,"error":"not a document"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL}, llm.NewRegistry(), nil)
	pc, err := entity.NewProcessingContext("document", "short summaries", "gpt-4o")
	require.NoError(t, err)

	outcomes, err := c.ExtractBatch(context.Background(), pc, []llm.Request{
		{ID: "a", Filename: "a.md", Content: "# A"},
		{ID: "b", Filename: "b.md", Content: "???"},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, "gpt-4o", got["model"], "model must come from the processing context")
	assert.NoError(t, outcomes[0].Err)
	assert.JSONEq(t, `{"summary":"first"}`, string(outcomes[0].Data))
	assert.Equal(t, "gpt-4o", outcomes[0].Model)
	assert.True(t, errors.Is(outcomes[1].Err, common.ErrExtractionSemantic))
}

func TestClient_SchemaViolationIsSemantic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completion(`{"results":[{"index":0,"data":{"title":"no summary"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL, LenientOptional: true}, nil, nil)
	pc, err := entity.NewProcessingContext("document", "", "gpt-4o-mini")
	require.NoError(t, err)

	outcomes, err := c.ExtractBatch(context.Background(), pc, []llm.Request{{ID: "a", Content: "x"}})
	require.NoError(t, err)
	assert.True(t, errors.Is(outcomes[0].Err, common.ErrExtractionSemantic))
}

func TestClient_ServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil, nil)
	pc, err := entity.NewProcessingContext("document", "", "gpt-4o-mini")
	require.NoError(t, err)

	_, err = c.ExtractBatch(context.Background(), pc, []llm.Request{{ID: "a", Content: "x"}})
	assert.True(t, errors.Is(err, common.ErrExtractionTransport))
}

func TestClient_UnknownModelIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"message":"The model does not exist"}}`)
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil, nil)
	pc, err := entity.NewProcessingContext("document", "", "gpt-nope")
	require.NoError(t, err)

	_, err = c.ExtractBatch(context.Background(), pc, []llm.Request{{ID: "a", Content: "x"}})
	assert.True(t, common.IsFatal(err))
}

func TestClient_UnknownSchemaIsFatal(t *testing.T) {
	c := NewClient(Config{APIKey: "k", BaseURL: "http://127.0.0.1:0"}, nil, nil)
	pc, err := entity.NewProcessingContext("nope", "", "gpt-4o-mini")
	require.NoError(t, err)

	_, err = c.ExtractBatch(context.Background(), pc, []llm.Request{{ID: "a", Content: "x"}})
	assert.True(t, common.IsFatal(err))
}

func TestClient_ExtractBatchPartialStreamsCompletedElements(t *testing.T) {
	chunks := []string{
		`{"results":[{"index":0,"data":{"summ`,
		`ary":"one"}},`,
		`{"index":1,"data":{"summary":"two"}}]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			b, _ := json.Marshal(map[string]any{"choices": []map[string]any{{"delta": map[string]any{"content": c}}}})
			_, _ = io.WriteString(w, "data: "+string(b)+"\n\n")
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil, nil)
	pc, err := entity.NewProcessingContext("document", "", "gpt-4o-mini")
	require.NoError(t, err)

	var partials []int
	outcomes, err := c.ExtractBatchPartial(context.Background(), pc,
		[]llm.Request{{ID: "a", Content: "x"}, {ID: "b", Content: "y"}},
		func(index int, fields json.RawMessage) { partials = append(partials, index) })
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, partials)
	require.Len(t, outcomes, 2)
	assert.JSONEq(t, `{"summary":"two"}`, string(outcomes[1].Data))
}
