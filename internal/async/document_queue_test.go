package async

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/batch"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/convert"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
	"github.com/joseph-ayodele/docextract/internal/repository"
	"github.com/joseph-ayodele/docextract/internal/session"
	"github.com/joseph-ayodele/docextract/internal/stream"
)

func newService(t *testing.T, logger *slog.Logger) *pipeline.Service {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "queue.db")
	db, err := repository.Open(context.Background(), repository.Config{Driver: repository.DriverSQLite, DSN: dsn}, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	ext := llm.ExtractorFunc(func(_ context.Context, _ entity.ProcessingContext, reqs []llm.Request) ([]llm.Outcome, error) {
		out := make([]llm.Outcome, len(reqs))
		for i := range reqs {
			out[i] = llm.Outcome{Data: json.RawMessage(`{"vendor":"ACME"}`)}
		}
		return out, nil
	})
	sched := batch.NewScheduler(ext, nil, logger, batch.WithFlushInterval(5*time.Millisecond))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sched.Shutdown(ctx)
	})
	mgr := session.NewManager(repository.NewRepositories(db, logger), session.Config{}, logger)
	return pipeline.NewService(mgr, sched, convert.New(common.ConvertConfig{}, logger), llm.NewRegistry(), logger)
}

func TestDocumentQueue_SubmitsEachFile(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a.md"), filepath.Join(dir, "b.txt"), filepath.Join(dir, "missing.md")}
	require.NoError(t, os.WriteFile(paths[0], []byte("receipt a"), 0o644))
	require.NoError(t, os.WriteFile(paths[1], []byte("receipt b"), 0o644))

	var (
		mu       sync.Mutex
		terminal = map[string]constants.EventType{}
		results  = map[string]stream.ResultPayload{}
	)
	q := NewDocumentQueue(newService(t, logger), pipeline.SubmitRequest{SchemaKey: "receipt", ModelID: "gpt-4o-mini"}, logger,
		WithWorkers(2),
		WithQueueSize(4),
		WithEventHook(func(job Job, ev stream.Event) {
			mu.Lock()
			defer mu.Unlock()
			if ev.Type.Terminal() {
				terminal[job.Path] = ev.Type
			}
			if p, ok := ev.Payload.(stream.ResultPayload); ok {
				results[job.Path] = p
			}
		}),
	)

	ctx := context.Background()
	for _, p := range paths {
		require.NoError(t, q.Enqueue(ctx, NewJob(p)))
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	q.Shutdown(shutdownCtx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, constants.EventComplete, terminal[paths[0]])
	assert.Equal(t, constants.EventComplete, terminal[paths[1]])
	assert.NotContains(t, terminal, paths[2])
	assert.Equal(t, "a.md", results[paths[0]].Filename)
	assert.Equal(t, constants.ResultStatusSuccess, results[paths[1]].Status)

	assert.ErrorIs(t, q.Enqueue(ctx, NewJob(paths[0])), ErrQueueClosed)
}
