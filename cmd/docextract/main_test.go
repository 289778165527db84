package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/internal/common"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "run", "watch", "versions", "compare", "export"}, names)
}

func TestRunRequiresInput(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"run"})
	root.SetOut(io.Discard)
	assert.ErrorContains(t, root.Execute(), "pass files or --dir")
}

func TestVersionsRejectsBadID(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"versions", "nope"})
	root.SetOut(io.Discard)
	assert.ErrorContains(t, root.Execute(), "invalid session id")
}

func TestNewAppOffline(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_URL", "file:"+filepath.Join(t.TempDir(), "cli.db"))
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg := common.LoadConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := newApp(context.Background(), cfg, logger, wireOptions{requireLLM: true})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	a, err := newApp(context.Background(), cfg, logger, wireOptions{})
	require.NoError(t, err)
	defer a.close()

	_, err = a.svc.ListVersions(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestVersionsCommandOutput(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_URL", "file:"+filepath.Join(t.TempDir(), "cli.db"))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"versions", uuid.NewString(), "--log-level", "error"})
	err := root.Execute()
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Empty(t, out.String())
}
