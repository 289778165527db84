package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

type stored struct {
	version *entity.Version
	results []*entity.FileVersionResult
}

type fakeSource map[int]stored

func (f fakeSource) VersionResults(_ context.Context, _ uuid.UUID, n int) (*entity.Version, []*entity.FileVersionResult, error) {
	v, ok := f[n]
	if !ok {
		return nil, nil, fmt.Errorf("version %d: %w", n, common.ErrNotFound)
	}
	return v.version, v.results, nil
}

func twoVersions() fakeSource {
	fileA, fileB := uuid.New(), uuid.New()
	src := fakeSource{}
	src[1] = stored{
		version: &entity.Version{Number: 1, ModelID: "gpt-4o-mini"},
		results: []*entity.FileVersionResult{
			{FileID: fileA, Filename: "a.md", Status: constants.ResultStatusSuccess, Data: json.RawMessage(`{"vendor":"ACME","total":4.2}`), ProcessingTime: 120 * time.Millisecond},
			{FileID: fileB, Filename: "b.md", Status: constants.ResultStatusError, Error: "conversion failure"},
		},
	}
	src[2] = stored{
		version: &entity.Version{Number: 2, ModelID: "openai/gpt-4o"},
		results: []*entity.FileVersionResult{
			{FileID: fileA, Filename: "a.md", Status: constants.ResultStatusSuccess, Data: json.RawMessage(`{"vendor":"Acme","total":4.2}`)},
		},
	}
	return src
}

func open(t *testing.T, b []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestExportVersionsXLSX_TwoVersions(t *testing.T) {
	svc := NewService(twoVersions(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	b, err := svc.ExportVersionsXLSX(context.Background(), uuid.New(), 1, 2)
	require.NoError(t, err)
	f := open(t, b)

	assert.Equal(t, []string{"V1 gpt-4o-mini", "V2 openai_gpt-4o", "Comparison"}, f.GetSheetList())

	rows, err := f.GetRows("V1 gpt-4o-mini")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Filename", "Status", "Model", "Cache Hit", "Processing (ms)", "Error", "total", "vendor"}, rows[0])
	assert.Equal(t, "a.md", rows[1][0])
	assert.Equal(t, "120", rows[1][4])
	assert.Equal(t, "4.2", rows[1][6])
	assert.Equal(t, "ACME", rows[1][7])
	assert.Equal(t, "b.md", rows[2][0])
	assert.Equal(t, "conversion failure", rows[2][5])

	cmp, err := f.GetRows("Comparison")
	require.NoError(t, err)
	require.Len(t, cmp, 3)
	assert.Equal(t, "Version 1", cmp[0][4])
	byField := map[string][]string{}
	for _, r := range cmp[1:] {
		byField[r[1]] = r
	}
	assert.Equal(t, "same", byField["total"][2])
	assert.Equal(t, "different", byField["vendor"][2])
	assert.Equal(t, "formatting", byField["vendor"][3])
}

func TestExportVersionsXLSX_SingleVersionHasNoComparison(t *testing.T) {
	svc := NewService(twoVersions(), nil)
	b, err := svc.ExportVersionsXLSX(context.Background(), uuid.New(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"V2 openai_gpt-4o"}, open(t, b).GetSheetList())
}

func TestExportVersionsXLSX_Errors(t *testing.T) {
	svc := NewService(twoVersions(), nil)
	_, err := svc.ExportVersionsXLSX(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = svc.ExportVersionsXLSX(context.Background(), uuid.New(), 1, 7)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSheetNameIsSanitized(t *testing.T) {
	name := sheetName(&entity.Version{Number: 3, ModelID: "vendor/some-very-long-model-name:latest"})
	assert.LessOrEqual(t, len([]rune(name)), maxSheetName)
	assert.NotContains(t, name, "/")
	assert.NotContains(t, name, ":")
}
