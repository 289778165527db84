package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/compare"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
)

const (
	comparisonSheet = "Comparison"
	maxSheetName    = 31
)

// VersionSource loads the stored results of one session version.
type VersionSource interface {
	VersionResults(ctx context.Context, sessionID uuid.UUID, number int) (*entity.Version, []*entity.FileVersionResult, error)
}

// Service is a tiny façade over stored versions that produces XLSX bytes for exports.
type Service struct {
	source VersionSource
	logger *slog.Logger
}

func NewService(source VersionSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, logger: logger}
}

// ExportVersionsXLSX returns an XLSX workbook (as bytes) with one sheet per
// requested version. Exactly two versions add a Comparison sheet.
func (s *Service) ExportVersionsXLSX(ctx context.Context, sessionID uuid.UUID, numbers ...int) ([]byte, error) {
	start := time.Now()
	if len(numbers) == 0 {
		return nil, common.NewAppError("NO_VERSIONS", "at least one version is required", common.ErrInvalidInput)
	}

	type loaded struct {
		version *entity.Version
		results []*entity.FileVersionResult
	}
	versions := make([]loaded, 0, len(numbers))
	for _, n := range numbers {
		v, results, err := s.source.VersionResults(ctx, sessionID, n)
		if err != nil {
			return nil, fmt.Errorf("load version %d: %w", n, err)
		}
		versions = append(versions, loaded{version: v, results: results})
	}

	f := excelize.NewFile()
	defer f.Close()

	rows := 0
	for i, lv := range versions {
		name := sheetName(lv.version)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
		if err := writeVersionSheet(f, name, lv.results); err != nil {
			return nil, fmt.Errorf("version %d sheet: %w", lv.version.Number, err)
		}
		rows += len(lv.results)
	}

	if len(versions) == 2 {
		diffs := compare.Compare(
			pipeline.CompareInputs(versions[0].results, nil),
			pipeline.CompareInputs(versions[1].results, nil),
		)
		if _, err := f.NewSheet(comparisonSheet); err != nil {
			return nil, err
		}
		writeComparisonSheet(f, versions[0].version.Number, versions[1].version.Number, diffs)
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"session_id", sessionID.String(),
		"versions", numbers,
		"rows", rows,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeVersionSheet(f *excelize.File, sheet string, results []*entity.FileVersionResult) error {
	flat := make([]map[string]any, len(results))
	seen := map[string]struct{}{}
	var fields []string
	for i, r := range results {
		flat[i] = compare.Flatten(r.Data)
		for p := range flat[i] {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				fields = append(fields, p)
			}
		}
	}
	sort.Strings(fields)

	headers := append([]string{"Filename", "Status", "Model", "Cache Hit", "Processing (ms)", "Error"}, fields...)
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, r := range results {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, r.Filename)
		write(2, string(r.Status))
		write(3, r.Model)
		write(4, r.CacheHit)
		write(5, r.ProcessingTime.Milliseconds())
		write(6, truncate(r.Error, 200))
		for j, p := range fields {
			if v, ok := flat[i][p]; ok {
				write(7+j, cellValue(v))
			}
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 32) // filename
	_ = f.SetColWidth(sheet, "B", "E", 14)
	_ = f.SetColWidth(sheet, "F", "F", 48) // error
	return nil
}

func writeComparisonSheet(f *excelize.File, a, b int, diffs []compare.FileDiff) {
	headers := []string{"Filename", "Field", "Status", "Kind", fmt.Sprintf("Version %d", a), fmt.Sprintf("Version %d", b), "Similarity"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(comparisonSheet, cell, h)
	}

	row := 2
	for _, d := range diffs {
		for _, fd := range d.Fields {
			write := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, row)
				_ = f.SetCellValue(comparisonSheet, cell, v)
			}
			write(1, d.Filename)
			write(2, fd.Path)
			write(3, string(fd.Status))
			write(4, string(fd.Kind))
			if fd.A != nil {
				write(5, cellValue(fd.A))
			}
			if fd.B != nil {
				write(6, cellValue(fd.B))
			}
			if fd.Similarity != nil {
				write(7, *fd.Similarity)
			}
			row++
		}
	}

	_ = f.SetColWidth(comparisonSheet, "A", "B", 28)
	_ = f.SetColWidth(comparisonSheet, "E", "F", 32)
}

// cellValue keeps numbers numeric and renders empty containers as JSON.
func cellValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case string, bool:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// sheetName is "V<n> <model>" limited to what Excel accepts.
func sheetName(v *entity.Version) string {
	name := fmt.Sprintf("V%d %s", v.Number, v.ModelID)
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, name)
	return truncate(name, maxSheetName)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
