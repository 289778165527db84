package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/convert"
)

type DirStats struct {
	Scanned uint32
	Matched uint32
	Failed  uint32
}

// ParseExts builds an extension set from a list such as ["md", ".TXT"].
// An empty list selects constants.WatchExtensions.
func ParseExts(list []string) map[string]struct{} {
	exts := map[string]struct{}{}
	for _, e := range list {
		if e = constants.NormalizeExt(strings.TrimSpace(e)); e != "" {
			exts[e] = struct{}{}
		}
	}
	if len(exts) == 0 {
		return constants.WatchExtensions
	}
	return exts
}

// CollectDocuments walks root, filters by exts and reads every matching file.
// Unreadable entries are counted as failed and skipped.
func CollectDocuments(root string, exts map[string]struct{}, skipHidden bool) ([]convert.Document, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}
	if exts == nil {
		exts = constants.WatchExtensions
	}

	var docs []convert.Document
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			stats.Failed++
			return nil // continue walking
		}
		if skipHidden && path != root && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !allowed(path, exts) {
			return nil
		}
		stats.Matched++

		doc, err := ReadDocument(path)
		if err != nil {
			stats.Failed++
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return docs, stats, fmt.Errorf("walk: %w", err)
	}
	return docs, stats, nil
}

// ReadDocument loads one file as a document named by its base name.
func ReadDocument(path string) (convert.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return convert.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return convert.Document{Filename: filepath.Base(path), Data: data}, nil
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
