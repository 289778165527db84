// Package compare diffs the structured results of two versions field by field.
package compare

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
)

type Status string

const (
	StatusSame       Status = "same"
	StatusDifferent  Status = "different"
	StatusMissingInA Status = "missing_in_a"
	StatusMissingInB Status = "missing_in_b"
)

// Kind sub-classifies a different field.
type Kind string

const (
	KindFormatting Kind = "formatting"
	KindContent    Kind = "content"
)

// Input is one file's result within a version.
type Input struct {
	FileID   string
	Filename string
	Data     json.RawMessage
	Error    string
}

type FieldDiff struct {
	Path       string   `json:"path"`
	Status     Status   `json:"status"`
	Kind       Kind     `json:"kind,omitempty"`
	A          any      `json:"a,omitempty"`
	B          any      `json:"b,omitempty"`
	Similarity *float64 `json:"similarity,omitempty"`
}

type Summary struct {
	Same       int `json:"same"`
	Different  int `json:"different"`
	Formatting int `json:"formatting"`
	MissingInA int `json:"missing_in_a"`
	MissingInB int `json:"missing_in_b"`
}

type FileDiff struct {
	FileID   string      `json:"file_id"`
	Filename string      `json:"filename"`
	ErrorA   string      `json:"error_a,omitempty"`
	ErrorB   string      `json:"error_b,omitempty"`
	Fields   []FieldDiff `json:"fields"`
	Summary  Summary     `json:"summary"`
}

// Compare pairs files by id and diffs their fields. Files present on only one
// side report every field as missing on the other.
func Compare(a, b []Input) []FileDiff {
	byA := index(a)
	byB := index(b)

	ids := make([]string, 0, len(byA)+len(byB))
	names := make(map[string]string)
	for id, in := range byA {
		ids = append(ids, id)
		names[id] = in.Filename
	}
	for id, in := range byB {
		if _, ok := byA[id]; !ok {
			ids = append(ids, id)
			names[id] = in.Filename
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if names[ids[i]] != names[ids[j]] {
			return names[ids[i]] < names[ids[j]]
		}
		return ids[i] < ids[j]
	})

	out := make([]FileDiff, 0, len(ids))
	for _, id := range ids {
		ia, okA := byA[id]
		ib, okB := byB[id]
		fd := FileDiff{FileID: id, Filename: names[id]}
		if okA {
			fd.ErrorA = ia.Error
		}
		if okB {
			fd.ErrorB = ib.Error
		}
		fd.Fields = Fields(Flatten(ia.Data), Flatten(ib.Data))
		fd.Summary = summarize(fd.Fields)
		out = append(out, fd)
	}
	return out
}

func index(in []Input) map[string]Input {
	m := make(map[string]Input, len(in))
	for _, i := range in {
		m[i.FileID] = i
	}
	return m
}

// Fields diffs two flattened documents. Paths are sorted.
func Fields(a, b map[string]any) []FieldDiff {
	paths := make([]string, 0, len(a)+len(b))
	for p := range a {
		paths = append(paths, p)
	}
	for p := range b {
		if _, ok := a[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	diffs := make([]FieldDiff, 0, len(paths))
	for _, p := range paths {
		va, okA := a[p]
		vb, okB := b[p]
		d := FieldDiff{Path: p, A: va, B: vb}
		switch {
		case !okA:
			d.Status = StatusMissingInA
		case !okB:
			d.Status = StatusMissingInB
		case canonical(va) == canonical(vb):
			d.Status = StatusSame
		default:
			d.Status = StatusDifferent
			d.Kind = KindContent
			if normalize(va) == normalize(vb) {
				d.Kind = KindFormatting
			}
			sim := math.Round(levenshtein.Similarity(text(va), text(vb), nil)*1e4) / 1e4
			d.Similarity = &sim
		}
		diffs = append(diffs, d)
	}
	return diffs
}

func summarize(fields []FieldDiff) Summary {
	var s Summary
	for _, f := range fields {
		switch f.Status {
		case StatusSame:
			s.Same++
		case StatusDifferent:
			s.Different++
			if f.Kind == KindFormatting {
				s.Formatting++
			}
		case StatusMissingInA:
			s.MissingInA++
		case StatusMissingInB:
			s.MissingInB++
		}
	}
	return s
}

// Flatten turns a JSON document into leaf values keyed by dotted path, with
// array elements addressed as [i] and ambiguous keys quoted as ["a.b"]. Nulls are treated as absent; empty objects
// and arrays are kept as leaves. Invalid JSON flattens to nothing.
func Flatten(data json.RawMessage) map[string]any {
	out := make(map[string]any)
	if len(bytes.TrimSpace(data)) == 0 {
		return out
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return out
	}
	flatten("", v, out)
	return out
}

func flatten(prefix string, v any, out map[string]any) {
	switch t := v.(type) {
	case nil:
	case map[string]any:
		if len(t) == 0 {
			out[leafPath(prefix)] = t
			return
		}
		for k, child := range t {
			flatten(joinKey(prefix, k), child, out)
		}
	case []any:
		if len(t) == 0 {
			out[leafPath(prefix)] = t
			return
		}
		for i, child := range t {
			flatten(prefix+"["+strconv.Itoa(i)+"]", child, out)
		}
	default:
		out[leafPath(prefix)] = t
	}
}

// joinKey appends an object key to a path. Keys that would be ambiguous in
// dotted form are written as quoted index segments, e.g. a["b.c"].
func joinKey(prefix, key string) string {
	if key == "" || key == "$" || strings.ContainsAny(key, `.[]"`) {
		return prefix + "[" + strconv.Quote(key) + "]"
	}
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func leafPath(p string) string {
	if p == "" {
		return "$"
	}
	return p
}

func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return text(v)
	}
	return string(b)
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return canonical(v)
	}
}

// normalize folds case, whitespace, punctuation and numeric formatting so
// that "$1,234.50" and "1234.5" compare equal.
func normalize(v any) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text(v)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.NewReplacer(".", "", "-", "").Replace(s)
}
