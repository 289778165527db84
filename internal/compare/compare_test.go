package compare

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten_PathsAndNulls(t *testing.T) {
	flat := Flatten(json.RawMessage(`{
		"vendor": {"name": "ACME", "address": null},
		"items": [{"sku": "A1"}, {"sku": "B2"}],
		"tags": [],
		"meta": {},
		"total": 12.50
	}`))

	assert.Equal(t, "ACME", flat["vendor.name"])
	assert.NotContains(t, flat, "vendor.address")
	assert.Equal(t, "A1", flat["items[0].sku"])
	assert.Equal(t, "B2", flat["items[1].sku"])
	assert.Contains(t, flat, "tags")
	assert.Contains(t, flat, "meta")
	assert.Equal(t, json.Number("12.50"), flat["total"])

	assert.Empty(t, Flatten(nil))
	assert.Empty(t, Flatten(json.RawMessage(`not json`)))
	assert.Equal(t, "x", Flatten(json.RawMessage(`"x"`))["$"])
}

func TestFlatten_EscapesAmbiguousKeys(t *testing.T) {
	flat := Flatten(json.RawMessage(`{"a.b":"x","a":{"b":"y","c[0]":"z"},"":1}`))

	assert.Len(t, flat, 4)
	assert.Equal(t, "x", flat[`["a.b"]`])
	assert.Equal(t, "y", flat["a.b"])
	assert.Equal(t, "z", flat[`a["c[0]"]`])
	assert.Equal(t, json.Number("1"), flat[`[""]`])
}

func TestCompare_DottedKeysDoNotCollide(t *testing.T) {
	a := []Input{{FileID: "f1", Filename: "a.md", Data: json.RawMessage(`{"a.b":"x","a":{"b":"y"}}`)}}
	b := []Input{{FileID: "f1", Filename: "a.md", Data: json.RawMessage(`{"a":{"b":"y"}}`)}}

	for i := 0; i < 50; i++ {
		self := Compare(a, a)
		require.Len(t, self, 1)
		assert.Equal(t, Summary{Same: 2}, self[0].Summary)
		for _, f := range self[0].Fields {
			assert.Equal(t, StatusSame, f.Status, f.Path)
		}
	}

	statuses := func(diffs []FileDiff) map[string]Status {
		out := map[string]Status{}
		for _, f := range diffs[0].Fields {
			out[f.Path] = f.Status
		}
		return out
	}
	ab := statuses(Compare(a, b))
	ba := statuses(Compare(b, a))
	assert.Equal(t, map[string]Status{`["a.b"]`: StatusMissingInB, "a.b": StatusSame}, ab)
	assert.Equal(t, map[string]Status{`["a.b"]`: StatusMissingInA, "a.b": StatusSame}, ba)
}

func TestFields_Classification(t *testing.T) {
	a := Flatten(json.RawMessage(`{"vendor":"ACME Inc.","total":"$1,234.50","date":"2024-01-05","note":"paid","only_a":1}`))
	b := Flatten(json.RawMessage(`{"vendor":"acme inc","total":"1234.5","date":"2024-02-05","note":"paid","only_b":true}`))

	byPath := map[string]FieldDiff{}
	for _, d := range Fields(a, b) {
		byPath[d.Path] = d
	}

	assert.Equal(t, StatusSame, byPath["note"].Status)
	assert.Nil(t, byPath["note"].Similarity)

	assert.Equal(t, StatusDifferent, byPath["vendor"].Status)
	assert.Equal(t, KindFormatting, byPath["vendor"].Kind)
	assert.Equal(t, KindFormatting, byPath["total"].Kind)

	assert.Equal(t, StatusDifferent, byPath["date"].Status)
	assert.Equal(t, KindContent, byPath["date"].Kind)
	require.NotNil(t, byPath["date"].Similarity)
	assert.InDelta(t, 0.9, *byPath["date"].Similarity, 0.001)

	assert.Equal(t, StatusMissingInB, byPath["only_a"].Status)
	assert.Equal(t, StatusMissingInA, byPath["only_b"].Status)
}

func TestCompare_IsSymmetric(t *testing.T) {
	a := []Input{
		{FileID: "f1", Filename: "a.md", Data: json.RawMessage(`{"x":1,"y":"Hello","z":[1,2]}`)},
		{FileID: "f2", Filename: "b.md", Error: "schema violation"},
	}
	b := []Input{
		{FileID: "f1", Filename: "a.md", Data: json.RawMessage(`{"x":1,"y":"hello","w":null,"z":[1]}`)},
		{FileID: "f3", Filename: "c.md", Data: json.RawMessage(`{"x":2}`)},
	}

	ab := Compare(a, b)
	ba := Compare(b, a)
	require.Len(t, ab, 3)
	require.Len(t, ba, 3)

	swap := map[Status]Status{
		StatusSame:       StatusSame,
		StatusDifferent:  StatusDifferent,
		StatusMissingInA: StatusMissingInB,
		StatusMissingInB: StatusMissingInA,
	}
	for i := range ab {
		assert.Equal(t, ab[i].FileID, ba[i].FileID)
		assert.Equal(t, ab[i].ErrorA, ba[i].ErrorB)
		require.Len(t, ba[i].Fields, len(ab[i].Fields))
		for j, f := range ab[i].Fields {
			g := ba[i].Fields[j]
			assert.Equal(t, f.Path, g.Path)
			assert.Equal(t, swap[f.Status], g.Status, "path %s", f.Path)
			assert.Equal(t, f.Kind, g.Kind)
			if f.Similarity != nil {
				require.NotNil(t, g.Similarity)
				assert.InDelta(t, *f.Similarity, *g.Similarity, 1e-9)
			}
		}
		assert.Equal(t, ab[i].Summary.MissingInA, ba[i].Summary.MissingInB)
		assert.Equal(t, ab[i].Summary.Same, ba[i].Summary.Same)
		assert.Equal(t, ab[i].Summary.Different, ba[i].Summary.Different)
	}

	f1 := ab[0]
	assert.Equal(t, "f1", f1.FileID)
	assert.Equal(t, Summary{Same: 2, Different: 1, Formatting: 1, MissingInB: 1}, f1.Summary)

	f2 := ab[1]
	assert.Equal(t, "schema violation", f2.ErrorA)
	assert.Empty(t, f2.Fields)

	f3 := ab[2]
	assert.Equal(t, 1, f3.Summary.MissingInA)
}
