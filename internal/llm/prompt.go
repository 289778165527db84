package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

// MaxContentChars bounds the document text sent per item.
const MaxContentChars = 24000

// BuildSystemPrompt composes the system message for one batch. Everything it
// uses comes from pc, so a prompt can never mix two requests' parameters.
func BuildSystemPrompt(pc entity.ProcessingContext, schema map[string]any) string {
	parts := []string{
		"You are a document extraction engine. You receive several documents, each tagged with an index.",
		"For every document, extract the fields described by the JSON Schema below.",
		`Return ONLY a JSON object of the form {"results":[{"index":<n>,"data":{...}}]} with exactly one element per document.`,
		`If a document cannot be mapped to the schema, return {"index":<n>,"error":"<short reason>"} for it instead of data.`,
		"Use ISO-8601 dates (YYYY-MM-DD).",
		"Never output null. If a field is not present, omit it.",
	}
	if instr := pc.Instructions(); instr != "" {
		parts = append(parts, "Additional instructions from the requester: "+instr)
	}
	parts = append(parts, "JSON Schema for each data object:\n"+mustJSON(schema))
	return strings.Join(parts, "\n")
}

// BuildBatchPrompt lays out the documents of a batch for the user message.
func BuildBatchPrompt(reqs []Request) string {
	var b strings.Builder
	for i, r := range reqs {
		content := strings.TrimSpace(r.Content)
		truncated := false
		if len(content) > MaxContentChars {
			content = content[:MaxContentChars]
			truncated = true
		}
		fmt.Fprintf(&b, "### Document index=%d filename=%q\n", i, r.Filename)
		b.WriteString(content)
		if truncated {
			b.WriteString("\n…(truncated)")
		}
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Return results for all %d documents.", len(reqs))
	return b.String()
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
