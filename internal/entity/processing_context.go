package entity

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/common"
)

const maxModelID = 128

// ProcessingContext bundles the parameters of one logical extraction request.
// It is a comparable value with unexported fields: once built it cannot be
// changed, and every item derived from a request carries its own copy.
type ProcessingContext struct {
	schemaKey    string
	instructions string
	modelID      string
}

// ContextSummary is the public view of a context reported on init events.
type ContextSummary struct {
	SchemaKey       string `json:"schema_key"`
	ModelID         string `json:"model_id"`
	HasInstructions bool   `json:"has_instructions"`
}

// NewProcessingContext validates and builds a context. Schema key and model id
// are required; instructions may be empty.
func NewProcessingContext(schemaKey, instructions, modelID string) (ProcessingContext, error) {
	schemaKey = strings.TrimSpace(schemaKey)
	modelID = strings.TrimSpace(modelID)
	err := common.NewValidator().
		Field("schema_key", schemaKey, common.Required).
		Field("model_id", modelID, common.Required, common.MaxLen(maxModelID)).
		Err(common.ErrInvalidContext)
	if err != nil {
		return ProcessingContext{}, err
	}
	return ProcessingContext{
		schemaKey:    schemaKey,
		instructions: strings.TrimSpace(instructions),
		modelID:      modelID,
	}, nil
}

func (c ProcessingContext) SchemaKey() string    { return c.schemaKey }
func (c ProcessingContext) Instructions() string { return c.instructions }
func (c ProcessingContext) ModelID() string      { return c.modelID }

// IsZero reports whether c was never built through NewProcessingContext.
func (c ProcessingContext) IsZero() bool {
	return c == ProcessingContext{}
}

// WithModel derives a new context for a re-extraction under another model.
func (c ProcessingContext) WithModel(modelID string) (ProcessingContext, error) {
	return NewProcessingContext(c.schemaKey, c.instructions, modelID)
}

// WithInstructions derives a new context with replaced instructions.
func (c ProcessingContext) WithInstructions(instructions string) (ProcessingContext, error) {
	return NewProcessingContext(c.schemaKey, instructions, c.modelID)
}

func (c ProcessingContext) Summary() ContextSummary {
	return ContextSummary{
		SchemaKey:       c.schemaKey,
		ModelID:         c.modelID,
		HasInstructions: c.instructions != "",
	}
}

func (c ProcessingContext) String() string {
	return fmt.Sprintf("schema=%s model=%s instructions=%d", c.schemaKey, c.modelID, len(c.instructions))
}
