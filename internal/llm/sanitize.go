package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

var reDecimal = regexp.MustCompile(`^-?\d+(\.\d{1,2})?$`)

// StripCodeFence removes a surrounding ``` or ```json fence from model output.
func StripCodeFence(content []byte) []byte {
	s := bytes.TrimSpace(content)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	s = bytes.TrimPrefix(s, []byte("```"))
	if i := bytes.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	return bytes.TrimSpace(s)
}

// SanitizeOptionalFields removes or normalizes optional properties that do not
// meet the schema, so the overall document can still validate. Required
// properties are only trimmed. Unknown keys are dropped when the schema forbids
// additional properties.
func SanitizeOptionalFields(doc []byte, schema map[string]any, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	props, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	switch req := schema["required"].(type) {
	case []string:
		for _, k := range req {
			required[k] = true
		}
	case []any:
		for _, k := range req {
			if s, ok := k.(string); ok {
				required[s] = true
			}
		}
	}
	strict := schema["additionalProperties"] == false

	var dropped []string
	for k, v := range m {
		prop, known := props[k].(map[string]any)
		if !known {
			if strict {
				delete(m, k)
				dropped = append(dropped, k+"(unknown)")
			}
			continue
		}
		if s, ok := v.(string); ok {
			v = strings.TrimSpace(s)
			m[k] = v
		}
		if required[k] {
			continue
		}
		switch t := v.(type) {
		case nil:
			delete(m, k)
			dropped = append(dropped, k+"(null)")
		case string:
			if t == "" || strings.EqualFold(t, "null") {
				delete(m, k)
				dropped = append(dropped, k+"(empty)")
				continue
			}
			if isDecimalProp(prop) && !reDecimal.MatchString(t) {
				if f, err := strconv.ParseFloat(strings.ReplaceAll(t, ",", ""), 64); err == nil {
					m[k] = fmt.Sprintf("%.2f", f)
				} else {
					delete(m, k)
					dropped = append(dropped, k+"(format)")
				}
			}
		case float64:
			if isDecimalProp(prop) {
				m[k] = fmt.Sprintf("%.2f", t)
			}
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

func isDecimalProp(prop map[string]any) bool {
	p, _ := prop["pattern"].(string)
	return prop["type"] == "string" && p == `^-?\d+(\.\d{1,2})?$`
}
