package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON unmarshals the JSON object in a model reply into v. Markdown
// code fences and text around the outermost braces are ignored.
func DecodeJSON(content string, v any) error {
	s := strings.TrimSpace(content)
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decode model reply: %w", err)
	}
	return nil
}
