package cognition

import (
	"strconv"
	"strings"
)

// MatchConditions reports whether situation satisfies every trigger
// condition. Each condition key must be present in situation. A string value
// of the form ">N" or "<N" is a strict numeric threshold on the situation
// value; any other value must equal it. Empty conditions match everything.
func MatchConditions(conditions, situation Document) bool {
	for key, want := range conditions {
		have, ok := situation[key]
		if !ok {
			return false
		}
		if !matchCondition(want, have) {
			return false
		}
	}
	return true
}

func matchCondition(want, have any) bool {
	if s, ok := want.(string); ok && len(s) > 1 && (s[0] == '>' || s[0] == '<') {
		threshold, err := strconv.ParseFloat(strings.TrimSpace(s[1:]), 64)
		if err == nil {
			v, ok := toFloat(have)
			if !ok {
				return false
			}
			if s[0] == '>' {
				return v > threshold
			}
			return v < threshold
		}
	}
	return valuesEqual(want, have)
}
