package pipeline

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNoJSON = errors.New("pipeline: no JSON object in response")

// decodeJSON unmarshals the first JSON object found in raw into v. Models
// occasionally wrap their output in markdown fences or prose despite the
// JSON-only instruction, so everything outside the outermost braces is
// discarded before unmarshalling.
func decodeJSON(raw string, v any) error {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return errNoJSON
	}
	return json.Unmarshal([]byte(raw[start:end+1]), v)
}
