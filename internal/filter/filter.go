// Package filter applies JMESPath expressions to response bodies, so
// a run's output can be narrowed to the fields that prove or disprove
// the race (a balance, a redemption counter, an order id).
package filter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jmespath/go-jmespath"
)

// Apply evaluates a JMESPath query against a JSON response body and
// returns the pretty-printed result.
func Apply(body []byte, query string) (string, error) {
	if query == "" {
		return string(body), nil
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("response body is not JSON: %w", err)
	}

	result, err := jmespath.Search(query, data)
	if err != nil {
		return "", fmt.Errorf("failed to apply query: %w", err)
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return "", fmt.Errorf("failed to encode query result: %w", err)
	}
	return buf.String(), nil
}
