package audit

import (
	"encoding/json"
	"fmt"
)

// JSONRenderer writes a report as indented JSON.
type JSONRenderer struct{}

// NewJSONRenderer creates a JSON renderer.
func NewJSONRenderer() *JSONRenderer {
	return &JSONRenderer{}
}

// Render implements Renderer.
func (r *JSONRenderer) Render(report *Report) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode audit report: %w", err)
	}
	return append(data, '\n'), nil
}
