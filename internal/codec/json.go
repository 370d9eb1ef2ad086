package codec

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"layerlex/internal/pipeline"
)

// JSONCodec handles JSON import/export
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// Parse reads a JSON array of units
func (c *JSONCodec) Parse(r io.Reader) ([]pipeline.Unit, error) {
	var units []pipeline.Unit
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&units); err != nil {
		return nil, errors.Wrap(err, "failed to parse JSON")
	}
	return units, nil
}

// Export writes the report as indented JSON
func (c *JSONCodec) Export(report *Report, w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(report); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}

	return nil
}
