package codec

import (
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"layerlex/internal/pipeline"
)

// YAMLCodec handles YAML import/export
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// yamlUnits is the YAML structure for a batch of units
type yamlUnits struct {
	Units []pipeline.Unit `yaml:"units"`
}

// Parse reads units listed under a top-level units key
func (c *YAMLCodec) Parse(r io.Reader) ([]pipeline.Unit, error) {
	var doc yamlUnits
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to parse YAML")
	}
	return doc.Units, nil
}

// Export writes the report as YAML
func (c *YAMLCodec) Export(report *Report, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(report); err != nil {
		return errors.Wrap(err, "failed to encode YAML")
	}
	return errors.Wrap(encoder.Close(), "failed to flush YAML")
}
