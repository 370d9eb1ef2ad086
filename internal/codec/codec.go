// Package codec reads batches of units to classify and writes classification
// reports.
package codec

import (
	"io"

	"github.com/pkg/errors"

	"layerlex/internal/pipeline"
)

// Importer reads units of work from a given format
type Importer interface {
	Parse(r io.Reader) ([]pipeline.Unit, error)
	Format() string
}

// Exporter writes a classification report in a given format
type Exporter interface {
	Export(report *Report, w io.Writer) error
	Format() string
}

// ImporterFor returns the importer registered for format
func ImporterFor(format string) (Importer, error) {
	switch format {
	case "", "text", "txt":
		return NewTextCodec(), nil
	case "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, errors.Errorf("unsupported input format %q", format)
	}
}

// ExporterFor returns the exporter registered for format
func ExporterFor(format string) (Exporter, error) {
	switch format {
	case "", "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, errors.Errorf("unsupported report format %q", format)
	}
}
