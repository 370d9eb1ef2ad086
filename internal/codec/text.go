package codec

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"

	"layerlex/internal/pipeline"
)

// TextCodec reads one raw name per line. Blank lines and lines starting
// with # are skipped.
type TextCodec struct{}

// NewTextCodec creates a new text codec
func NewTextCodec() *TextCodec {
	return &TextCodec{}
}

// Format returns the codec format identifier
func (c *TextCodec) Format() string {
	return "text"
}

// Parse reads a name list
func (c *TextCodec) Parse(r io.Reader) ([]pipeline.Unit, error) {
	names, err := ReadNameList(r)
	if err != nil {
		return nil, err
	}
	units := make([]pipeline.Unit, len(names))
	for i, n := range names {
		units[i] = pipeline.Unit{RawName: n}
	}
	return units, nil
}

// ReadNameList returns the raw names of a name list in file order
func ReadNameList(r io.Reader) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read name list")
	}
	return names, nil
}
