package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"layerlex/internal/codec"
)

const testDefinitions = `
patterns:
  - id: storm-drain
    expression: '^(?P<type>SD)-(?P<size>\d+)-(?P<phase>NEW|EX)$'
    confidence: 95
    rules:
      - {field: type, group: type}
      - {field: size, group: size}
      - {field: phase, group: phase}
      - {field: discipline, literal: CIV}
  - id: broken
    expression: '(unclosed'
    confidence: 50

mappings:
  - id: sd-8
    tier: contextual
    when:
      - {attribute: EXT_TYPE, value: SD}
      - {attribute: EXT_SIZE, value: "8"}
    target: {discipline: civ, category: storm, type: sd, attributes: [8in], phase: new}
  - id: sd-feature
    tier: global
    when:
      - {attribute: feature code, operator: prefix, value: SD}
    target: {discipline: civ, category: storm, type: pipe}

vocabulary:
  discipline: [CIV]
  type: [SD]
  phase: [NEW, EX]
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	defs := filepath.Join(dir, "definitions.yaml")
	require.NoError(t, os.WriteFile(defs, []byte(testDefinitions), 0o644))

	cfg := strings.Join([]string{
		"database:",
		"  driver: sqlite",
		"  dsn: " + filepath.Join(dir, "layerlex.db"),
		"sources:",
		"  patterns: " + defs,
		"  mappings: " + defs,
		"  vocabulary: " + defs,
		"  seed: true",
		"resolution:",
		"  fallback: {discipline: GEN, category: UNK, type: UNK}",
		"logging:",
		"  level: warn",
		"",
	}, "\n")
	path := filepath.Join(dir, "layerlex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", writeTestConfig(t)}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestExtractCommand(t *testing.T) {
	out, err := execute(t, "extract", "SD-8-NEW", "WM-1")
	require.NoError(t, err)

	var results []extractOutput
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.True(t, results[0].Matched)
	assert.Equal(t, "storm-drain", results[0].Result.PatternID)
	assert.Equal(t, 95.0, results[0].Result.Confidence)
	assert.False(t, results[1].Matched)
	assert.Nil(t, results[1].Result)
}

func TestResolveCommand(t *testing.T) {
	out, err := execute(t, "resolve", "fcode=SD-12", "zone=a")
	require.NoError(t, err)

	var res struct {
		Matched bool `json:"matched"`
		Mapping struct {
			Candidate struct {
				ID string `json:"id"`
			} `json:"candidate"`
		} `json:"mapping"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Matched)
	assert.Equal(t, "sd-feature", res.Mapping.Candidate.ID)

	_, err = execute(t, "resolve", "novalue")
	assert.Error(t, err)
}

func TestClassifyCommandYAMLReport(t *testing.T) {
	out, err := execute(t, "classify", "-o", "yaml", "SD-8-NEW", "XX-1")
	require.NoError(t, err)

	var report codec.Report
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Total)
	require.Len(t, report.Rows, 2)
	assert.Equal(t, "CIV-STORM-SD-8IN-NEW", report.Rows[0].Name)
	assert.Equal(t, "mapping", report.Rows[0].Source)
	assert.Equal(t, "GEN-UNK-UNK", report.Rows[1].Name)
	assert.True(t, report.Rows[1].NeedsReview)
}

func TestClassifyCommandFromFile(t *testing.T) {
	input := filepath.Join(t.TempDir(), "names.txt")
	require.NoError(t, os.WriteFile(input, []byte("SD-10-EX\n\nSD-8-NEW\n"), 0o644))

	out, err := execute(t, "classify", "--file", input, "--log")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &doc))
		assert.NotEmpty(t, doc["run_id"])
	}
}

func TestClassifyCommandRejectsBadInput(t *testing.T) {
	_, err := execute(t, "classify")
	assert.Error(t, err)

	_, err = execute(t, "classify", "-o", "csv", "SD-8-NEW")
	assert.Error(t, err)
}

func TestPatternsCommands(t *testing.T) {
	out, err := execute(t, "patterns")
	require.NoError(t, err)
	assert.Contains(t, out, `"storm-drain"`)

	out, err = execute(t, "patterns", "check")
	require.Error(t, err)
	assert.Contains(t, out, "1 patterns (1 active, 1 excluded)")
	assert.Contains(t, out, "pattern broken")
}
