package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionSatisfiedBy(t *testing.T) {
	fc := NewFeatureContext(map[string]string{
		"FEATURE_CODE": "SDMH",
		"SIZE":         "60IN",
	})

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equal", Eq("SIZE", "60IN"), true},
		{"default operator is equality", Condition{Attribute: "SIZE", Value: "60IN"}, true},
		{"not equal", Eq("SIZE", "48IN"), false},
		{"absent attribute", Eq("MAT", "CONC"), false},
		{"in list", Condition{Attribute: "FEATURE_CODE", Operator: OpIn, Values: []string{"SDMH", "SSMH"}}, true},
		{"not in list", Condition{Attribute: "FEATURE_CODE", Operator: OpIn, Values: []string{"WV"}}, false},
		{"prefix", Condition{Attribute: "FEATURE_CODE", Operator: OpPrefix, Value: "SD"}, true},
		{"unknown operator", Condition{Attribute: "SIZE", Operator: "gt", Value: "1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.SatisfiedBy(fc))
		})
	}
}

func TestMappingCandidateMatches(t *testing.T) {
	fc := NewFeatureContext(map[string]string{"SIZE": "60IN", "MAT": "CONC"})

	wildcard := MappingCandidate{ID: "w"}
	assert.True(t, wildcard.Matches(fc))
	assert.True(t, wildcard.Compatible(fc))
	assert.Equal(t, 0, wildcard.Specificity())

	partial := MappingCandidate{ID: "p", Conditions: []Condition{Eq("SIZE", "60IN"), Eq("MAT", "PVC")}}
	assert.False(t, partial.Matches(fc))
	assert.True(t, partial.Compatible(fc))
	assert.Equal(t, 2, partial.Specificity())

	none := MappingCandidate{ID: "n", Conditions: []Condition{Eq("SIZE", "8IN")}}
	assert.False(t, none.Compatible(fc))
}

func TestCanonicalIdentityName(t *testing.T) {
	tests := []struct {
		id   CanonicalIdentity
		want string
	}{
		{CanonicalIdentity{Discipline: "civ", Category: "storm", Type: "mh", Attributes: []string{"60in", "conc"}, Phase: "new"}, "CIV-STORM-MH-60IN-CONC-NEW"},
		{CanonicalIdentity{Discipline: "CIV", Type: "MH"}, "CIV-MH"},
		{CanonicalIdentity{Geometry: "POINT"}, ""},
	}

	for _, tt := range tests {
		if got := tt.id.Name(); got != tt.want {
			t.Errorf("Name() = %q, want %q", got, tt.want)
		}
	}

	assert.True(t, CanonicalIdentity{}.IsZero())
	assert.False(t, CanonicalIdentity{Geometry: "POINT"}.IsZero())
}

func TestTierBaseline(t *testing.T) {
	assert.Greater(t, TierBaseline[TierProject], TierBaseline[TierContextual])
	assert.Greater(t, TierBaseline[TierContextual], TierBaseline[TierGlobal])
	assert.True(t, TierGlobal.IsValid())
	assert.False(t, Tier("regional").IsValid())
}

func TestFeatureContextImmutable(t *testing.T) {
	src := map[string]string{"SIZE": "60IN"}
	fc := NewFeatureContext(src)
	src["SIZE"] = "8IN"

	v, _ := fc.Get("SIZE")
	assert.Equal(t, "60IN", v, "context must not alias the source map")

	next := fc.With("MAT", "CONC")
	assert.False(t, fc.Has("MAT"))
	assert.True(t, next.Has("MAT"))

	attrs := fc.Attributes()
	attrs["SIZE"] = "X"
	v, _ = fc.Get("SIZE")
	assert.Equal(t, "60IN", v)
}

func TestFeatureContextMerge(t *testing.T) {
	fc := NewFeatureContext(map[string]string{"A": "1"})

	kept := fc.Merge(map[string]string{"A": "2", "B": "3"}, false)
	assert.Equal(t, map[string]string{"A": "1", "B": "3"}, kept.Attributes())

	replaced := fc.Merge(map[string]string{"A": "2"}, true)
	v, _ := replaced.Get("A")
	assert.Equal(t, "2", v)
	assert.Equal(t, []string{"A"}, replaced.Keys())
}

func TestFeatureContextJSON(t *testing.T) {
	fc := NewFeatureContext(map[string]string{"Z": "1", "A": "2"})
	data, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Equal(t, `{"A":"2","Z":"1"}`, string(data))

	var decoded FeatureContext
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, fc.Attributes(), decoded.Attributes())

	empty, err := json.Marshal(FeatureContext{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(empty))
}

func TestParseTieBreak(t *testing.T) {
	tb, err := ParseTieBreak("", TieBreakIdentifier)
	require.NoError(t, err)
	assert.Equal(t, TieBreakIdentifier, tb)

	tb, err = ParseTieBreak("declaration_order", TieBreakIdentifier)
	require.NoError(t, err)
	assert.Equal(t, TieBreakDeclarationOrder, tb)

	_, err = ParseTieBreak("random", TieBreakIdentifier)
	assert.Error(t, err)
}
