package domain

import (
	"encoding/json"
	"sort"
)

// Well-known attribute keys
const (
	AttrFeatureCode = "FEATURE_CODE"
	AttrLayerName   = "LAYER_NAME"
	AttrProjectID   = "PROJECT_ID"
	AttrSite        = "SITE"
	AttrZone        = "ZONE"

	// ExtractedPrefix marks attributes contributed by pattern extraction
	ExtractedPrefix = "EXT_"
)

// FeatureContext is a read-only set of normalized attributes.
// The zero value is an empty context.
type FeatureContext struct {
	attrs map[string]string
}

// NewFeatureContext copies attrs into a new context
func NewFeatureContext(attrs map[string]string) FeatureContext {
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return FeatureContext{attrs: copied}
}

// Get returns an attribute value
func (c FeatureContext) Get(key string) (string, bool) {
	v, ok := c.attrs[key]
	return v, ok
}

// Has returns true if the attribute is present
func (c FeatureContext) Has(key string) bool {
	_, ok := c.attrs[key]
	return ok
}

// Len returns the number of attributes
func (c FeatureContext) Len() int {
	return len(c.attrs)
}

// Keys returns the attribute keys in sorted order
func (c FeatureContext) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Attributes returns a copy of the attribute map
func (c FeatureContext) Attributes() map[string]string {
	out := make(map[string]string, len(c.attrs))
	for k, v := range c.attrs {
		out[k] = v
	}
	return out
}

// With returns a new context with key set to value
func (c FeatureContext) With(key, value string) FeatureContext {
	out := c.Attributes()
	out[key] = value
	return FeatureContext{attrs: out}
}

// Merge returns a new context with extra added. When overwrite is false,
// attributes already present in c keep their value.
func (c FeatureContext) Merge(extra map[string]string, overwrite bool) FeatureContext {
	out := c.Attributes()
	for k, v := range extra {
		if _, exists := out[k]; exists && !overwrite {
			continue
		}
		out[k] = v
	}
	return FeatureContext{attrs: out}
}

// MarshalJSON encodes the context as a plain object with sorted keys
func (c FeatureContext) MarshalJSON() ([]byte, error) {
	if c.attrs == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.attrs)
}

// UnmarshalJSON decodes a plain object of string attributes
func (c *FeatureContext) UnmarshalJSON(data []byte) error {
	var attrs map[string]string
	if err := json.Unmarshal(data, &attrs); err != nil {
		return err
	}
	*c = NewFeatureContext(attrs)
	return nil
}
