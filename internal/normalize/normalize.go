// Package normalize canonicalizes raw names and attribute sets before they
// reach extraction and resolution.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultAliases maps common attribute spellings to their canonical keys
var DefaultAliases = map[string]string{
	"CODE":      "FEATURE_CODE",
	"FCODE":     "FEATURE_CODE",
	"FEATURE":   "FEATURE_CODE",
	"LAYER":     "LAYER_NAME",
	"LAYERNAME": "LAYER_NAME",
	"PROJECT":   "PROJECT_ID",
	"PROJ":      "PROJECT_ID",
	"MATERIAL":  "MAT",
	"DIAMETER":  "SIZE",
	"DIA":       "SIZE",
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithAliases replaces the key alias table. Keys and targets are themselves
// normalized.
func WithAliases(aliases map[string]string) Option {
	return func(n *Normalizer) {
		n.aliases = make(map[string]string, len(aliases))
		for from, to := range aliases {
			n.aliases[canonicalKey(from)] = canonicalKey(to)
		}
	}
}

// WithNameCase upper-cases raw names in addition to NFKC folding and trimming
func WithNameCase(upper bool) Option {
	return func(n *Normalizer) {
		n.upperNames = upper
	}
}

// Normalizer is immutable after construction and safe for concurrent use
type Normalizer struct {
	aliases    map[string]string
	upperNames bool
}

// New creates a normalizer using DefaultAliases unless overridden
func New(opts ...Option) *Normalizer {
	n := &Normalizer{}
	WithAliases(DefaultAliases)(n)
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name normalizes a raw name: NFKC, trimmed, optionally upper-cased.
// Interior characters are left alone so patterns see the name as written.
func (n *Normalizer) Name(raw string) string {
	s := strings.TrimSpace(norm.NFKC.String(raw))
	if n.upperNames {
		s = upper(s)
	}
	return s
}

// Key normalizes an attribute key and applies the alias table
func (n *Normalizer) Key(key string) string {
	k := canonicalKey(key)
	if alias, ok := n.aliases[k]; ok {
		return alias
	}
	return k
}

// Value normalizes an attribute value: NFKC, whitespace collapsed, upper-cased
func (n *Normalizer) Value(value string) string {
	return upper(collapse(norm.NFKC.String(value)))
}

// Attributes normalizes every key and value. Empty keys are dropped. When two
// raw keys normalize to the same key, the lexically smallest raw key wins so
// the outcome does not depend on map iteration order.
func (n *Normalizer) Attributes(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	origin := make(map[string]string, len(raw))
	for k, v := range raw {
		key := n.Key(k)
		if key == "" {
			continue
		}
		if prev, seen := origin[key]; seen && prev < k {
			continue
		}
		origin[key] = k
		out[key] = n.Value(v)
	}
	return out
}

func canonicalKey(key string) string {
	k := upper(collapse(norm.NFKC.String(key)))
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, k)
}

// collapse trims s and reduces interior whitespace runs to a single space
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// upper uses a fresh Caser per call; casers carry state and are not safe to share
func upper(s string) string {
	return cases.Upper(language.Und).String(s)
}
