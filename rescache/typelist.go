package rescache

import "strings"

// TypeList is a pattern registry mapping resource-ID glob patterns to
// factory callbacks, one instance per resource kind (model,
// collection). Patterns use RES token-glob syntax: "*" matches exactly
// one dot-separated token, ">" matches one or more trailing tokens.
// The registry itself is just a list of patterns plus a Factory lookup,
// generalized from path.Match's single-segment globs to RES's
// multi-token wildcards.
type TypeList struct {
	patterns []typePattern
	fallback Factory
}

type typePattern struct {
	tokens  []string
	factory Factory
}

// NewTypeList creates an empty registry. fallback is used when no
// registered pattern matches a RID; pass nil to have Factory return
// nil on a miss.
func NewTypeList(fallback Factory) *TypeList {
	return &TypeList{fallback: fallback}
}

// Add registers factory for every RID matching pattern. Later
// registrations take precedence over earlier ones that also match,
// mirroring how application code overrides built-in defaults by
// registering after construction.
func (tl *TypeList) Add(pattern string, factory Factory) {
	tl.patterns = append([]typePattern{{tokens: strings.Split(pattern, "."), factory: factory}}, tl.patterns...)
}

// Factory returns the factory of the most recently registered pattern
// matching rid, or the fallback if none match. Specificity plays no
// part: a broad pattern added after a narrow one shadows it.
func (tl *TypeList) Factory(rid RID) Factory {
	tokens := strings.Split(rid, ".")
	for _, p := range tl.patterns {
		if matchTokens(p.tokens, tokens) {
			return p.factory
		}
	}
	return tl.fallback
}

// matchTokens reports whether pattern (already split on ".") matches
// the RID's tokens. "*" matches exactly one token; ">" matches one or
// more tokens and must be the final pattern token.
func matchTokens(pattern, tokens []string) bool {
	for i, p := range pattern {
		if p == ">" {
			return i < len(tokens)
		}
		if i >= len(tokens) {
			return false
		}
		if p != "*" && p != tokens[i] {
			return false
		}
	}
	return len(pattern) == len(tokens)
}
