// Package filter resolves metadata predicates to the set of document ids a
// search is allowed to touch. Filtering happens before vector search, never
// after it.
package filter

import (
	"encoding/json"
	"fmt"

	"github.com/patchvec/patchvec/internal/errdefs"
)

// Predicate targets.
const (
	OnDocument   = "document"
	OnCollection = "collection"
)

// Lookup operators.
const (
	LookupKey         = "key_lookup"
	LookupContains    = "contains"
	LookupContainedBy = "contained_by"
	LookupHasKey      = "has_key"
	LookupHasKeys     = "has_keys"
	LookupHasAnyKeys  = "has_any_keys"
)

// Predicate is a single structural condition over document or collection
// metadata. Key is a string for scalar lookups and a list of strings for the
// has_keys/has_any_keys family, matching the wire shape.
type Predicate struct {
	On     string `json:"on"`
	Key    any    `json:"key"`
	Value  any    `json:"value,omitempty"`
	Lookup string `json:"lookup"`
}

// Validate enforces the shape rules for each lookup operator.
func (p *Predicate) Validate() error {
	if p.On == "" {
		p.On = OnDocument
	}
	if p.Lookup == "" {
		p.Lookup = LookupKey
	}
	if p.On != OnDocument && p.On != OnCollection {
		return fmt.Errorf("unsupported filter target %q: %w", p.On, errdefs.ErrInvalidFilter)
	}

	switch p.Lookup {
	case LookupKey, LookupContains, LookupContainedBy:
		if _, ok := p.keyString(); !ok {
			return fmt.Errorf("%s needs a string key: %w", p.Lookup, errdefs.ErrInvalidFilter)
		}
		if p.Value == nil {
			return fmt.Errorf("%s needs a value: %w", p.Lookup, errdefs.ErrInvalidFilter)
		}
	case LookupHasKey:
		if _, ok := p.keyString(); !ok {
			return fmt.Errorf("has_key needs a string key: %w", errdefs.ErrInvalidFilter)
		}
		if p.Value != nil {
			return fmt.Errorf("has_key takes no value: %w", errdefs.ErrInvalidFilter)
		}
	case LookupHasKeys, LookupHasAnyKeys:
		if _, ok := p.keyList(); !ok {
			return fmt.Errorf("%s needs a list of string keys: %w", p.Lookup, errdefs.ErrInvalidFilter)
		}
		if p.Value != nil {
			return fmt.Errorf("%s takes no value: %w", p.Lookup, errdefs.ErrInvalidFilter)
		}
	default:
		return fmt.Errorf("unsupported lookup %q: %w", p.Lookup, errdefs.ErrInvalidFilter)
	}
	return nil
}

// clause renders the predicate as a SQL condition over the aliased metadata
// column, appending to args. argIdx is the next free $ placeholder.
func (p *Predicate) clause(argIdx int) (string, []any, error) {
	field := "d.metadata"
	if p.On == OnCollection {
		field = "c.metadata"
	}

	switch p.Lookup {
	case LookupKey:
		key, _ := p.keyString()
		val, err := json.Marshal(p.Value)
		if err != nil {
			return "", nil, fmt.Errorf("encode filter value: %w", errdefs.ErrInvalidFilter)
		}
		return fmt.Sprintf("%s -> $%d = $%d::jsonb", field, argIdx, argIdx+1),
			[]any{key, string(val)}, nil

	case LookupContains, LookupContainedBy:
		key, _ := p.keyString()
		obj, err := json.Marshal(map[string]any{key: p.Value})
		if err != nil {
			return "", nil, fmt.Errorf("encode filter value: %w", errdefs.ErrInvalidFilter)
		}
		op := "@>"
		if p.Lookup == LookupContainedBy {
			op = "<@"
		}
		return fmt.Sprintf("%s %s $%d::jsonb", field, op, argIdx), []any{string(obj)}, nil

	case LookupHasKey:
		key, _ := p.keyString()
		return fmt.Sprintf("%s ? $%d", field, argIdx), []any{key}, nil

	case LookupHasKeys, LookupHasAnyKeys:
		keys, _ := p.keyList()
		op := "?&"
		if p.Lookup == LookupHasAnyKeys {
			op = "?|"
		}
		return fmt.Sprintf("%s %s $%d", field, op, argIdx), []any{keys}, nil
	}
	return "", nil, fmt.Errorf("unsupported lookup %q: %w", p.Lookup, errdefs.ErrInvalidFilter)
}

func (p *Predicate) keyString() (string, bool) {
	s, ok := p.Key.(string)
	return s, ok && s != ""
}

func (p *Predicate) keyList() ([]string, bool) {
	switch v := p.Key.(type) {
	case []string:
		return v, len(v) > 0
	case []any:
		// JSON decoding yields []any.
		keys := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			keys = append(keys, s)
		}
		return keys, len(keys) > 0
	}
	return nil, false
}
