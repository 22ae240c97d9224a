package filter

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchvec/patchvec/internal/errdefs"
)

func TestPredicateValidate(t *testing.T) {
	tests := []struct {
		name string
		pred Predicate
		ok   bool
	}{
		{"key lookup", Predicate{On: OnDocument, Key: "author", Value: "John Doe", Lookup: LookupKey}, true},
		{"contains", Predicate{On: OnCollection, Key: "breed", Value: "collie", Lookup: LookupContains}, true},
		{"contained_by", Predicate{Key: "tag", Value: "x", Lookup: LookupContainedBy}, true},
		{"has_key", Predicate{Key: "reviewed", Lookup: LookupHasKey}, true},
		{"has_keys", Predicate{Key: []string{"a", "b"}, Lookup: LookupHasKeys}, true},
		{"has_any_keys json shape", Predicate{Key: []any{"a", "b"}, Lookup: LookupHasAnyKeys}, true},
		{"defaults to document key_lookup", Predicate{Key: "k", Value: 1}, true},

		{"bad target", Predicate{On: "page", Key: "k", Value: "v", Lookup: LookupKey}, false},
		{"bad lookup", Predicate{Key: "k", Value: "v", Lookup: "regex"}, false},
		{"key lookup without value", Predicate{Key: "k", Lookup: LookupKey}, false},
		{"key lookup with list key", Predicate{Key: []string{"k"}, Value: "v", Lookup: LookupKey}, false},
		{"has_key with value", Predicate{Key: "k", Value: "v", Lookup: LookupHasKey}, false},
		{"has_keys with string key", Predicate{Key: "k", Lookup: LookupHasKeys}, false},
		{"has_any_keys with non-string member", Predicate{Key: []any{"a", 3}, Lookup: LookupHasAnyKeys}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pred.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, errdefs.ErrInvalidFilter)
			}
		})
	}
}

func TestBuildResolveQueryScopes(t *testing.T) {
	owner := uuid.New()

	query, args, err := buildResolveQuery(owner, "all", nil)
	require.NoError(t, err)
	assert.NotContains(t, query, "c.name")
	assert.Equal(t, []any{owner}, args)

	query, args, err = buildResolveQuery(owner, "papers", nil)
	require.NoError(t, err)
	assert.Contains(t, query, "c.name = $2")
	assert.Equal(t, []any{owner, "papers"}, args)
}

func TestBuildResolveQueryKeyLookup(t *testing.T) {
	owner := uuid.New()
	pred := &Predicate{On: OnDocument, Key: "author", Value: "John Doe", Lookup: LookupKey}

	query, args, err := buildResolveQuery(owner, "papers", pred)
	require.NoError(t, err)

	assert.Contains(t, query, "d.metadata -> $3 = $4::jsonb")
	assert.Equal(t, []any{owner, "papers", "author", `"John Doe"`}, args)
}

func TestBuildResolveQueryContainsOnCollection(t *testing.T) {
	owner := uuid.New()
	pred := &Predicate{On: OnCollection, Key: "breed", Value: "collie", Lookup: LookupContains}

	query, args, err := buildResolveQuery(owner, "all", pred)
	require.NoError(t, err)

	assert.Contains(t, query, "c.metadata @> $2::jsonb")
	assert.Equal(t, []any{owner, `{"breed":"collie"}`}, args)
}

func TestBuildResolveQueryHasAnyKeys(t *testing.T) {
	owner := uuid.New()
	pred := &Predicate{Key: []string{"a", "b"}, Lookup: LookupHasAnyKeys}

	query, args, err := buildResolveQuery(owner, "", pred)
	require.NoError(t, err)

	assert.Contains(t, query, "d.metadata ?| $2")
	require.Len(t, args, 2)
	assert.Equal(t, []string{"a", "b"}, args[1])
}

func TestBuildResolveQueryInvalidPredicateFailsClosed(t *testing.T) {
	_, _, err := buildResolveQuery(uuid.New(), "papers", &Predicate{Key: "k", Lookup: "regex", Value: "v"})
	assert.ErrorIs(t, err, errdefs.ErrInvalidFilter)
}
