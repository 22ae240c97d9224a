package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{DocStatusPending, DocStatusProcessing, true},
		{DocStatusProcessing, DocStatusIndexed, true},
		{DocStatusProcessing, DocStatusFailed, true},
		{DocStatusIndexed, DocStatusPending, true},
		{DocStatusFailed, DocStatusPending, true},

		// No backward or skipping transitions.
		{DocStatusPending, DocStatusIndexed, false},
		{DocStatusPending, DocStatusFailed, false},
		{DocStatusProcessing, DocStatusPending, false},
		{DocStatusIndexed, DocStatusProcessing, false},
		{DocStatusIndexed, DocStatusFailed, false},
		{DocStatusFailed, DocStatusIndexed, false},
		{"bogus", DocStatusPending, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(DocStatusIndexed))
	assert.True(t, IsTerminal(DocStatusFailed))
	assert.False(t, IsTerminal(DocStatusPending))
	assert.False(t, IsTerminal(DocStatusProcessing))
}
