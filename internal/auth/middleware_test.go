package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer pv_abc", "pv_abc"},
		{"bearer pv_abc", "pv_abc"},
		{"Bearer  pv_abc", "pv_abc"},
		{"Basic dXNlcg==", ""},
		{"pv_abc", ""},
		{"", ""},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		assert.Equal(t, tc.want, extractBearerToken(r), "header %q", tc.header)
	}
}

func TestGenerateTokenRoundTrip(t *testing.T) {
	tok, err := GenerateToken()
	require.NoError(t, err)
	assert.True(t, len(tok) > 10)
	assert.Contains(t, tok, "pv_")

	other, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
	assert.NotEqual(t, HashToken(tok), HashToken(other))
	assert.Len(t, HashToken(tok), 64)
}
