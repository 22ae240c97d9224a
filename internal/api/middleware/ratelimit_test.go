package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsBurstThenBlocks(t *testing.T) {
	rl := &RateLimiter{buckets: make(map[string]*bucket), rate: 0, burst: 3}

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("client"), "request %d within burst", i+1)
	}
	assert.False(t, rl.allow("client"))
	assert.True(t, rl.allow("other"), "independent buckets per client")
}
