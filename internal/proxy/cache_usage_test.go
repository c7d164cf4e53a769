package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anthroproxy/internal/promptcache"
	"anthroproxy/internal/streamx"
	"anthroproxy/pkg/translate"
)

// TestRecordCacheAccess_FirstSeenThenHitCarrySameEstimate matches spec.md
// §8 scenario 6: two requests with identical (system,tools) produce a
// firstSeen access then a hit, both carrying the same estimated token
// figure forward into usage attribution.
func TestRecordCacheAccess_FirstSeenThenHitCarrySameEstimate(t *testing.T) {
	s := testServer()
	fp := translate.FingerprintPayload{
		System: "you are a helpful assistant",
		Tools:  []translate.Tool{{Name: "search", Description: "web search"}},
	}

	fp1, access1, err := s.recordCacheAccess(fp)
	require.NoError(t, err)
	assert.True(t, access1.FirstSeen)
	assert.False(t, access1.Hit)

	fp2, access2, err := s.recordCacheAccess(fp)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)
	assert.True(t, access2.Hit)
	assert.False(t, access2.FirstSeen)
	assert.Equal(t, access1.EstimatedTokens, access2.EstimatedTokens)

	var usage translate.Usage
	applyCacheUsage(&usage, access1)
	assert.Equal(t, access1.EstimatedTokens, usage.CacheCreationInputTokens)
	assert.Zero(t, usage.CacheReadInputTokens)

	usage = translate.Usage{}
	applyCacheUsage(&usage, access2)
	assert.Equal(t, access2.EstimatedTokens, usage.CacheReadInputTokens)
	assert.Zero(t, usage.CacheCreationInputTokens)
}

func TestAugmentFinishUsage_FillsCacheFieldsOnFinishOnly(t *testing.T) {
	access := promptcache.AccessResult{Hit: true, EstimatedTokens: 42}

	in := make(chan streamx.Event, 2)
	in <- streamx.TextDelta("hi")
	in <- streamx.Finish("stop", streamx.Usage{InputTokens: 5, OutputTokens: 2})
	close(in)

	out := augmentFinishUsage(in, access)

	first := <-out
	assert.Equal(t, streamx.EventTextDelta, first.Kind)
	assert.Zero(t, first.Usage.CacheReadInputTokens)

	second := <-out
	assert.Equal(t, streamx.EventFinish, second.Kind)
	assert.EqualValues(t, 42, second.Usage.CacheReadInputTokens)
	assert.EqualValues(t, 5, second.Usage.InputTokens)

	_, open := <-out
	assert.False(t, open)
}
