package storyerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(KindUpstreamGeneration, "generate", cause)

	assert.ErrorIs(t, err, ErrUpstreamGeneration)
	assert.NotErrorIs(t, err, ErrUpstreamSynthesis)
	assert.ErrorIs(t, err, cause)
}

func TestErrorMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("run story: %w", New(KindPersistence, "write narrative", errors.New("disk full")))

	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.True(t, IsUpstream(err))
	assert.False(t, IsAuth(err))
}

func TestErrorMessage(t *testing.T) {
	err := New(KindUpstreamSynthesis, "synthesize", errors.New("tts returned status 500"))
	assert.Equal(t, "synthesize: speech synthesis failed: tts returned status 500", err.Error())

	assert.Equal(t, "invalid credentials", ErrInvalidCredentials.Error())
}

func TestClassification(t *testing.T) {
	assert.True(t, IsAuth(ErrInvalidCredentials))
	assert.True(t, IsAuth(ErrInvalidOrExpiredToken))
	assert.False(t, IsUpstream(ErrInvalidOrExpiredToken))

	for _, err := range []error{ErrUpstreamFetch, ErrUpstreamGeneration, ErrUpstreamSynthesis, ErrPersistence} {
		assert.True(t, IsUpstream(err), "%v should be upstream", err)
	}
	assert.False(t, IsUpstream(ErrTemplate))

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, IsAuth(nil))
}
