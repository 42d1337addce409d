package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolNotFoundIsInvocation(t *testing.T) {
	err := Wrap(ErrToolNotFound, "probe ffmpeg")
	assert.True(t, Is(err, ErrInvocation))
	assert.True(t, Is(err, ErrToolNotFound))
	assert.False(t, Is(err, ErrFileMissing))
}

func TestMarkPreservesMessage(t *testing.T) {
	err := Mark(Newf("start ffmpeg: %s", "permission denied"), ErrInvocation)
	assert.True(t, Is(err, ErrInvocation))
	assert.Contains(t, err.Error(), "permission denied")
}
