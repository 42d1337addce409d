package checker

import (
	"context"
	"testing"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediacheck/mediacheck/internal/errors"
)

func TestRepairArgs(t *testing.T) {
	tests := []struct {
		method RepairMethod
		want   []string
	}{
		{RepairCopy, []string{"ffmpeg", "-i", "in.mp4", "-c", "copy", "out.mp4"}},
		{RepairH264, []string{"ffmpeg", "-i", "in.mp4", "-c:v", "libx264", "-preset", "medium", "-crf", "23", "-c:a", "aac", "out.mp4"}},
		{RepairH265, []string{"ffmpeg", "-i", "in.mp4", "-c:v", "libx265", "-preset", "medium", "-crf", "28", "-c:a", "aac", "out.mp4"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RepairArgs("", "in.mp4", "out.mp4", tt.method), string(tt.method))
	}
}

func TestParseRepairMethod(t *testing.T) {
	m, err := ParseRepairMethod("H265")
	require.NoError(t, err)
	assert.Equal(t, RepairH265, m)

	m, err = ParseRepairMethod("")
	require.NoError(t, err)
	assert.Equal(t, RepairCopy, m)

	_, err = ParseRepairMethod("vp9")
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestDefaultRepairOutput(t *testing.T) {
	assert.Equal(t, "/films/My Movie_repaired.mkv", DefaultRepairOutput("/films/My Movie.mkv"))
	assert.Equal(t, "noext_repaired", DefaultRepairOutput("noext"))
}

func TestQuoteArgs_RoundTrips(t *testing.T) {
	args := RepairArgs("ffmpeg", "/films/it's broken.mkv", "/films/it's broken_repaired.mkv", RepairCopy)
	line := QuoteArgs(args)
	back, err := shellquote.Split(line)
	require.NoError(t, err)
	assert.Equal(t, args, back)
}

func TestRunRepair(t *testing.T) {
	ok := fakeFFmpeg(t, "exit 0")
	require.NoError(t, RunRepair(context.Background(), []string{ok, "-i", "a", "b"}))

	bad := fakeFFmpeg(t, `echo "Invalid data found when processing input" >&2; exit 1`)
	err := RunRepair(context.Background(), []string{bad, "-i", "a", "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrToolFailure))
	assert.Contains(t, err.Error(), "exit code 1")

	err = RunRepair(context.Background(), nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}
