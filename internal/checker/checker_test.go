package checker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediacheck/mediacheck/internal/errors"
)

// fakeFFmpeg writes an executable shell script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	script := filepath.Join(t.TempDir(), "ffmpeg")
	content := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script
}

func mediaFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "clip.mkv")
	require.NoError(t, os.WriteFile(p, []byte("not really matroska"), 0o644))
	return p
}

func TestArgs(t *testing.T) {
	f, err := New("ffmpeg", `-hwaccel auto -analyzeduration "100 M"`)
	require.NoError(t, err)

	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "full",
			opts: Options{},
			want: []string{"-nostdin", "-v", "error", "-hwaccel", "auto", "-analyzeduration", "100 M", "-i", "/m/a.mkv", "-f", "null", "-"},
		},
		{
			name: "fast",
			opts: Options{Fast: true, FastSeconds: 45},
			want: []string{"-nostdin", "-sseof", "-45", "-v", "error", "-hwaccel", "auto", "-analyzeduration", "100 M", "-i", "/m/a.mkv", "-f", "null", "-"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Args("/m/a.mkv", tt.opts))
		})
	}
}

func TestNew_BadExtraArgs(t *testing.T) {
	_, err := New("", `-v "unterminated`)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))
}

func TestCheck_Success(t *testing.T) {
	f := &FFmpeg{Path: fakeFFmpeg(t, "exit 0")}
	res, err := f.Check(context.Background(), mediaFile(t), Options{})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestCheck_Diagnostics(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"stderr with zero exit", `echo "[h264 @ 0x1] error while decoding MB 3 4" >&2; exit 0`, "[h264 @ 0x1] error while decoding MB 3 4"},
		{"stderr with non-zero exit", `echo "moov atom not found" >&2; exit 1`, "moov atom not found"},
		{"silent non-zero exit", "exit 3", "ffmpeg exited with status 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &FFmpeg{Path: fakeFFmpeg(t, tt.body)}
			res, err := f.Check(context.Background(), mediaFile(t), Options{})
			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Details)
			assert.True(t, errors.Is(err, errors.ErrToolFailure))
		})
	}
}

func TestCheck_MissingFileSpawnsNothing(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "spawned")
	f := &FFmpeg{Path: fakeFFmpeg(t, "touch "+marker)}

	res, err := f.Check(context.Background(), "/definitely/not/here.mkv", Options{})
	assert.False(t, res.Success)
	assert.True(t, errors.Is(err, errors.ErrFileMissing))
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "ffmpeg must not run for a missing file")
}

func TestCheck_InvocationError(t *testing.T) {
	f := &FFmpeg{Path: filepath.Join(t.TempDir(), "no-such-ffmpeg")}
	res, err := f.Check(context.Background(), mediaFile(t), Options{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Details, "A critical error occurred: ")
	assert.True(t, errors.Is(err, errors.ErrInvocation))
}

func TestCheck_PassesFastWindow(t *testing.T) {
	f := &FFmpeg{Path: fakeFFmpeg(t, `echo "$@" >&2`)}
	res, _ := f.Check(context.Background(), mediaFile(t), Options{Fast: true, FastSeconds: 30})
	assert.Contains(t, res.Details, "-sseof -30")
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name    string
		banner  string
		version string
		fast    bool
	}{
		{"release", "ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023 the FFmpeg developers", "6.1.1", true},
		{"old release", "ffmpeg version 2.8.17 Copyright (c) 2000-2020", "2.8.17", false},
		{"n-prefixed", "ffmpeg version n7.0 Copyright (c) 2000-2024", "7.0.0", true},
		{"git snapshot", "ffmpeg version N-113000-gabcdef Copyright", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &FFmpeg{Path: fakeFFmpeg(t, `echo "`+tt.banner+`"; echo "built with gcc"`)}
			tool, err := f.Probe(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.banner, tool.Version)
			if tt.version == "" {
				assert.Nil(t, tool.Semver)
			} else {
				require.NotNil(t, tool.Semver)
				assert.Equal(t, tt.version, tool.Semver.String())
			}
			assert.Equal(t, tt.fast, tool.SupportsFastCheck())
		})
	}
}

func TestProbe_NotFound(t *testing.T) {
	f := &FFmpeg{Path: "mediacheck-no-such-ffmpeg-binary"}
	_, err := f.Probe(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrToolNotFound))
	assert.True(t, errors.Is(err, errors.ErrInvocation))
	assert.NotEmpty(t, errors.GetAllHints(err))
}
