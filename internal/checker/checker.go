// Package checker runs ffmpeg against a single media file and reports
// whether it decoded cleanly.
package checker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/mediacheck/mediacheck/internal/errors"
)

// Options are dispatch-time parameters of a single check.
type Options struct {
	Fast        bool
	FastSeconds int
}

// Result is the outcome of one check. Details holds the raw diagnostic
// text on failure.
type Result struct {
	Success bool
	Details string
}

// Checker verifies one file. Implementations must be safe for concurrent use.
type Checker interface {
	Check(ctx context.Context, path string, opts Options) (Result, error)
}

// FFmpeg decodes the whole file (or its tail in fast mode) to the null muxer.
type FFmpeg struct {
	Path      string
	ExtraArgs []string
}

// New returns an FFmpeg checker. extraArgs is split with shell quoting rules
// and inserted before the input.
func New(path, extraArgs string) (*FFmpeg, error) {
	if path == "" {
		path = "ffmpeg"
	}
	var extra []string
	if strings.TrimSpace(extraArgs) != "" {
		var err error
		extra, err = shellquote.Split(extraArgs)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidArgument, "parse ffmpeg extra args: %v", err)
		}
	}
	return &FFmpeg{Path: path, ExtraArgs: extra}, nil
}

// Args returns the ffmpeg argument list for checking path.
func (f *FFmpeg) Args(path string, opts Options) []string {
	args := []string{"-nostdin"}
	if opts.Fast && opts.FastSeconds > 0 {
		args = append(args, "-sseof", "-"+strconv.Itoa(opts.FastSeconds))
	}
	args = append(args, "-v", "error")
	args = append(args, f.ExtraArgs...)
	return append(args, "-i", path, "-f", "null", "-")
}

// Check runs ffmpeg on path. A missing file fails with ErrFileMissing
// without spawning a process. The returned Result is always usable; the
// error classifies failures (ErrToolFailure, ErrInvocation).
func (f *FFmpeg) Check(ctx context.Context, path string, opts Options) (Result, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Result{Details: "Error: File not found at path."}, errors.Wrapf(errors.ErrFileMissing, "%s", path)
		}
		return Result{Details: "Error: " + err.Error()}, errors.Mark(errors.Wrap(err, "stat media file"), errors.ErrFileMissing)
	}

	cmd := exec.CommandContext(ctx, f.Path, f.Args(path, opts)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	diag := strings.TrimSpace(stderr.String())
	if err != nil {
		if ctx.Err() != nil {
			return Result{Details: "Check interrupted."}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if diag == "" {
				diag = fmt.Sprintf("ffmpeg exited with status %d", exitErr.ExitCode())
			}
			return Result{Details: diag}, errors.Mark(errors.Wrap(err, "ffmpeg"), errors.ErrToolFailure)
		}
		return Result{Details: "A critical error occurred: " + err.Error()},
			errors.Mark(errors.Wrap(err, "start ffmpeg"), errors.ErrInvocation)
	}
	if diag != "" {
		return Result{Details: diag}, errors.Mark(errors.New("ffmpeg reported decode errors"), errors.ErrToolFailure)
	}
	return Result{Success: true, Details: "OK"}, nil
}
