package checker

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/mediacheck/mediacheck/internal/errors"
)

// RepairMethod selects how a damaged file is rewritten.
type RepairMethod string

const (
	// RepairCopy remuxes the streams without re-encoding.
	RepairCopy RepairMethod = "copy"
	RepairH264 RepairMethod = "h264"
	RepairH265 RepairMethod = "h265"
)

// ParseRepairMethod accepts "copy", "h264" or "h265" (case-insensitive).
func ParseRepairMethod(s string) (RepairMethod, error) {
	m := RepairMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case RepairCopy, RepairH264, RepairH265:
		return m, nil
	case "":
		return RepairCopy, nil
	}
	return "", errors.Wrapf(errors.ErrInvalidArgument, "unknown repair method %q", s)
}

// DefaultRepairOutput returns <stem>_repaired<ext> next to in.
func DefaultRepairOutput(in string) string {
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + "_repaired" + ext
}

// RepairArgs returns the full command line (binary first) that rewrites in to out.
func RepairArgs(ffmpeg, in, out string, method RepairMethod) []string {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	args := []string{ffmpeg, "-i", in}
	switch method {
	case RepairH264:
		args = append(args, "-c:v", "libx264", "-preset", "medium", "-crf", "23", "-c:a", "aac")
	case RepairH265:
		args = append(args, "-c:v", "libx265", "-preset", "medium", "-crf", "28", "-c:a", "aac")
	default:
		args = append(args, "-c", "copy")
	}
	return append(args, out)
}

// QuoteArgs renders args as a copy-pasteable shell command.
func QuoteArgs(args []string) string {
	return shellquote.Join(args...)
}

// RunRepair executes a command built by RepairArgs.
func RunRepair(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.Wrap(errors.ErrInvalidArgument, "empty repair command")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return errors.WithDetail(
				errors.Mark(errors.Wrapf(err, "repair command failed with exit code %d", exitErr.ExitCode()), errors.ErrToolFailure),
				strings.TrimSpace(stderr.String()),
			)
		}
		return errors.Mark(errors.Wrap(err, "start repair command"), errors.ErrInvocation)
	}
	return nil
}
