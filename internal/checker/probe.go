package checker

import (
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/mediacheck/mediacheck/internal/errors"
)

// fastCheckConstraint is the first release that accepts -sseof.
const fastCheckConstraint = ">= 3.0"

var versionRe = regexp.MustCompile(`ffmpeg version n?(\d+(?:\.\d+){0,2})`)

// Tool describes a probed ffmpeg binary.
type Tool struct {
	Path    string          `json:"path"`
	Version string          `json:"version"`
	Semver  *semver.Version `json:"-"`
}

// SupportsFastCheck reports whether the binary understands -sseof.
// Builds without a release number (git snapshots) are assumed recent.
func (t Tool) SupportsFastCheck() bool {
	if t.Semver == nil {
		return true
	}
	c, err := semver.NewConstraint(fastCheckConstraint)
	if err != nil {
		return false
	}
	return c.Check(t.Semver)
}

// Probe locates the ffmpeg binary and reads its version banner.
func (f *FFmpeg) Probe(ctx context.Context) (Tool, error) {
	resolved, err := exec.LookPath(f.Path)
	if err != nil {
		return Tool{}, errors.WithHint(
			errors.Wrapf(errors.ErrToolNotFound, "%s: %v", f.Path, err),
			"install ffmpeg and make sure it is on PATH, or set ffmpeg.path",
		)
	}

	out, err := exec.CommandContext(ctx, resolved, "-version").Output()
	if err != nil {
		return Tool{Path: resolved}, errors.Mark(errors.Wrap(err, "ffmpeg -version"), errors.ErrInvocation)
	}

	t := Tool{Path: resolved, Version: firstLine(string(out))}
	if m := versionRe.FindStringSubmatch(t.Version); m != nil {
		if v, err := semver.NewVersion(m[1]); err == nil {
			t.Semver = v
		}
	}
	return t, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "\n"); idx > 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
