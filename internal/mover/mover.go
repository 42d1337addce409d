// Package mover relocates files into a destination folder without ever
// overwriting an existing file.
package mover

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mediacheck/mediacheck/internal/errors"
)

// Resolver hands out collision-free destination paths inside one folder.
// A path is taken if it exists on disk or was already claimed through the
// same resolver. All methods are goroutine-safe.
type Resolver struct {
	mu      sync.Mutex
	dir     string
	claimed map[string]struct{}
}

// NewResolver returns a resolver for the folder dir.
func NewResolver(dir string) *Resolver {
	return &Resolver{
		dir:     dir,
		claimed: make(map[string]struct{}),
	}
}

// Dir returns the destination folder.
func (r *Resolver) Dir() string { return r.dir }

// Claim returns the destination for src: dir/<name> when free, otherwise
// <stem>_copy<ext>, <stem>_copy2<ext>, and so on.
func (r *Resolver) Claim(src string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	base := filepath.Base(src)
	candidate := filepath.Join(r.dir, base)
	if r.freeLocked(candidate, src) {
		r.claimed[candidate] = struct{}{}
		return candidate
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for n := 1; ; n++ {
		suffix := "_copy"
		if n > 1 {
			suffix = fmt.Sprintf("_copy%d", n)
		}
		candidate = filepath.Join(r.dir, stem+suffix+ext)
		if r.freeLocked(candidate, src) {
			r.claimed[candidate] = struct{}{}
			return candidate
		}
	}
}

func (r *Resolver) freeLocked(candidate, src string) bool {
	if _, taken := r.claimed[candidate]; taken {
		return false
	}
	if filepath.Clean(candidate) == filepath.Clean(src) {
		return true
	}
	_, err := os.Lstat(candidate)
	return os.IsNotExist(err)
}

// Move relocates src to dst and fails when dst already exists. The file is
// hard-linked into place and src unlinked; where links are unavailable
// (another file system, or one without link support) it is copied with
// O_EXCL and src removed. Moving a path onto itself is a no-op.
func Move(src, dst string) error {
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil
	}
	err := os.Link(src, dst)
	switch {
	case err == nil:
		if err := os.Remove(src); err != nil {
			os.Remove(dst)
			return errors.Mark(errors.Wrapf(err, "move %s", filepath.Base(src)), errors.ErrMove)
		}
		return nil
	case os.IsExist(err):
		return errors.Mark(errors.Wrapf(err, "move %s", filepath.Base(src)), errors.ErrMove)
	}
	if err := copyFile(src, dst); err != nil {
		return errors.Mark(errors.Wrapf(err, "copy %s", filepath.Base(src)), errors.ErrMove)
	}
	if err := os.Remove(src); err != nil {
		return errors.Mark(errors.Wrapf(err, "remove %s after copy", filepath.Base(src)), errors.ErrMove)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
