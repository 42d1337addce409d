package results

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mediacheck/mediacheck/internal/errors"
)

// Supported media file extensions (lowercase, with leading dot).
var mediaExtensions = map[string]bool{
	".mkv":  true,
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".mpg":  true,
	".mpeg": true,
	".ts":   true,
	".m2ts": true,
	".vob":  true,
}

// IsMedia reports whether path has a recognized media extension.
func IsMedia(path string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(path))]
}

// MediaExtensions returns the recognized extensions, sorted.
func MediaExtensions() []string {
	exts := make([]string, 0, len(mediaExtensions))
	for ext := range mediaExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Discover expands inputs into media files. Directories are walked
// recursively and their files sorted; plain files are kept when they have a
// media extension. Input order is preserved and duplicates are dropped.
func Discover(inputs ...string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve %s", in)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "discover %s", in), errors.ErrInvalidArgument)
		}
		if !info.IsDir() {
			if IsMedia(abs) {
				add(abs)
			}
			continue
		}

		var files []string
		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && IsMedia(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "walk %s", in)
		}
		sort.Strings(files)
		for _, f := range files {
			add(f)
		}
	}
	return out, nil
}
