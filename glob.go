package main

import (
	"path"
	"strings"

	"github.com/dfgordon/a2kit/disk"
)

/*
	Glob over catalog paths. Patterns are slash-separated and matched
	case-insensitively per segment; a leading segment equal to the
	volume name is stripped so ProDOS-style absolute paths
	("/VOL/DIR/FILE") work unchanged. A pattern without a separator
	matches base names at any depth.
*/

const GLOB_MAX_DEPTH = 16

// applyVolumePrefix removes the volume-name prefix from a pattern when
// the family names its volumes.
func applyVolumePrefix(fs *disk.DiskFS, pattern string) string {

	pattern = strings.Trim(pattern, "/")

	st, err := fs.Stats()
	if err != nil || st.VolumeName == "" {
		return pattern
	}

	parts := strings.SplitN(pattern, "/", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], st.VolumeName) {
		return parts[1]
	}
	return pattern
}

// globWalk collects the full path of every file in the catalog tree.
func globWalk(fs *disk.DiskFS, dir string, depth int, out *[]string) error {

	if depth > GLOB_MAX_DEPTH {
		return nil
	}

	entries, err := fs.Catalog(dir, "")
	if err != nil {
		return err
	}

	for _, e := range entries {
		full := e.Name
		if dir != "" {
			full = dir + "/" + e.Name
		}
		if e.Directory {
			if err := globWalk(fs, full, depth+1, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, full)
	}

	return nil
}

// Glob returns the full catalog paths matching pattern.
func Glob(fs *disk.DiskFS, pattern string) ([]string, error) {

	pattern = strings.ToUpper(applyVolumePrefix(fs, pattern))

	var all []string
	if err := globWalk(fs, "", 0, &all); err != nil {
		return nil, err
	}

	var out []string
	for _, full := range all {
		subject := strings.ToUpper(full)
		if !strings.Contains(pattern, "/") {
			subject = strings.ToUpper(path.Base(full))
		}
		if ok, err := path.Match(pattern, subject); err != nil {
			return nil, err
		} else if ok {
			out = append(out, full)
		}
	}

	return out, nil
}
