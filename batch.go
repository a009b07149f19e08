package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dfgordon/a2kit/disk"
	"github.com/dfgordon/a2kit/loggy"
)

/*
	Batch multi-get and multi-put. Each item gets its own outcome so a
	single bad file never aborts the rest of the run, and directory
	walks are capped in depth and entry count.
*/

type BatchCaps struct {
	MaxDepth   int
	MaxEntries int
}

func DefaultBatchCaps() BatchCaps {
	return BatchCaps{
		MaxDepth:   8,
		MaxEntries: 4096,
	}
}

// BatchOutcome is one item's result.
type BatchOutcome struct {
	Path string
	Size int
	Err  error
}

func (o BatchOutcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("FAIL %s: %v", o.Path, o.Err)
	}
	return fmt.Sprintf("OK   %s (%d bytes)", o.Path, o.Size)
}

// BatchGet extracts every catalog path matching pattern into destDir,
// one file per item, flattening catalog paths with "_".
func BatchGet(fs *disk.DiskFS, pattern string, destDir string, caps BatchCaps) []BatchOutcome {

	log := loggy.Get(0)

	paths, err := Glob(fs, pattern)
	if err != nil {
		return []BatchOutcome{{Path: pattern, Err: err}}
	}
	if caps.MaxEntries > 0 && len(paths) > caps.MaxEntries {
		log.Logf("batch get: %d matches capped to %d", len(paths), caps.MaxEntries)
		paths = paths[:caps.MaxEntries]
	}

	var out []BatchOutcome
	for _, p := range paths {
		dir, name := "", p
		if i := strings.LastIndex(p, "/"); i >= 0 {
			dir, name = p[:i], p[i+1:]
		}
		_, data, err := fs.ReadFile(dir, name)
		if err != nil {
			out = append(out, BatchOutcome{Path: p, Err: err})
			continue
		}
		local := filepath.Join(destDir, strings.ReplaceAll(p, "/", "_"))
		if err := os.WriteFile(local, data, 0644); err != nil {
			out = append(out, BatchOutcome{Path: p, Err: err})
			continue
		}
		out = append(out, BatchOutcome{Path: p, Size: len(data)})
	}

	return out
}

// batchWalkLocal lists regular files under root subject to the caps.
func batchWalkLocal(root string, caps BatchCaps) ([]string, error) {

	var out []string
	rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))

	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			depth := strings.Count(filepath.Clean(p), string(filepath.Separator)) - rootDepth
			if caps.MaxDepth > 0 && depth >= caps.MaxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if caps.MaxEntries > 0 && len(out) >= caps.MaxEntries {
			return filepath.SkipDir
		}
		out = append(out, p)
		return nil
	})

	return out, err
}

// BatchPut stores every regular file under srcDir onto the volume at
// targetPath, deriving each file's type from its extension.
func BatchPut(fs *disk.DiskFS, srcDir string, targetPath string, caps BatchCaps) []BatchOutcome {

	files, err := batchWalkLocal(srcDir, caps)
	if err != nil {
		return []BatchOutcome{{Path: srcDir, Err: err}}
	}

	var out []BatchOutcome
	for _, local := range files {
		data, err := os.ReadFile(local)
		if err != nil {
			out = append(out, BatchOutcome{Path: local, Err: err})
			continue
		}
		base := filepath.Base(local)
		kind := strings.TrimPrefix(filepath.Ext(base), ".")
		name := strings.TrimSuffix(base, filepath.Ext(base))
		if kind == "" {
			name = base
		}
		if err := fs.WriteFile(targetPath, name, kind, data, -1); err != nil {
			out = append(out, BatchOutcome{Path: local, Err: err})
			continue
		}
		out = append(out, BatchOutcome{Path: local, Size: len(data)})
	}

	return out
}
