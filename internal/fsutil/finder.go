// Package fsutil finds graph documents on disk. Hidden directories (names
// starting with a dot) are skipped, so editor swap dirs and .git never count.
package fsutil

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// GraphExtensions are the file extensions of graph documents.
var GraphExtensions = []string{".json", ".hcl"}

// HasExtension reports whether name ends in one of exts, ignoring case.
func HasExtension(name string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// FindFilesByExtension walks rootPath and returns every file with one of
// the given extensions, sorted by path.
func FindFilesByExtension(rootPath string, exts ...string) ([]string, error) {
	if len(exts) == 0 {
		panic("fsutil: at least one extension is required")
	}

	var files []string
	err := walk(rootPath, func(path string, d fs.DirEntry) {
		if !d.IsDir() && HasExtension(d.Name(), exts...) {
			files = append(files, path)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Dirs returns rootPath and every non-hidden directory below it.
func Dirs(rootPath string) ([]string, error) {
	var dirs []string
	err := walk(rootPath, func(path string, d fs.DirEntry) {
		if d.IsDir() {
			dirs = append(dirs, path)
		}
	})
	return dirs, err
}

func walk(rootPath string, visit func(string, fs.DirEntry)) error {
	return filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != rootPath && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		visit(path, d)
		return nil
	})
}
