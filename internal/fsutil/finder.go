// Package fsutil provides file system utility functions.
package fsutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/modelyard/modelyard/internal/config"
)

// FindFilesByExtension recursively searches the given root path for all files
// ending with the specified extension. The result is sorted so callers load
// files in a stable order regardless of filesystem iteration quirks.
func FindFilesByExtension(rootPath string, extension string) ([]string, error) {
	if extension == "" {
		panic("extension must not be empty")
	}

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), extension) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// ReadSources reads every named file into a config.Source, preserving order.
func ReadSources(paths []string) ([]config.Source, error) {
	sources := make([]config.Source, 0, len(paths))
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, config.Source{Filename: path, Src: src})
	}
	return sources, nil
}
