// Package localfs discovers photos on the local filesystem for upload.
package localfs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"carphoto/internal/carphoto"
)

// Collect reads every regular file named by paths. Directories contribute
// their files, recursively when recursive is set; ignored files and the
// patterns of each directory's ignore file are skipped. Files named
// directly are never filtered. The result is sorted by name.
func Collect(paths []string, recursive bool, matcher *IgnoreMatcher) ([]carphoto.UploadFile, error) {
	var files []carphoto.UploadFile
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat path: %w", err)
		}
		if !info.IsDir() {
			f, err := readFile(p, info)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
			continue
		}
		found, err := collectDir(p, recursive, matcher)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	slices.SortStableFunc(files, func(a, b carphoto.UploadFile) int {
		return strings.Compare(a.Name, b.Name)
	})
	return files, nil
}

func collectDir(root string, recursive bool, matcher *IgnoreMatcher) ([]carphoto.UploadFile, error) {
	extra, err := ParseIgnoreFile(filepath.Join(root, IgnoreFile))
	if err != nil {
		return nil, err
	}
	matcher = matcher.With(extra)

	var files []carphoto.UploadFile
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == root {
				return nil
			}
			if !recursive || matcher.Match(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matcher.Match(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		f, err := readFile(p, info)
		if err != nil {
			return err
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return files, nil
}

func readFile(path string, info fs.FileInfo) (carphoto.UploadFile, error) {
	if !info.Mode().IsRegular() {
		return carphoto.UploadFile{}, fmt.Errorf("not a regular file: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return carphoto.UploadFile{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return carphoto.UploadFile{Name: filepath.Base(path), Data: data}, nil
}
