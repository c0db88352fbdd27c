package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const tempPrefix = ".upload-"

// FileSystemBackend stores the tree below a local directory. It is used for
// development and for running against a synced folder of a desktop disk
// client. Writes are atomic (temp file + rename).
type FileSystemBackend struct {
	root      string
	publicURL string
}

// NewFileSystemBackend creates root if needed. publicURL, when set, is the
// prefix Publish joins with the resource path; otherwise a file:// URL is
// returned.
func NewFileSystemBackend(root, publicURL string) (*FileSystemBackend, error) {
	if root == "" {
		return nil, fmt.Errorf("filesystem backend requires a root directory")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemBackend{root: abs, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

// Root returns the local directory backing the tree.
func (b *FileSystemBackend) Root() string {
	return b.root
}

func (b *FileSystemBackend) local(path string) string {
	return filepath.Join(b.root, filepath.FromSlash(path))
}

func mapOSError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	default:
		return err
	}
}

func (b *FileSystemBackend) entry(path string, info fs.FileInfo) Entry {
	e := Entry{
		Name:     info.Name(),
		Path:     path,
		IsDir:    info.IsDir(),
		Modified: info.ModTime().UTC(),
	}
	if !e.IsDir {
		e.Size = info.Size()
		if mt, err := mimetype.DetectFile(b.local(path)); err == nil {
			e.MimeType = mt.String()
		}
	}
	return e
}

// List returns the direct children of a folder. In-flight temp files are
// skipped.
func (b *FileSystemBackend) List(ctx context.Context, path string) ([]Entry, error) {
	info, err := os.Stat(b.local(path))
	if err != nil {
		return nil, mapOSError(err)
	}
	if !info.IsDir() {
		return nil, ErrNotFolder
	}

	dirEntries, err := os.ReadDir(b.local(path))
	if err != nil {
		return nil, mapOSError(err)
	}

	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if strings.HasPrefix(de.Name(), tempPrefix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		child := strings.TrimRight(path, "/") + "/" + de.Name()
		out = append(out, b.entry(child, info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Stat describes one resource.
func (b *FileSystemBackend) Stat(ctx context.Context, path string) (Entry, error) {
	info, err := os.Stat(b.local(path))
	if err != nil {
		return Entry{}, mapOSError(err)
	}
	return b.entry(path, info), nil
}

// Upload writes data through a temp file in the destination folder. Without
// overwrite the temp file is hard-linked into place, which fails atomically
// when the destination exists.
func (b *FileSystemBackend) Upload(ctx context.Context, path string, data []byte, contentType string, overwrite bool) error {
	dest := b.local(path)
	dir := filepath.Dir(dest)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("parent of %s: %w", path, ErrNotFound)
	}
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return fmt.Errorf("upload %s: %w", path, ErrAlreadyExists)
	}

	tmpFile, err := os.CreateTemp(dir, tempPrefix+"*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if !overwrite {
		if err := os.Link(tmpPath, dest); err != nil {
			return mapOSError(err)
		}
		return nil
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Download reads a file.
func (b *FileSystemBackend) Download(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(b.local(path))
	if err != nil {
		return nil, mapOSError(err)
	}
	return data, nil
}

// CreateFolder creates one folder.
func (b *FileSystemBackend) CreateFolder(ctx context.Context, path string) error {
	if err := os.Mkdir(b.local(path), 0755); err != nil {
		return mapOSError(err)
	}
	return nil
}

// Move renames a file or folder.
func (b *FileSystemBackend) Move(ctx context.Context, src, dst string, overwrite bool) error {
	from, to := b.local(src), b.local(dst)
	if _, err := os.Stat(from); err != nil {
		return mapOSError(err)
	}
	if info, err := os.Stat(filepath.Dir(to)); err != nil || !info.IsDir() {
		return fmt.Errorf("parent of %s: %w", dst, ErrNotFound)
	}
	if _, err := os.Stat(to); err == nil {
		if !overwrite {
			return ErrAlreadyExists
		}
		if err := os.RemoveAll(to); err != nil {
			return fmt.Errorf("removing %s before move: %w", dst, err)
		}
	}
	if err := os.Rename(from, to); err != nil {
		return mapOSError(err)
	}
	return nil
}

// Publish returns a URL for the resource.
func (b *FileSystemBackend) Publish(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(b.local(path)); err != nil {
		return "", mapOSError(err)
	}
	if b.publicURL != "" {
		return b.publicURL + (&url.URL{Path: path}).EscapedPath(), nil
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(b.local(path))}).String(), nil
}

// Delete removes a file or folder tree.
func (b *FileSystemBackend) Delete(ctx context.Context, path string) error {
	target := b.local(path)
	if _, err := os.Lstat(target); err != nil {
		return mapOSError(err)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// Compile-time check that FileSystemBackend implements Backend
var _ Backend = (*FileSystemBackend)(nil)
