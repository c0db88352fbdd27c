package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"carphoto/internal/diskpath"
)

type memNode struct {
	isDir       bool
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryBackend keeps the whole tree in memory. It mirrors the remote API's
// semantics (missing parents, create-if-absent, folder moves) closely enough
// for tests and local experiments. Safe for concurrent use.
type MemoryBackend struct {
	mu        sync.RWMutex
	nodes     map[string]*memNode // canonical path -> node; "/" always exists
	published map[string]string
	publicURL string
	now       func() time.Time
}

// NewMemoryBackend returns an empty tree. publicURL prefixes the URLs
// returned by Publish.
func NewMemoryBackend(publicURL string) *MemoryBackend {
	if publicURL == "" {
		publicURL = "memory://public"
	}
	return &MemoryBackend{
		nodes:     map[string]*memNode{"/": {isDir: true}},
		published: make(map[string]string),
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// SetNow replaces the modification-time source.
func (m *MemoryBackend) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Put writes a file and creates every missing parent folder. It bypasses
// the remote semantics and is meant for seeding fixtures.
func (m *MemoryBackend) Put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, dir := range diskpath.Ancestors(path) {
		if _, ok := m.nodes[dir]; !ok {
			m.nodes[dir] = &memNode{isDir: true, modified: m.now()}
		}
	}
	m.nodes[path] = &memNode{data: append([]byte(nil), data...), modified: m.now()}
}

// Files returns every file path in the tree, sorted.
func (m *MemoryBackend) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for p, n := range m.nodes {
		if !n.isDir {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (m *MemoryBackend) entry(path string, n *memNode) Entry {
	return Entry{
		Name:     diskpath.Base(path),
		Path:     path,
		IsDir:    n.isDir,
		Size:     int64(len(n.data)),
		Modified: n.modified,
		MimeType: n.contentType,
	}
}

// List returns the direct children of a folder sorted by name.
func (m *MemoryBackend) List(ctx context.Context, path string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[path]
	if !ok {
		return nil, ErrNotFound
	}
	if !n.isDir {
		return nil, ErrNotFolder
	}

	var out []Entry
	for p, child := range m.nodes {
		if p != "/" && diskpath.Dir(p) == path {
			out = append(out, m.entry(p, child))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Stat describes one resource.
func (m *MemoryBackend) Stat(ctx context.Context, path string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[path]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return m.entry(path, n), nil
}

// Upload stores a file.
func (m *MemoryBackend) Upload(ctx context.Context, path string, data []byte, contentType string, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.nodes[diskpath.Dir(path)]
	if !ok || !parent.isDir {
		return ErrNotFound
	}
	if existing, ok := m.nodes[path]; ok {
		if existing.isDir {
			return fmt.Errorf("upload %s: %w", path, ErrAlreadyExists)
		}
		if !overwrite {
			return ErrAlreadyExists
		}
	}
	m.nodes[path] = &memNode{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		modified:    m.now(),
	}
	return nil
}

// Download returns a copy of a file's contents.
func (m *MemoryBackend) Download(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[path]
	if !ok || n.isDir {
		return nil, ErrNotFound
	}
	return append([]byte(nil), n.data...), nil
}

// CreateFolder creates one folder.
func (m *MemoryBackend) CreateFolder(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[path]; ok {
		return ErrAlreadyExists
	}
	parent, ok := m.nodes[diskpath.Dir(path)]
	if !ok || !parent.isDir {
		return ErrNotFound
	}
	m.nodes[path] = &memNode{isDir: true, modified: m.now()}
	return nil
}

// Move relocates a file or a whole folder subtree.
func (m *MemoryBackend) Move(ctx context.Context, src, dst string, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[src]; !ok {
		return ErrNotFound
	}
	if parent, ok := m.nodes[diskpath.Dir(dst)]; !ok || !parent.isDir {
		return ErrNotFound
	}
	if strings.HasPrefix(dst+"/", src+"/") {
		return fmt.Errorf("move %s into itself", src)
	}
	if _, ok := m.nodes[dst]; ok {
		if !overwrite {
			return ErrAlreadyExists
		}
		m.removeLocked(dst)
	}

	moved := make(map[string]*memNode)
	for p, n := range m.nodes {
		if p == src || strings.HasPrefix(p, src+"/") {
			moved[dst+strings.TrimPrefix(p, src)] = n
			delete(m.nodes, p)
		}
	}
	for p, n := range moved {
		m.nodes[p] = n
	}
	return nil
}

// Publish returns a stable public URL for path.
func (m *MemoryBackend) Publish(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[path]; !ok {
		return "", ErrNotFound
	}
	if url, ok := m.published[path]; ok {
		return url, nil
	}
	url := fmt.Sprintf("%s/%d", m.publicURL, len(m.published)+1)
	m.published[path] = url
	return url, nil
}

// Delete removes a file or folder subtree.
func (m *MemoryBackend) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[path]; !ok {
		return ErrNotFound
	}
	m.removeLocked(path)
	return nil
}

func (m *MemoryBackend) removeLocked(path string) {
	for p := range m.nodes {
		if p == path || strings.HasPrefix(p, path+"/") {
			delete(m.nodes, p)
		}
	}
}

// Compile-time check that MemoryBackend implements Backend
var _ Backend = (*MemoryBackend)(nil)
