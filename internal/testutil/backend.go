package testutil

import (
	"context"
	"strings"
	"sync"

	"carphoto/internal/retry"
	"carphoto/internal/store"
)

// Backend operation names used by CountingBackend and FaultBackend.
const (
	OpList         = "list"
	OpStat         = "stat"
	OpUpload       = "upload"
	OpDownload     = "download"
	OpCreateFolder = "create_folder"
	OpMove         = "move"
	OpPublish      = "publish"
	OpDelete       = "delete"
)

// NewTestClient wraps b in a store.Client that retries without sleeping.
func NewTestClient(b store.Backend) *store.Client {
	return store.NewClient(b, store.Options{
		Retry: retry.Policy{MaxAttempts: 3, Sleep: retry.NoSleep},
	})
}

// CountingBackend counts calls per operation, optionally only for paths
// containing a substring. Safe for concurrent use.
type CountingBackend struct {
	store.Backend

	mu     sync.Mutex
	counts map[string]int
	paths  map[string][]string
}

// NewCountingBackend wraps b.
func NewCountingBackend(b store.Backend) *CountingBackend {
	return &CountingBackend{
		Backend: b,
		counts:  make(map[string]int),
		paths:   make(map[string][]string),
	}
}

func (c *CountingBackend) record(op, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[op]++
	c.paths[op] = append(c.paths[op], path)
}

// Count returns how many times op was called since the last Reset.
func (c *CountingBackend) Count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[op]
}

// Paths returns the paths op was called with since the last Reset.
func (c *CountingBackend) Paths(op string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths[op]...)
}

// Reset clears all counters.
func (c *CountingBackend) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[string]int)
	c.paths = make(map[string][]string)
}

func (c *CountingBackend) List(ctx context.Context, path string) ([]store.Entry, error) {
	c.record(OpList, path)
	return c.Backend.List(ctx, path)
}

func (c *CountingBackend) Stat(ctx context.Context, path string) (store.Entry, error) {
	c.record(OpStat, path)
	return c.Backend.Stat(ctx, path)
}

func (c *CountingBackend) Upload(ctx context.Context, path string, data []byte, contentType string, overwrite bool) error {
	c.record(OpUpload, path)
	return c.Backend.Upload(ctx, path, data, contentType, overwrite)
}

func (c *CountingBackend) Download(ctx context.Context, path string) ([]byte, error) {
	c.record(OpDownload, path)
	return c.Backend.Download(ctx, path)
}

func (c *CountingBackend) CreateFolder(ctx context.Context, path string) error {
	c.record(OpCreateFolder, path)
	return c.Backend.CreateFolder(ctx, path)
}

func (c *CountingBackend) Move(ctx context.Context, src, dst string, overwrite bool) error {
	c.record(OpMove, src)
	return c.Backend.Move(ctx, src, dst, overwrite)
}

func (c *CountingBackend) Publish(ctx context.Context, path string) (string, error) {
	c.record(OpPublish, path)
	return c.Backend.Publish(ctx, path)
}

func (c *CountingBackend) Delete(ctx context.Context, path string) error {
	c.record(OpDelete, path)
	return c.Backend.Delete(ctx, path)
}

// Fault is one scripted failure.
type Fault struct {
	Op       string // operation name, "" matches every operation
	PathPart string // substring of the path, "" matches every path
	Err      error
	Times    int // how many calls fail; 0 fails forever
}

// FaultBackend fails matching calls with scripted errors and can run a hook
// before each call. Safe for concurrent use.
type FaultBackend struct {
	store.Backend

	mu     sync.Mutex
	faults []*Fault
	hook   func(op, path string)
}

// NewFaultBackend wraps b with no faults configured.
func NewFaultBackend(b store.Backend) *FaultBackend {
	return &FaultBackend{Backend: b}
}

// Fail adds a fault. Faults are matched in the order they were added.
func (f *FaultBackend) Fail(op, pathPart string, err error, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &Fault{Op: op, PathPart: pathPart, Err: err, Times: times})
}

// Clear removes every fault.
func (f *FaultBackend) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = nil
}

// OnCall sets a hook run before every call, outside the fault lock.
func (f *FaultBackend) OnCall(hook func(op, path string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = hook
}

func (f *FaultBackend) check(op, path string) error {
	f.mu.Lock()
	hook := f.hook
	var err error
	for _, ft := range f.faults {
		if ft.Op != "" && ft.Op != op {
			continue
		}
		if ft.PathPart != "" && !strings.Contains(path, ft.PathPart) {
			continue
		}
		if ft.Times < 0 {
			continue
		}
		err = ft.Err
		if ft.Times > 0 {
			ft.Times--
			if ft.Times == 0 {
				ft.Times = -1
			}
		}
		break
	}
	f.mu.Unlock()

	if hook != nil {
		hook(op, path)
	}
	return err
}

func (f *FaultBackend) List(ctx context.Context, path string) ([]store.Entry, error) {
	if err := f.check(OpList, path); err != nil {
		return nil, err
	}
	return f.Backend.List(ctx, path)
}

func (f *FaultBackend) Stat(ctx context.Context, path string) (store.Entry, error) {
	if err := f.check(OpStat, path); err != nil {
		return store.Entry{}, err
	}
	return f.Backend.Stat(ctx, path)
}

func (f *FaultBackend) Upload(ctx context.Context, path string, data []byte, contentType string, overwrite bool) error {
	if err := f.check(OpUpload, path); err != nil {
		return err
	}
	return f.Backend.Upload(ctx, path, data, contentType, overwrite)
}

func (f *FaultBackend) Download(ctx context.Context, path string) ([]byte, error) {
	if err := f.check(OpDownload, path); err != nil {
		return nil, err
	}
	return f.Backend.Download(ctx, path)
}

func (f *FaultBackend) CreateFolder(ctx context.Context, path string) error {
	if err := f.check(OpCreateFolder, path); err != nil {
		return err
	}
	return f.Backend.CreateFolder(ctx, path)
}

func (f *FaultBackend) Move(ctx context.Context, src, dst string, overwrite bool) error {
	if err := f.check(OpMove, src); err != nil {
		return err
	}
	return f.Backend.Move(ctx, src, dst, overwrite)
}

func (f *FaultBackend) Publish(ctx context.Context, path string) (string, error) {
	if err := f.check(OpPublish, path); err != nil {
		return "", err
	}
	return f.Backend.Publish(ctx, path)
}

func (f *FaultBackend) Delete(ctx context.Context, path string) error {
	if err := f.check(OpDelete, path); err != nil {
		return err
	}
	return f.Backend.Delete(ctx, path)
}

// Unavailable is a transient remote failure (HTTP 503).
func Unavailable(path string) error {
	return &store.StatusError{Op: "test", Path: path, StatusCode: 503, Message: "injected outage"}
}

// RateLimited is a transient remote failure (HTTP 429).
func RateLimited(path string) error {
	return &store.StatusError{Op: "test", Path: path, StatusCode: 429, Message: "injected rate limit"}
}

var (
	_ store.Backend = (*CountingBackend)(nil)
	_ store.Backend = (*FaultBackend)(nil)
)
