// Package store talks to the remote hierarchical file store that holds every
// photo and index document. A Backend speaks one concrete API; Client layers
// path validation, retry, rate limiting and metrics on top.
package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Sentinel errors returned (possibly wrapped) by every Backend.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrNotFolder     = errors.New("resource is not a folder")
)

// Entry describes one resource inside a folder.
type Entry struct {
	Name     string
	Path     string // canonical path
	IsDir    bool
	Size     int64
	Modified time.Time
	MimeType string
}

// Backend is one remote file API. Every path is canonical (see diskpath.Normalize).
type Backend interface {
	// List returns the direct children of a folder, or ErrNotFound.
	List(ctx context.Context, path string) ([]Entry, error)

	// Stat describes a single resource, or returns ErrNotFound.
	Stat(ctx context.Context, path string) (Entry, error)

	// Upload stores data at path. With overwrite=false an existing file
	// yields ErrAlreadyExists and is left untouched, which makes Upload a
	// compare-and-create. A missing parent folder yields ErrNotFound.
	Upload(ctx context.Context, path string, data []byte, contentType string, overwrite bool) error

	// Download returns the file contents, or ErrNotFound.
	Download(ctx context.Context, path string) ([]byte, error)

	// CreateFolder creates one folder. An existing folder yields
	// ErrAlreadyExists; a missing parent yields ErrNotFound.
	CreateFolder(ctx context.Context, path string) error

	// Move relocates a file or folder. A missing source yields ErrNotFound;
	// an existing destination with overwrite=false yields ErrAlreadyExists.
	Move(ctx context.Context, src, dst string, overwrite bool) error

	// Publish makes the resource publicly readable and returns its URL.
	Publish(ctx context.Context, path string) (string, error)

	// Delete removes a file or folder tree, or returns ErrNotFound.
	Delete(ctx context.Context, path string) error
}

// StatusError is a failed remote call with its HTTP-equivalent status.
type StatusError struct {
	Op         string
	Path       string
	StatusCode int
	Message    string
	Err        error // optional sentinel, for errors.Is
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.Path, e.StatusCode, msg)
}

func (e *StatusError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying: rate limiting, server
// errors and network failures. Client errors and context errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrNotFolder) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}

	var ne net.Error
	return errors.As(err, &ne)
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "exists"
	case IsTransient(err):
		return "unavailable"
	default:
		return "error"
	}
}
