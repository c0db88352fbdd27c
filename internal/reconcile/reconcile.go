// Package reconcile rebuilds index documents from what the remote store
// actually contains. It is the only code that derives structured state from
// raw directory listings; everything else that finds an index missing or
// invalid calls in here.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"carphoto/internal/diskpath"
	"carphoto/internal/index"
	"carphoto/internal/metrics"
	"carphoto/internal/store"
)

// Depth selects how much of the hierarchy a reconciliation covers.
type Depth string

const (
	DepthSlot   Depth = "slot"
	DepthCar    Depth = "car"
	DepthRegion Depth = "region"
)

// ParseDepth accepts "slot", "car" or "region".
func ParseDepth(s string) (Depth, error) {
	switch d := Depth(strings.ToLower(strings.TrimSpace(s))); d {
	case DepthSlot, DepthCar, DepthRegion:
		return d, nil
	default:
		return "", fmt.Errorf("unknown reconcile depth %q (want slot, car or region)", s)
	}
}

// Store is the part of the remote store client the reconciler needs.
type Store interface {
	ListFolder(ctx context.Context, path string) ([]store.Entry, error)
	DownloadFile(ctx context.Context, path string) ([]byte, error)
	UploadBytes(ctx context.Context, path string, data []byte, contentType string) error
	Delete(ctx context.Context, path string) error
}

// Logger follows slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Clock supplies the timestamps written into rebuilt documents.
type Clock interface {
	Now() time.Time
}

// Result summarizes one reconciliation.
type Result struct {
	Path     string
	Depth    Depth
	Actions  []string
	Repaired int // documents that were missing, invalid or out of date
	Errors   []string
}

func (r *Result) action(format string, args ...any) {
	r.Actions = append(r.Actions, fmt.Sprintf(format, args...))
}

func (r *Result) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) absorb(other *Result) {
	if other == nil {
		return
	}
	r.Actions = append(r.Actions, other.Actions...)
	r.Repaired += other.Repaired
	r.Errors = append(r.Errors, other.Errors...)
}

// Reconciler rebuilds slot, car and region indexes.
type Reconciler struct {
	store   Store
	layout  diskpath.Layout
	clock   Clock
	logger  Logger
	metrics *metrics.Metrics
	workers int
}

// New creates a Reconciler. m may be nil.
func New(s Store, layout diskpath.Layout, clock Clock, logger Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:   s,
		layout:  layout,
		clock:   clock,
		logger:  logger,
		metrics: m,
		workers: 4,
	}
}

// Reconcile rebuilds the index documents at path. For DepthSlot path is a
// slot folder, for DepthCar a car root and for DepthRegion a region root.
func (r *Reconciler) Reconcile(ctx context.Context, path string, depth Depth) (*Result, error) {
	p, err := diskpath.AssertValid(path, diskpath.StageReconcile)
	if err != nil {
		return nil, err
	}
	switch depth {
	case DepthSlot:
		_, res, err := r.Slot(ctx, p)
		return res, err
	case DepthCar:
		_, res, err := r.Car(ctx, p)
		return res, err
	case DepthRegion:
		_, res, err := r.Region(ctx, p)
		return res, err
	default:
		return nil, fmt.Errorf("unknown reconcile depth %q", depth)
	}
}

func (r *Reconciler) writeDoc(ctx context.Context, path string, doc index.Document) error {
	data, err := index.Encode(doc)
	if err != nil {
		return err
	}
	return r.store.UploadBytes(ctx, path, data, "application/json")
}

// download returns nil data, without error, for a missing file.
func (r *Reconciler) download(ctx context.Context, path string) ([]byte, error) {
	data, err := r.store.DownloadFile(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (r *Reconciler) finish(res *Result) {
	r.metrics.RecordReconcile(string(res.Depth), res.Repaired)
	r.logger.Info("reconciled",
		"depth", res.Depth,
		"path", res.Path,
		"actions", len(res.Actions),
		"repaired", res.Repaired,
		"errors", len(res.Errors))
}
