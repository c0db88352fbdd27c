package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"carphoto/internal/diskpath"
	"carphoto/internal/metrics"
	"carphoto/internal/retry"
)

// Logger is the subset of the application logger the client uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Options configures a Client.
type Options struct {
	Retry     retry.Policy
	RateLimit float64 // requests per second; 0 disables limiting
	RateBurst int
	Metrics   *metrics.Metrics
	Logger    Logger
}

// Client is the only way the rest of the system touches the remote store.
// Every path is canonicalized before it reaches the backend, transient
// failures are retried under one policy, and calls are rate limited.
type Client struct {
	backend Backend
	policy  retry.Policy
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  Logger
}

// NewClient wraps backend.
func NewClient(backend Backend, opts Options) *Client {
	policy := opts.Retry
	policy.Retryable = IsTransient

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	return &Client{
		backend: backend,
		policy:  policy,
		limiter: limiter,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// call runs fn under the retry policy and records one logical request.
func (c *Client) call(ctx context.Context, op, path string, fn func(ctx context.Context) error) error {
	start := time.Now()

	policy := c.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.metrics.RecordRetry(op)
		c.logger.Warn("retrying store call", "op", op, "path", path, "attempt", attempt, "delay", delay, "error", err)
	}

	err := policy.Do(ctx, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return fn(ctx)
	})

	c.metrics.RecordRequest(op, statusLabel(err), time.Since(start).Seconds())
	return err
}

func canonical(path string) (string, error) {
	return diskpath.AssertValid(path, diskpath.StageStore)
}

// ListFolder returns the direct children of a folder.
func (c *Client) ListFolder(ctx context.Context, path string) ([]Entry, error) {
	p, err := canonical(path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	err = c.call(ctx, "list", p, func(ctx context.Context) error {
		var err error
		entries, err = c.backend.List(ctx, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", p, err)
	}
	return entries, nil
}

// Stat describes one resource.
func (c *Client) Stat(ctx context.Context, path string) (Entry, error) {
	p, err := canonical(path)
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	err = c.call(ctx, "stat", p, func(ctx context.Context) error {
		var err error
		entry, err = c.backend.Stat(ctx, p)
		return err
	})
	if err != nil {
		return Entry{}, fmt.Errorf("stat %s: %w", p, err)
	}
	return entry, nil
}

// Exists reports whether a resource exists at path.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	_, err := c.Stat(ctx, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// CreateFolder creates one folder. An existing folder is success.
func (c *Client) CreateFolder(ctx context.Context, path string) error {
	p, err := canonical(path)
	if err != nil {
		return err
	}
	err = c.call(ctx, "create_folder", p, func(ctx context.Context) error {
		return c.backend.CreateFolder(ctx, p)
	})
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		return fmt.Errorf("creating folder %s: %w", p, err)
	}
	return nil
}

// EnsureFolder creates path and every missing ancestor, top-down.
func (c *Client) EnsureFolder(ctx context.Context, path string) error {
	p, err := canonical(path)
	if err != nil {
		return err
	}
	if p == "/" {
		return nil
	}
	if ok, err := c.Exists(ctx, p); err != nil {
		return err
	} else if ok {
		return nil
	}
	for _, dir := range append(diskpath.Ancestors(p), p) {
		if err := c.CreateFolder(ctx, dir); err != nil {
			return err
		}
	}
	return nil
}

// UploadBytes stores data at path, overwriting any existing file. Every
// missing ancestor folder is created before the upload starts.
func (c *Client) UploadBytes(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := c.upload(ctx, path, data, contentType, true)
	return err
}

// CreateIfAbsent uploads data only when nothing exists at path. It reports
// false, with no error, when another writer got there first.
func (c *Client) CreateIfAbsent(ctx context.Context, path string, data []byte, contentType string) (bool, error) {
	return c.upload(ctx, path, data, contentType, false)
}

func (c *Client) upload(ctx context.Context, path string, data []byte, contentType string, overwrite bool) (bool, error) {
	p, err := canonical(path)
	if err != nil {
		return false, err
	}
	if err := c.EnsureFolder(ctx, diskpath.Dir(p)); err != nil {
		return false, fmt.Errorf("preparing upload of %s: %w", p, err)
	}

	err = c.call(ctx, "upload", p, func(ctx context.Context) error {
		return c.backend.Upload(ctx, p, data, contentType, overwrite)
	})
	if err != nil {
		if !overwrite && errors.Is(err, ErrAlreadyExists) {
			return false, nil
		}
		return false, fmt.Errorf("uploading %s: %w", p, err)
	}
	c.metrics.RecordUpload(len(data))
	return true, nil
}

// UploadText uploads a string, a byte slice, or any other value encoded as
// indented JSON.
func (c *Client) UploadText(ctx context.Context, path string, v any) error {
	data, contentType, err := textPayload(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return c.UploadBytes(ctx, path, data, contentType)
}

func textPayload(v any) ([]byte, string, error) {
	switch t := v.(type) {
	case string:
		return []byte(t), "text/plain; charset=utf-8", nil
	case []byte:
		return t, "application/json", nil
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
}

// DownloadFile returns the contents of a file.
func (c *Client) DownloadFile(ctx context.Context, path string) ([]byte, error) {
	p, err := canonical(path)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = c.call(ctx, "download", p, func(ctx context.Context) error {
		var err error
		data, err = c.backend.Download(ctx, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", p, err)
	}
	c.metrics.RecordDownload(len(data))
	return data, nil
}

// Move relocates a file or folder, creating the destination's parent
// folders first.
func (c *Client) Move(ctx context.Context, src, dst string, overwrite bool) error {
	s, err := canonical(src)
	if err != nil {
		return err
	}
	d, err := canonical(dst)
	if err != nil {
		return err
	}
	if err := c.EnsureFolder(ctx, diskpath.Dir(d)); err != nil {
		return fmt.Errorf("preparing move to %s: %w", d, err)
	}
	err = c.call(ctx, "move", s, func(ctx context.Context) error {
		return c.backend.Move(ctx, s, d, overwrite)
	})
	if err != nil {
		return fmt.Errorf("moving %s to %s: %w", s, d, err)
	}
	return nil
}

// Publish makes path public and returns its URL.
func (c *Client) Publish(ctx context.Context, path string) (string, error) {
	p, err := canonical(path)
	if err != nil {
		return "", err
	}
	var url string
	err = c.call(ctx, "publish", p, func(ctx context.Context) error {
		var err error
		url, err = c.backend.Publish(ctx, p)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("publishing %s: %w", p, err)
	}
	return url, nil
}

// Delete removes a file or folder. A missing resource is success.
func (c *Client) Delete(ctx context.Context, path string) error {
	p, err := canonical(path)
	if err != nil {
		return err
	}
	if p == "/" {
		return fmt.Errorf("refusing to delete the root folder")
	}
	err = c.call(ctx, "delete", p, func(ctx context.Context) error {
		return c.backend.Delete(ctx, p)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deleting %s: %w", p, err)
	}
	return nil
}
