package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"carphoto/internal/diskpath"
)

// DefaultAPIURL is the REST disk API root used when none is configured.
const DefaultAPIURL = "https://cloud-api.yandex.net/v1/disk"

const listPageSize = 100

// HTTPBackend speaks the REST disk API: resource metadata with embedded
// listings, upload/download URL issuance, folder creation, asynchronous
// move and delete operations, and publishing.
type HTTPBackend struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	pollInterval time.Duration
}

// NewHTTPBackend returns a backend for the API at baseURL authenticated with
// an OAuth token.
func NewHTTPBackend(httpClient *http.Client, baseURL, token string) *HTTPBackend {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultAPIURL
	}
	return &HTTPBackend{
		httpClient:   httpClient,
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:        strings.TrimSpace(token),
		pollInterval: 500 * time.Millisecond,
	}
}

// SetPollInterval changes how often asynchronous operations are polled.
func (b *HTTPBackend) SetPollInterval(d time.Duration) {
	b.pollInterval = d
}

type apiResource struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Type      string    `json:"type"` // "dir" or "file"
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	MimeType  string    `json:"mime_type"`
	PublicURL string    `json:"public_url"`
	Embedded  *struct {
		Items  []apiResource `json:"items"`
		Limit  int           `json:"limit"`
		Offset int           `json:"offset"`
		Total  int           `json:"total"`
	} `json:"_embedded"`
}

type apiLink struct {
	Href      string `json:"href"`
	Method    string `json:"method"`
	Templated bool   `json:"templated"`
}

type apiOperation struct {
	Status string `json:"status"` // "success", "failed", "in-progress"
}

type apiError struct {
	Message     string `json:"message"`
	Description string `json:"description"`
	Error       string `json:"error"`
}

func diskParam(path string) string {
	return "disk:" + path
}

func (b *HTTPBackend) toEntry(r apiResource) Entry {
	p, err := diskpath.Normalize(r.Path)
	if err != nil {
		p = r.Path
	}
	return Entry{
		Name:     r.Name,
		Path:     p,
		IsDir:    r.Type == "dir",
		Size:     r.Size,
		Modified: r.Modified,
		MimeType: r.MimeType,
	}
}

// do issues an authenticated API request and decodes a JSON response into
// out when the status is one of ok.
func (b *HTTPBackend) do(ctx context.Context, op, path, method, endpoint string, q url.Values, out any) (int, error) {
	u := b.baseURL + endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "OAuth "+b.token)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", op, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return resp.StatusCode, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s %s: decoding response: %w", op, path, err)
		}
		return resp.StatusCode, nil
	}

	return resp.StatusCode, b.statusError(op, path, resp)
}

func (b *HTTPBackend) statusError(op, path string, resp *http.Response) error {
	var eb apiError
	_ = json.NewDecoder(resp.Body).Decode(&eb)

	se := &StatusError{Op: op, Path: path, StatusCode: resp.StatusCode, Message: eb.Message}
	if se.Message == "" {
		se.Message = eb.Description
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		se.Err = ErrNotFound
	case http.StatusConflict:
		// The API answers 409 both for an existing target and for a
		// missing parent; the error code tells them apart.
		if eb.Error == "DiskPathDoesntExistsError" {
			se.Err = ErrNotFound
		} else {
			se.Err = ErrAlreadyExists
		}
	}
	return se
}

// List pages through the embedded items of a folder resource.
func (b *HTTPBackend) List(ctx context.Context, path string) ([]Entry, error) {
	var out []Entry
	for offset := 0; ; {
		q := url.Values{}
		q.Set("path", diskParam(path))
		q.Set("limit", strconv.Itoa(listPageSize))
		q.Set("offset", strconv.Itoa(offset))

		var res apiResource
		if _, err := b.do(ctx, "list", path, http.MethodGet, "/resources", q, &res); err != nil {
			return nil, err
		}
		if res.Type != "dir" || res.Embedded == nil {
			return nil, fmt.Errorf("list %s: %w", path, ErrNotFolder)
		}
		for _, item := range res.Embedded.Items {
			out = append(out, b.toEntry(item))
		}

		offset += len(res.Embedded.Items)
		if len(res.Embedded.Items) == 0 || offset >= res.Embedded.Total {
			return out, nil
		}
	}
}

// Stat fetches resource metadata without embedded items.
func (b *HTTPBackend) Stat(ctx context.Context, path string) (Entry, error) {
	q := url.Values{}
	q.Set("path", diskParam(path))
	q.Set("limit", "0")

	var res apiResource
	if _, err := b.do(ctx, "stat", path, http.MethodGet, "/resources", q, &res); err != nil {
		return Entry{}, err
	}
	return b.toEntry(res), nil
}

// Upload requests an upload href and PUTs the bytes to it.
func (b *HTTPBackend) Upload(ctx context.Context, path string, data []byte, contentType string, overwrite bool) error {
	q := url.Values{}
	q.Set("path", diskParam(path))
	q.Set("overwrite", strconv.FormatBool(overwrite))

	var link apiLink
	if _, err := b.do(ctx, "upload", path, http.MethodGet, "/resources/upload", q, &link); err != nil {
		return err
	}
	method := link.Method
	if method == "" {
		method = http.MethodPut
	}

	req, err := http.NewRequestWithContext(ctx, method, link.Href, bytes.NewReader(data))
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.ContentLength = int64(len(data))

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{Op: "upload", Path: path, StatusCode: resp.StatusCode}
}

// Download requests a download href and fetches the bytes.
func (b *HTTPBackend) Download(ctx context.Context, path string) ([]byte, error) {
	q := url.Values{}
	q.Set("path", diskParam(path))

	var link apiLink
	if _, err := b.do(ctx, "download", path, http.MethodGet, "/resources/download", q, &link); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.Href, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{Op: "download", Path: path, StatusCode: resp.StatusCode}
		if resp.StatusCode == http.StatusNotFound {
			se.Err = ErrNotFound
		}
		return nil, se
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: reading body: %w", path, err)
	}
	return data, nil
}

// CreateFolder creates one folder.
func (b *HTTPBackend) CreateFolder(ctx context.Context, path string) error {
	q := url.Values{}
	q.Set("path", diskParam(path))
	_, err := b.do(ctx, "create_folder", path, http.MethodPut, "/resources", q, nil)
	return err
}

// Move starts a move and waits for it when the API runs it asynchronously.
func (b *HTTPBackend) Move(ctx context.Context, src, dst string, overwrite bool) error {
	q := url.Values{}
	q.Set("from", diskParam(src))
	q.Set("path", diskParam(dst))
	q.Set("overwrite", strconv.FormatBool(overwrite))

	var link apiLink
	status, err := b.do(ctx, "move", src, http.MethodPost, "/resources/move", q, &link)
	if err != nil {
		return err
	}
	if status == http.StatusAccepted {
		return b.wait(ctx, "move", src, link.Href)
	}
	return nil
}

// Publish publishes the resource and reads back its public URL.
func (b *HTTPBackend) Publish(ctx context.Context, path string) (string, error) {
	q := url.Values{}
	q.Set("path", diskParam(path))
	if _, err := b.do(ctx, "publish", path, http.MethodPut, "/resources/publish", q, &apiLink{}); err != nil {
		return "", err
	}

	q.Set("fields", "public_url")
	var res apiResource
	if _, err := b.do(ctx, "publish", path, http.MethodGet, "/resources", q, &res); err != nil {
		return "", err
	}
	if res.PublicURL == "" {
		return "", fmt.Errorf("publish %s: no public_url in response", path)
	}
	return res.PublicURL, nil
}

// Delete permanently removes a resource, waiting for asynchronous deletes.
func (b *HTTPBackend) Delete(ctx context.Context, path string) error {
	q := url.Values{}
	q.Set("path", diskParam(path))
	q.Set("permanently", "true")

	var link apiLink
	status, err := b.do(ctx, "delete", path, http.MethodDelete, "/resources", q, &link)
	if err != nil {
		return err
	}
	if status == http.StatusAccepted {
		return b.wait(ctx, "delete", path, link.Href)
	}
	return nil
}

// wait polls an operation href until it leaves the in-progress state.
func (b *HTTPBackend) wait(ctx context.Context, op, path, href string) error {
	if href == "" {
		return nil
	}
	endpoint := strings.TrimPrefix(href, b.baseURL)

	for {
		var status apiOperation
		if strings.HasPrefix(endpoint, "http") {
			if err := b.getAbsolute(ctx, op, path, href, &status); err != nil {
				return err
			}
		} else if _, err := b.do(ctx, op, path, http.MethodGet, endpoint, nil, &status); err != nil {
			return err
		}

		switch status.Status {
		case "success":
			return nil
		case "failed":
			return &StatusError{Op: op, Path: path, StatusCode: http.StatusInternalServerError, Message: "operation failed"}
		}

		t := time.NewTimer(b.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (b *HTTPBackend) getAbsolute(ctx context.Context, op, path, href string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return err
	}
	if b.token != "" {
		req.Header.Set("Authorization", "OAuth "+b.token)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return b.statusError(op, path, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Compile-time check that HTTPBackend implements Backend
var _ Backend = (*HTTPBackend)(nil)
