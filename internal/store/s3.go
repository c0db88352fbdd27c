package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"carphoto/internal/diskpath"
)

// S3Options configures an S3Backend.
type S3Options struct {
	Bucket          string
	Prefix          string // key prefix every path is stored under
	Region          string
	Endpoint        string // for S3-compatible services
	AccessKeyID     string // static credentials; empty uses the default chain
	SecretAccessKey string
	UsePathStyle    bool
	PresignTTL      time.Duration // lifetime of URLs returned by Publish
	PublicURL       string        // when set, Publish returns PublicURL/key instead of a presigned URL
}

// S3Backend maps the folder tree onto an S3 bucket. Folders are zero-byte
// marker objects whose key ends in "/"; files are plain objects.
type S3Backend struct {
	client    *s3.Client
	uploader  *manager.Uploader
	presigner *s3.PresignClient
	opts      S3Options
}

// NewS3Backend loads AWS configuration and builds a backend for opts.Bucket.
func NewS3Backend(ctx context.Context, opts S3Options) (*S3Backend, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 backend requires a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewS3BackendWithClient(client, opts), nil
}

// NewS3BackendWithClient wraps an existing S3 client.
func NewS3BackendWithClient(client *s3.Client, opts S3Options) *S3Backend {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 7 * 24 * time.Hour
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	return &S3Backend{
		client:    client,
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
		opts:      opts,
	}
}

// objectKey maps a canonical path to an object key.
func (b *S3Backend) objectKey(path string) string {
	key := strings.TrimPrefix(path, "/")
	if b.opts.Prefix == "" {
		return key
	}
	if key == "" {
		return b.opts.Prefix
	}
	return b.opts.Prefix + "/" + key
}

// folderPrefix is the key prefix of a folder's children.
func (b *S3Backend) folderPrefix(path string) string {
	key := b.objectKey(path)
	if key == "" {
		return ""
	}
	return key + "/"
}

// pathOf maps an object key back to a canonical path.
func (b *S3Backend) pathOf(key string) string {
	key = strings.TrimSuffix(key, "/")
	if b.opts.Prefix != "" {
		key = strings.TrimPrefix(strings.TrimPrefix(key, b.opts.Prefix), "/")
	}
	return "/" + key
}

func (b *S3Backend) mapError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	se := &StatusError{Op: op, Path: path, Message: err.Error()}

	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		se.StatusCode = re.HTTPStatusCode()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		se.Message = apiErr.ErrorMessage()
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			se.Err = ErrNotFound
		case "PreconditionFailed", "ConditionalRequestConflict":
			se.Err = ErrAlreadyExists
		}
	}
	switch se.StatusCode {
	case http.StatusNotFound:
		se.Err = ErrNotFound
	case http.StatusPreconditionFailed:
		se.Err = ErrAlreadyExists
	case 0:
		// No HTTP response: a network failure. Keep the original error so
		// IsTransient can classify it.
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	return se
}

func (b *S3Backend) headObject(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(key),
	})
}

func (b *S3Backend) isFolder(ctx context.Context, path string) (bool, error) {
	if path == "/" {
		return true, nil
	}
	if _, err := b.headObject(ctx, b.folderPrefix(path)); err == nil {
		return true, nil
	} else if mapped := b.mapError("stat", path, err); !errors.Is(mapped, ErrNotFound) {
		return false, mapped
	}
	// A folder may exist only implicitly through its children.
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.opts.Bucket),
		Prefix:  aws.String(b.folderPrefix(path)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, b.mapError("stat", path, err)
	}
	return len(out.Contents) > 0, nil
}

// List returns the direct children of a folder.
func (b *S3Backend) List(ctx context.Context, path string) ([]Entry, error) {
	prefix := b.folderPrefix(path)
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.opts.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var out []Entry
	found := path == "/"
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.mapError("list", path, err)
		}
		for _, cp := range page.CommonPrefixes {
			found = true
			p := b.pathOf(aws.ToString(cp.Prefix))
			out = append(out, Entry{Name: diskpath.Base(p), Path: p, IsDir: true})
		}
		for _, obj := range page.Contents {
			found = true
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue // the folder's own marker
			}
			p := b.pathOf(key)
			out = append(out, Entry{
				Name:     diskpath.Base(p),
				Path:     p,
				Size:     aws.ToInt64(obj.Size),
				Modified: aws.ToTime(obj.LastModified),
			})
		}
	}
	if !found {
		return nil, ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Stat describes one resource.
func (b *S3Backend) Stat(ctx context.Context, path string) (Entry, error) {
	if path != "/" {
		head, err := b.headObject(ctx, b.objectKey(path))
		if err == nil {
			return Entry{
				Name:     diskpath.Base(path),
				Path:     path,
				Size:     aws.ToInt64(head.ContentLength),
				Modified: aws.ToTime(head.LastModified),
				MimeType: aws.ToString(head.ContentType),
			}, nil
		}
		if mapped := b.mapError("stat", path, err); !errors.Is(mapped, ErrNotFound) {
			return Entry{}, mapped
		}
	}
	ok, err := b.isFolder(ctx, path)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Name: diskpath.Base(path), Path: path, IsDir: true}, nil
}

// Upload puts an object. Without overwrite the request carries
// If-None-Match: * so the bucket itself arbitrates create-if-absent.
func (b *S3Backend) Upload(ctx context.Context, path string, data []byte, contentType string, overwrite bool) error {
	if ok, err := b.isFolder(ctx, diskpath.Dir(path)); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("parent of %s: %w", path, ErrNotFound)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(b.objectKey(path)),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if !overwrite {
		input.IfNoneMatch = aws.String("*")
	}
	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return b.mapError("upload", path, err)
	}
	return nil
}

// Download reads an object.
func (b *S3Backend) Download(ctx context.Context, path string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(b.objectKey(path)),
	})
	if err != nil {
		return nil, b.mapError("download", path, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s: reading body: %w", path, err)
	}
	return data, nil
}

// CreateFolder writes a folder marker.
func (b *S3Backend) CreateFolder(ctx context.Context, path string) error {
	if ok, err := b.isFolder(ctx, path); err != nil {
		return err
	} else if ok {
		return ErrAlreadyExists
	}
	if ok, err := b.isFolder(ctx, diskpath.Dir(path)); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("parent of %s: %w", path, ErrNotFound)
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(b.folderPrefix(path)),
		Body:   bytes.NewReader(nil),
	})
	return b.mapError("create_folder", path, err)
}

// keysUnder lists the object key of a file, or every key below a folder.
func (b *S3Backend) keysUnder(ctx context.Context, path string) ([]string, error) {
	if _, err := b.headObject(ctx, b.objectKey(path)); err == nil {
		return []string{b.objectKey(path)}, nil
	}
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.opts.Bucket),
		Prefix: aws.String(b.folderPrefix(path)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.mapError("list", path, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Move copies every object to the destination then deletes the source.
// S3 has no rename, so a folder move is not atomic.
func (b *S3Backend) Move(ctx context.Context, src, dst string, overwrite bool) error {
	keys, err := b.keysUnder(ctx, src)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return ErrNotFound
	}
	if _, err := b.Stat(ctx, dst); err == nil {
		if !overwrite {
			return ErrAlreadyExists
		}
		if err := b.Delete(ctx, dst); err != nil {
			return err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	srcKey, dstKey := b.objectKey(src), b.objectKey(dst)
	for _, key := range keys {
		target := dstKey + strings.TrimPrefix(key, srcKey)
		_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(b.opts.Bucket),
			Key:        aws.String(target),
			CopySource: aws.String(b.opts.Bucket + "/" + url.PathEscape(key)),
		})
		if err != nil {
			return b.mapError("move", src, err)
		}
	}
	return b.deleteKeys(ctx, src, keys)
}

// Publish returns PublicURL/key when configured, otherwise a presigned GET
// URL. Folders are presigned through their marker object.
func (b *S3Backend) Publish(ctx context.Context, path string) (string, error) {
	entry, err := b.Stat(ctx, path)
	if err != nil {
		return "", err
	}
	key := b.objectKey(path)
	if entry.IsDir {
		key = b.folderPrefix(path)
	}
	if b.opts.PublicURL != "" {
		return strings.TrimRight(b.opts.PublicURL, "/") + "/" + (&url.URL{Path: key}).EscapedPath(), nil
	}
	req, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(b.opts.PresignTTL))
	if err != nil {
		return "", b.mapError("publish", path, err)
	}
	return req.URL, nil
}

// Delete removes an object or every object below a folder.
func (b *S3Backend) Delete(ctx context.Context, path string) error {
	keys, err := b.keysUnder(ctx, path)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return ErrNotFound
	}
	return b.deleteKeys(ctx, path, keys)
}

func (b *S3Backend) deleteKeys(ctx context.Context, path string, keys []string) error {
	const batch = 1000
	for start := 0; start < len(keys); start += batch {
		end := min(start+batch, len(keys))
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.opts.Bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return b.mapError("delete", path, err)
		}
	}
	return nil
}

// Compile-time check that S3Backend implements Backend
var _ Backend = (*S3Backend)(nil)
