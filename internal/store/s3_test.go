package store

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

func testS3Backend(prefix string) *S3Backend {
	client := s3.New(s3.Options{Region: "us-east-1", Credentials: aws.AnonymousCredentials{}})
	return NewS3BackendWithClient(client, S3Options{Bucket: "photos", Prefix: prefix})
}

func TestS3Backend_KeyMapping(t *testing.T) {
	tests := []struct {
		prefix     string
		path       string
		wantKey    string
		wantFolder string
	}{
		{prefix: "", path: "/R1/a.jpg", wantKey: "R1/a.jpg", wantFolder: "R1/a.jpg/"},
		{prefix: "/carphoto/", path: "/R1/a.jpg", wantKey: "carphoto/R1/a.jpg", wantFolder: "carphoto/R1/a.jpg/"},
		{prefix: "carphoto", path: "/", wantKey: "carphoto", wantFolder: "carphoto/"},
		{prefix: "", path: "/", wantKey: "", wantFolder: ""},
	}

	for _, tt := range tests {
		b := testS3Backend(tt.prefix)
		if got := b.objectKey(tt.path); got != tt.wantKey {
			t.Errorf("objectKey(%q) with prefix %q = %q, want %q", tt.path, tt.prefix, got, tt.wantKey)
		}
		if got := b.folderPrefix(tt.path); got != tt.wantFolder {
			t.Errorf("folderPrefix(%q) with prefix %q = %q, want %q", tt.path, tt.prefix, got, tt.wantFolder)
		}
		if tt.path != "/" {
			if got := b.pathOf(tt.wantFolder); got != tt.path {
				t.Errorf("pathOf(%q) = %q, want %q", tt.wantFolder, got, tt.path)
			}
		}
	}
}

func TestS3Backend_MapError(t *testing.T) {
	b := testS3Backend("")

	respErr := func(status int, code string) error {
		return &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      &smithy.GenericAPIError{Code: code, Message: code},
		}
	}

	tests := []struct {
		name          string
		err           error
		wantSentinel  error
		wantTransient bool
	}{
		{name: "missing key", err: respErr(404, "NoSuchKey"), wantSentinel: ErrNotFound},
		{name: "if-none-match failed", err: respErr(412, "PreconditionFailed"), wantSentinel: ErrAlreadyExists},
		{name: "slow down", err: respErr(503, "SlowDown"), wantTransient: true},
		{name: "access denied", err: respErr(403, "AccessDenied")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.mapError("op", "/p", tt.err)
			if tt.wantSentinel != nil && !errors.Is(got, tt.wantSentinel) {
				t.Errorf("mapError() = %v, want %v", got, tt.wantSentinel)
			}
			if IsTransient(got) != tt.wantTransient {
				t.Errorf("IsTransient(%v) = %v, want %v", got, IsTransient(got), tt.wantTransient)
			}
		})
	}

	if b.mapError("op", "/p", nil) != nil {
		t.Error("mapError(nil) should be nil")
	}
	if IsTransient(b.mapError("op", "/p", context.Canceled)) {
		t.Error("cancellation must not be transient")
	}
}
