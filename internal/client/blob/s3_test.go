package blob

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/dmitrijs2005/docsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responseErr(code int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
			Err:      errors.New("status"),
		},
	}
}

func TestMapS3Error(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}, common.ErrNotFound},
		{"expired token", &smithy.GenericAPIError{Code: "ExpiredToken"}, common.ErrAuthExpired},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, common.ErrUnauthorized},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, common.ErrNetworkTransient},
		{"invalid part", &smithy.GenericAPIError{Code: "InvalidPart"}, common.ErrValidation},
		{"http 503", responseErr(503), common.ErrNetworkTransient},
		{"http 429", responseErr(429), common.ErrNetworkTransient},
		{"http 404", responseErr(404), common.ErrNotFound},
		{"http 403", responseErr(403), common.ErrUnauthorized},
		{"no response", errors.New("connection refused"), common.ErrNetworkTransient},
		{"canceled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapS3Error("get", "k", tt.err), tt.want)
		})
	}
	assert.NoError(t, mapS3Error("get", "k", nil))
}

func TestS3Store_AgainstFakeEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	s, err := NewS3Store(ctx, S3Config{
		Region: "us-east-1", AccessKey: "k", SecretKey: "s", Bucket: "docs",
		BaseEndpoint: srv.URL, UsePathStyle: true,
	})
	require.NoError(t, err)

	ok, err := Exists(ctx, s, "users/u/documents/d/1-a.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "users/u/documents/d/1-a.pdf"))

	err = s.Put(ctx, "users/u/documents/d/1-a.pdf", strings.NewReader("x"), 1, PutOptions{Checksum: "c"})
	require.ErrorIs(t, err, common.ErrNetworkTransient)
}

func TestCopySource_EscapesSegments(t *testing.T) {
	assert.Equal(t, "docs/users/u/documents/d/1-my%20file.pdf", copySource("docs", "users/u/documents/d/1-my file.pdf"))
}
