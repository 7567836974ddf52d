package s3

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/kitovu/kitovu/internal/backend"
	"github.com/kitovu/kitovu/internal/digest"
	"github.com/kitovu/kitovu/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testModTime = time.Date(2017, 7, 14, 2, 40, 0, 0, time.UTC)

// fakeBucket answers the subset of the S3 API the backend uses, path style.
func fakeBucket(t *testing.T, bucket string, objects map[string]string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		rest, ok := strings.CutPrefix(r.URL.Path, "/"+bucket)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		key := strings.TrimPrefix(rest, "/")

		switch {
		case r.Method == http.MethodHead && key == "":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && key == "" && r.URL.Query().Get("list-type") == "2":
			prefix := r.URL.Query().Get("prefix")
			var sb strings.Builder
			sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
			fmt.Fprintf(&sb, "<Name>%s</Name><Prefix>%s</Prefix><IsTruncated>false</IsTruncated>", bucket, prefix)
			for _, k := range []string{"docs/", "docs/a.txt", "docs/sub/b.txt", "other.txt"} {
				if _, exists := objects[k]; !exists || !strings.HasPrefix(k, prefix) {
					continue
				}
				fmt.Fprintf(&sb, "<Contents><Key>%s</Key><LastModified>%s</LastModified><Size>%d</Size></Contents>",
					k, testModTime.Format(time.RFC3339), len(objects[k]))
			}
			sb.WriteString("</ListBucketResult>")
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, sb.String())
		case r.Method == http.MethodGet || r.Method == http.MethodHead:
			body, exists := objects[key]
			if !exists {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Last-Modified", testModTime.Format(http.TimeFormat))
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			if r.Method == http.MethodGet {
				fmt.Fprint(w, body)
			}
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newBackend(t *testing.T, endpoint string) *Backend {
	t.Helper()
	store := secrets.NewMemoryStore()
	store.Set(secretService, "AKID@"+endpoint, "secret")
	b := New(backend.Deps{Secrets: store}).(*Backend)
	require.NoError(t, b.Configure(map[string]string{
		"bucket":     "lectures",
		"endpoint":   endpoint,
		"access_key": "AKID",
	}))
	return b
}

func TestS3_Configure(t *testing.T) {
	b := New(backend.Deps{}).(*Backend)
	require.NoError(t, b.Configure(map[string]string{"bucket": "x", "access_key": "AKID"}))
	assert.Equal(t, "us-east-1", b.opts.Region)
	assert.Equal(t, "AKID@us-east-1", b.secretIdentifier())

	assert.ErrorIs(t, New(backend.Deps{}).Configure(map[string]string{"access_key": "AKID"}), backend.ErrConfiguration)
	assert.ErrorIs(t, New(backend.Deps{}).Configure(map[string]string{"bucket": "x", "access_key": "a", "endpoint": "::"}), backend.ErrConfiguration)
}

func TestS3_ListDigestFetch(t *testing.T) {
	srv := fakeBucket(t, "lectures", map[string]string{
		"docs/":          "",
		"docs/a.txt":     "hello",
		"docs/sub/b.txt": "world!",
		"other.txt":      "x",
	}, http.StatusOK)
	b := newBackend(t, srv.URL)
	require.NoError(t, b.Connect(context.Background()))
	t.Cleanup(func() { b.Disconnect() })

	var keys []string
	for k, err := range b.List(context.Background(), "/docs") {
		require.NoError(t, err)
		keys = append(keys, k)
	}
	assert.Equal(t, []string{"docs/a.txt", "docs/sub/b.txt"}, keys)

	d, err := b.RemoteDigest(context.Background(), "/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, digest.FromStat(5, testModTime), d)

	var buf bytes.Buffer
	mtime, err := b.Fetch(context.Background(), "docs/sub/b.txt", &buf)
	require.NoError(t, err)
	assert.Equal(t, "world!", buf.String())
	assert.True(t, mtime.Equal(testModTime))

	_, err = b.Fetch(context.Background(), "docs/missing.txt", &buf)
	assert.ErrorIs(t, err, backend.ErrOperation)
}

func TestS3_ConnectFaults(t *testing.T) {
	forbidden := fakeBucket(t, "lectures", nil, http.StatusForbidden)
	err := newBackend(t, forbidden.URL).Connect(context.Background())
	assert.ErrorIs(t, err, backend.ErrAuthentication)

	missing := fakeBucket(t, "other", nil, http.StatusOK)
	err = newBackend(t, missing.URL).Connect(context.Background())
	assert.ErrorIs(t, err, backend.ErrConfiguration)

	gone := httptest.NewServer(http.NotFoundHandler())
	url := gone.URL
	gone.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = newBackend(t, url).Connect(ctx)
	assert.ErrorIs(t, err, backend.ErrConnectivity)
}

func TestS3_NotConnected(t *testing.T) {
	b := New(backend.Deps{}).(*Backend)
	for _, err := range b.List(context.Background(), "") {
		assert.ErrorIs(t, err, errNotConnected)
	}
	_, err := b.RemoteDigest(context.Background(), "a")
	assert.ErrorIs(t, err, errNotConnected)
}
