// Package s3 implements a backend reading objects from an S3 compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kitovu/kitovu/internal/backend"
	"github.com/kitovu/kitovu/internal/digest"
)

const (
	Name = "s3"

	secretService = "s3"
)

var errNotConnected = errors.New("not connected")

type options struct {
	Bucket    string `option:"bucket" validate:"required"`
	Region    string `option:"region"`
	Endpoint  string `option:"endpoint" validate:"omitempty,url"`
	AccessKey string `option:"access_key" validate:"required"`
}

type object struct {
	size         int64
	lastModified time.Time
}

type Backend struct {
	deps   backend.Deps
	opts   options
	client *s3.Client

	mu      sync.Mutex
	objects map[string]object
}

func New(deps backend.Deps) backend.Backend {
	return &Backend{
		deps: deps,
		opts: options{Region: "us-east-1"},
	}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Configure(opts map[string]string) error {
	return backend.DecodeOptions(Name, opts, &b.opts)
}

func (b *Backend) secretIdentifier() string {
	where := b.opts.Endpoint
	if where == "" {
		where = b.opts.Region
	}
	return b.opts.AccessKey + "@" + where
}

func (b *Backend) Connect(ctx context.Context) error {
	prompt := fmt.Sprintf("Enter secret key for %s", b.secretIdentifier())
	secretKey, err := b.deps.Secrets.Get(secretService, b.secretIdentifier(), prompt)
	if err != nil {
		return backend.AuthenticationFault(Name, "credentials", err)
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.opts.AccessKey, secretKey, ""),
		),
		config.WithRegion(b.opts.Region),
		config.WithHTTPClient(httpClient),
	)
	if err != nil {
		return backend.ConfigurationFault(Name, "connect", fmt.Errorf("load aws config: %w", err))
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if b.opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(b.opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &b.opts.Bucket}); err != nil {
		return classifyConnectError(err)
	}

	b.client = client
	b.objects = make(map[string]object)
	slog.Debug("s3 connected", "bucket", b.opts.Bucket, "region", b.opts.Region, "endpoint", b.opts.Endpoint)
	return nil
}

func classifyConnectError(err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return backend.AuthenticationFault(Name, "connect", err)
		case http.StatusNotFound:
			return backend.ConfigurationFault(Name, "connect", fmt.Errorf("bucket does not exist: %w", err))
		}
	}
	return backend.ConnectivityFault(Name, "connect", err)
}

func (b *Backend) Disconnect() error {
	b.client = nil
	b.objects = nil
	return nil
}

func cleanKey(p string) string {
	return strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/")
}

func (b *Backend) List(ctx context.Context, remoteDir string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if b.client == nil {
			yield("", backend.OperationFault(Name, "list", remoteDir, errNotConnected))
			return
		}

		prefix := strings.Trim(cleanKey(remoteDir), "/")
		if prefix != "" {
			prefix += "/"
		}

		pager := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
			Bucket: &b.opts.Bucket,
			Prefix: aws.String(prefix),
		})
		for pager.HasMorePages() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				yield("", backend.OperationFault(Name, "list", remoteDir, err))
				return
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				// folder placeholders
				if strings.HasSuffix(key, "/") {
					continue
				}
				b.remember(key, object{size: aws.ToInt64(obj.Size), lastModified: aws.ToTime(obj.LastModified)})
				if !yield(key, nil) {
					return
				}
			}
		}
	}
}

func (b *Backend) remember(key string, obj object) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = obj
}

func (b *Backend) RemoteDigest(ctx context.Context, remotePath string) (digest.Digest, error) {
	if b.client == nil {
		return digest.None, backend.OperationFault(Name, "digest", remotePath, errNotConnected)
	}
	key := cleanKey(remotePath)

	b.mu.Lock()
	obj, ok := b.objects[key]
	b.mu.Unlock()
	if ok {
		return digest.FromStat(obj.size, obj.lastModified), nil
	}

	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.opts.Bucket, Key: &key})
	if err != nil {
		return digest.None, backend.OperationFault(Name, "digest", remotePath, err)
	}
	obj = object{size: aws.ToInt64(head.ContentLength), lastModified: aws.ToTime(head.LastModified)}
	b.remember(key, obj)
	return digest.FromStat(obj.size, obj.lastModified), nil
}

func (b *Backend) LocalDigest(localPath string) (digest.Digest, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return digest.None, err
	}
	return digest.FromStat(info.Size(), info.ModTime()), nil
}

func (b *Backend) Fetch(ctx context.Context, remotePath string, w io.Writer) (*time.Time, error) {
	if b.client == nil {
		return nil, backend.OperationFault(Name, "fetch", remotePath, errNotConnected)
	}
	key := cleanKey(remotePath)

	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.opts.Bucket, Key: &key})
	if err != nil {
		return nil, backend.OperationFault(Name, "fetch", remotePath, err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return nil, backend.OperationFault(Name, "fetch", remotePath, err)
	}

	mtime := aws.ToTime(resp.LastModified)
	return &mtime, nil
}

var _ backend.Backend = (*Backend)(nil)
