// Package moodle implements a backend talking to Moodle through its REST web services.
package moodle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/kitovu/kitovu/internal/backend"
	"github.com/kitovu/kitovu/internal/digest"
	"github.com/kitovu/kitovu/internal/version"
)

const (
	Name = "moodle"

	secretService = "moodle"
	restEndpoint  = "webservice/rest/server.php"

	fnSiteInfo       = "core_webservice_get_site_info"
	fnUserCourses    = "core_enrol_get_users_courses"
	fnCourseContents = "core_course_get_contents"

	errCodeInvalidToken  = "invalidtoken"
	errCodeInvalidRecord = "invalidrecord"
)

var (
	errNotConnected  = errors.New("not connected")
	errUnknownFile   = errors.New("file was not listed")
	errUnknownCourse = errors.New("course not found")
)

type options struct {
	URL string `option:"url" validate:"required,url"`
}

type Backend struct {
	deps    backend.Deps
	opts    options
	retries int
	client  *req.Client
	token   string
	userID  int
	courses map[string]int
	files   map[string]remoteFile
}

func New(deps backend.Deps) backend.Backend {
	return &Backend{
		deps:    deps,
		opts:    options{URL: "https://moodle.hsr.ch/"},
		retries: 2,
	}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Configure(opts map[string]string) error {
	if err := backend.DecodeOptions(Name, opts, &b.opts); err != nil {
		return err
	}
	if !strings.HasSuffix(b.opts.URL, "/") {
		b.opts.URL += "/"
	}
	return nil
}

func (b *Backend) Connect(ctx context.Context) error {
	prompt := fmt.Sprintf("Enter token from %suser/preferences.php -> Security keys", b.opts.URL)
	token, err := b.deps.Secrets.Get(secretService, b.opts.URL, prompt)
	if err != nil {
		return backend.AuthenticationFault(Name, "credentials", err)
	}

	b.token = token
	b.client = req.C().
		SetBaseURL(b.opts.URL).
		SetCommonRetryCount(b.retries).
		SetCommonRetryFixedInterval(time.Second).
		SetUserAgent(version.UserAgent()).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)
	b.courses = make(map[string]int)
	b.files = make(map[string]remoteFile)

	var info siteInfo
	if err := b.call(ctx, fnSiteInfo, nil, &info); err != nil {
		b.client = nil
		if backend.KindOf(err) == backend.KindOperation && !isWSError(err) {
			return backend.ConnectivityFault(Name, "connect", err)
		}
		return err
	}
	b.userID = info.UserID
	slog.Debug("moodle connected", "url", b.opts.URL, "site", info.SiteName, "user", info.UserID)
	return nil
}

func (b *Backend) Disconnect() error {
	if b.client != nil {
		b.client.CloseIdleConnections()
	}
	b.client = nil
	b.files = nil
	b.courses = nil
	return nil
}

// call invokes a web service function and decodes the answer into result.
func (b *Backend) call(ctx context.Context, function string, params map[string]string, result any) error {
	r := b.client.R().
		SetContext(ctx).
		SetQueryParam("wstoken", b.token).
		SetQueryParam("moodlewsrestformat", "json").
		SetQueryParam("wsfunction", function)
	if params != nil {
		r.SetQueryParams(params)
	}

	slog.Debug("moodle request", "function", function, "params", params)
	resp, err := r.Get(restEndpoint)
	if err != nil {
		return backend.OperationFault(Name, function, "", err)
	}
	if resp.IsErrorState() {
		return backend.OperationFault(Name, function, "", fmt.Errorf("http error: %s", resp.Status))
	}

	body := resp.Bytes()
	if err := checkWSError(function, body); err != nil {
		return err
	}
	if err := jsonUnmarshal(body, result); err != nil {
		return backend.OperationFault(Name, function, "", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// checkWSError inspects an answer for the error object Moodle sends instead
// of the regular result. Regular results may be arrays; errors are always objects.
func checkWSError(function string, body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var wsErr wsError
	if err := jsonUnmarshal(trimmed, &wsErr); err != nil {
		return nil
	}

	switch {
	case wsErr.ErrorCode == errCodeInvalidToken:
		return backend.AuthenticationFault(Name, function, &wsErr)
	case wsErr.ErrorCode == errCodeInvalidRecord:
		return backend.OperationFault(Name, function, "", fmt.Errorf("requested something moodle could not find: %w", &wsErr))
	case wsErr.Exception != "":
		return backend.OperationFault(Name, function, "", &wsErr)
	}
	return nil
}

func (e *wsError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.ErrorCode)
	}
	return e.Message
}

func isWSError(err error) bool {
	var wsErr *wsError
	return errors.As(err, &wsErr)
}

func (b *Backend) listCourses(ctx context.Context) ([]string, error) {
	var courses []course
	if err := b.call(ctx, fnUserCourses, map[string]string{"userid": strconv.Itoa(b.userID)}, &courses); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(courses))
	for _, c := range courses {
		b.courses[c.FullName] = c.ID
		names = append(names, c.FullName)
	}
	slog.Debug("moodle courses", "count", len(names))
	return names, nil
}

// List yields course names for the root directory and the files of a
// course as "course/NN - section/module/file" otherwise.
func (b *Backend) List(ctx context.Context, remoteDir string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if b.client == nil {
			yield("", backend.OperationFault(Name, "list", remoteDir, errNotConnected))
			return
		}

		dir := strings.Trim(remoteDir, "/")
		if dir == "" {
			names, err := b.listCourses(ctx)
			if err != nil {
				yield("", err)
				return
			}
			for _, name := range names {
				if !yield(name, nil) {
					return
				}
			}
			return
		}

		b.listCourse(ctx, dir, yield)
	}
}

func (b *Backend) listCourse(ctx context.Context, courseName string, yield func(string, error) bool) {
	if len(b.courses) == 0 {
		if _, err := b.listCourses(ctx); err != nil {
			yield("", err)
			return
		}
	}

	courseID, ok := b.courses[courseName]
	if !ok {
		yield("", backend.OperationFault(Name, "list", courseName, fmt.Errorf("the remote-dir %q was not found: %w", courseName, errUnknownCourse)))
		return
	}

	var sections []section
	if err := b.call(ctx, fnCourseContents, map[string]string{"courseid": strconv.Itoa(courseID)}, &sections); err != nil {
		yield("", err)
		return
	}

	for _, s := range sections {
		sectionPath := path.Join(courseName, fmt.Sprintf("%02d - %s", s.Section, s.Name))
		for _, m := range s.Modules {
			modulePath := path.Join(sectionPath, m.Name)
			for _, c := range m.Contents {
				filename := c.FileName
				// HTML pages are the only entries without a mimetype and
				// always report a size of 0.
				if c.MimeType == "" && !strings.HasSuffix(filename, ".html") {
					filename += ".html"
				}
				fullPath := path.Join(modulePath, filename)
				b.files[fullPath] = remoteFile{url: c.FileURL, size: c.FileSize, changedAt: c.TimeModified}
				if !yield(fullPath, nil) {
					return
				}
			}
		}
	}
}

func (b *Backend) lookup(op, remotePath string) (remoteFile, error) {
	f, ok := b.files[strings.Trim(remotePath, "/")]
	if !ok {
		return remoteFile{}, backend.OperationFault(Name, op, remotePath, errUnknownFile)
	}
	return f, nil
}

func (b *Backend) RemoteDigest(_ context.Context, remotePath string) (digest.Digest, error) {
	f, err := b.lookup("digest", remotePath)
	if err != nil {
		return digest.None, err
	}
	return digest.FromStat(digestSize(remotePath, f.size), time.Unix(f.changedAt, 0)), nil
}

func (b *Backend) LocalDigest(localPath string) (digest.Digest, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return digest.None, err
	}
	return digest.FromStat(digestSize(localPath, info.Size()), info.ModTime()), nil
}

// digestSize drops the size of .html files on both sides: Moodle reports 0
// for pages while the downloaded file is not empty.
func digestSize(name string, size int64) int64 {
	if strings.EqualFold(path.Ext(filepath.ToSlash(name)), ".html") {
		return 0
	}
	return size
}

func (b *Backend) Fetch(ctx context.Context, remotePath string, w io.Writer) (*time.Time, error) {
	if b.client == nil {
		return nil, backend.OperationFault(Name, "fetch", remotePath, errNotConnected)
	}
	f, err := b.lookup("fetch", remotePath)
	if err != nil {
		return nil, err
	}
	slog.Debug("moodle retrieving file", "path", remotePath)

	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParam("token", b.token).
		Get(f.url)
	if err != nil {
		return nil, backend.OperationFault(Name, "fetch", remotePath, err)
	}
	if resp.IsErrorState() {
		return nil, backend.OperationFault(Name, "fetch", remotePath, fmt.Errorf("http error: %s", resp.Status))
	}

	body := resp.Bytes()
	if strings.Contains(resp.GetContentType(), "json") {
		if err := checkWSError("fetch", body); err != nil {
			return nil, err
		}
	}

	if _, err := w.Write(body); err != nil {
		return nil, backend.OperationFault(Name, "fetch", remotePath, err)
	}

	mtime := time.Unix(f.changedAt, 0)
	return &mtime, nil
}

var _ backend.Backend = (*Backend)(nil)
