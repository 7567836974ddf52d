// Package smb implements a backend for SMB/CIFS (Windows) file shares.
package smb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"net"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/hirochachacha/go-smb2"
	"github.com/kitovu/kitovu/internal/backend"
	"github.com/kitovu/kitovu/internal/digest"
)

const (
	Name = "smb"

	secretService  = "smb"
	attrCacheSize  = 4096
	defaultTimeout = 30 * time.Second
)

type options struct {
	Hostname    string `option:"hostname" validate:"required"`
	Share       string `option:"share" validate:"required"`
	Domain      string `option:"domain"`
	Username    string `option:"username" validate:"required"`
	Port        int    `option:"port" validate:"gte=0,lte=65535"`
	SignOptions string `option:"sign_options" validate:"oneof=never when_supported when_required"`
	DirectTCP   bool   `option:"is_direct_tcp"`
	Debug       bool   `option:"debug"`

	// go-smb2 always authenticates with NTLMv2; accepted so existing settings keep working.
	UseNTLMv2 bool `option:"use_ntlm_v2"`
}

func defaultOptions() options {
	return options{
		Hostname:    "svm-c213.hsr.ch",
		Share:       "skripte",
		Domain:      "HSR",
		SignOptions: "when_required",
		DirectTCP:   true,
	}
}

type Backend struct {
	deps    backend.Deps
	opts    options
	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
	attrs   *lru.Cache[string, fs.FileInfo]
}

func New(deps backend.Deps) backend.Backend {
	attrs, _ := lru.New[string, fs.FileInfo](attrCacheSize)
	return &Backend{
		deps:  deps,
		opts:  defaultOptions(),
		attrs: attrs,
	}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Configure(opts map[string]string) error {
	if err := backend.DecodeOptions(Name, opts, &b.opts); err != nil {
		return err
	}
	if b.opts.Port == 0 {
		b.opts.Port = 445
		if !b.opts.DirectTCP {
			b.opts.Port = 139
		}
	}
	slog.Debug("smb configured", "host", b.opts.Hostname, "share", b.opts.Share, "user", b.opts.Username, "domain", b.opts.Domain, "port", b.opts.Port)
	return nil
}

// passwordIdentifier identifies the account, not the endpoint: the port is
// left out so the same server reached over another protocol shares the password.
func (b *Backend) passwordIdentifier() string {
	return strings.Join([]string{b.opts.Username, b.opts.Domain, b.opts.Hostname}, "\n")
}

func (b *Backend) Connect(ctx context.Context) error {
	prompt := fmt.Sprintf("Password for %s@%s", b.opts.Username, b.opts.Hostname)
	password, err := b.deps.Secrets.Get(secretService, b.passwordIdentifier(), prompt)
	if err != nil {
		return backend.AuthenticationFault(Name, "credentials", err)
	}

	addr := net.JoinHostPort(b.opts.Hostname, strconv.Itoa(b.opts.Port))
	dialer := net.Dialer{Timeout: defaultTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return backend.ConnectivityFault(Name, "connect", fmt.Errorf("could not find server %s, maybe a VPN connection is required: %w", b.opts.Hostname, err))
		}
		return backend.ConnectivityFault(Name, "connect", fmt.Errorf("could not connect to %s: %w", addr, err))
	}

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     b.opts.Username,
			Password: password,
			Domain:   b.opts.Domain,
		},
	}
	d.Negotiator.RequireMessageSigning = b.opts.SignOptions == "when_required"

	session, err := d.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return backend.AuthenticationFault(Name, "connect", fmt.Errorf("authentication failed for %s: %w", addr, err))
	}

	share, err := session.Mount(b.opts.Share)
	if err != nil {
		session.Logoff()
		conn.Close()
		return backend.ConnectivityFault(Name, "mount", fmt.Errorf("share %q: %w", b.opts.Share, err))
	}

	b.conn = conn
	b.session = session
	b.share = share
	slog.Debug("smb connected", "addr", addr, "share", b.opts.Share)
	return nil
}

func (b *Backend) Disconnect() error {
	if b.session == nil {
		return nil
	}
	var errs []error
	if err := b.share.Umount(); err != nil {
		errs = append(errs, err)
	}
	if err := b.session.Logoff(); err != nil {
		errs = append(errs, err)
	}
	if err := b.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	b.conn, b.session, b.share = nil, nil, nil
	b.attrs.Purge()
	return errors.Join(errs...)
}

func (b *Backend) List(ctx context.Context, remoteDir string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if b.share == nil {
			yield("", backend.OperationFault(Name, "list", remoteDir, errNotConnected))
			return
		}
		b.walk(b.share.WithContext(ctx), cleanRemote(remoteDir), yield)
	}
}

func (b *Backend) walk(share *smb2.Share, dir string, yield func(string, error) bool) bool {
	entries, err := share.ReadDir(toShare(dir))
	if err != nil {
		return yield("", backend.OperationFault(Name, "list", dir, fmt.Errorf("folder not found: %w", err)))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		p := path.Join(dir, name)
		if b.opts.Debug {
			slog.Debug("smb entry", "path", p, "dir", entry.IsDir(), "size", entry.Size())
		}
		if entry.IsDir() {
			if !b.walk(share, p, yield) {
				return false
			}
			continue
		}
		b.attrs.Add(p, entry)
		if !yield(p, nil) {
			return false
		}
	}
	return true
}

func (b *Backend) RemoteDigest(ctx context.Context, remotePath string) (digest.Digest, error) {
	if b.share == nil {
		return digest.None, backend.OperationFault(Name, "digest", remotePath, errNotConnected)
	}
	p := cleanRemote(remotePath)
	info, err := b.share.WithContext(ctx).Stat(toShare(p))
	if err != nil {
		return digest.None, backend.OperationFault(Name, "digest", remotePath, fmt.Errorf("could not find remote file in share %q: %w", b.opts.Share, err))
	}
	b.attrs.Add(p, info)
	return digest.FromStat(info.Size(), info.ModTime()), nil
}

func (b *Backend) LocalDigest(localPath string) (digest.Digest, error) {
	info, err := os.Lstat(localPath)
	if err != nil {
		return digest.None, err
	}
	return digest.FromStat(info.Size(), info.ModTime()), nil
}

func (b *Backend) Fetch(ctx context.Context, remotePath string, w io.Writer) (*time.Time, error) {
	if b.share == nil {
		return nil, backend.OperationFault(Name, "fetch", remotePath, errNotConnected)
	}
	p := cleanRemote(remotePath)
	slog.Debug("smb retrieving file", "path", p)

	f, err := b.share.WithContext(ctx).Open(toShare(p))
	if err != nil {
		return nil, backend.OperationFault(Name, "fetch", remotePath, fmt.Errorf("could not download from share %q: %w", b.opts.Share, err))
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return nil, backend.OperationFault(Name, "fetch", remotePath, err)
	}

	info, ok := b.attrs.Get(p)
	if !ok {
		if info, err = f.Stat(); err != nil {
			return nil, nil
		}
	}
	mtime := info.ModTime()
	return &mtime, nil
}

var errNotConnected = errors.New("not connected")

// cleanRemote normalizes a remote path to a slash separated path without a leading slash.
func cleanRemote(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}

// toShare converts a slash separated path to the backslash form SMB expects.
func toShare(p string) string {
	if p == "" || p == "." {
		return ""
	}
	return strings.ReplaceAll(p, "/", `\`)
}

var _ backend.Backend = (*Backend)(nil)
