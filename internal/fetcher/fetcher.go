// Package fetcher acquires sheet files from local paths, HTTP(S) and FTP,
// and reads their rows from CSV or XLSX.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads a remote file.
type Fetcher interface {
	// Download fetches the URL and returns the body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Router picks a Fetcher by URL scheme.
type Router struct {
	HTTP Fetcher
	FTP  Fetcher
}

// NewRouter creates a Router with default HTTP and FTP fetchers.
func NewRouter() *Router {
	return &Router{
		HTTP: NewHTTPFetcher(HTTPOptions{}),
		FTP:  NewFTPFetcher(FTPOptions{}),
	}
}

// Localize makes ref available as a local file. Local paths are returned
// as-is; http(s) and ftp refs are downloaded into a temp dir that cleanup
// removes. The local file keeps the extension of the ref's path.
func (r *Router) Localize(ctx context.Context, ref string) (path string, cleanup func(), err error) {
	noop := func() {}
	u, perr := url.Parse(ref)
	if perr != nil || u.Scheme == "" || len(u.Scheme) == 1 { // "C:\..." parses with a one-letter scheme
		if _, statErr := os.Stat(ref); statErr != nil {
			return "", noop, eris.Wrapf(statErr, "fetcher: open %s", ref)
		}
		return ref, noop, nil
	}

	var f Fetcher
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		f = r.HTTP
	case "ftp":
		f = r.FTP
	case "file":
		return r.Localize(ctx, u.Path)
	default:
		return "", noop, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}

	dir, err := os.MkdirTemp("", "b2b-sync-*")
	if err != nil {
		return "", noop, eris.Wrap(err, "fetcher: create temp dir")
	}
	cleanup = func() { _ = os.RemoveAll(dir) }

	name := filepath.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "sheet"
	}
	if u.Query().Get("format") == "csv" && filepath.Ext(name) == "" {
		name += ".csv"
	}
	path = filepath.Join(dir, name)

	n, err := f.DownloadToFile(ctx, ref, path)
	if err != nil {
		cleanup()
		return "", noop, err
	}
	zap.L().Info("fetcher: downloaded sheet",
		zap.String("ref", redact(u)),
		zap.Int64("bytes", n),
	)
	return path, cleanup, nil
}

// redact drops credentials from a URL before logging.
func redact(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	return c.String()
}
