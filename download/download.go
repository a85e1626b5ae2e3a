// Package download implements spec.md §1's out-of-core-scope but
// necessary bundle transport: fetching a bundle over http:// or https://
// or exposing it as an NBD-like ranged block source, behind one interface
// so package bundle never has to know how the bytes arrived. ftp(s) and
// sftp URLs are not supported; HTTPFetcher rejects them. Concrete
// transports are intentionally thin: spec.md scopes the update pipeline
// itself, not a general-purpose download manager, so only the minimum
// needed to hand bundle.Open a bundle.Source is implemented here.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/mvo5/slotupdate/errs"
)

// Fetcher retrieves a bundle from a URL into a local temp file and
// returns its path, enforcing maxBytes (config.System.MaxBundleDownloadSize).
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, maxBytes uint64) (path string, err error)
}

// HTTPFetcher implements Fetcher for http:// and https:// URLs.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns a Fetcher using http.DefaultClient unless client
// is supplied.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{Client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, maxBytes uint64) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errs.New(errs.BundleIdentifier, "invalid bundle URL %q: %v", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errs.New(errs.BundleIdentifier, "unsupported download scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", errs.New(errs.BundleIdentifier, "build request: %v", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", errs.New(errs.BundleIdentifier, "download %s: %v", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.BundleIdentifier, "download %s: unexpected status %s", rawURL, resp.Status)
	}
	if maxBytes > 0 && resp.ContentLength > 0 && uint64(resp.ContentLength) > maxBytes {
		return "", errs.New(errs.BundleIdentifier, "bundle at %s (%d bytes) exceeds max-bundle-download-size (%d)", rawURL, resp.ContentLength, maxBytes)
	}

	tmp, err := os.CreateTemp("", "slotupdate-download-")
	if err != nil {
		return "", errs.New(errs.BundleIdentifier, "create temp file: %v", err)
	}
	defer tmp.Close()

	var limited io.Reader = resp.Body
	if maxBytes > 0 {
		limited = io.LimitReader(resp.Body, int64(maxBytes)+1)
	}
	n, err := io.Copy(tmp, limited)
	if err != nil {
		os.Remove(tmp.Name())
		return "", errs.New(errs.BundleIdentifier, "download %s: %v", rawURL, err)
	}
	if maxBytes > 0 && uint64(n) > maxBytes {
		os.Remove(tmp.Name())
		return "", errs.New(errs.BundleIdentifier, "bundle at %s exceeds max-bundle-download-size (%d)", rawURL, maxBytes)
	}

	return tmp.Name(), nil
}

// BlockSource exposes a remote bundle as a ranged byte source without
// downloading it whole first, for devices too storage-constrained to
// stage a full bundle (spec.md §1's NBD-like streaming case). It issues
// one HTTP Range request per ReadAt call; callers that need sustained
// throughput should prefer Fetcher and a local bundle.Source instead.
type BlockSource struct {
	URL    string
	Client *http.Client
	size   int64
}

// NewBlockSource probes url with a HEAD request to learn its size.
func NewBlockSource(ctx context.Context, rawURL string, client *http.Client) (*BlockSource, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, errs.New(errs.BundleIdentifier, "build HEAD request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.New(errs.BundleIdentifier, "HEAD %s: %v", rawURL, err)
	}
	resp.Body.Close()
	if resp.ContentLength <= 0 {
		return nil, errs.New(errs.BundleIdentifier, "%s did not report a Content-Length", rawURL)
	}
	return &BlockSource{URL: rawURL, Client: client, size: resp.ContentLength}, nil
}

func (b *BlockSource) Size() (int64, error) { return b.size, nil }
func (b *BlockSource) Local() bool          { return false }
func (b *BlockSource) Path() string         { return "" }
func (b *BlockSource) Close() error         { return nil }

func (b *BlockSource) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	end := off + int64(len(p)) - 1
	req, err := http.NewRequest(http.MethodGet, b.URL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))

	resp, err := b.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("range request to %s: unexpected status %s", b.URL, resp.Status)
	}

	return io.ReadFull(resp.Body, p)
}
