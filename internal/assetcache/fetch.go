package assetcache

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
)

// Fetcher retrieves a site asset from its origin.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (body []byte, contentType string, err error)
}

// FSFetcher fetches assets from a file system, such as the embedded site or
// a --dir directory. The empty key is index.html.
type FSFetcher struct {
	FS fs.FS
}

// Fetch reads key from the file system.
func (f FSFetcher) Fetch(ctx context.Context, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	name := key
	if name == "" {
		name = "index.html"
	}
	body, err := fs.ReadFile(f.FS, name)
	if err != nil {
		return nil, "", err
	}
	return body, contentType(name, body), nil
}

// HTTPFetcher fetches assets from an upstream server.
type HTTPFetcher struct {
	Base   string
	Client *http.Client
}

// Fetch requests Base/key.
func (f HTTPFetcher) Fetch(ctx context.Context, key string) ([]byte, string, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(f.Base, "/") + "/" + key
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetch %s: %s", url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = contentType(key, body)
	}
	return body, ct, nil
}

// contentType picks a MIME type from the extension, then from the content.
func contentType(name string, body []byte) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(body)
}
