package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/relaywave/wagateway/internal/apierr"
)

// DownloadTimeout is the maximum time to wait for the remote HEAD and the
// subsequent GET, each.
const DownloadTimeout = 30 * time.Second

var downloadClient = &http.Client{Timeout: DownloadTimeout}

type remoteMedia struct {
	data        []byte
	contentType string
	filename    string
}

// fetchRemote inspects rawURL with a HEAD request before downloading it.
// A failed HEAD is BAD_GATEWAY; a missing or oversize Content-Length is
// MEDIA_TOO_LARGE. The body is capped on read as well, in case the remote
// lied in its HEAD response.
func fetchRemote(ctx context.Context, rawURL string) (*remoteMedia, error) {
	head, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, apierr.InvalidPayload(fmt.Sprintf("invalid media url: %v", err))
	}
	headResp, err := downloadClient.Do(head)
	if err != nil {
		return nil, apierr.BadGateway(fmt.Sprintf("media url inspection failed: %v", err))
	}
	headResp.Body.Close()
	if headResp.StatusCode < 200 || headResp.StatusCode >= 300 {
		return nil, apierr.BadGateway(fmt.Sprintf("media url inspection failed with status %d", headResp.StatusCode))
	}
	if headResp.ContentLength < 0 || headResp.ContentLength > MaxBytes {
		return nil, apierr.MediaTooLarge("remote media size unknown or exceeds 10 MiB")
	}

	get, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apierr.InvalidPayload(fmt.Sprintf("invalid media url: %v", err))
	}
	resp, err := downloadClient.Do(get)
	if err != nil {
		return nil, apierr.BadGateway(fmt.Sprintf("media download failed: %v", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierr.BadGateway(fmt.Sprintf("media download failed with status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBytes+1))
	if err != nil {
		return nil, apierr.BadGateway(fmt.Sprintf("media download read failed: %v", err))
	}
	if len(data) > MaxBytes {
		return nil, apierr.MediaTooLarge("remote media exceeds 10 MiB")
	}

	return &remoteMedia{
		data:        data,
		contentType: resp.Header.Get("Content-Type"),
		filename:    filenameFromURL(rawURL),
	}, nil
}

// filenameFromURL derives a filename from the URL path, or "" if the path
// has no usable final element.
func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return ""
	}
	return name
}
