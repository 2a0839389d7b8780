// Package media prepares outbound media payloads for the chat network.
// It accepts either inline base64 data or a remote URL, enforces the 10 MiB
// size cap, validates image bytes, and optionally writes a preview copy to
// the temp directory.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	"github.com/relaywave/wagateway/internal/apierr"
	. "github.com/relaywave/wagateway/internal/logging"
	"github.com/relaywave/wagateway/internal/paths"
)

// MaxBytes is the maximum accepted media size. Exactly MaxBytes is
// accepted; one byte more is rejected.
const MaxBytes = 10 * 1024 * 1024

// DefaultFilename is used when neither the caller nor the remote URL
// yields a filename.
const DefaultFilename = "image.jpg"

// Input describes one media source. Exactly one of Data/URL must be set.
type Input struct {
	Data       string // raw base64 or a data: URL
	URL        string // remote source, fetched with HEAD then GET
	Filename   string
	MimeType   string
	SaveToTemp *bool // nil means true
}

// Prepared is the opaque handle produced by Prepare, ready to hand to the
// chat client.
type Prepared struct {
	MimeType    string
	Data        []byte
	Filename    string
	PreviewPath string // empty when SaveToTemp was explicitly false
}

// Base64 returns the prepared bytes base64-encoded.
func (p *Prepared) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// Prepare resolves in into a Prepared handle. tempDir receives the preview
// copy unless in.SaveToTemp is explicitly false.
func Prepare(ctx context.Context, in Input, tempDir string) (*Prepared, error) {
	if (in.Data == "") == (in.URL == "") {
		return nil, apierr.InvalidPayload("exactly one of data or url is required")
	}

	var (
		data     []byte
		mimeType = in.MimeType
		filename = in.Filename
		err      error
	)

	if in.Data != "" {
		data, err = decodeInline(in.Data)
		if err != nil {
			return nil, err
		}
		if len(data) > MaxBytes {
			return nil, apierr.MediaTooLarge("media exceeds 10 MiB")
		}
	} else {
		var remote *remoteMedia
		remote, err = fetchRemote(ctx, in.URL)
		if err != nil {
			return nil, err
		}
		data = remote.data
		if mimeType == "" {
			mimeType = remote.contentType
		}
		if filename == "" {
			filename = remote.filename
		}
	}

	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	if filename == "" {
		filename = DefaultFilename
	}

	if strings.HasPrefix(mimeType, "image/") {
		if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
			return nil, apierr.InvalidPayload("media is not a decodable image")
		}
	}

	p := &Prepared{MimeType: mimeType, Data: data, Filename: filename}

	if in.SaveToTemp == nil || *in.SaveToTemp {
		p.PreviewPath = writePreview(tempDir, filename, data)
	}

	return p, nil
}

// decodeInline accepts raw base64 or a data URL ("data:<mime>;base64,<payload>").
func decodeInline(raw string) ([]byte, error) {
	if idx := strings.Index(raw, ","); idx >= 0 && strings.HasPrefix(raw, "data:") {
		raw = raw[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, apierr.InvalidPayload("media data is not valid base64")
	}
	return data, nil
}

// writePreview writes a copy of data to the temp preview directory and
// returns its path. Preview failures are logged, never fatal: the send
// still proceeds without a preview.
func writePreview(tempDir, filename string, data []byte) string {
	if err := paths.EnsureDir(tempDir); err != nil {
		L_warn("media: cannot create temp dir", "dir", tempDir, "error", err)
		return ""
	}
	path := paths.TempPreviewPath(tempDir, time.Now().UnixMilli(), filename)
	if err := os.WriteFile(path, data, 0600); err != nil {
		L_warn("media: failed to write preview", "path", path, "error", err)
		return ""
	}
	return path
}
