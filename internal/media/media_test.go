package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/relaywave/wagateway/internal/apierr"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil error", code)
	}
	e := apierr.As(err)
	if e.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, e.Code, e.Message)
	}
}

func TestPrepareRequiresExactlyOneSource(t *testing.T) {
	_, err := Prepare(context.Background(), Input{}, t.TempDir())
	wantCode(t, err, "INVALID_PAYLOAD")

	_, err = Prepare(context.Background(), Input{Data: "aGk=", URL: "http://example.com/x"}, t.TempDir())
	wantCode(t, err, "INVALID_PAYLOAD")
}

func TestPrepareInlineData(t *testing.T) {
	raw := pngBytes(t)
	in := Input{Data: base64.StdEncoding.EncodeToString(raw)}

	p, err := Prepare(context.Background(), in, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(p.Data, raw) {
		t.Fatal("decoded bytes differ from input")
	}
	if p.MimeType != "image/png" {
		t.Fatalf("expected sniffed image/png, got %s", p.MimeType)
	}
	if p.Filename != DefaultFilename {
		t.Fatalf("expected default filename, got %s", p.Filename)
	}
	if p.PreviewPath == "" {
		t.Fatal("expected a preview path by default")
	}
}

func TestPrepareDataURL(t *testing.T) {
	raw := pngBytes(t)
	in := Input{Data: "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)}

	p, err := Prepare(context.Background(), in, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(p.Data, raw) {
		t.Fatal("data URL payload not decoded correctly")
	}
}

func TestPrepareSizeBoundary(t *testing.T) {
	atLimit := make([]byte, MaxBytes)
	in := Input{
		Data:       base64.StdEncoding.EncodeToString(atLimit),
		MimeType:   "application/octet-stream",
		SaveToTemp: boolPtr(false),
	}
	if _, err := Prepare(context.Background(), in, t.TempDir()); err != nil {
		t.Fatalf("exactly 10 MiB should be accepted: %v", err)
	}

	overLimit := make([]byte, MaxBytes+1)
	in.Data = base64.StdEncoding.EncodeToString(overLimit)
	_, err := Prepare(context.Background(), in, t.TempDir())
	wantCode(t, err, "MEDIA_TOO_LARGE")
}

func TestPrepareRejectsCorruptImage(t *testing.T) {
	in := Input{
		Data:     base64.StdEncoding.EncodeToString([]byte("not an image")),
		MimeType: "image/png",
	}
	_, err := Prepare(context.Background(), in, t.TempDir())
	wantCode(t, err, "INVALID_PAYLOAD")
}

func TestPrepareSaveToTempFalse(t *testing.T) {
	in := Input{
		Data:       base64.StdEncoding.EncodeToString(pngBytes(t)),
		SaveToTemp: boolPtr(false),
	}
	p, err := Prepare(context.Background(), in, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.PreviewPath != "" {
		t.Fatalf("expected no preview, got %s", p.PreviewPath)
	}
}

func TestPrepareRemoteURL(t *testing.T) {
	raw := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "0")
		}
		if r.Method == http.MethodGet {
			w.Write(raw)
		}
	}))
	defer srv.Close()

	p, err := Prepare(context.Background(), Input{URL: srv.URL + "/photos/pic.png"}, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.MimeType != "image/png" {
		t.Fatalf("expected adopted content-type, got %s", p.MimeType)
	}
	if p.Filename != "pic.png" {
		t.Fatalf("expected filename from URL path, got %s", p.Filename)
	}
}

func TestPrepareRemoteHeadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := Prepare(context.Background(), Input{URL: srv.URL + "/x"}, t.TempDir())
	wantCode(t, err, "BAD_GATEWAY")
}

func TestPrepareRemoteTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(MaxBytes+5))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := Prepare(context.Background(), Input{URL: srv.URL + "/x"}, t.TempDir())
	wantCode(t, err, "MEDIA_TOO_LARGE")
}

func TestFilenameFromURL(t *testing.T) {
	cases := map[string]string{
		"http://x.test/a/b/photo.jpg": "photo.jpg",
		"http://x.test/":              "",
		"http://x.test":               "",
	}
	for in, want := range cases {
		if got := filenameFromURL(in); got != want {
			t.Errorf("filenameFromURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func boolPtr(b bool) *bool { return &b }
