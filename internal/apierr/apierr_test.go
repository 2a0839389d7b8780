package apierr

import (
	"errors"
	"net/http"
	"testing"
)

func TestTaxonomyMapping(t *testing.T) {
	cases := []struct {
		err        *Error
		wantCode   string
		wantStatus int
	}{
		{InvalidPayload("x"), "INVALID_PAYLOAD", http.StatusBadRequest},
		{Unauthorized("x"), "UNAUTHORIZED", http.StatusUnauthorized},
		{SessionNotFound("x"), "SESSION_NOT_FOUND", http.StatusNotFound},
		{SessionNotReady("x"), "SESSION_NOT_READY", http.StatusConflict},
		{MediaTooLarge("x"), "MEDIA_TOO_LARGE", http.StatusRequestEntityTooLarge},
		{RateLimited("x"), "RATE_LIMITED", http.StatusTooManyRequests},
		{BadGateway("x"), "BAD_GATEWAY", http.StatusBadGateway},
		{AIDownstreamError("x"), "AI_DOWNSTREAM_ERROR", http.StatusBadGateway},
		{AITimeout("x"), "AI_TIMEOUT", http.StatusGatewayTimeout},
	}

	for _, tc := range cases {
		if tc.err.Code != tc.wantCode {
			t.Errorf("code = %s, want %s", tc.err.Code, tc.wantCode)
		}
		if tc.err.Status != tc.wantStatus {
			t.Errorf("%s: status = %d, want %d", tc.wantCode, tc.err.Status, tc.wantStatus)
		}
	}
}

func TestAs(t *testing.T) {
	if As(nil) != nil {
		t.Fatal("As(nil) must be nil")
	}

	orig := RateLimited("slow down")
	if As(orig) != orig {
		t.Fatal("As must pass through typed errors unchanged")
	}

	wrapped := As(errors.New("boom"))
	if wrapped.Code != "BAD_GATEWAY" || wrapped.Status != http.StatusBadGateway {
		t.Fatalf("unclassified errors must wrap as BAD_GATEWAY, got %+v", wrapped)
	}
	if wrapped.Message != "boom" {
		t.Fatalf("message lost in wrap: %q", wrapped.Message)
	}
}
