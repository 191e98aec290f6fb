package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MichaelRobotics/Hustler-sub005/internal/models"
)

func TestErrorStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.ErrConversationNotFound, http.StatusNotFound},
		{models.ErrBlockNotFound, http.StatusNotFound},
		{models.ErrInvalidInput, http.StatusBadRequest},
		{models.ErrRateLimited, http.StatusTooManyRequests},
		{models.ErrUnauthorized, http.StatusBadGateway},
		{models.ErrNetwork, http.StatusInternalServerError},
		{fmt.Errorf("send failed: %w", models.ErrRateLimited), http.StatusTooManyRequests},
		{fmt.Errorf("something else"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := errorStatusCode(c.err); got != c.want {
			t.Errorf("errorStatusCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestWriteClassifiedError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeClassifiedError(rr, fmt.Errorf("delivery blocked: %w", models.ErrRateLimited))

	assertStatus(t, rr, http.StatusTooManyRequests)
	resp := decodeAPIResponse(t, rr)
	if resp.Status != "error" {
		t.Errorf("expected error envelope, got status %q", resp.Status)
	}
	if resp.Message != "delivery blocked: rate limited" {
		t.Errorf("unexpected message %q", resp.Message)
	}
}

func TestWriteJSONResponseMarshalFallback(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, models.Success(func() {}))

	assertStatus(t, rr, http.StatusInternalServerError)
	if resp := decodeAPIResponse(t, rr); resp.Status != "error" {
		t.Errorf("expected fallback error envelope, got status %q", resp.Status)
	}
}
