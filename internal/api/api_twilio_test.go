package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MichaelRobotics/Hustler-sub005/internal/messaging"
	"github.com/MichaelRobotics/Hustler-sub005/internal/twiliosms"
)

// newTestServerTwilio builds a Server with the SMS channel enabled over a
// mock Twilio client.
func newTestServerTwilio(t *testing.T) (*Server, *messaging.TwilioService) {
	t.Helper()
	server, _, _ := newTestServer(t)
	twilioSvc := messaging.NewTwilioService(twiliosms.NewMockClient())
	server.twilioSvc = twilioSvc
	t.Cleanup(func() { twilioSvc.Stop() })
	return server, twilioSvc
}

func postTwilioForm(t *testing.T, server *Server, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	server.twilioWebhookHandler(rr, req)
	return rr
}

func TestTwilioWebhookHandlerInbound(t *testing.T) {
	server, twilioSvc := newTestServerTwilio(t)

	rr := postTwilioForm(t, server, url.Values{
		"From": {"+15551234567"},
		"Body": {"Trading"},
	})
	assertStatus(t, rr, http.StatusOK)

	select {
	case resp := <-twilioSvc.Responses():
		if resp.From != "+15551234567" || resp.Body != "Trading" {
			t.Errorf("unexpected inbound response: %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("expected inbound webhook message on the Responses channel")
	}
}

func TestTwilioWebhookHandlerMissingFields(t *testing.T) {
	server, _ := newTestServerTwilio(t)

	rr := postTwilioForm(t, server, url.Values{"From": {"+15551234567"}})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing body, got %d", rr.Code)
	}
}

func TestTwilioWebhookHandlerMethodNotAllowed(t *testing.T) {
	server, _ := newTestServerTwilio(t)

	req := httptest.NewRequest("GET", "/webhook/twilio", nil)
	rr := httptest.NewRecorder()
	server.twilioWebhookHandler(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}
