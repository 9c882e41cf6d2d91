package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"contact-center/internal/calls"
)

func TestParseVoiceForm(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&From=%2B15551234567&To=%2B15557654321&DialCallStatus=no-answer&DialCallDuration=0&RecordingUrl=https%3A%2F%2Frec%2F1")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/voice/inbound", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseVoiceForm(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" {
		t.Fatalf("expected CallSid")
	}
	if form.From != "+15551234567" || form.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", form.From, form.To)
	}
	if form.DialCallStatus != "no-answer" || form.RecordingURL != "https://rec/1" {
		t.Fatalf("unexpected callback fields: %+v", form)
	}

	nc := form.NewCall()
	if nc.ProviderRef != "CA123" || nc.ID != CallIDFor("CA123") {
		t.Fatalf("unexpected new call: %+v", nc)
	}
}

func TestCallIDFor_IsStable(t *testing.T) {
	if CallIDFor("CA1") != CallIDFor("CA1") {
		t.Fatalf("expected deterministic id")
	}
	if CallIDFor("CA1") == CallIDFor("CA2") {
		t.Fatalf("expected distinct ids")
	}
}

func TestDialOutcome(t *testing.T) {
	cases := map[string]calls.Status{
		"completed": calls.StatusCompleted,
		"busy":      calls.StatusBusy,
		"no-answer": calls.StatusNoAnswer,
		"failed":    calls.StatusNoAnswer,
	}
	for in, want := range cases {
		got, ok := DialOutcome(in)
		if !ok || got != want {
			t.Fatalf("%s: expected %s, got %s (ok=%v)", in, want, got, ok)
		}
	}
	if _, ok := DialOutcome(""); ok {
		t.Fatalf("expected empty status to be ignored")
	}
}
