package telephony

import (
	"net/http"
	"strconv"
	"strings"

	"contact-center/internal/calls"

	"github.com/google/uuid"
)

// VoiceForm captures the subset of voice webhook fields the call flow reads.
// The provider posts application/x-www-form-urlencoded bodies.
type VoiceForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string

	// Set on the dial action callback.
	DialCallStatus   string
	DialCallSid      string
	DialCallDuration int

	// Set on the record action callback.
	RecordingURL      string
	RecordingSid      string
	RecordingDuration int
}

func ParseVoiceForm(r *http.Request) (VoiceForm, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceForm{}, err
	}
	f := VoiceForm{
		CallSid:           strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:        r.PostFormValue("AccountSid"),
		From:              normalizePhone(r.PostFormValue("From")),
		To:                normalizePhone(r.PostFormValue("To")),
		Direction:         r.PostFormValue("Direction"),
		CallStatus:        r.PostFormValue("CallStatus"),
		DialCallStatus:    strings.ToLower(r.PostFormValue("DialCallStatus")),
		DialCallSid:       r.PostFormValue("DialCallSid"),
		DialCallDuration:  atoi(r.PostFormValue("DialCallDuration")),
		RecordingURL:      r.PostFormValue("RecordingUrl"),
		RecordingSid:      r.PostFormValue("RecordingSid"),
		RecordingDuration: atoi(r.PostFormValue("RecordingDuration")),
	}
	return f, nil
}

func normalizePhone(s string) string {
	// "anonymous" and empty callers are kept as-is.
	return strings.TrimSpace(s)
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// DialOutcome maps a DialCallStatus to the call status it implies. ok is
// false for statuses that do not move the call (e.g. an empty value).
func DialOutcome(dialCallStatus string) (calls.Status, bool) {
	switch strings.ToLower(strings.TrimSpace(dialCallStatus)) {
	case "completed", "answered":
		return calls.StatusCompleted, true
	case "busy":
		return calls.StatusBusy, true
	case "no-answer", "no_answer", "canceled", "failed":
		// A failed leg means no agent picked up; the caller is still there.
		return calls.StatusNoAnswer, true
	default:
		return "", false
	}
}

var callIDNamespace = uuid.MustParse("8f4b1c2e-6a57-4f0e-9d1b-3c2a7e5d9f10")

// CallIDFor derives the internal call id from the provider reference, so a
// redelivered webhook maps to the same call.
func CallIDFor(providerRef string) string {
	return uuid.NewSHA1(callIDNamespace, []byte(providerRef)).String()
}

func (f VoiceForm) NewCall() calls.NewCall {
	return calls.NewCall{
		ID:          CallIDFor(f.CallSid),
		ProviderRef: f.CallSid,
		From:        f.From,
		To:          f.To,
	}
}
