package telephony

import (
	"strings"
	"testing"
	"time"
)

func testDocuments(mut func(c *DocumentConfig)) *Documents {
	cfg := DocumentConfig{
		BaseURL:            "https://acd.example.com/webhooks/voice/",
		CallerID:           "+15550100",
		MaxDialAttempts:    2,
		DialTimeout:        20 * time.Second,
		DialTimeLimit:      time.Hour,
		RecordingEnabled:   true,
		VoicemailEnabled:   true,
		VoicemailMaxLength: 90 * time.Second,
		Transcribe:         true,
	}
	if mut != nil {
		mut(&cfg)
	}
	return NewDocuments(cfg)
}

func render(t *testing.T, doc Document) string {
	t.Helper()
	b, err := doc.XML()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	s := string(b)
	if !strings.HasPrefix(s, `<?xml version="1.0" encoding="UTF-8"?>`) {
		t.Fatalf("missing xml declaration: %s", s)
	}
	return s
}

// assertOrder checks that each fragment appears after the previous one.
func assertOrder(t *testing.T, xml string, fragments ...string) {
	t.Helper()
	pos := 0
	for _, f := range fragments {
		i := strings.Index(xml[pos:], f)
		if i < 0 {
			t.Fatalf("expected %q after offset %d in:\n%s", f, pos, xml)
		}
		pos += i + len(f)
	}
}

func TestGreeting_RedirectsToFirstDial(t *testing.T) {
	xml := render(t, testDocuments(nil).Greeting("c1"))
	assertOrder(t, xml,
		"<Response>",
		"<Say>Thank you for calling.",
		`<Redirect method="POST">https://acd.example.com/webhooks/voice/dial?attempt=1&amp;callId=c1</Redirect>`,
		"</Response>",
	)
}

func TestDialAll_RingsEveryAgent(t *testing.T) {
	xml := render(t, testDocuments(nil).DialAll("c1", 1, []string{"sip:a@pbx", "sip:b@pbx"}))
	assertOrder(t, xml,
		`<Dial timeout="20" record="record-from-answer" action="https://acd.example.com/webhooks/voice/answered?attempt=1&amp;callId=c1" method="POST" hangupOnStar="false" timeLimit="3600" callerId="+15550100">`,
		"<Sip>sip:a@pbx</Sip>",
		"<Sip>sip:b@pbx</Sip>",
		"</Dial>",
		`<Redirect method="POST">https://acd.example.com/webhooks/voice/retry?attempt=2&amp;callId=c1</Redirect>`,
	)
}

func TestDialAll_RecordingDisabled(t *testing.T) {
	d := testDocuments(func(c *DocumentConfig) { c.RecordingEnabled = false })
	xml := render(t, d.DialAll("c1", 1, []string{"sip:a@pbx"}))
	if !strings.Contains(xml, `record="do-not-record"`) {
		t.Fatalf("expected do-not-record: %s", xml)
	}
}

func TestDialAll_NoAgentsIsBusyMessage(t *testing.T) {
	xml := render(t, testDocuments(nil).DialAll("c1", 1, nil))
	if strings.Contains(xml, "<Dial") {
		t.Fatalf("expected no dial: %s", xml)
	}
	assertOrder(t, xml, "All of our agents are currently busy.", "/voicemail?callId=c1")
}

func TestRetry_StrictBoundary(t *testing.T) {
	d := testDocuments(nil)

	first := render(t, d.Retry("c1", 1, []string{"sip:a@pbx"}))
	if !strings.Contains(first, "<Dial") || strings.Contains(first, "<Record") {
		t.Fatalf("expected dial document below the limit: %s", first)
	}

	last := render(t, d.Retry("c1", 2, []string{"sip:a@pbx"}))
	if strings.Contains(last, "<Dial") || !strings.Contains(last, "<Record") {
		t.Fatalf("expected voicemail at the limit: %s", last)
	}
}

func TestRetry_UsesAttemptAsGiven(t *testing.T) {
	d := testDocuments(func(c *DocumentConfig) { c.MaxDialAttempts = 3 })

	// the retry redirect already carries the next attempt number
	xml := render(t, d.Retry("c1", 2, []string{"sip:a@pbx"}))
	assertOrder(t, xml,
		`action="https://acd.example.com/webhooks/voice/answered?attempt=2&amp;callId=c1"`,
		"<Sip>sip:a@pbx</Sip>",
		`<Redirect method="POST">https://acd.example.com/webhooks/voice/retry?attempt=3&amp;callId=c1</Redirect>`,
	)
	if strings.Contains(xml, "attempt=4") {
		t.Fatalf("attempt advanced twice: %s", xml)
	}
}

func TestRetry_WithoutVoicemailHangsUp(t *testing.T) {
	d := testDocuments(func(c *DocumentConfig) { c.VoicemailEnabled = false })
	xml := render(t, d.Retry("c1", 5, nil))
	assertOrder(t, xml, "<Say>We are unable to connect your call", "<Hangup></Hangup>")
	if strings.Contains(xml, "<Record") || strings.Contains(xml, "<Redirect") {
		t.Fatalf("expected terminal document: %s", xml)
	}
}

func TestBusyMessage_HangsUpWithoutVoicemail(t *testing.T) {
	d := testDocuments(func(c *DocumentConfig) { c.VoicemailEnabled = false })
	xml := render(t, d.BusyMessage("c1"))
	assertOrder(t, xml, "All of our agents are currently busy.", "<Hangup></Hangup>")
}

func TestVoicemail_RecordsThenHangsUp(t *testing.T) {
	xml := render(t, testDocuments(nil).Voicemail("c1"))
	assertOrder(t, xml,
		"<Say>Please leave a message",
		`<Record finishOnKey="#" maxLength="90" playBeep="true" transcribe="true" action="https://acd.example.com/webhooks/voice/recording?callId=c1" method="POST"></Record>`,
		"<Say>We did not receive a message. Goodbye.</Say>",
		"<Hangup></Hangup>",
	)
}

func TestClosingAndApology(t *testing.T) {
	d := testDocuments(func(c *DocumentConfig) { c.Prompts.Apology = "Sorry." })
	assertOrder(t, render(t, d.AnsweredClosing()), "<Say>Thank you for calling. Goodbye.</Say>", "<Hangup></Hangup>")
	assertOrder(t, render(t, d.Apology()), "<Say>Sorry.</Say>", "<Hangup></Hangup>")
}

func TestNewDocuments_Defaults(t *testing.T) {
	cfg := NewDocuments(DocumentConfig{}).Config()
	if cfg.MaxDialAttempts != 3 || cfg.DialTimeout != 30*time.Second || cfg.VoicemailMaxLength != 120*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
