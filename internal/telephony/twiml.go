package telephony

import (
	"bytes"
	"encoding/xml"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Document is one call-control response for the provider's switch. Verbs
// render in the order they were appended.
type Document struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type sayVerb struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type dialVerb struct {
	XMLName      xml.Name `xml:"Dial"`
	Timeout      int      `xml:"timeout,attr"`
	Record       string   `xml:"record,attr"`
	Action       string   `xml:"action,attr"`
	Method       string   `xml:"method,attr"`
	HangupOnStar bool     `xml:"hangupOnStar,attr"`
	TimeLimit    int      `xml:"timeLimit,attr"`
	CallerID     string   `xml:"callerId,attr,omitempty"`
	Legs         []sipLeg `xml:"Sip"`
}

type sipLeg struct {
	URI string `xml:",chardata"`
}

type redirectVerb struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

type recordVerb struct {
	XMLName     xml.Name `xml:"Record"`
	FinishOnKey string   `xml:"finishOnKey,attr"`
	MaxLength   int      `xml:"maxLength,attr"`
	PlayBeep    bool     `xml:"playBeep,attr"`
	Transcribe  bool     `xml:"transcribe,attr"`
	Action      string   `xml:"action,attr"`
	Method      string   `xml:"method,attr"`
}

type hangupVerb struct {
	XMLName xml.Name `xml:"Hangup"`
}

const (
	recordFromAnswer = "record-from-answer"
	doNotRecord      = "do-not-record"
)

// Webhook paths, relative to DocumentConfig.BaseURL.
const (
	PathInbound   = "/inbound"
	PathDial      = "/dial"
	PathRetry     = "/retry"
	PathAnswered  = "/answered"
	PathVoicemail = "/voicemail"
	PathRecording = "/recording"
	PathEvents    = "/events"
)

// Prompts are the spoken texts. Zero values fall back to DefaultPrompts.
type Prompts struct {
	Greeting        string
	AllBusy         string
	VoicemailPrompt string
	VoicemailEmpty  string
	Unavailable     string
	ThankYou        string
	Apology         string
}

var DefaultPrompts = Prompts{
	Greeting:        "Thank you for calling. Please hold while we connect you to an agent.",
	AllBusy:         "All of our agents are currently busy.",
	VoicemailPrompt: "Please leave a message after the beep. Press the pound key when you are finished.",
	VoicemailEmpty:  "We did not receive a message. Goodbye.",
	Unavailable:     "We are unable to connect your call right now. Please try again later. Goodbye.",
	ThankYou:        "Thank you for calling. Goodbye.",
	Apology:         "We are sorry, an application error occurred. Please try again later. Goodbye.",
}

// DocumentConfig parameterizes the generator.
type DocumentConfig struct {
	// BaseURL is the public prefix the webhook routes are mounted under,
	// e.g. https://acd.example.com/webhooks/voice.
	BaseURL  string
	CallerID string
	Voice    string

	MaxDialAttempts int
	DialTimeout     time.Duration
	DialTimeLimit   time.Duration
	HangupOnStar    bool

	RecordingEnabled   bool
	VoicemailEnabled   bool
	VoicemailMaxLength time.Duration
	Transcribe         bool

	Prompts Prompts
}

// Documents builds call-control documents. All methods are pure.
type Documents struct {
	cfg DocumentConfig
}

func NewDocuments(cfg DocumentConfig) *Documents {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxDialAttempts <= 0 {
		cfg.MaxDialAttempts = 3
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.DialTimeLimit <= 0 {
		cfg.DialTimeLimit = 4 * time.Hour
	}
	if cfg.VoicemailMaxLength <= 0 {
		cfg.VoicemailMaxLength = 120 * time.Second
	}
	cfg.Prompts = withDefaults(cfg.Prompts)
	return &Documents{cfg: cfg}
}

func (d *Documents) Config() DocumentConfig { return d.cfg }

// Greeting speaks the welcome prompt and hands over to the first dial attempt.
func (d *Documents) Greeting(callID string) Document {
	var doc Document
	d.say(&doc, d.cfg.Prompts.Greeting)
	d.redirect(&doc, PathDial, callID, 1)
	return doc
}

// DialAll rings every address in parallel. If the dial falls through, the
// switch continues with the retry step for attempt+1. With no addresses the
// busy message is returned instead.
func (d *Documents) DialAll(callID string, attempt int, addresses []string) Document {
	if attempt < 1 {
		attempt = 1
	}
	if len(addresses) == 0 {
		return d.BusyMessage(callID)
	}

	dial := dialVerb{
		Timeout:      int(d.cfg.DialTimeout / time.Second),
		Record:       doNotRecord,
		Action:       d.url(PathAnswered, callID, attempt),
		Method:       "POST",
		HangupOnStar: d.cfg.HangupOnStar,
		TimeLimit:    int(d.cfg.DialTimeLimit / time.Second),
		CallerID:     d.cfg.CallerID,
	}
	if d.cfg.RecordingEnabled {
		dial.Record = recordFromAnswer
	}
	for _, addr := range addresses {
		dial.Legs = append(dial.Legs, sipLeg{URI: addr})
	}

	var doc Document
	doc.Verbs = append(doc.Verbs, dial)
	d.redirect(&doc, PathRetry, callID, attempt+1)
	return doc
}

// Retry continues the dial ladder. attempt is the attempt about to be made;
// once it reaches MaxDialAttempts the caller goes to voicemail, or is told
// nobody is available when voicemail is off.
func (d *Documents) Retry(callID string, attempt int, addresses []string) Document {
	if d.Exhausted(attempt) {
		if d.cfg.VoicemailEnabled {
			return d.Voicemail(callID)
		}
		return d.terminal(d.cfg.Prompts.Unavailable)
	}
	return d.DialAll(callID, attempt, addresses)
}

// Exhausted reports whether attempt has used up the dial budget. Reaching the
// limit counts as exhausted.
func (d *Documents) Exhausted(attempt int) bool {
	return attempt >= d.cfg.MaxDialAttempts
}

// BusyMessage apologizes and offers voicemail, or hangs up when voicemail is off.
func (d *Documents) BusyMessage(callID string) Document {
	var doc Document
	d.say(&doc, d.cfg.Prompts.AllBusy)
	if d.cfg.VoicemailEnabled {
		d.redirect(&doc, PathVoicemail, callID, 0)
		return doc
	}
	doc.Verbs = append(doc.Verbs, hangupVerb{})
	return doc
}

// Voicemail records a message and posts it to the recording callback.
func (d *Documents) Voicemail(callID string) Document {
	var doc Document
	d.say(&doc, d.cfg.Prompts.VoicemailPrompt)
	doc.Verbs = append(doc.Verbs, recordVerb{
		FinishOnKey: "#",
		MaxLength:   int(d.cfg.VoicemailMaxLength / time.Second),
		PlayBeep:    true,
		Transcribe:  d.cfg.Transcribe,
		Action:      d.url(PathRecording, callID, 0),
		Method:      "POST",
	})
	d.say(&doc, d.cfg.Prompts.VoicemailEmpty)
	doc.Verbs = append(doc.Verbs, hangupVerb{})
	return doc
}

// AnsweredClosing ends a finished call.
func (d *Documents) AnsweredClosing() Document {
	return d.terminal(d.cfg.Prompts.ThankYou)
}

// Apology is the degraded document served whenever handling fails.
func (d *Documents) Apology() Document {
	return d.terminal(d.cfg.Prompts.Apology)
}

func (d *Documents) terminal(text string) Document {
	var doc Document
	d.say(&doc, text)
	doc.Verbs = append(doc.Verbs, hangupVerb{})
	return doc
}

func (d *Documents) say(doc *Document, text string) {
	doc.Verbs = append(doc.Verbs, sayVerb{Voice: d.cfg.Voice, Text: text})
}

func (d *Documents) redirect(doc *Document, path, callID string, attempt int) {
	doc.Verbs = append(doc.Verbs, redirectVerb{Method: "POST", URL: d.url(path, callID, attempt)})
}

// url builds a webhook URL; attempt 0 is omitted.
func (d *Documents) url(path, callID string, attempt int) string {
	q := url.Values{}
	q.Set("callId", callID)
	if attempt > 0 {
		q.Set("attempt", strconv.Itoa(attempt))
	}
	return d.cfg.BaseURL + path + "?" + q.Encode()
}

// XML renders the document with the XML declaration.
func (doc Document) XML() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func withDefaults(p Prompts) Prompts {
	pick := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	return Prompts{
		Greeting:        pick(p.Greeting, DefaultPrompts.Greeting),
		AllBusy:         pick(p.AllBusy, DefaultPrompts.AllBusy),
		VoicemailPrompt: pick(p.VoicemailPrompt, DefaultPrompts.VoicemailPrompt),
		VoicemailEmpty:  pick(p.VoicemailEmpty, DefaultPrompts.VoicemailEmpty),
		Unavailable:     pick(p.Unavailable, DefaultPrompts.Unavailable),
		ThankYou:        pick(p.ThankYou, DefaultPrompts.ThankYou),
		Apology:         pick(p.Apology, DefaultPrompts.Apology),
	}
}
