package telephony

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"contact-center/internal/agents"
	"contact-center/internal/calls"
	"contact-center/internal/routing"
	"contact-center/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallStore is the call store surface the webhooks drive.
type CallStore interface {
	Create(ctx context.Context, in calls.NewCall) (calls.Call, bool, error)
	Get(ctx context.Context, id string) (calls.Call, error)
	FindByProviderRef(ctx context.Context, ref string) (calls.Call, error)
	Transition(ctx context.Context, id string, to calls.Status, agentID string) (calls.Call, error)
	RecordAttempt(ctx context.Context, id string, attempt int) (calls.Call, error)
	AttachArtifact(ctx context.Context, id string, a calls.Artifacts) (calls.Call, error)
}

// AgentDirectory resolves agents for dialing and event correlation.
type AgentDirectory interface {
	Get(ctx context.Context, id string) (agents.Agent, error)
	ListAvailable(ctx context.Context) ([]agents.Agent, error)
	FindByConnection(ctx context.Context, connectionID string) (agents.Agent, error)
}

// Router places a call with a preferred agent before the dial-all fans out.
type Router interface {
	Route(ctx context.Context, req routing.Request) (routing.Result, error)
}

// VoiceHandler converts provider webhooks into call store mutations and
// answers with call-control documents.
//
// Document endpoints always answer 200 with a well-formed document; any
// failure, including a panic, degrades to the apology document.
type VoiceHandler struct {
	Calls  CallStore
	Agents AgentDirectory
	Router Router
	Docs   *Documents

	// EventSecret, when set, must match the X-Webhook-Secret header on the
	// JSON events endpoint.
	EventSecret string
}

// Register mounts the webhook routes on g.
func (h *VoiceHandler) Register(g gin.IRoutes) {
	g.POST(PathInbound, h.document(h.inbound))
	g.POST(PathDial, h.document(h.dial))
	g.POST(PathRetry, h.document(h.retry))
	g.POST(PathAnswered, h.document(h.answered))
	g.POST(PathVoicemail, h.document(h.voicemail))
	g.POST(PathRecording, h.document(h.recording))
	g.POST(PathEvents, h.events)
}

type documentFunc func(c *gin.Context) (Document, error)

func (h *VoiceHandler) document(fn documentFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromGin(c)
		defer func() {
			if r := recover(); r != nil {
				log.Error("webhook panic", "panic", fmt.Sprint(r), "path", c.Request.URL.Path)
				h.write(c, h.Docs.Apology())
			}
		}()

		doc, err := fn(c)
		if err != nil {
			log.Error("webhook failed", "err", err, "path", c.Request.URL.Path, "call_id", c.Query("callId"))
			doc = h.Docs.Apology()
		}
		h.write(c, doc)
	}
}

func (h *VoiceHandler) write(c *gin.Context, doc Document) {
	body, err := doc.XML()
	if err != nil {
		logger.FromGin(c).Error("document render failed", "err", err)
		body = []byte(fallbackDocument)
	}
	c.Data(http.StatusOK, "application/xml", body)
}

const fallbackDocument = `<?xml version="1.0" encoding="UTF-8"?>
<Response><Hangup></Hangup></Response>`

func (h *VoiceHandler) inbound(c *gin.Context) (Document, error) {
	form, err := ParseVoiceForm(c.Request)
	if err != nil {
		return Document{}, err
	}
	if form.CallSid == "" {
		return Document{}, errors.New("telephony: missing CallSid")
	}

	call, created, err := h.Calls.Create(c.Request.Context(), form.NewCall())
	if err != nil {
		return Document{}, err
	}
	if created {
		logger.FromGin(c).Info("inbound call", "call_id", call.ID, "provider_ref", call.ProviderRef, "from", call.From)
	}
	return h.Docs.Greeting(call.ID), nil
}

// dial rings the agents for one attempt. On the first attempt the router
// reserves a preferred agent, who is dialed first alongside everyone else
// who is available.
func (h *VoiceHandler) dial(c *gin.Context) (Document, error) {
	ctx := c.Request.Context()
	call, attempt, err := h.callAndAttempt(c)
	if err != nil {
		return Document{}, err
	}
	if call.Status.Terminal() {
		return h.Docs.AnsweredClosing(), nil
	}
	call, err = h.Calls.RecordAttempt(ctx, call.ID, attempt)
	if err != nil {
		return Document{}, err
	}

	addrs, err := h.addresses(ctx, call)
	if err != nil {
		return Document{}, err
	}
	if len(addrs) == 0 {
		h.advance(c, call.ID, calls.StatusBusy)
		return h.Docs.BusyMessage(call.ID), nil
	}

	if attempt == 1 && h.Router != nil {
		res, err := h.Router.Route(ctx, routing.Request{CallID: call.ID, Priority: routing.PriorityMedium})
		switch {
		case err != nil:
			logger.FromGin(c).Warn("routing failed", "call_id", call.ID, "err", err)
		case !res.Queued:
			addrs = preferFirst(addrs, res.Address)
		}
	}
	return h.Docs.DialAll(call.ID, attempt, addrs), nil
}

// retry is reached when a dial instruction falls through.
func (h *VoiceHandler) retry(c *gin.Context) (Document, error) {
	ctx := c.Request.Context()
	call, attempt, err := h.callAndAttempt(c)
	if err != nil {
		return Document{}, err
	}
	if call.Status.Terminal() {
		return h.Docs.AnsweredClosing(), nil
	}
	form, err := ParseVoiceForm(c.Request)
	if err != nil {
		return Document{}, err
	}
	if st, ok := DialOutcome(form.DialCallStatus); ok && st != calls.StatusCompleted {
		h.advance(c, call.ID, st)
	}
	return h.next(ctx, call.ID, attempt)
}

// answered is the dial action callback for attempt n.
func (h *VoiceHandler) answered(c *gin.Context) (Document, error) {
	ctx := c.Request.Context()
	call, attempt, err := h.callAndAttempt(c)
	if err != nil {
		return Document{}, err
	}
	form, err := ParseVoiceForm(c.Request)
	if err != nil {
		return Document{}, err
	}

	st, ok := DialOutcome(form.DialCallStatus)
	if !ok {
		st = calls.StatusNoAnswer
	}
	switch {
	case call.Status.Terminal():
		return h.Docs.AnsweredClosing(), nil
	case st == calls.StatusCompleted:
		if call.Status != calls.StatusAnswered {
			// The answer event may not have arrived; fall back to the routed agent.
			h.advance(c, call.ID, calls.StatusAnswered)
		}
		h.finish(c, call.ID, calls.StatusCompleted)
		return h.Docs.AnsweredClosing(), nil
	default:
		h.advance(c, call.ID, st)
		return h.next(ctx, call.ID, attempt+1)
	}
}

func (h *VoiceHandler) voicemail(c *gin.Context) (Document, error) {
	call, err := h.call(c)
	if err != nil {
		return Document{}, err
	}
	if !h.Docs.Config().VoicemailEnabled {
		return h.Docs.Apology(), nil
	}
	return h.Docs.Voicemail(call.ID), nil
}

// recording is the record action callback carrying the voicemail.
func (h *VoiceHandler) recording(c *gin.Context) (Document, error) {
	ctx := c.Request.Context()
	call, err := h.call(c)
	if err != nil {
		return Document{}, err
	}
	form, err := ParseVoiceForm(c.Request)
	if err != nil {
		return Document{}, err
	}

	if form.RecordingURL != "" {
		if _, err := h.Calls.AttachArtifact(ctx, call.ID, calls.Artifacts{VoicemailRef: form.RecordingURL}); err != nil {
			return Document{}, err
		}
		if call.Status == calls.StatusRinging {
			h.advance(c, call.ID, calls.StatusNoAnswer)
		}
		h.advance(c, call.ID, calls.StatusVoicemail)
	}
	h.finish(c, call.ID, calls.StatusCompleted)
	return h.Docs.AnsweredClosing(), nil
}

func (h *VoiceHandler) next(ctx context.Context, callID string, attempt int) (Document, error) {
	if h.Docs.Exhausted(attempt) {
		return h.Docs.Retry(callID, attempt, nil), nil
	}
	call, err := h.Calls.RecordAttempt(ctx, callID, attempt)
	if err != nil {
		return Document{}, err
	}
	addrs, err := h.addresses(ctx, call)
	if err != nil {
		return Document{}, err
	}
	return h.Docs.Retry(callID, attempt, addrs), nil
}

// advance applies a best-effort transition. Rejected transitions are
// already logged by the store; the caller still gets a document.
func (h *VoiceHandler) advance(c *gin.Context, callID string, to calls.Status) error {
	_, err := h.Calls.Transition(c.Request.Context(), callID, to, "")
	if err == nil || errors.Is(err, calls.ErrIllegalTransition) {
		return err
	}
	logger.FromGin(c).Warn("call transition failed", "call_id", callID, "status", to, "err", err)
	return err
}

// finish ends the call with to, or with failed when the call cannot legally
// reach to (a ringing call whose answer was never recorded). A call is never
// left active after its closing document.
func (h *VoiceHandler) finish(c *gin.Context, callID string, to calls.Status) {
	err := h.advance(c, callID, to)
	var terr *calls.TransitionError
	if !errors.As(err, &terr) || terr.From.Terminal() {
		return
	}
	logger.FromGin(c).Warn("call ended without an answered leg", "call_id", callID, "from", terr.From, "wanted", to)
	h.advance(c, callID, calls.StatusFailed)
}

// addresses lists the dial targets for call: every available agent, with the
// agent reserved for this call first. The reservation takes that agent out of
// the available list, so it is added back here.
func (h *VoiceHandler) addresses(ctx context.Context, call calls.Call) ([]string, error) {
	avail, err := h.Agents.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(avail))
	seen := map[string]bool{}
	for _, a := range avail {
		if a.Address == "" || seen[a.Address] {
			continue
		}
		seen[a.Address] = true
		out = append(out, a.Address)
	}
	if call.AgentReserved && call.AgentID != "" {
		a, err := h.Agents.Get(ctx, call.AgentID)
		switch {
		case err == nil && a.Address != "":
			out = preferFirst(out, a.Address)
		case err != nil && !errors.Is(err, agents.ErrNotFound):
			return nil, err
		}
	}
	return out, nil
}

// preferFirst moves addr to the front, adding it when the reservation has
// already taken that agent out of the available list.
func preferFirst(addrs []string, addr string) []string {
	if addr == "" {
		return addrs
	}
	out := []string{addr}
	for _, a := range addrs {
		if a != addr {
			out = append(out, a)
		}
	}
	return out
}

func (h *VoiceHandler) call(c *gin.Context) (calls.Call, error) {
	id := c.Query("callId")
	if id == "" {
		return calls.Call{}, errors.New("telephony: missing callId")
	}
	return h.Calls.Get(c.Request.Context(), id)
}

func (h *VoiceHandler) callAndAttempt(c *gin.Context) (calls.Call, int, error) {
	call, err := h.call(c)
	if err != nil {
		return calls.Call{}, 0, err
	}
	attempt, err := strconv.Atoi(c.DefaultQuery("attempt", "1"))
	if err != nil || attempt < 1 {
		return calls.Call{}, 0, fmt.Errorf("telephony: invalid attempt %q", c.Query("attempt"))
	}
	return call, attempt, nil
}

// CallEvent is a JSON lifecycle event from the provider.
type CallEvent struct {
	Type         string `json:"type"`
	ProviderRef  string `json:"call_control_id"`
	SessionID    string `json:"call_session_id,omitempty"`
	From         string `json:"from,omitempty"`
	To           string `json:"to,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	RecordingURL string `json:"recording_url,omitempty"`
}

const (
	EventInitiated      = "call.initiated"
	EventAnswered       = "call.answered"
	EventBusy           = "call.busy"
	EventNoAnswer       = "call.no_answer"
	EventHangup         = "call.hangup"
	EventRecordingSaved = "call.recording.saved"
)

// events applies lifecycle events. Once authenticated the endpoint always
// acknowledges with 200 so the provider does not redeliver events this
// service chose to ignore.
func (h *VoiceHandler) events(c *gin.Context) {
	log := logger.FromGin(c)
	if h.EventSecret != "" {
		got := c.GetHeader("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.EventSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
	}

	var ev CallEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		log.Warn("event decode failed", "err", err)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if err := h.applyEvent(c, ev); err != nil {
		log.Warn("event not applied", "type", ev.Type, "provider_ref", ev.ProviderRef, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *VoiceHandler) applyEvent(c *gin.Context, ev CallEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("telephony: event panic: %v", r)
		}
	}()

	ctx := c.Request.Context()
	if ev.ProviderRef == "" {
		return errors.New("telephony: event without call_control_id")
	}

	if ev.Type == EventInitiated {
		_, _, err := h.Calls.Create(ctx, calls.NewCall{ID: CallIDFor(ev.ProviderRef), ProviderRef: ev.ProviderRef, From: ev.From, To: ev.To})
		return err
	}

	call, err := h.lookup(ctx, ev.ProviderRef)
	if err != nil {
		return err
	}

	switch ev.Type {
	case EventAnswered:
		agentID := ""
		if ev.ConnectionID != "" {
			a, err := h.Agents.FindByConnection(ctx, ev.ConnectionID)
			if err != nil {
				return err
			}
			agentID = a.ID
		}
		_, err = h.Calls.Transition(ctx, call.ID, calls.StatusAnswered, agentID)
	case EventBusy:
		_, err = h.Calls.Transition(ctx, call.ID, calls.StatusBusy, "")
	case EventNoAnswer:
		_, err = h.Calls.Transition(ctx, call.ID, calls.StatusNoAnswer, "")
	case EventHangup:
		to := calls.StatusCompleted
		if call.Status == calls.StatusRinging {
			to = calls.StatusFailed
		}
		_, err = h.Calls.Transition(ctx, call.ID, to, "")
	case EventRecordingSaved:
		_, err = h.Calls.AttachArtifact(ctx, call.ID, calls.Artifacts{RecordingRef: ev.RecordingURL})
	default:
		return fmt.Errorf("telephony: unknown event type %q", ev.Type)
	}
	return err
}

func (h *VoiceHandler) lookup(ctx context.Context, ref string) (calls.Call, error) {
	call, err := h.Calls.Get(ctx, CallIDFor(ref))
	if errors.Is(err, calls.ErrNotFound) {
		return h.Calls.FindByProviderRef(ctx, ref)
	}
	return call, err
}
