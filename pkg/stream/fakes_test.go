package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
)

// fakeChannel is an in-memory ControlChannel.
type fakeChannel struct {
	mu        sync.Mutex
	open      bool
	sendErr   error
	sent      [][]byte
	sendHook  func() // runs inside Send, outside any sender lock
	onMessage func([]byte)
	onError   func(error)
	closed    bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{open: true}
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	hook := c.sendHook
	err := c.sendErr
	if err == nil {
		cp := append([]byte(nil), data...)
		c.sent = append(c.sent, cp)
	}
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeChannel) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *fakeChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

func (c *fakeChannel) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.open = false
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeChannel) lastSent() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func (c *fakeChannel) deliver(data []byte) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// fakePeer is an in-memory PeerSession with test triggers for the
// callbacks a live peer would fire.
type fakePeer struct {
	mu          sync.Mutex
	channel     *fakeChannel
	onCandidate func(webrtc.ICECandidateInit)
	onFirst     func()
	onClosed    func(string)
	closed      bool
}

func newFakePeer() *fakePeer {
	return &fakePeer{channel: newFakeChannel()}
}

func (p *fakePeer) CreateControlChannel(string) (ControlChannel, error) {
	return p.channel, nil
}

func (p *fakePeer) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}, nil
}

func (p *fakePeer) SetAnswer(webrtc.SessionDescription) error { return nil }

func (p *fakePeer) AddRemoteCandidate(webrtc.ICECandidateInit) error { return nil }

func (p *fakePeer) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnFirstMedia(fn func()) {
	p.mu.Lock()
	p.onFirst = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnClosed(fn func(string)) {
	p.mu.Lock()
	p.onClosed = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) emitCandidate(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (p *fakePeer) fireFirstMedia() {
	p.mu.Lock()
	fn := p.onFirst
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *fakePeer) fireClosed(reason string) {
	p.mu.Lock()
	fn := p.onClosed
	p.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// fakeBackend serves the backend REST surface with scriptable behavior.
type fakeBackend struct {
	mu             sync.Mutex
	healthStatus   string
	pipelineState  PipelineState
	pipelineErrMsg string
	offerStatus    int    // non-zero forces this HTTP status on POST offer
	offerSessionID string // empty omits sessionId from the response
	offerGate      chan struct{}
	candidateFails int // fail the first N candidate deliveries

	loadBodies      []map[string]any
	offerCount      int
	candidateCalls  int
	candidatesGot   []webrtc.ICECandidateInit
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		healthStatus:   "ok",
		pipelineState:  PipelineLoaded,
		offerSessionID: "sess-1",
	}
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		status := f.healthStatus
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	mux.HandleFunc("/pipeline/load", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.loadBodies = append(f.loadBodies, body)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/pipeline/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		state, msg := f.pipelineState, f.pipelineErrMsg
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"status": state, "error": msg})
	})

	mux.HandleFunc("/webrtc/ice-servers", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ice_servers": []map[string]any{{"urls": []string{"stun:stun.example.com:3478"}}},
		})
	})

	mux.HandleFunc("/webrtc/offer", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.offerCount++
		gate := f.offerGate
		status := f.offerStatus
		sessionID := f.offerSessionID
		f.mu.Unlock()

		if gate != nil {
			<-gate
		}
		if status != 0 {
			http.Error(w, "offer rejected", status)
			return
		}
		resp := map[string]any{"sdp": "v=0\r\n", "type": "answer"}
		if sessionID != "" {
			resp["sessionId"] = sessionID
		}
		json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/webrtc/offer/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Candidates []webrtc.ICECandidateInit `json:"candidates"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.candidateCalls++
		fail := f.candidateFails > 0
		if fail {
			f.candidateFails--
		} else {
			f.candidatesGot = append(f.candidatesGot, body.Candidates...)
		}
		f.mu.Unlock()

		if fail {
			http.Error(w, "signaling unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func (f *fakeBackend) set(fn func(*fakeBackend)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeBackend) delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.candidatesGot))
	for i, c := range f.candidatesGot {
		out[i] = c.Candidate
	}
	return out
}

// fixture wires a controller over the fake backend and fake peers.
type fixture struct {
	t       *testing.T
	backend *fakeBackend
	srv     *httptest.Server
	ctrl    *Controller
	sender  *Sender

	mu     sync.Mutex
	peers  []*fakePeer
	states []State
	errs   []*Error
}

func testConfig() Config {
	return Config{
		PipelineIDs:          []string{"streamdiffusion"},
		ChannelLabel:         "parameters",
		HealthTimeout:        time.Second,
		PipelineTimeout:      time.Second,
		PipelinePoll:         5 * time.Millisecond,
		HandshakeTimeout:     time.Second,
		MediaTimeout:         time.Hour,
		CandidateRetryDelay:  10 * time.Millisecond,
		ReconnectBaseDelay:   5 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{t: t, backend: newFakeBackend()}
	f.srv = httptest.NewServer(f.backend.handler())
	t.Cleanup(f.srv.Close)

	client := NewClient(f.srv.URL, f.srv.Client())
	f.sender = NewSender(5 * time.Millisecond)
	t.Cleanup(f.sender.Detach)

	factory := func([]webrtc.ICEServer) (PeerSession, error) {
		p := newFakePeer()
		f.mu.Lock()
		f.peers = append(f.peers, p)
		f.mu.Unlock()
		return p, nil
	}

	f.ctrl = NewController(cfg, client, factory, f.sender)
	f.ctrl.OnStateChange(func(s State, e *Error) {
		f.mu.Lock()
		f.states = append(f.states, s)
		f.errs = append(f.errs, e)
		f.mu.Unlock()
	})
	t.Cleanup(f.ctrl.Disconnect)
	return f
}

func (f *fixture) peer(i int) *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.peers) {
		return nil
	}
	return f.peers[i]
}

func (f *fixture) peerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fixture) stateSeq() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]State(nil), f.states...)
}

func (f *fixture) countState(s State) int {
	n := 0
	for _, got := range f.stateSeq() {
		if got == s {
			n++
		}
	}
	return n
}

func (f *fixture) lastErrOf(s State) *Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.states) - 1; i >= 0; i-- {
		if f.states[i] == s {
			return f.errs[i]
		}
	}
	return nil
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func containsState(states []State, s State) bool {
	for _, got := range states {
		if got == s {
			return true
		}
	}
	return false
}

func hasSubstring(err *Error, sub string) bool {
	return err != nil && strings.Contains(err.Message, sub)
}
