package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Signaling

type sentMsg struct {
	event   string
	payload any
}

type fakeSignaling struct {
	mu   sync.Mutex
	sent []sentMsg
	fail map[string]error
	in   chan domain.Envelope
}

func newFakeSignaling() *fakeSignaling {
	return &fakeSignaling{fail: make(map[string]error), in: make(chan domain.Envelope, 16)}
}

func (f *fakeSignaling) Send(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[event]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMsg{event: event, payload: payload})
	return nil
}

func (f *fakeSignaling) Subscribe() (<-chan domain.Envelope, func()) {
	return f.in, func() {}
}

func (f *fakeSignaling) messages(event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, m := range f.sent {
		if m.event == event {
			out = append(out, m.payload)
		}
	}
	return out
}

func (f *fakeSignaling) count(event string) int {
	return len(f.messages(event))
}

// Tracks and streams

type fakeTrack struct {
	id       string
	streamID string
	kind     domain.MediaKind

	mu      sync.Mutex
	enabled bool
	muted   bool
	ended   bool
	stops   int
}

func newFakeTrack(id, streamID string, kind domain.MediaKind) *fakeTrack {
	return &fakeTrack{id: id, streamID: streamID, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string { return t.id }

func (t *fakeTrack) StreamID() string { return t.streamID }

func (t *fakeTrack) Kind() domain.MediaKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

func (t *fakeTrack) setMuted(muted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.muted = muted
}

func (t *fakeTrack) ReadyState() domain.ReadyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return domain.ReadyEnded
	}
	return domain.ReadyLive
}

// end simulates the device going away without Stop being called.
func (t *fakeTrack) end() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ended = true
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ended = true
	t.stops++
}

func (t *fakeTrack) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops > 0
}

type fakeStream struct {
	id     string
	tracks []port.MediaTrack
}

func (s *fakeStream) ID() string { return s.id }

func (s *fakeStream) Tracks() []port.MediaTrack { return s.tracks }

func (s *fakeStream) AudioTracks() []port.MediaTrack {
	var out []port.MediaTrack
	for _, t := range s.tracks {
		if t.Kind() == domain.KindAudio {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeStream) VideoTracks() []port.MediaTrack {
	var out []port.MediaTrack
	for _, t := range s.tracks {
		if t.Kind() != domain.KindAudio {
			out = append(out, t)
		}
	}
	return out
}

// Devices

type fakeDevices struct {
	mu       sync.Mutex
	requests []domain.MediaConstraints
	errs     []error
	display  error
	streams  []*fakeStream
	tracks   []*fakeTrack
	n        int
}

func (d *fakeDevices) GetUserMedia(ctx context.Context, c domain.MediaConstraints) (port.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, c)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	d.n++
	s := &fakeStream{id: fmt.Sprintf("stream-%d", d.n)}
	if c.Audio {
		s.tracks = append(s.tracks, d.track(s.id, "mic", domain.KindAudio))
	}
	if c.Video {
		s.tracks = append(s.tracks, d.track(s.id, "cam", domain.KindVideo))
	}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevices) GetDisplayMedia(context.Context) (port.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.display != nil {
		return nil, d.display
	}
	d.n++
	s := &fakeStream{id: fmt.Sprintf("screen-%d", d.n)}
	s.tracks = append(s.tracks, d.track(s.id, "screen", domain.KindScreen))
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevices) track(streamID, name string, kind domain.MediaKind) *fakeTrack {
	t := newFakeTrack(streamID+"/"+name, streamID, kind)
	d.tracks = append(d.tracks, t)
	return t
}

func (d *fakeDevices) allTracks() []*fakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeTrack(nil), d.tracks...)
}

func (d *fakeDevices) requestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

// Peer connections

type fakeSender struct {
	mu    sync.Mutex
	track port.MediaTrack
}

func (s *fakeSender) Track() port.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(t port.MediaTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	return nil
}

// fakePC models the signaling state machine of a peer connection closely
// enough for offer/answer, glare and rollback.
type fakePC struct {
	name string

	mu           sync.Mutex
	state        domain.SignalingState
	local        *domain.SessionDescription
	remote       *domain.SessionDescription
	stableLocal  *domain.SessionDescription
	stableRemote *domain.SessionDescription
	offers       int
	answers      int
	remoteSets   []domain.SessionDescription
	candidates   []domain.ICECandidate
	senders      []*fakeSender
	adds         int
	removes      int
	closed       bool
	offerErr     error

	offerGate    chan struct{}
	offerStarted chan struct{}

	onCandidate  func(domain.ICECandidate)
	onTrack      func(port.MediaTrack)
	onSignaling  func(domain.SignalingState)
	onConnection func(domain.ConnectionState)
}

var errWrongState = errors.New("wrong signaling state")

func (p *fakePC) CreateOffer(context.Context) (domain.SessionDescription, error) {
	p.mu.Lock()
	gate, started := p.offerGate, p.offerStarted
	p.mu.Unlock()
	if gate != nil {
		started <- struct{}{}
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.SessionDescription{}, domain.ErrClosed
	}
	if p.offerErr != nil {
		return domain.SessionDescription{}, p.offerErr
	}
	p.offers++
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: fmt.Sprintf("%s-offer-%d", p.name, p.offers)}, nil
}

func (p *fakePC) CreateAnswer(context.Context) (domain.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != domain.SignalingHaveRemoteOffer {
		return domain.SessionDescription{}, errWrongState
	}
	p.answers++
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: fmt.Sprintf("%s-answer-%d", p.name, p.answers)}, nil
}

func (p *fakePC) SetLocalDescription(_ context.Context, sd domain.SessionDescription) error {
	p.mu.Lock()
	switch sd.Type {
	case domain.SDPOffer:
		if p.state != domain.SignalingStable {
			p.mu.Unlock()
			return errWrongState
		}
		p.local = &sd
		p.state = domain.SignalingHaveLocalOffer
	case domain.SDPAnswer:
		if p.state != domain.SignalingHaveRemoteOffer {
			p.mu.Unlock()
			return errWrongState
		}
		p.local = &sd
		p.state = domain.SignalingStable
		p.stableLocal, p.stableRemote = p.local, p.remote
	case domain.SDPRollback:
		switch p.state {
		case domain.SignalingHaveLocalOffer:
			p.local = p.stableLocal
		case domain.SignalingHaveRemoteOffer:
			p.remote = p.stableRemote
		}
		p.state = domain.SignalingStable
	}
	state, fn := p.state, p.onSignaling
	p.mu.Unlock()
	if fn != nil {
		fn(state)
	}
	return nil
}

func (p *fakePC) SetRemoteDescription(_ context.Context, sd domain.SessionDescription) error {
	p.mu.Lock()
	switch sd.Type {
	case domain.SDPOffer:
		if p.state != domain.SignalingStable {
			p.mu.Unlock()
			return errWrongState
		}
		p.remote = &sd
		p.state = domain.SignalingHaveRemoteOffer
	case domain.SDPAnswer:
		if p.state != domain.SignalingHaveLocalOffer {
			p.mu.Unlock()
			return errWrongState
		}
		p.remote = &sd
		p.state = domain.SignalingStable
		p.stableLocal, p.stableRemote = p.local, p.remote
	}
	p.remoteSets = append(p.remoteSets, sd)
	state, fn := p.state, p.onSignaling
	p.mu.Unlock()
	if fn != nil {
		fn(state)
	}
	return nil
}

func (p *fakePC) LocalDescription() *domain.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePC) RemoteDescription() *domain.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePC) AddICECandidate(c domain.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errWrongState
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePC) AddTrack(t port.MediaTrack) (port.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSender{track: t}
	p.senders = append(p.senders, s)
	p.adds++
	return s, nil
}

func (p *fakePC) RemoveTrack(s port.RTPSender) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.senders {
		if cur == s {
			p.senders = append(p.senders[:i], p.senders[i+1:]...)
			p.removes++
			return nil
		}
	}
	return errors.New("unknown sender")
}

func (p *fakePC) SignalingState() domain.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePC) OnICECandidate(fn func(domain.ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *fakePC) OnTrack(fn func(port.MediaTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePC) OnSignalingStateChange(fn func(domain.SignalingState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSignaling = fn
}

func (p *fakePC) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnection = fn
}

// Event injection, as the engine would see it from the network.

func (p *fakePC) emitCandidate(c domain.ICECandidate) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	fn(c)
}

func (p *fakePC) emitTrack(t port.MediaTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	fn(t)
}

func (p *fakePC) emitConnection(s domain.ConnectionState) {
	p.mu.Lock()
	fn := p.onConnection
	p.mu.Unlock()
	fn(s)
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.state = domain.SignalingClosed
	return nil
}

func (p *fakePC) snapshot() (offers, answers, remoteSets, adds, removes int, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers, p.answers, len(p.remoteSets), p.adds, p.removes, p.closed
}

func (p *fakePC) candidateList() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, c := range p.candidates {
		out = append(out, c.Candidate)
	}
	return out
}

func (p *fakePC) sender(i int) *fakeSender {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.senders) {
		return nil
	}
	return p.senders[i]
}

type fakeFactory struct {
	mu     sync.Mutex
	pcs    []*fakePC
	reject map[string]error
	gated  bool
	gate   chan struct{}
	begun  chan struct{}
}

func (f *fakeFactory) NewPeerConnection(cfg domain.ICEConfiguration) (port.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reject[cfg.Name]; err != nil {
		return nil, err
	}
	pc := &fakePC{name: fmt.Sprintf("pc%d", len(f.pcs)+1)}
	if f.gated {
		pc.offerGate, pc.offerStarted = f.gate, f.begun
	}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) pc(i int) *fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.pcs) {
		return nil
	}
	return f.pcs[i]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pcs)
}

// Directory and notifier

type fakeDirectory struct {
	unreachable map[domain.UserID]bool
}

func (d *fakeDirectory) Reachable(_ context.Context, id domain.UserID) error {
	if d.unreachable[id] {
		return domain.ErrUnreachable
	}
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (n *fakeNotifier) Publish(notice domain.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *fakeNotifier) errorCount(code string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, notice := range n.notices {
		if notice.Type == domain.NoticeError && notice.Code == code {
			count++
		}
	}
	return count
}

func (n *fakeNotifier) ofType(typ string) []domain.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Notice
	for _, notice := range n.notices {
		if notice.Type == typ {
			out = append(out, notice)
		}
	}
	return out
}

// Engine harness

const (
	self = domain.UserID("alice")
	bob  = domain.UserID("bob")
)

type harness struct {
	svc      *CallService
	sig      *fakeSignaling
	devices  *fakeDevices
	factory  *fakeFactory
	dir      *fakeDirectory
	notifier *fakeNotifier
}

func newHarness(t *testing.T, tweak ...func(*Config, *harness)) *harness {
	t.Helper()
	h := &harness{
		sig:      newFakeSignaling(),
		devices:  &fakeDevices{},
		factory:  &fakeFactory{},
		dir:      &fakeDirectory{unreachable: make(map[domain.UserID]bool)},
		notifier: &fakeNotifier{},
	}
	cfg := Config{
		Self:              domain.Participant{ID: self, DisplayName: "Alice"},
		NoAnswerTimeout:   time.Minute,
		DurationTick:      time.Hour,
		TrackPollInterval: 10 * time.Millisecond,
		SendTimeout:       time.Second,
	}
	for _, fn := range tweak {
		fn(&cfg, h)
	}
	h.svc = NewCallService(cfg, h.sig, h.dir,
		NewMediaService(h.devices, MediaConfig{}),
		NewConnector(h.factory, ICEConfig{}),
		h.notifier)
	go h.svc.Run()
	t.Cleanup(h.svc.Stop)
	return h
}

func (h *harness) deliver(t *testing.T, event string, from domain.UserID, payload any) {
	t.Helper()
	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		t.Fatal(err)
	}
	env.From = from
	if err := h.svc.Deliver(context.Background(), env); err != nil {
		t.Fatalf("Deliver(%s) error = %v", event, err)
	}
}

func (h *harness) snapshot(t *testing.T) domain.Session {
	t.Helper()
	s, err := h.svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return s
}

// inLoop runs fn on the engine goroutine.
func (h *harness) inLoop(t *testing.T, fn func()) {
	t.Helper()
	err := h.svc.call(context.Background(), func() error {
		fn()
		return nil
	})
	if err != nil {
		t.Fatalf("inLoop: %v", err)
	}
}

func (h *harness) link(t *testing.T, id domain.UserID) *PeerLink {
	t.Helper()
	var l *PeerLink
	h.inLoop(t, func() { l = h.svc.sess.links[id] })
	if l == nil {
		t.Fatalf("no link to %s", id)
	}
	return l
}

func (h *harness) linkState(t *testing.T, id domain.UserID) domain.SignalingState {
	t.Helper()
	var st domain.SignalingState = -1
	h.inLoop(t, func() {
		if l, ok := h.svc.sess.links[id]; ok {
			st = l.SignalingState()
		}
	})
	return st
}

// placeCall runs the caller side up to an established call with bob: the
// initial offer is sent and its answer applied.
func (h *harness) placeCall(t *testing.T, typ domain.CallType, opts ...CallOption) domain.CallID {
	t.Helper()
	if err := h.svc.Initiate(context.Background(), domain.Participant{ID: bob}, typ, opts...); err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	id := h.snapshot(t).CallID
	h.deliver(t, domain.EventAnswered, bob, domain.LifecyclePayload{CallID: id, UserID: bob})
	eventually(t, "initial offer", func() bool { return h.sig.count(domain.EventOffer) == 1 })
	h.deliver(t, domain.EventSDPAnswer, bob, domain.SDPAnswerPayload{
		CallID: id,
		Answer: domain.SessionDescription{Type: domain.SDPAnswer, SDP: "bob-answer-1"},
	})
	eventually(t, "stable link", func() bool { return h.linkState(t, bob) == domain.SignalingStable })
	return id
}

// receiveCall runs the receiver side up to an answered call from bob.
func (h *harness) receiveCall(t *testing.T, typ domain.CallType) domain.CallID {
	t.Helper()
	id := domain.CallID("call-from-bob")
	h.deliver(t, domain.EventIncoming, bob, domain.IncomingPayload{
		CallID:     id,
		CallerID:   bob,
		CallerInfo: domain.Participant{ID: bob, DisplayName: "Bob"},
		CallType:   typ,
	})
	if err := h.svc.Answer(context.Background()); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	return id
}
