package service

import (
	"errors"
	"reflect"
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// loopHost runs everything on the test goroutine. Posted work queues up
// until flush, which mirrors the engine loop without any timing.
type loopHost struct {
	queue []func()
	sent  []sentMsg
}

func (h *loopHost) post(fn func()) {
	h.queue = append(h.queue, fn)
}

func (h *loopHost) async(work func() func()) {
	h.queue = append(h.queue, func() { work()() })
}

func (h *loopHost) send(event string, payload any) error {
	h.sent = append(h.sent, sentMsg{event: event, payload: payload})
	return nil
}

func (h *loopHost) flush() {
	for len(h.queue) > 0 {
		fn := h.queue[0]
		h.queue = h.queue[1:]
		fn()
	}
}

func (h *loopHost) count(event string) int {
	n := 0
	for _, m := range h.sent {
		if m.event == event {
			n++
		}
	}
	return n
}

func newTestLink(caller bool) (*PeerLink, *fakePC, *loopHost) {
	host := &loopHost{}
	pc := &fakePC{name: "pc"}
	l := newPeerLink(host, pc, linkOptions{callID: "c1", remote: bob, caller: caller})
	return l, pc, host
}

func offer(sdp string) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: sdp}
}

func answer(sdp string) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: sdp}
}

func candidate(s string) domain.ICECandidate {
	return domain.ICECandidate{Candidate: s}
}

func TestCreateOfferTwiceSendsOneOffer(t *testing.T) {
	l, _, host := newTestLink(true)

	first := l.CreateOffer()
	second := l.CreateOffer()
	host.flush()

	a, b := <-first, <-second
	if a.err != nil || b.err != nil {
		t.Fatalf("CreateOffer errors: %v, %v", a.err, b.err)
	}
	if a.sd.SDP != b.sd.SDP {
		t.Errorf("offers differ: %q vs %q", a.sd.SDP, b.sd.SDP)
	}
	if n := host.count(domain.EventOffer); n != 1 {
		t.Fatalf("offers sent = %d, want 1", n)
	}

	// A third request while the offer is unanswered reuses it too.
	third := <-l.CreateOffer()
	if third.err != nil || third.sd.SDP != a.sd.SDP {
		t.Errorf("third CreateOffer = %+v", third)
	}

	l.HandleAnswer(answer("remote-answer"))
	host.flush()
	if l.SignalingState() != domain.SignalingStable {
		t.Errorf("state = %s, want stable", l.SignalingState())
	}
	if host.count(domain.EventOffer) != 1 {
		t.Errorf("offers sent = %d, want 1", host.count(domain.EventOffer))
	}
}

func TestEarlyAnswerIsBufferedAndAppliedOnce(t *testing.T) {
	l, pc, host := newTestLink(true)

	res := l.CreateOffer()
	// The answer overtakes our own offer bookkeeping.
	l.HandleAnswer(answer("remote-answer"))
	l.HandleAnswer(answer("remote-answer"))
	host.flush()

	if r := <-res; r.err != nil {
		t.Fatalf("CreateOffer error = %v", r.err)
	}
	_, _, remoteSets, _, _, _ := pc.snapshot()
	if remoteSets != 1 {
		t.Fatalf("SetRemoteDescription calls = %d, want 1", remoteSets)
	}
	if l.SignalingState() != domain.SignalingStable {
		t.Errorf("state = %s, want stable", l.SignalingState())
	}

	// Late duplicate after it was applied.
	l.HandleAnswer(answer("remote-answer"))
	host.flush()
	_, _, remoteSets, _, _, _ = pc.snapshot()
	if remoteSets != 1 {
		t.Errorf("SetRemoteDescription calls after duplicate = %d, want 1", remoteSets)
	}
}

func TestAnswerWithoutOfferIsIgnored(t *testing.T) {
	l, pc, host := newTestLink(true)
	l.HandleAnswer(answer("stray"))
	host.flush()
	if _, _, remoteSets, _, _, _ := pc.snapshot(); remoteSets != 0 {
		t.Errorf("stray answer was applied")
	}
}

func TestDuplicateOfferAnsweredOnce(t *testing.T) {
	l, _, host := newTestLink(false)

	l.HandleOffer(offer("remote-offer-1"))
	host.flush()
	l.HandleOffer(offer("remote-offer-1"))
	host.flush()

	if n := host.count(domain.EventSDPAnswer); n != 1 {
		t.Fatalf("answers sent = %d, want 1", n)
	}
	if l.AnswersSent() != 1 {
		t.Errorf("AnswersSent() = %d", l.AnswersSent())
	}
	p := host.sent[0].payload.(domain.SDPAnswerPayload)
	if p.CallerID != bob || p.CallID != "c1" {
		t.Errorf("answer payload = %+v", p)
	}
}

func TestRenegotiationOfferIsAnswered(t *testing.T) {
	l, _, host := newTestLink(false)
	l.HandleOffer(offer("remote-offer-1"))
	host.flush()
	l.HandleOffer(offer("remote-offer-2"))
	host.flush()

	if n := host.count(domain.EventSDPAnswer); n != 2 {
		t.Errorf("answers sent = %d, want 2", n)
	}
	if l.SignalingState() != domain.SignalingStable {
		t.Errorf("state = %s", l.SignalingState())
	}
}

func TestCandidatesQueuedInOrderUntilRemoteDescription(t *testing.T) {
	l, pc, host := newTestLink(false)

	l.HandleCandidate(candidate("c1"))
	l.HandleCandidate(candidate("c2"))
	l.HandleCandidate(candidate("c2"))
	l.HandleCandidate(candidate("c3"))
	if got := pc.candidateList(); len(got) != 0 {
		t.Fatalf("candidates applied before remote description: %v", got)
	}

	l.HandleOffer(offer("remote-offer"))
	host.flush()
	l.HandleCandidate(candidate("c4"))

	want := []string{"c1", "c2", "c3", "c4"}
	if got := pc.candidateList(); !reflect.DeepEqual(got, want) {
		t.Errorf("candidates = %v, want %v", got, want)
	}
}

func TestLocalCandidateIsSent(t *testing.T) {
	_, pc, host := newTestLink(true)
	pc.emitCandidate(candidate("local-1"))
	host.flush()

	if host.count(domain.EventICECandidate) != 1 {
		t.Fatalf("candidates sent = %d", host.count(domain.EventICECandidate))
	}
	p := host.sent[0].payload.(domain.CandidatePayload)
	if p.ReceiverID != bob || p.Candidate.Candidate != "local-1" {
		t.Errorf("payload = %+v", p)
	}
}

func TestPoliteSideRollsBackOnGlare(t *testing.T) {
	l, _, host := newTestLink(false)

	// Establish the call so both sides may renegotiate.
	l.HandleOffer(offer("remote-offer-1"))
	host.flush()

	done := l.Negotiate()
	host.flush()
	if l.SignalingState() != domain.SignalingHaveLocalOffer {
		t.Fatalf("state = %s, want have-local-offer", l.SignalingState())
	}

	l.HandleOffer(offer("remote-offer-2"))
	host.flush()

	if n := host.count(domain.EventSDPAnswer); n != 2 {
		t.Fatalf("answers sent = %d, want 2", n)
	}
	// The rolled back round was retried with a fresh offer.
	if n := host.count(domain.EventOffer); n != 2 {
		t.Fatalf("offers sent = %d, want 2", n)
	}
	l.HandleAnswer(answer("remote-answer"))
	host.flush()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Negotiate() = %v", err)
		}
	default:
		t.Fatal("renegotiation never completed")
	}
	if l.SignalingState() != domain.SignalingStable {
		t.Errorf("state = %s, want stable", l.SignalingState())
	}
}

func TestImpoliteSideIgnoresCollidingOffer(t *testing.T) {
	l, _, host := newTestLink(true)

	l.CreateOffer()
	host.flush()
	l.HandleOffer(offer("remote-offer"))
	host.flush()

	if n := host.count(domain.EventSDPAnswer); n != 0 {
		t.Errorf("answers sent = %d, want 0", n)
	}
	if l.SignalingState() != domain.SignalingHaveLocalOffer {
		t.Errorf("state = %s, want have-local-offer", l.SignalingState())
	}
}

func TestNegotiateWaitsForStableLink(t *testing.T) {
	l, _, host := newTestLink(true)

	l.CreateOffer()
	host.flush()
	done := l.Negotiate()
	host.flush()
	if n := host.count(domain.EventOffer); n != 1 {
		t.Fatalf("offer sent while another was unanswered: %d", n)
	}

	l.HandleAnswer(answer("a1"))
	host.flush()
	if n := host.count(domain.EventOffer); n != 2 {
		t.Fatalf("queued renegotiation did not start: offers = %d", n)
	}
	l.HandleAnswer(answer("a2"))
	host.flush()
	if err := <-done; err != nil {
		t.Errorf("Negotiate() = %v", err)
	}
}

func TestStaleAnswerIgnoredDuringRenegotiation(t *testing.T) {
	l, pc, host := newTestLink(true)

	l.CreateOffer()
	host.flush()
	l.HandleAnswer(answer("answer-1"))
	host.flush()

	done := l.Negotiate()
	// A late repeat of the first answer overtakes the new offer.
	l.HandleAnswer(answer("answer-1"))
	host.flush()
	if n := host.count(domain.EventOffer); n != 2 {
		t.Fatalf("offers sent = %d, want 2", n)
	}
	if l.SignalingState() != domain.SignalingHaveLocalOffer {
		t.Fatalf("state = %s, want have-local-offer", l.SignalingState())
	}
	select {
	case err := <-done:
		t.Fatalf("round resolved by a stale answer: %v", err)
	default:
	}

	l.HandleAnswer(answer("answer-2"))
	host.flush()
	if err := <-done; err != nil {
		t.Fatalf("Negotiate() = %v", err)
	}
	if got := pc.RemoteDescription().SDP; got != "answer-2" {
		t.Errorf("remote description = %q, want answer-2", got)
	}
	if _, _, remoteSets, _, _, _ := pc.snapshot(); remoteSets != 2 {
		t.Errorf("SetRemoteDescription calls = %d, want 2", remoteSets)
	}
}

func TestBufferedAnswerDroppedWithFailedOffer(t *testing.T) {
	l, pc, host := newTestLink(true)

	l.CreateOffer()
	host.flush()
	l.HandleAnswer(answer("answer-1"))
	host.flush()

	errOffer := errors.New("codec negotiation failed")
	pc.mu.Lock()
	pc.offerErr = errOffer
	pc.mu.Unlock()

	failed := l.Negotiate()
	l.HandleAnswer(answer("answer-2"))
	host.flush()
	if err := <-failed; !errors.Is(err, domain.ErrRenegotiationFailed) || !errors.Is(err, errOffer) {
		t.Fatalf("Negotiate() = %v, want ErrRenegotiationFailed wrapping the offer error", err)
	}

	pc.mu.Lock()
	pc.offerErr = nil
	pc.mu.Unlock()

	done := l.Negotiate()
	host.flush()
	if l.SignalingState() != domain.SignalingHaveLocalOffer {
		t.Fatalf("state = %s, buffered answer outlived the failed offer", l.SignalingState())
	}
	if _, _, remoteSets, _, _, _ := pc.snapshot(); remoteSets != 1 {
		t.Fatalf("SetRemoteDescription calls = %d, want 1", remoteSets)
	}

	l.HandleAnswer(answer("answer-3"))
	host.flush()
	if err := <-done; err != nil {
		t.Errorf("Negotiate() = %v", err)
	}
}

func TestCloseResolvesWaiters(t *testing.T) {
	l, pc, host := newTestLink(true)

	res := l.CreateOffer()
	done := l.Negotiate()
	l.Close()
	l.Close()
	host.flush()

	if r := <-res; !errors.Is(r.err, domain.ErrClosed) {
		t.Errorf("CreateOffer after close = %v, want ErrClosed", r.err)
	}
	if err := <-done; !errors.Is(err, domain.ErrClosed) {
		t.Errorf("Negotiate after close = %v, want ErrClosed", err)
	}
	if _, _, _, _, _, closed := pc.snapshot(); !closed {
		t.Error("peer connection not closed")
	}
	if host.count(domain.EventOffer) != 0 {
		t.Error("offer sent after close")
	}
	if err := <-l.Negotiate(); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("Negotiate on closed link = %v", err)
	}
}

func TestSetTrackReplacesExistingSender(t *testing.T) {
	l, pc, _ := newTestLink(true)
	camera := newFakeTrack("cam", "s1", domain.KindVideo)
	screen := newFakeTrack("screen", "s2", domain.KindScreen)

	added, err := l.SetTrack(domain.SlotVideo, camera)
	if err != nil || !added {
		t.Fatalf("first SetTrack = %v, %v", added, err)
	}
	sender := l.Sender(domain.SlotVideo)

	added, err = l.SetTrack(domain.SlotVideo, screen)
	if err != nil || added {
		t.Fatalf("second SetTrack = %v, %v", added, err)
	}
	if l.Sender(domain.SlotVideo) != sender {
		t.Error("sender changed on replace")
	}
	if sender.Track() != screen {
		t.Error("sender does not carry the screen track")
	}
	if _, _, _, adds, _, _ := pc.snapshot(); adds != 1 {
		t.Errorf("AddTrack calls = %d, want 1", adds)
	}

	removed, err := l.RemoveSender(domain.SlotVideo)
	if err != nil || !removed {
		t.Fatalf("RemoveSender = %v, %v", removed, err)
	}
	if removed, _ := l.RemoveSender(domain.SlotVideo); removed {
		t.Error("second RemoveSender reported a removal")
	}
}
