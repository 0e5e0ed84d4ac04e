package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/lessonlive/meetmesh/internal/app/chat"
	"github.com/lessonlive/meetmesh/internal/app/media"
	"github.com/lessonlive/meetmesh/internal/app/peer"
	"github.com/lessonlive/meetmesh/internal/core"
	"github.com/lessonlive/meetmesh/internal/domain"
	"github.com/lessonlive/meetmesh/internal/signal"
)

const settle = 2 * time.Second

// ---- fakes ----

type fakeSource struct {
	once sync.Once
	done chan struct{}
}

func newFakeSource() *fakeSource { return &fakeSource{done: make(chan struct{})} }

func (s *fakeSource) ReadPacket() (*rtp.Packet, error) {
	<-s.done
	return nil, io.EOF
}

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type fakeDevices struct{}

func (fakeDevices) OpenMicrophone() (core.CaptureSource, error) { return newFakeSource(), nil }
func (fakeDevices) OpenCamera() (core.CaptureSource, error)     { return newFakeSource(), nil }
func (fakeDevices) OpenScreen() (core.CaptureSource, error)     { return newFakeSource(), nil }

type fakeChat struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeChat) SendText(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeChat) IsOpen() bool           { return true }
func (f *fakeChat) OnOpen(func())          {}
func (f *fakeChat) OnMessage(func([]byte)) {}
func (f *fakeChat) Close() error           { return nil }

type fakeTransport struct {
	mu      sync.Mutex
	closed  bool
	video   webrtc.TrackLocal
	applied []webrtc.ICECandidateInit
	chat    *fakeChat

	// Optional gate to park negotiation between the outgoing-tracks
	// snapshot and the track attach.
	startEntered chan struct{}
	startGate    chan struct{}
}

func (f *fakeTransport) Start(context.Context) error {
	if f.startEntered != nil {
		close(f.startEntered)
	}
	if f.startGate != nil {
		<-f.startGate
	}
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (f *fakeTransport) ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (f *fakeTransport) ApplyAnswer(webrtc.SessionDescription) error { return nil }

func (f *fakeTransport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, ci)
	return nil
}

func (f *fakeTransport) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		f.video = track
	}
	return nil, nil
}

func (f *fakeTransport) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.video == nil {
		return core.ErrNoVideoSender
	}
	f.video = track
	return nil
}

func (f *fakeTransport) videoTrack() webrtc.TrackLocal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.video
}

func (f *fakeTransport) CreateChatChannel() (core.DataSender, error) { return f.chat, nil }

func (f *fakeTransport) OnICECandidate(func(webrtc.ICECandidateInit)) {}
func (f *fakeTransport) OnTrack(func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {}
func (f *fakeTransport) OnDataChannel(func(core.DataSender))            {}
func (f *fakeTransport) OnStateChange(func(webrtc.PeerConnectionState)) {}

type fakeFactory struct {
	mu         sync.Mutex
	transports map[domain.ParticipantID]*fakeTransport
	onCreate   func(*fakeTransport)
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{transports: make(map[domain.ParticipantID]*fakeTransport)}
}

func (f *fakeFactory) new(remote domain.ParticipantID) (core.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr := &fakeTransport{chat: &fakeChat{}}
	if f.onCreate != nil {
		f.onCreate(tr)
	}
	f.transports[remote] = tr
	return tr, nil
}

func (f *fakeFactory) get(remote domain.ParticipantID) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[remote]
}

func (f *fakeFactory) all() []*fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeTransport, 0, len(f.transports))
	for _, tr := range f.transports {
		out = append(out, tr)
	}
	return out
}

type fakeSignaler struct {
	mu           sync.Mutex
	sent         []signal.Envelope
	onMessage    func(signal.Envelope)
	onClosed     func(error)
	connected    bool
	disconnected bool
}

func (f *fakeSignaler) Connect(context.Context, domain.MeetingID, domain.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeSignaler) Send(env signal.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
}

func (f *fakeSignaler) OnMessage(fn func(signal.Envelope)) { f.onMessage = fn }
func (f *fakeSignaler) OnClosed(fn func(error))            { f.onClosed = fn }

func (f *fakeSignaler) Disconnect(domain.MeetingID, domain.ParticipantID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeSignaler) deliver(env signal.Envelope) { f.onMessage(env) }

func (f *fakeSignaler) ofType(t signal.Type) []signal.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []signal.Envelope
	for _, e := range f.sent {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func remoteParticipant(id string) *domain.Participant {
	return &domain.Participant{ID: domain.ParticipantID(id), DisplayName: id}
}

type harness struct {
	ctl     *Controller
	sig     *fakeSignaler
	factory *fakeFactory
	media   *media.Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	self := &domain.Participant{ID: "self", DisplayName: "alice", IsHost: true}
	m := media.NewController(fakeDevices{})
	sig := &fakeSignaler{}
	factory := newFakeFactory()
	ch := chat.NewChannel(self)
	ctl := NewController("meeting-1", self, sig, m, ch, factory.new)
	require.NoError(t, ctl.Join(context.Background()))
	t.Cleanup(ctl.Leave)
	return &harness{ctl: ctl, sig: sig, factory: factory, media: m}
}

// barrier waits until every event queued so far has been processed.
func (h *harness) barrier() { h.ctl.call(func() {}) }

func (h *harness) join(id string) {
	h.sig.deliver(signal.Envelope{Type: signal.TypeParticipantJoined, Participant: remoteParticipant(id)})
	h.barrier()
}

// ---- tests ----

func TestJoinTransitionsToJoined(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, StateJoined, h.ctl.State())
	require.True(t, h.sig.connected)
}

func TestExistingMemberOffersToNewcomer(t *testing.T) {
	h := newHarness(t)
	h.join("bob")

	require.Eventually(t, func() bool {
		return len(h.sig.ofType(signal.TypeOffer)) == 1
	}, settle, 10*time.Millisecond)

	offer := h.sig.ofType(signal.TypeOffer)[0]
	require.Equal(t, domain.ParticipantID("bob"), offer.Target)
	require.Equal(t, domain.ParticipantID("self"), offer.From)

	l, ok := h.ctl.Registry().Link("bob")
	require.True(t, ok)
	require.Equal(t, peer.RoleOfferer, l.Role())
	require.Equal(t, 1, h.ctl.Registry().RosterSize())
	require.Equal(t, 1, h.ctl.Registry().LinkCount())
}

func TestJoinerAnswersEachOffer(t *testing.T) {
	h := newHarness(t)

	// Snapshot after join: two members already in the room.
	h.sig.deliver(signal.Envelope{Type: signal.TypeParticipantsList, Participants: []domain.Participant{
		{ID: "self", DisplayName: "alice"},
		{ID: "bob", DisplayName: "bob"},
		{ID: "carol", DisplayName: "carol"},
	}})
	h.barrier()
	// The snapshot itself never creates links.
	require.Zero(t, h.ctl.Registry().LinkCount())

	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"}
	h.sig.deliver(signal.Envelope{Type: signal.TypeOffer, From: "bob", SDP: &sdp})
	h.sig.deliver(signal.Envelope{Type: signal.TypeOffer, From: "carol", SDP: &sdp})
	h.barrier()

	require.Eventually(t, func() bool {
		return len(h.sig.ofType(signal.TypeAnswer)) == 2
	}, settle, 10*time.Millisecond)

	require.Equal(t, 2, h.ctl.Registry().LinkCount())
	for _, id := range []domain.ParticipantID{"bob", "carol"} {
		l, ok := h.ctl.Registry().Link(id)
		require.True(t, ok)
		require.Equal(t, peer.RoleAnswerer, l.Role())
	}
	// Steady state: one link per remote roster entry.
	require.Equal(t, h.ctl.Registry().RosterSize(), h.ctl.Registry().LinkCount())
}

func TestParticipantLeftRemovesLink(t *testing.T) {
	h := newHarness(t)
	h.join("bob")
	h.join("carol")
	require.Equal(t, 2, h.ctl.Registry().LinkCount())

	h.sig.deliver(signal.Envelope{Type: signal.TypeParticipantLeft, ParticipantID: "bob"})
	h.barrier()

	require.Equal(t, 1, h.ctl.Registry().LinkCount())
	require.Equal(t, 1, h.ctl.Registry().RosterSize())
	require.True(t, h.factory.get("bob").IsClosed())
	_, ok := h.ctl.Registry().Link("carol")
	require.True(t, ok)

	// Idempotent for an already absent participant.
	h.sig.deliver(signal.Envelope{Type: signal.TypeParticipantLeft, ParticipantID: "bob"})
	h.barrier()
	require.Equal(t, 1, h.ctl.Registry().LinkCount())
}

func TestPresenceUpdatePatchesRosterOnly(t *testing.T) {
	h := newHarness(t)
	h.join("bob")
	offers := len(h.sig.ofType(signal.TypeOffer))

	muted := true
	h.sig.deliver(signal.Envelope{Type: signal.TypeParticipantUpdate, ParticipantID: "bob", IsMuted: &muted})
	h.barrier()

	p, ok := h.ctl.Registry().Participant("bob")
	require.True(t, ok)
	require.True(t, p.IsMuted)
	require.False(t, p.IsVideoOff)
	// Presence never triggers negotiation.
	require.Equal(t, offers, len(h.sig.ofType(signal.TypeOffer)))
}

func TestMuteToggleEmitsExactlyTwoUpdates(t *testing.T) {
	h := newHarness(t)
	require.False(t, h.ctl.Self().IsMuted)

	require.NoError(t, h.ctl.SetMuted(true))
	require.True(t, h.ctl.Self().IsMuted)
	require.NoError(t, h.ctl.SetMuted(false))
	require.False(t, h.ctl.Self().IsMuted)

	updates := h.sig.ofType(signal.TypeParticipantUpdate)
	require.Len(t, updates, 2)
	require.True(t, *updates[0].IsMuted)
	require.False(t, *updates[1].IsMuted)
}

func TestScreenShareSwapsEveryLinkAndBack(t *testing.T) {
	h := newHarness(t)
	h.join("bob")
	h.join("carol")
	require.Eventually(t, func() bool {
		return h.factory.get("bob").videoTrack() != nil && h.factory.get("carol").videoTrack() != nil
	}, settle, 10*time.Millisecond)

	camera := h.media.TrackSet().CurrentVideo().Track

	require.NoError(t, h.ctl.StartScreenShare())
	screen := h.media.TrackSet().CurrentVideo().Track
	require.NotSame(t, camera, screen)
	for _, tr := range h.factory.all() {
		require.Same(t, screen, tr.videoTrack())
	}

	// A link created mid-share must pick up the screen track.
	h.join("dave")
	require.Eventually(t, func() bool {
		return h.factory.get("dave").videoTrack() == screen
	}, settle, 10*time.Millisecond)

	require.NoError(t, h.ctl.StopScreenShare())
	restored := h.media.TrackSet().CurrentVideo().Track
	require.Same(t, camera, restored)
	for _, tr := range h.factory.all() {
		require.Same(t, camera, tr.videoTrack())
	}
}

func TestLinkAttachingDuringSwapPicksUpScreenTrack(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	gate := make(chan struct{})
	h.factory.onCreate = func(tr *fakeTransport) {
		tr.startEntered = entered
		tr.startGate = gate
	}

	// The link's negotiation goroutine snapshots the outgoing tracks
	// and parks before attaching them.
	h.join("bob")
	<-entered

	require.NoError(t, h.ctl.StartScreenShare())
	screen := h.media.TrackSet().CurrentVideo().Track

	// Attach proceeds with the pre-swap snapshot; the link must still
	// converge on the screen track.
	close(gate)
	require.Eventually(t, func() bool {
		return h.factory.get("bob").videoTrack() == screen
	}, settle, 10*time.Millisecond)
}

func TestMediaOpsBeforeJoinReturnError(t *testing.T) {
	self := &domain.Participant{ID: "self", DisplayName: "alice"}
	c := NewController("meeting-1", self, &fakeSignaler{}, media.NewController(fakeDevices{}), chat.NewChannel(self), newFakeFactory().new)

	require.ErrorIs(t, c.SetMuted(true), ErrNotJoined)
	require.ErrorIs(t, c.SetVideoOff(true), ErrNotJoined)
	require.ErrorIs(t, c.StartScreenShare(), ErrNotJoined)
	require.ErrorIs(t, c.StopScreenShare(), ErrNotJoined)
}

func TestDuplicateJoinReplacesLink(t *testing.T) {
	h := newHarness(t)
	h.join("bob")
	first := h.factory.get("bob")

	h.join("bob")
	second := h.factory.get("bob")

	require.True(t, first.IsClosed())
	require.False(t, second.IsClosed())
	require.NotSame(t, first, second)
	require.Equal(t, 1, h.ctl.Registry().LinkCount())
	require.Equal(t, 1, h.ctl.Registry().RosterSize())
}

func TestChatBroadcastWithLocalEcho(t *testing.T) {
	h := newHarness(t)
	h.join("bob")
	h.join("carol")
	// The offer is sent after the chat channel is adopted, so two
	// recorded offers mean both links can carry chat.
	require.Eventually(t, func() bool {
		return len(h.sig.ofType(signal.TypeOffer)) == 2
	}, settle, 10*time.Millisecond)

	msg := h.ctl.SendChat("hello room")
	require.Equal(t, "hello room", msg.Text)
	require.Equal(t, domain.ParticipantID("self"), msg.SenderID)

	entries := h.ctl.Chat().Log()
	require.Len(t, entries, 1)
	require.Equal(t, "hello room", entries[0].Text)

	for _, tr := range h.factory.all() {
		require.Len(t, tr.chat.sent, 1)
	}
}

func TestLeaveTearsDownEverything(t *testing.T) {
	h := newHarness(t)
	h.join("bob")
	h.join("carol")

	h.ctl.Leave()

	require.Equal(t, StateLeft, h.ctl.State())
	require.Zero(t, h.ctl.Registry().LinkCount())
	require.Zero(t, h.ctl.Registry().RosterSize())
	require.Zero(t, h.media.ActiveSources())
	require.True(t, h.sig.disconnected)
	for _, tr := range h.factory.all() {
		require.True(t, tr.IsClosed())
	}
}

func TestLeaveBeforeJoinIsSafe(t *testing.T) {
	self := &domain.Participant{ID: "self", DisplayName: "alice"}
	c := NewController("meeting-1", self, &fakeSignaler{}, media.NewController(fakeDevices{}), chat.NewChannel(self), newFakeFactory().new)
	c.Leave()
	require.Equal(t, StateLeft, c.State())
}

func TestLeaveDuringNegotiationStillCleansUp(t *testing.T) {
	h := newHarness(t)
	// Link just created; negotiation may still be in flight.
	h.sig.deliver(signal.Envelope{Type: signal.TypeParticipantJoined, Participant: remoteParticipant("bob")})
	h.ctl.Leave()

	require.Equal(t, StateLeft, h.ctl.State())
	require.Zero(t, h.ctl.Registry().LinkCount())
	require.Zero(t, h.media.ActiveSources())
	require.True(t, h.sig.disconnected)
}

func TestSignalLossFailsSessionWithFullTeardown(t *testing.T) {
	h := newHarness(t)
	h.join("bob")

	h.sig.onClosed(&core.SignalingConnectionError{URL: "ws://x", Err: io.ErrUnexpectedEOF})

	require.Eventually(t, func() bool {
		return h.ctl.State() == StateFailed
	}, settle, 10*time.Millisecond)
	require.Zero(t, h.ctl.Registry().LinkCount())
	require.Zero(t, h.media.ActiveSources())
	require.True(t, h.factory.get("bob").IsClosed())
}

func TestAnswerAndCandidateForUnknownLinkAreNoops(t *testing.T) {
	h := newHarness(t)
	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"}
	h.sig.deliver(signal.Envelope{Type: signal.TypeAnswer, From: "ghost", SDP: &sdp})
	h.sig.deliver(signal.Envelope{Type: signal.TypeICECandidate, From: "ghost", Candidate: &webrtc.ICECandidateInit{Candidate: "c"}})
	h.barrier()
	require.Zero(t, h.ctl.Registry().LinkCount())
}

// ---- three-node mesh over a loopback signaling fabric ----

type loopback struct {
	mu    sync.Mutex
	peers map[domain.ParticipantID]*fakeSignaler
}

func (lb *loopback) attach(id domain.ParticipantID, sig *fakeSignaler) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if lb.peers == nil {
		lb.peers = make(map[domain.ParticipantID]*fakeSignaler)
	}
	lb.peers[id] = sig
}

// pump drains recorded outbound envelopes and routes targeted ones to
// their addressee, like the rendezvous hub would.
func (lb *loopback) pump() {
	for {
		moved := false
		lb.mu.Lock()
		sigs := make(map[domain.ParticipantID]*fakeSignaler, len(lb.peers))
		for id, s := range lb.peers {
			sigs[id] = s
		}
		lb.mu.Unlock()
		for _, s := range sigs {
			s.mu.Lock()
			pending := s.sent
			s.sent = nil
			s.mu.Unlock()
			for _, env := range pending {
				if target, ok := sigs[env.Target]; ok && env.Targeted() {
					moved = true
					target.deliver(env)
				}
			}
		}
		if !moved {
			return
		}
	}
}

func TestThreeWayMeshSettlesAndSurvivesLeave(t *testing.T) {
	lb := &loopback{}
	ids := []domain.ParticipantID{"a", "b", "c"}
	ctls := make(map[domain.ParticipantID]*Controller)
	sigs := make(map[domain.ParticipantID]*fakeSignaler)

	for _, id := range ids {
		self := &domain.Participant{ID: id, DisplayName: string(id)}
		sig := &fakeSignaler{}
		factory := newFakeFactory()
		ctl := NewController("mesh", self, sig, media.NewController(fakeDevices{}), chat.NewChannel(self), factory.new)
		require.NoError(t, ctl.Join(context.Background()))
		t.Cleanup(ctl.Leave)
		lb.attach(id, sig)
		ctls[id] = ctl
		sigs[id] = sig
	}

	// Joins in order a, b, c: each existing member hears about the
	// newcomer, the newcomer gets the prior roster snapshot.
	sigs["b"].deliver(signal.Envelope{Type: signal.TypeParticipantsList, Participants: []domain.Participant{
		{ID: "a", DisplayName: "a"}, {ID: "b", DisplayName: "b"},
	}})
	sigs["a"].deliver(signal.Envelope{Type: signal.TypeParticipantJoined, Participant: remoteParticipant("b")})
	sigs["c"].deliver(signal.Envelope{Type: signal.TypeParticipantsList, Participants: []domain.Participant{
		{ID: "a", DisplayName: "a"}, {ID: "b", DisplayName: "b"}, {ID: "c", DisplayName: "c"},
	}})
	sigs["a"].deliver(signal.Envelope{Type: signal.TypeParticipantJoined, Participant: remoteParticipant("c")})
	sigs["b"].deliver(signal.Envelope{Type: signal.TypeParticipantJoined, Participant: remoteParticipant("c")})

	require.Eventually(t, func() bool {
		lb.pump()
		for _, id := range ids {
			if ctls[id].Registry().LinkCount() != 2 {
				return false
			}
		}
		return true
	}, settle, 20*time.Millisecond)

	// Every node links to every other node.
	for _, id := range ids {
		for _, other := range ids {
			if id == other {
				continue
			}
			_, ok := ctls[id].Registry().Link(other)
			require.True(t, ok, "%s should link to %s", id, other)
		}
	}

	// b leaves: a and c keep exactly one link, to each other.
	ctls["b"].Leave()
	sigs["a"].deliver(signal.Envelope{Type: signal.TypeParticipantLeft, ParticipantID: "b"})
	sigs["c"].deliver(signal.Envelope{Type: signal.TypeParticipantLeft, ParticipantID: "b"})

	require.Eventually(t, func() bool {
		return ctls["a"].Registry().LinkCount() == 1 && ctls["c"].Registry().LinkCount() == 1
	}, settle, 20*time.Millisecond)
	_, ok := ctls["a"].Registry().Link("c")
	require.True(t, ok)
	_, ok = ctls["c"].Registry().Link("a")
	require.True(t, ok)
}
