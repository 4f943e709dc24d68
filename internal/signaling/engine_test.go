package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/peerchat/internal/protocol"
	"github.com/1ureka/peerchat/internal/session"
	"github.com/1ureka/peerchat/internal/transport/transporttest"
)

// fakeRelay records sent frames; up decides whether the link is open.
type fakeRelay struct {
	mu      sync.Mutex
	up      bool
	sent    []protocol.Signal
	handler func(*protocol.Signal)
}

func (r *fakeRelay) Connect(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.up {
		return errors.New("relay down")
	}
	return nil
}

func (r *fakeRelay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.up
}

func (r *fakeRelay) Send(receiverID string, typ protocol.SignalType, payload any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.up {
		return false
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	r.sent = append(r.sent, protocol.Signal{Type: typ, ReceiverID: receiverID, Payload: data})
	return true
}

func (r *fakeRelay) setUp(up bool) {
	r.mu.Lock()
	r.up = up
	r.mu.Unlock()
}

func (r *fakeRelay) frames() []protocol.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Signal(nil), r.sent...)
}

// fakePrompter records surfaced codes and warnings.
type fakePrompter struct {
	mu    sync.Mutex
	codes []string
	warns []string
}

func (p *fakePrompter) ShowCode(peerID, code, reason string) {
	p.mu.Lock()
	p.codes = append(p.codes, code)
	p.mu.Unlock()
}

func (p *fakePrompter) Warn(msg string) {
	p.mu.Lock()
	p.warns = append(p.warns, msg)
	p.mu.Unlock()
}

func (p *fakePrompter) shown() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.codes...)
}

func (p *fakePrompter) warnings() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.warns...)
}

type chatLog struct {
	mu   sync.Mutex
	msgs []protocol.ChatMessage
}

func (l *chatLog) onMessage(senderID, text string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, protocol.ChatMessage{SenderID: senderID, Text: text})
	l.mu.Unlock()
}

func (l *chatLog) snapshot() []protocol.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.ChatMessage(nil), l.msgs...)
}

type harness struct {
	engine   *Engine
	factory  *transporttest.Factory
	relay    *fakeRelay
	prompter *fakePrompter
	chat     *chatLog
}

func newHarness(t *testing.T, localID string, relayUp bool) *harness {
	t.Helper()
	h := &harness{
		factory:  &transporttest.Factory{},
		relay:    &fakeRelay{up: relayUp},
		prompter: &fakePrompter{},
		chat:     &chatLog{},
	}

	e, err := New(context.Background(), Options{
		LocalID: localID,
		Factory: h.factory.New,
		Relay: func(handler func(*protocol.Signal)) Relay {
			h.relay.handler = handler
			return h.relay
		},
		Events:   session.Events{OnMessage: h.chat.onMessage},
		Prompter: h.prompter,
	})
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)

	h.engine = e
	return h
}

func (h *harness) onlyConn(t *testing.T) *transporttest.Conn {
	t.Helper()
	conns := h.factory.Conns()
	require.Len(t, conns, 1)
	return conns[0]
}

func descriptionJSON(t *testing.T, sdp webrtc.SessionDescription) string {
	t.Helper()
	data, err := json.Marshal(sdp)
	require.NoError(t, err)
	return string(data)
}

var fakeAnswer = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\no=fake-answer 1 0 IN IP4 127.0.0.1\r\n"}

func answerCode(t *testing.T, senderID string, sdp webrtc.SessionDescription) string {
	t.Helper()
	code, err := protocol.EncodeCode(protocol.CodeAnswer, senderID, sdp)
	require.NoError(t, err)
	return code
}

func TestNewRequiresOnMessage(t *testing.T) {
	f := &transporttest.Factory{}
	_, err := New(context.Background(), Options{LocalID: "P2P-A", Factory: f.New})
	assert.Error(t, err)

	_, err = New(context.Background(), Options{Factory: f.New, Events: session.Events{OnMessage: func(string, string) {}}})
	assert.Error(t, err)
}

func TestAutomaticOfferSentThroughRelay(t *testing.T) {
	h := newHarness(t, "P2P-A", true)

	code, err := h.engine.CreateAutomaticOffer(context.Background(), "P2P-B")
	require.NoError(t, err)
	assert.Empty(t, code)

	frames := h.relay.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.SignalOffer, frames[0].Type)
	assert.Equal(t, "P2P-B", frames[0].ReceiverID)

	conn := h.onlyConn(t)
	assert.JSONEq(t, descriptionJSON(t, *conn.LocalDescription()), string(frames[0].Payload))
	require.Len(t, conn.Channels(), 1)
	assert.Equal(t, DefaultChannelLabel, conn.Channels()[0].Label())

	assert.Equal(t, StateAwaitingAnswer, h.engine.State("P2P-B"))
	assert.Equal(t, session.StatusConnecting, h.engine.Status("P2P-B"))
	assert.Empty(t, h.prompter.shown())
}

// TestAutomaticOfferFallsBackToManualCode verifies that a failed relay send
// yields an OFFER code carrying the committed local description.
func TestAutomaticOfferFallsBackToManualCode(t *testing.T) {
	h := newHarness(t, "P2P-A", false)

	code, err := h.engine.CreateAutomaticOffer(context.Background(), "P2P-B")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(code, "OFFER:P2P-A:"), code)

	decoded, err := protocol.DecodeCode(code)
	require.NoError(t, err)
	assert.True(t, json.Valid(decoded.Payload))

	conn := h.onlyConn(t)
	assert.JSONEq(t, descriptionJSON(t, *conn.LocalDescription()), string(decoded.Payload))
	assert.Equal(t, []string{code}, h.prompter.shown())
	assert.Equal(t, StateAwaitingAnswer, h.engine.State("P2P-B"))
}

// TestRelayDropBetweenConnectAndSend covers a link that reports connected
// but fails the write.
func TestRelayDropBetweenConnectAndSend(t *testing.T) {
	h := newHarness(t, "P2P-A", true)

	var once sync.Once
	h.engine.relay = &flakyRelay{fakeRelay: h.relay, drop: func() { once.Do(func() { h.relay.setUp(false) }) }}

	code, err := h.engine.CreateAutomaticOffer(context.Background(), "P2P-B")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "OFFER:P2P-A:"))
}

// flakyRelay drops the link just before the first send.
type flakyRelay struct {
	*fakeRelay
	drop func()
}

func (r *flakyRelay) Send(receiverID string, typ protocol.SignalType, payload any) bool {
	r.drop()
	return r.fakeRelay.Send(receiverID, typ, payload)
}

func TestDuplicateAnswerIsIgnored(t *testing.T) {
	h := newHarness(t, "P2P-A", false)
	ctx := context.Background()

	_, err := h.engine.CreateManualOffer(ctx, "P2P-B")
	require.NoError(t, err)
	conn := h.onlyConn(t)

	require.NoError(t, h.engine.ConsumeCode(ctx, answerCode(t, "P2P-B", fakeAnswer)))
	first := *conn.RemoteDescription()

	other := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\no=other 9 0 IN IP4 10.0.0.1\r\n"}
	require.NoError(t, h.engine.ConsumeCode(ctx, answerCode(t, "P2P-B", other)))

	payload, err := json.Marshal(other)
	require.NoError(t, err)
	require.NoError(t, h.engine.HandleSignal(&protocol.Signal{
		Type: protocol.SignalAnswer, SenderID: "P2P-B", ReceiverID: "P2P-A", Payload: payload,
	}))

	assert.Equal(t, 1, conn.RemoteSets())
	assert.Equal(t, first, *conn.RemoteDescription())
}

func TestMalformedCodeTouchesNoSession(t *testing.T) {
	h := newHarness(t, "P2P-A", false)
	ctx := context.Background()

	for _, raw := range []string{"", "ANSWER", "ANSWER:P2P-B", "garbage without separators"} {
		err := h.engine.ConsumeCode(ctx, raw)
		assert.ErrorIs(t, err, protocol.ErrMalformedCode, raw)
	}

	assert.ErrorIs(t, h.engine.ConsumeCode(ctx, `HELLO:P2P-B:{}`), protocol.ErrUnknownCodeType)
	assert.ErrorIs(t, h.engine.ConsumeCode(ctx, `ANSWER:P2P-B:{broken`), protocol.ErrInvalidPayload)

	assert.Empty(t, h.engine.Peers())
	assert.Empty(t, h.factory.Conns())
	assert.Len(t, h.prompter.warnings(), 6)
}

func TestConsumeCandidateCodes(t *testing.T) {
	h := newHarness(t, "P2P-A", false)
	ctx := context.Background()

	require.NoError(t, h.engine.ConsumeCode(ctx, `CANDIDATE:P2P-B:{"candidate":"candidate:1 1 udp 2122260223 192.168.1.2 50000 typ host","sdpMid":"0"}`))
	require.NoError(t, h.engine.ConsumeCode(ctx, `KANDIDAT:P2P-B:{"candidate":"candidate:2 1 udp 2122260223 192.168.1.3 50001 typ host","sdpMid":"0"}`))

	conn := h.onlyConn(t)
	candidates := conn.Candidates()
	require.Len(t, candidates, 2)
	assert.Contains(t, candidates[0].Candidate, "192.168.1.2")
	assert.Contains(t, candidates[1].Candidate, "192.168.1.3")
	assert.Equal(t, []string{"P2P-B"}, h.engine.Peers())
}

func TestConsumeOfferCodeIsRejected(t *testing.T) {
	offerer := newHarness(t, "P2P-B", false)
	code, err := offerer.engine.CreateManualOffer(context.Background(), "P2P-A")
	require.NoError(t, err)

	h := newHarness(t, "P2P-A", false)
	err = h.engine.ConsumeCode(context.Background(), code)
	assert.ErrorIs(t, err, ErrOfferNotAccepted)
	assert.Empty(t, h.engine.Peers())
	assert.Empty(t, h.factory.Conns())
}

func TestOwnCodesAreRejected(t *testing.T) {
	h := newHarness(t, "P2P-A", false)
	ctx := context.Background()

	code, err := h.engine.CreateManualOffer(ctx, "P2P-B")
	require.NoError(t, err)

	_, err = h.engine.AcceptManualOffer(ctx, code)
	assert.ErrorIs(t, err, ErrOwnCode)
	assert.ErrorIs(t, h.engine.ConsumeCode(ctx, answerCode(t, "P2P-A", fakeAnswer)), ErrOwnCode)
}

// TestManualRoundTrip drives a full offer/answer exchange through codes.
func TestManualRoundTrip(t *testing.T) {
	a := newHarness(t, "P2P-A", false)
	b := newHarness(t, "P2P-B", false)
	ctx := context.Background()

	offer, err := a.engine.CreateManualOffer(ctx, "P2P-B")
	require.NoError(t, err)

	_, err = b.engine.AcceptManualOffer(ctx, answerCode(t, "P2P-A", fakeAnswer))
	assert.ErrorIs(t, err, ErrUnexpectedCode)

	answer, err := b.engine.AcceptManualOffer(ctx, offer)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(answer, "ANSWER:P2P-B:"), answer)
	assert.Equal(t, []string{answer}, b.prompter.shown())

	bConn := b.onlyConn(t)
	require.NotNil(t, bConn.RemoteDescription())
	assert.Equal(t, webrtc.SDPTypeOffer, bConn.RemoteDescription().Type)

	require.NoError(t, a.engine.ConsumeCode(ctx, answer))
	aConn := a.onlyConn(t)
	require.NotNil(t, aConn.RemoteDescription())
	assert.Equal(t, *bConn.LocalDescription(), *aConn.RemoteDescription())
}

func TestInboundOfferIsAnsweredThroughRelay(t *testing.T) {
	offerer := newHarness(t, "P2P-A", false)
	code, err := offerer.engine.CreateManualOffer(context.Background(), "P2P-B")
	require.NoError(t, err)
	decoded, err := protocol.DecodeCode(code)
	require.NoError(t, err)

	h := newHarness(t, "P2P-B", true)
	require.NoError(t, h.engine.HandleSignal(&protocol.Signal{
		Type: protocol.SignalOffer, SenderID: "P2P-A", ReceiverID: "P2P-B", Payload: decoded.Payload,
	}))

	frames := h.relay.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.SignalAnswer, frames[0].Type)
	assert.Equal(t, "P2P-A", frames[0].ReceiverID)
	assert.JSONEq(t, descriptionJSON(t, *h.onlyConn(t).LocalDescription()), string(frames[0].Payload))
	assert.Empty(t, h.prompter.shown())
}

func TestInboundOfferFallsBackToAnswerCode(t *testing.T) {
	offerer := newHarness(t, "P2P-A", false)
	code, err := offerer.engine.CreateManualOffer(context.Background(), "P2P-B")
	require.NoError(t, err)
	decoded, err := protocol.DecodeCode(code)
	require.NoError(t, err)

	h := newHarness(t, "P2P-B", false)
	require.NoError(t, h.engine.HandleSignal(&protocol.Signal{
		Type: protocol.SignalOffer, SenderID: "P2P-A", Payload: decoded.Payload,
	}))

	shown := h.prompter.shown()
	require.Len(t, shown, 1)
	assert.True(t, strings.HasPrefix(shown[0], "ANSWER:P2P-B:"), shown[0])
}

func TestUnknownSignalTypeIsIgnored(t *testing.T) {
	h := newHarness(t, "P2P-A", true)
	err := h.engine.HandleSignal(&protocol.Signal{Type: "bye", SenderID: "P2P-B", Payload: json.RawMessage(`{}`)})
	assert.NoError(t, err)
	assert.Empty(t, h.engine.Peers())

	assert.Error(t, h.engine.HandleSignal(&protocol.Signal{Type: protocol.SignalAnswer, Payload: json.RawMessage(`{}`)}))
}

// TestNegotiationFailureIsPerPeer verifies that a failing step leaves the
// session registered and does not affect other peers.
func TestNegotiationFailureIsPerPeer(t *testing.T) {
	h := newHarness(t, "P2P-A", true)
	ctx := context.Background()

	s, err := h.engine.registry.GetOrCreate("P2P-B")
	require.NoError(t, err)
	s.Conn.(*transporttest.Conn).ErrCreateOffer = errors.New("boom")

	_, err = h.engine.CreateAutomaticOffer(ctx, "P2P-B")
	require.Error(t, err)
	assert.Equal(t, StateOffering, h.engine.State("P2P-B"))

	_, err = h.engine.CreateAutomaticOffer(ctx, "P2P-C")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingAnswer, h.engine.State("P2P-C"))

	assert.Equal(t, []string{"P2P-B", "P2P-C"}, h.engine.Peers())
	frames := h.relay.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "P2P-C", frames[0].ReceiverID)
}

func TestLocalCandidatesFollowNegotiationPath(t *testing.T) {
	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2122260223 192.168.1.2 50000 typ host"}
	ctx := context.Background()

	t.Run("relay", func(t *testing.T) {
		h := newHarness(t, "P2P-A", true)
		_, err := h.engine.CreateAutomaticOffer(ctx, "P2P-B")
		require.NoError(t, err)

		h.onlyConn(t).EmitCandidate(candidate)
		frames := h.relay.frames()
		require.Len(t, frames, 2)
		assert.Equal(t, protocol.SignalCandidate, frames[1].Type)
		assert.Contains(t, string(frames[1].Payload), "192.168.1.2")
	})

	t.Run("relay dropped", func(t *testing.T) {
		h := newHarness(t, "P2P-A", true)
		_, err := h.engine.CreateAutomaticOffer(ctx, "P2P-B")
		require.NoError(t, err)

		h.relay.setUp(false)
		h.onlyConn(t).EmitCandidate(candidate)
		shown := h.prompter.shown()
		require.Len(t, shown, 1)
		assert.True(t, strings.HasPrefix(shown[0], "CANDIDATE:P2P-A:"), shown[0])
	})

	t.Run("manual", func(t *testing.T) {
		h := newHarness(t, "P2P-A", false)
		_, err := h.engine.CreateManualOffer(ctx, "P2P-B")
		require.NoError(t, err)

		h.onlyConn(t).EmitCandidate(candidate)
		assert.Len(t, h.prompter.shown(), 1)
		assert.Empty(t, h.relay.frames())
	})
}

func TestSendMessageAndClose(t *testing.T) {
	h := newHarness(t, "P2P-A", true)
	ctx := context.Background()

	assert.False(t, h.engine.SendMessage("P2P-B", "too early"))

	_, err := h.engine.CreateAutomaticOffer(ctx, "P2P-B")
	require.NoError(t, err)
	conn := h.onlyConn(t)
	ch := conn.Channels()[0]

	assert.False(t, h.engine.SendMessage("P2P-B", "not open yet"))

	ch.Open()
	assert.Equal(t, StateConnected, h.engine.State("P2P-B"))
	assert.Equal(t, session.StatusOpen, h.engine.Status("P2P-B"))

	require.True(t, h.engine.SendMessage("P2P-B", "hi"))
	sent := ch.Sent()
	require.Len(t, sent, 1)
	msg, err := protocol.DecodeChat([]byte(sent[0]))
	require.NoError(t, err)
	assert.Equal(t, protocol.ChatMessage{SenderID: "P2P-A", Text: "hi"}, *msg)

	reply, err := protocol.EncodeChat("P2P-B", "hello back")
	require.NoError(t, err)
	ch.Deliver(reply)
	assert.Equal(t, []protocol.ChatMessage{{SenderID: "P2P-B", Text: "hello back"}}, h.chat.snapshot())

	h.engine.Close("P2P-B")
	assert.Equal(t, session.StatusNone, h.engine.Status("P2P-B"))
	assert.Equal(t, StateIdle, h.engine.State("P2P-B"))
	assert.True(t, conn.Closed())
	assert.False(t, h.engine.SendMessage("P2P-B", "after close"))
	assert.Empty(t, h.engine.Peers())
}

// TestRelayFramesAreDispatchedPerPeer feeds frames through the relay handler
// and checks they reach the engine on the peer's inbox goroutine.
func TestRelayFramesAreDispatchedPerPeer(t *testing.T) {
	offerer := newHarness(t, "P2P-A", false)
	code, err := offerer.engine.CreateManualOffer(context.Background(), "P2P-B")
	require.NoError(t, err)
	decoded, err := protocol.DecodeCode(code)
	require.NoError(t, err)

	h := newHarness(t, "P2P-B", true)
	require.NotNil(t, h.relay.handler)

	h.relay.handler(&protocol.Signal{Type: protocol.SignalOffer, SenderID: "P2P-A", ReceiverID: "P2P-B", Payload: decoded.Payload})
	h.relay.handler(&protocol.Signal{
		Type: protocol.SignalCandidate, SenderID: "P2P-A", ReceiverID: "P2P-B",
		Payload: json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 1 typ host"}`),
	})

	require.Eventually(t, func() bool {
		conns := h.factory.Conns()
		return len(conns) == 1 && len(conns[0].Candidates()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return len(h.relay.frames()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, protocol.SignalAnswer, h.relay.frames()[0].Type)
}
