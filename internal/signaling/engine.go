package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerchat/internal/protocol"
	"github.com/1ureka/peerchat/internal/session"
	"github.com/1ureka/peerchat/internal/transport"
	"github.com/1ureka/peerchat/internal/util"
)

// DefaultChannelLabel is the label of the chat data channel.
const DefaultChannelLabel = "chat"

var errNoRelay = errors.New("no relay configured")

// Options configures an Engine.
type Options struct {
	// LocalID is the self-asserted identity carried in every frame and code.
	LocalID string

	// ChannelLabel names the outbound data channel. Defaults to "chat".
	ChannelLabel string

	// Factory creates one connection per peer.
	Factory transport.Factory

	// Relay builds the signaling link. Nil means manual codes only.
	Relay RelayFactory

	// Events receives chat messages and channel lifecycle. OnMessage is
	// required.
	Events session.Events

	// Prompter surfaces manual codes. Nil discards them.
	Prompter Prompter
}

// Engine owns the session registry and drives negotiation for every peer.
type Engine struct {
	localID  string
	label    string
	registry *session.Registry
	notifier *session.Notifier
	relay    Relay
	prompter Prompter
	inbound  *dispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	states map[string]State
	manual map[string]bool // peers negotiating through manual codes
}

// New creates an engine whose background work ends with ctx or Shutdown.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.LocalID == "" {
		return nil, errors.New("local id is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("connection factory is required")
	}
	if opts.Events.OnMessage == nil {
		return nil, errors.New("OnMessage callback is required")
	}
	if opts.ChannelLabel == "" {
		opts.ChannelLabel = DefaultChannelLabel
	}
	if opts.Prompter == nil {
		opts.Prompter = nopPrompter{}
	}

	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		localID:  opts.LocalID,
		label:    opts.ChannelLabel,
		prompter: opts.Prompter,
		ctx:      ctx,
		cancel:   cancel,
		states:   make(map[string]State),
		manual:   make(map[string]bool),
	}

	e.notifier = session.NewNotifier(e.wrapEvents(opts.Events))
	e.registry = session.NewRegistry(opts.Factory, session.Hooks{
		OnCandidate: e.onLocalCandidate,
		OnChannel:   e.notifier.Attach,
	})
	e.inbound = newDispatcher(ctx, e.handleInbound)

	if opts.Relay != nil {
		e.relay = opts.Relay(e.inbound.deliver)
	} else {
		e.relay = offlineRelay{}
	}
	return e, nil
}

// LocalID returns the identity this engine signs frames and codes with.
func (e *Engine) LocalID() string {
	return e.localID
}

// Peers returns every peer with a live session.
func (e *Engine) Peers() []string {
	return e.registry.Peers()
}

// ConnectRelay dials the relay if it is not connected.
func (e *Engine) ConnectRelay(ctx context.Context) error {
	return e.relay.Connect(ctx)
}

// RelayConnected reports whether the relay link is open.
func (e *Engine) RelayConnected() bool {
	return e.relay.Connected()
}

// SendMessage writes text to the peer's data channel. It returns true iff the
// channel is open and the frame was written.
func (e *Engine) SendMessage(peerID, text string) bool {
	s, ok := e.registry.Lookup(peerID)
	if !ok {
		util.LogWarning("[%s] no session, message not sent", peerID)
		return false
	}
	ch := s.Channel()
	if ch == nil || ch.ReadyState() != webrtc.DataChannelStateOpen {
		util.LogWarning("[%s] data channel not open, message not sent", peerID)
		return false
	}

	data, err := protocol.EncodeChat(e.localID, text)
	if err != nil {
		util.LogPeer(peerID, "encode chat message: %v", err)
		return false
	}
	if err := ch.SendText(string(data)); err != nil {
		util.LogPeer(peerID, "send chat message: %v", err)
		return false
	}

	util.Stats.AddChatSent()
	return true
}

// Status reports the connection status of the peer.
func (e *Engine) Status(peerID string) session.Status {
	return e.registry.Status(peerID)
}

// State reports the negotiation state of the peer.
func (e *Engine) State(peerID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[peerID]; ok {
		return st
	}
	return StateIdle
}

// Close releases the peer's channel and connection. A later negotiation with
// the same peer starts from a fresh session.
func (e *Engine) Close(peerID string) {
	e.inbound.unregister(peerID)
	e.registry.Close(peerID)
	e.notifier.Forget(peerID)

	e.mu.Lock()
	delete(e.states, peerID)
	delete(e.manual, peerID)
	e.mu.Unlock()
}

// Shutdown closes every session and stops inbound processing.
func (e *Engine) Shutdown() {
	e.cancel()
	for _, id := range e.registry.Peers() {
		e.Close(id)
	}
}

func (e *Engine) setState(peerID string, st State) {
	e.mu.Lock()
	prev := e.states[peerID]
	e.states[peerID] = st
	e.mu.Unlock()

	if prev != st {
		util.LogDebug("[%s] state %s -> %s", peerID, stateOrIdle(prev), st)
	}
}

func (e *Engine) setManual(peerID string, manual bool) {
	e.mu.Lock()
	e.manual[peerID] = manual
	e.mu.Unlock()
}

func (e *Engine) isManual(peerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manual[peerID]
}

func stateOrIdle(st State) State {
	if st == "" {
		return StateIdle
	}
	return st
}

// wrapEvents tracks the connected state before handing events to the
// application.
func (e *Engine) wrapEvents(ev session.Events) session.Events {
	return session.Events{
		OnMessage: ev.OnMessage,
		OnOpen: func(peerID string) {
			e.setState(peerID, StateConnected)
			if ev.OnOpen != nil {
				ev.OnOpen(peerID)
			}
		},
		OnClose: func(peerID string) {
			e.mu.Lock()
			if e.states[peerID] == StateConnected {
				e.states[peerID] = StateIdle
			}
			e.mu.Unlock()
			if ev.OnClose != nil {
				ev.OnClose(peerID)
			}
		},
		OnError: ev.OnError,
	}
}

// onLocalCandidate trickles a gathered candidate to the peer. Manual codes
// wait for gathering to finish and carry every candidate in the
// description, so manual peers need no separate candidate codes unless the
// relay drops mid-negotiation.
func (e *Engine) onLocalCandidate(peerID string, c webrtc.ICECandidateInit) {
	if e.isManual(peerID) {
		return
	}
	if e.relay.Send(peerID, protocol.SignalCandidate, c) {
		return
	}

	code, err := protocol.EncodeCode(protocol.CodeCandidate, e.localID, c)
	if err != nil {
		util.LogPeer(peerID, "encode candidate code: %v", err)
		return
	}
	util.Stats.AddFallback()
	e.prompter.ShowCode(peerID, code, "relay unavailable, hand this candidate to the peer")
}

// offlineRelay stands in when no relay is configured.
type offlineRelay struct{}

func (offlineRelay) Connect(context.Context) error { return errNoRelay }
func (offlineRelay) Connected() bool               { return false }

func (offlineRelay) Send(string, protocol.SignalType, any) bool {
	return false
}

// surfaceDescription waits for ICE gathering, then encodes the committed
// local description as a manual code and shows it.
func (e *Engine) surfaceDescription(ctx context.Context, peerID string, t protocol.CodeType, reason string) (string, error) {
	s, ok := e.registry.Lookup(peerID)
	if !ok {
		return "", fmt.Errorf("[%s] session closed before code was ready", peerID)
	}

	select {
	case <-s.Conn.GatheringComplete():
	case <-ctx.Done():
		return "", fmt.Errorf("[%s] wait for ICE gathering: %w", peerID, ctx.Err())
	case <-e.ctx.Done():
		return "", fmt.Errorf("[%s] wait for ICE gathering: %w", peerID, e.ctx.Err())
	}

	local := s.Conn.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("[%s] no local description committed", peerID)
	}

	code, err := protocol.EncodeCode(t, e.localID, local)
	if err != nil {
		return "", fmt.Errorf("[%s] %w", peerID, err)
	}
	e.prompter.ShowCode(peerID, code, reason)
	return code, nil
}
