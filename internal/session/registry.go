// Package session tracks one negotiation-capable connection and its message
// channel per remote peer, and surfaces channel events to the application.
package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"

	"github.com/1ureka/peerchat/internal/transport"
	"github.com/1ureka/peerchat/internal/util"
)

// Status is the user-facing connection status of a peer.
type Status string

const (
	StatusNone       Status = "none"
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosing    Status = "closing"
	StatusClosed     Status = "closed"
)

// Hooks are the callbacks the registry installs on every new connection.
type Hooks struct {
	// OnCandidate receives every local ICE candidate gathered for a peer.
	OnCandidate func(peerID string, candidate webrtc.ICECandidateInit)

	// OnChannel receives every channel bound to a peer, whether created
	// locally by EnsureChannel or announced by the remote side.
	OnChannel func(peerID string, ch transport.Channel)
}

// Session is the per-peer bundle of connection and channel. PeerID and Conn
// never change after creation.
type Session struct {
	PeerID string
	Conn   transport.Conn

	mu        sync.Mutex
	channel   transport.Channel
	onChannel func(peerID string, ch transport.Channel)
}

// Channel returns the peer's message channel, or nil if none exists yet.
func (s *Session) Channel() transport.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// EnsureChannel creates the outbound channel unless one already exists.
// The side that creates the channel is the offering side.
func (s *Session) EnsureChannel(label string) (transport.Channel, error) {
	s.mu.Lock()
	if s.channel != nil {
		ch := s.channel
		s.mu.Unlock()
		return ch, nil
	}

	ch, err := s.Conn.CreateDataChannel(label)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	s.channel = ch
	s.mu.Unlock()

	s.announce(ch)
	return ch, nil
}

// HasRemoteAnswer reports whether an answer is already committed as the
// remote description.
func (s *Session) HasRemoteAnswer() bool {
	rd := s.Conn.RemoteDescription()
	return rd != nil && rd.Type == webrtc.SDPTypeAnswer
}

// adoptChannel stores a channel announced by the remote side. A later
// inbound channel replaces an earlier one, matching the browser behaviour
// when both sides offer at once.
func (s *Session) adoptChannel(ch transport.Channel) {
	s.mu.Lock()
	if s.channel != nil {
		util.LogDebug("[%s] inbound channel %q replaces existing channel", s.PeerID, ch.Label())
	}
	s.channel = ch
	s.mu.Unlock()

	s.announce(ch)
}

func (s *Session) announce(ch transport.Channel) {
	if s.onChannel != nil {
		s.onChannel(s.PeerID, ch)
	}
}

// status derives the peer status from the channel state, falling back to
// the connection state while no channel exists.
func (s *Session) status() Status {
	if ch := s.Channel(); ch != nil {
		switch ch.ReadyState() {
		case webrtc.DataChannelStateOpen:
			return StatusOpen
		case webrtc.DataChannelStateClosing:
			return StatusClosing
		case webrtc.DataChannelStateClosed:
			return StatusClosed
		default:
			return StatusConnecting
		}
	}
	if s.Conn.ConnectionState() == webrtc.PeerConnectionStateConnecting {
		return StatusConnecting
	}
	return StatusNone
}

// release closes the channel first, then the connection.
func (s *Session) release() error {
	s.mu.Lock()
	ch := s.channel
	s.channel = nil
	s.mu.Unlock()

	var chErr error
	if ch != nil {
		chErr = ch.Close()
	}
	return errors.Join(chErr, s.Conn.Close())
}

// Registry maps peer ids to sessions. At most one session exists per peer.
type Registry struct {
	newConn transport.Factory
	hooks   Hooks

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry that builds connections with
// newConn and installs hooks on each of them.
func NewRegistry(newConn transport.Factory, hooks Hooks) *Registry {
	return &Registry{
		newConn:  newConn,
		hooks:    hooks,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the existing session for peerID, or creates the
// connection, installs the candidate and inbound-channel callbacks, and
// stores it. Creation happens exactly once per peer.
func (r *Registry) GetOrCreate(peerID string) (*Session, error) {
	if peerID == "" {
		return nil, errors.New("empty peer id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[peerID]; ok {
		return s, nil
	}

	conn, err := r.newConn()
	if err != nil {
		return nil, fmt.Errorf("[%s] create connection: %w", peerID, err)
	}

	s := &Session{PeerID: peerID, Conn: conn, onChannel: r.hooks.OnChannel}

	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		if r.hooks.OnCandidate != nil {
			r.hooks.OnCandidate(peerID, c)
		}
	})
	conn.OnDataChannel(func(ch transport.Channel) {
		util.LogDebug("[%s] inbound channel %q", peerID, ch.Label())
		s.adoptChannel(ch)
	})

	r.sessions[peerID] = s
	util.LogDebug("[%s] session created", peerID)
	return s, nil
}

// Lookup returns the session for peerID without creating one.
func (r *Registry) Lookup(peerID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[peerID]
	return s, ok
}

// Peers returns the registered peer ids in lexical order.
func (r *Registry) Peers() []string {
	r.mu.Lock()
	ids := lo.Keys(r.sessions)
	r.mu.Unlock()

	slices.Sort(ids)
	return ids
}

// Status reports the peer's status; StatusNone when no session exists.
func (r *Registry) Status(peerID string) Status {
	s, ok := r.Lookup(peerID)
	if !ok {
		return StatusNone
	}
	return s.status()
}

// Close releases the peer's channel and connection and forgets the session.
// It is a no-op when no session exists.
func (r *Registry) Close(peerID string) {
	r.mu.Lock()
	s, ok := r.sessions[peerID]
	delete(r.sessions, peerID)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := s.release(); err != nil {
		util.LogWarning("[%s] close session: %v", peerID, err)
	}
	util.LogDebug("[%s] session closed", peerID)
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	for _, id := range r.Peers() {
		r.Close(id)
	}
}
