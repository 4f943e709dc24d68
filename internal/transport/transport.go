// Package transport exposes the peer-connection and data-channel capability
// the negotiation core orchestrates, with a pion/webrtc implementation.
package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

const (
	highWaterMark = 256 * 1024 // refuse sends while bufferedAmount exceeds this
)

// ErrBackpressure is returned by Channel.SendText when the send buffer is full.
var ErrBackpressure = errors.New("data channel send buffer full")

// Conn is a negotiation-capable connection to one remote peer.
type Conn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	// AddICECandidate applies a remote candidate. Candidates that arrive
	// before the remote description are buffered and applied with it.
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	// GatheringComplete is closed once local ICE gathering has finished, at
	// which point LocalDescription carries every local candidate.
	GatheringComplete() <-chan struct{}

	// CreateDataChannel opens the outbound message channel.
	CreateDataChannel(label string) (Channel, error)

	// OnICECandidate is invoked for every gathered local candidate. The
	// end-of-gathering signal is filtered out.
	OnICECandidate(fn func(webrtc.ICECandidateInit))

	// OnDataChannel is invoked when the remote side opens a channel.
	OnDataChannel(fn func(Channel))

	ConnectionState() webrtc.PeerConnectionState
	Close() error
}

// Channel is a bidirectional message channel bound to a Conn.
type Channel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	SendText(s string) error
	OnOpen(fn func())
	OnClose(fn func())
	OnError(fn func(error))
	OnMessage(fn func([]byte))
	Close() error
}

// Factory creates a new Conn. The session registry calls it once per peer.
type Factory func() (Conn, error)

// Option tunes the pion API behind a Factory.
type Option func(*webrtc.SettingEngine)

// WithLoopbackCandidates gathers candidates on loopback interfaces too, so
// two peers on one host can connect without a LAN address.
func WithLoopbackCandidates() Option {
	return func(se *webrtc.SettingEngine) {
		se.SetIncludeLoopbackCandidate(true)
	}
}

// NewFactory returns a Factory producing pion-backed connections that use
// the given ICE servers.
func NewFactory(iceServers []string, opts ...Option) Factory {
	servers := append([]string(nil), iceServers...)

	var se webrtc.SettingEngine
	for _, opt := range opts {
		opt(&se)
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	return func() (Conn, error) {
		pc, err := newPeerConnection(api, servers)
		if err != nil {
			return nil, fmt.Errorf("create PeerConnection: %w", err)
		}
		return newPeerConn(pc), nil
	}
}

// ---------------------------------------------------------------------------
// pion PeerConnection
// ---------------------------------------------------------------------------

type peerConn struct {
	pc *webrtc.PeerConnection

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState

	// pending holds remote candidates received before the remote description.
	candMu  sync.Mutex
	pending []webrtc.ICECandidateInit
}

func newPeerConn(pc *webrtc.PeerConnection) *peerConn {
	c := &peerConn{pc: pc, pcState: webrtc.PeerConnectionStateNew}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.mu.Lock()
		c.pcState = state
		c.mu.Unlock()
	})

	return c
}

func (c *peerConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *peerConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *peerConn) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(sdp)
}

func (c *peerConn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	c.candMu.Lock()
	defer c.candMu.Unlock()

	if err := c.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}

	pending := c.pending
	c.pending = nil
	var errs []error
	for _, candidate := range pending {
		if err := c.pc.AddICECandidate(candidate); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("apply %d buffered candidates: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (c *peerConn) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *peerConn) RemoteDescription() *webrtc.SessionDescription {
	return c.pc.RemoteDescription()
}

func (c *peerConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.candMu.Lock()
	defer c.candMu.Unlock()

	if c.pc.RemoteDescription() == nil {
		c.pending = append(c.pending, candidate)
		return nil
	}
	return c.pc.AddICECandidate(candidate)
}

func (c *peerConn) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(c.pc)
}

func (c *peerConn) CreateDataChannel(label string) (Channel, error) {
	dc, err := newDataChannel(c.pc, label)
	if err != nil {
		return nil, err
	}
	return newDataChannelWrapper(dc), nil
}

func (c *peerConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			fn(candidate.ToJSON())
		}
	})
}

func (c *peerConn) OnDataChannel(fn func(Channel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(newDataChannelWrapper(dc))
	})
}

// ConnectionState returns the last observed PeerConnection state.
func (c *peerConn) ConnectionState() webrtc.PeerConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pcState
}

func (c *peerConn) Close() error {
	return c.pc.Close()
}

// ---------------------------------------------------------------------------
// pion DataChannel
// ---------------------------------------------------------------------------

type dataChannel struct {
	raw *webrtc.DataChannel
}

func newDataChannelWrapper(raw *webrtc.DataChannel) *dataChannel {
	return &dataChannel{raw: raw}
}

func (d *dataChannel) Label() string                       { return d.raw.Label() }
func (d *dataChannel) ReadyState() webrtc.DataChannelState { return d.raw.ReadyState() }
func (d *dataChannel) OnOpen(fn func())                    { d.raw.OnOpen(fn) }
func (d *dataChannel) OnClose(fn func())                   { d.raw.OnClose(fn) }
func (d *dataChannel) OnError(fn func(error))              { d.raw.OnError(fn) }
func (d *dataChannel) Close() error                        { return d.raw.Close() }

// SendText writes a text frame unless the send buffer is above the high
// water mark, in which case ErrBackpressure is returned.
func (d *dataChannel) SendText(s string) error {
	if d.raw.BufferedAmount() > uint64(highWaterMark) {
		return ErrBackpressure
	}
	return d.raw.SendText(s)
}

func (d *dataChannel) OnMessage(fn func([]byte)) {
	d.raw.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}
