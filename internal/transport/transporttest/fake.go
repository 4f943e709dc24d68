// Package transporttest provides in-memory fakes of the transport
// capability for unit tests.
package transporttest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerchat/internal/transport"
)

// Compile-time interface checks.
var (
	_ transport.Conn    = (*Conn)(nil)
	_ transport.Channel = (*Channel)(nil)
)

// ErrClosed is returned by operations on a closed fake.
var ErrClosed = errors.New("fake closed")

// Factory hands out fake connections and remembers them in creation order.
type Factory struct {
	mu    sync.Mutex
	conns []*Conn

	// Err, when set, makes New fail.
	Err error
}

// New implements transport.Factory.
func (f *Factory) New() (transport.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	c := NewConn()
	f.conns = append(f.conns, c)
	return c, nil
}

// Conns returns every connection created so far.
func (f *Factory) Conns() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Conn(nil), f.conns...)
}

// Conn is a fake negotiation-capable connection. Descriptions are opaque
// strings; candidates are recorded as given.
type Conn struct {
	mu sync.Mutex

	seq        int
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	remoteSets int
	candidates []webrtc.ICECandidateInit
	channels   []*Channel
	state      webrtc.PeerConnectionState
	closed     bool

	onCandidate   func(webrtc.ICECandidateInit)
	onDataChannel func(transport.Channel)

	// Injected failures.
	ErrCreateOffer  error
	ErrCreateAnswer error
	ErrSetLocal     error
	ErrSetRemote    error
	ErrAddCandidate error
}

// NewConn returns a fresh fake connection in the "new" state.
func NewConn() *Conn {
	return &Conn{state: webrtc.PeerConnectionStateNew}
}

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ErrCreateOffer != nil {
		return webrtc.SessionDescription{}, c.ErrCreateOffer
	}
	c.seq++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("v=0\r\no=fake %d 0 IN IP4 127.0.0.1\r\na=fingerprint:sha-256 AB:CD\r\n", c.seq),
	}, nil
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ErrCreateAnswer != nil {
		return webrtc.SessionDescription{}, c.ErrCreateAnswer
	}
	if c.remote == nil || c.remote.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, errors.New("fake: answer without remote offer")
	}
	c.seq++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("v=0\r\no=fake-answer %d 0 IN IP4 127.0.0.1\r\n", c.seq),
	}, nil
}

func (c *Conn) SetLocalDescription(sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ErrSetLocal != nil {
		return c.ErrSetLocal
	}
	c.local = &sdp
	c.state = webrtc.PeerConnectionStateConnecting
	return nil
}

func (c *Conn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ErrSetRemote != nil {
		return c.ErrSetRemote
	}
	c.remote = &sdp
	c.remoteSets++
	return nil
}

func (c *Conn) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Conn) RemoteDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Conn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ErrAddCandidate != nil {
		return c.ErrAddCandidate
	}
	c.candidates = append(c.candidates, candidate)
	return nil
}

// GatheringComplete is always complete: fakes gather nothing on their own.
func (c *Conn) GatheringComplete() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

func (c *Conn) CreateDataChannel(label string) (transport.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	ch := NewChannel(label)
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *Conn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onCandidate = fn
	c.mu.Unlock()
}

func (c *Conn) OnDataChannel(fn func(transport.Channel)) {
	c.mu.Lock()
	c.onDataChannel = fn
	c.mu.Unlock()
}

func (c *Conn) ConnectionState() webrtc.PeerConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.state = webrtc.PeerConnectionStateClosed
	return nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// EmitCandidate simulates the discovery of a local ICE candidate.
func (c *Conn) EmitCandidate(candidate webrtc.ICECandidateInit) {
	c.mu.Lock()
	fn := c.onCandidate
	c.mu.Unlock()
	if fn != nil {
		fn(candidate)
	}
}

// EmitDataChannel simulates the remote side opening a channel.
func (c *Conn) EmitDataChannel(ch *Channel) {
	c.mu.Lock()
	fn := c.onDataChannel
	c.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
}

// SetState forces the reported connection state.
func (c *Conn) SetState(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// RemoteSets returns how many times a remote description was applied.
func (c *Conn) RemoteSets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSets
}

// Candidates returns the remote candidates added so far.
func (c *Conn) Candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

// Channels returns the outbound channels created on this connection.
func (c *Conn) Channels() []*Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Channel(nil), c.channels...)
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Channel is a fake message channel. It starts in the "connecting" state;
// tests drive it with Open, Deliver, Fail and Close.
type Channel struct {
	mu sync.Mutex

	label string
	state webrtc.DataChannelState
	sent  []string

	onOpen    func()
	onClose   func()
	onError   func(error)
	onMessage func([]byte)
}

// NewChannel returns a connecting fake channel.
func NewChannel(label string) *Channel {
	return &Channel{label: label, state: webrtc.DataChannelStateConnecting}
}

func (ch *Channel) Label() string { return ch.label }

func (ch *Channel) ReadyState() webrtc.DataChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) SendText(s string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.state != webrtc.DataChannelStateOpen {
		return ErrClosed
	}
	ch.sent = append(ch.sent, s)
	return nil
}

func (ch *Channel) OnOpen(fn func()) {
	ch.mu.Lock()
	ch.onOpen = fn
	ch.mu.Unlock()
}

func (ch *Channel) OnClose(fn func()) {
	ch.mu.Lock()
	ch.onClose = fn
	ch.mu.Unlock()
}

func (ch *Channel) OnError(fn func(error)) {
	ch.mu.Lock()
	ch.onError = fn
	ch.mu.Unlock()
}

func (ch *Channel) OnMessage(fn func([]byte)) {
	ch.mu.Lock()
	ch.onMessage = fn
	ch.mu.Unlock()
}

func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.state == webrtc.DataChannelStateClosed {
		ch.mu.Unlock()
		return nil
	}
	ch.state = webrtc.DataChannelStateClosed
	fn := ch.onClose
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// Open moves the channel to "open" and fires the open handler.
func (ch *Channel) Open() {
	ch.mu.Lock()
	ch.state = webrtc.DataChannelStateOpen
	fn := ch.onOpen
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Deliver fires the message handler with data.
func (ch *Channel) Deliver(data []byte) {
	ch.mu.Lock()
	fn := ch.onMessage
	ch.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// Fail fires the error handler.
func (ch *Channel) Fail(err error) {
	ch.mu.Lock()
	fn := ch.onError
	ch.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Sent returns every text frame written so far.
func (ch *Channel) Sent() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]string(nil), ch.sent...)
}
