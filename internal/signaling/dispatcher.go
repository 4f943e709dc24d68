package signaling

import (
	"context"
	"sync"

	"github.com/1ureka/peerchat/internal/protocol"
	"github.com/1ureka/peerchat/internal/util"
)

// InboxBufferSize is the number of relay frames buffered per peer before the
// relay read loop waits for that peer.
const InboxBufferSize = 64

// route is one peer's inbox and the goroutine draining it.
type route struct {
	inbox  chan *protocol.Signal
	ctx    context.Context
	cancel context.CancelFunc
}

// dispatcher maintains the peerID → inbox route table. The relay read loop
// calls deliver; each peer's frames are handled in arrival order on that
// peer's own goroutine.
type dispatcher struct {
	ctx    context.Context
	handle func(*protocol.Signal)

	mu         sync.Mutex
	routeTable map[string]*route
}

func newDispatcher(ctx context.Context, handle func(*protocol.Signal)) *dispatcher {
	return &dispatcher{
		ctx:        ctx,
		handle:     handle,
		routeTable: make(map[string]*route),
	}
}

// deliver queues msg on its sender's inbox, starting the peer goroutine on
// first contact.
func (d *dispatcher) deliver(msg *protocol.Signal) {
	if msg == nil || msg.SenderID == "" {
		util.LogDebug("dropping relay frame without sender")
		return
	}

	r, ok := d.getOrCreate(msg.SenderID)
	if !ok {
		return
	}

	select {
	case r.inbox <- msg:
		return
	default:
	}

	util.LogDebug("[%s] inbox full, relay read loop waiting", msg.SenderID)
	select {
	case r.inbox <- msg:
	case <-r.ctx.Done():
	}
}

// getOrCreate returns the peer's route, or creates it with its goroutine.
// It reports false once the dispatcher is stopped.
func (d *dispatcher) getOrCreate(peerID string) (*route, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx.Err() != nil {
		return nil, false
	}
	if r, exists := d.routeTable[peerID]; exists {
		return r, true
	}

	ctx, cancel := context.WithCancel(d.ctx)
	r := &route{
		inbox:  make(chan *protocol.Signal, InboxBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	d.routeTable[peerID] = r
	go d.drain(ctx, peerID, r.inbox)
	return r, true
}

// unregister stops the peer's goroutine. Frames still queued are discarded.
// The inbox is not closed; the goroutine exits via ctx.
func (d *dispatcher) unregister(peerID string) {
	d.mu.Lock()
	r, ok := d.routeTable[peerID]
	delete(d.routeTable, peerID)
	d.mu.Unlock()

	if ok {
		r.cancel()
	}
}

func (d *dispatcher) drain(ctx context.Context, peerID string, inbox <-chan *protocol.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-inbox:
			d.run(peerID, msg)
		}
	}
}

// run handles one frame; a panic is contained to this peer.
func (d *dispatcher) run(peerID string, msg *protocol.Signal) {
	defer func() {
		if r := recover(); r != nil {
			util.LogPeer(peerID, "signal handler panicked: %v", r)
		}
	}()
	d.handle(msg)
}
