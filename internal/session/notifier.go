package session

import (
	"sync"

	"github.com/1ureka/peerchat/internal/protocol"
	"github.com/1ureka/peerchat/internal/transport"
	"github.com/1ureka/peerchat/internal/util"
)

// Events is the application callback contract. OnMessage is required; the
// others are optional.
type Events struct {
	OnMessage func(senderID, text string)
	OnOpen    func(peerID string)
	OnClose   func(peerID string)
	OnError   func(peerID string, err error)
}

// Notifier wires channel events to Events. Every callback for one peer runs
// under that peer's lock, and a panicking callback is contained so other
// peers keep receiving events.
type Notifier struct {
	events Events

	mu    sync.Mutex
	ready map[string]bool
	locks map[string]*sync.Mutex
}

// NewNotifier creates a notifier dispatching to events.
func NewNotifier(events Events) *Notifier {
	return &Notifier{
		events: events,
		ready:  make(map[string]bool),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Attach installs open, message, close and error handlers on ch.
func (n *Notifier) Attach(peerID string, ch transport.Channel) {
	ch.OnOpen(func() {
		n.setReady(peerID, true)
		util.LogSuccess("[%s] data channel %q open", peerID, ch.Label())
		n.run(peerID, func() {
			if n.events.OnOpen != nil {
				n.events.OnOpen(peerID)
			}
		})
	})

	ch.OnMessage(func(data []byte) {
		msg, err := protocol.DecodeChat(data)
		if err != nil {
			util.LogPeer(peerID, "drop inbound frame: %v", err)
			return
		}
		util.Stats.AddChatRecv()
		n.run(peerID, func() {
			if n.events.OnMessage != nil {
				n.events.OnMessage(msg.SenderID, msg.Text)
			}
		})
	})

	ch.OnClose(func() {
		n.setReady(peerID, false)
		util.LogInfo("[%s] data channel %q closed", peerID, ch.Label())
		n.run(peerID, func() {
			if n.events.OnClose != nil {
				n.events.OnClose(peerID)
			}
		})
	})

	ch.OnError(func(err error) {
		util.LogPeer(peerID, "data channel error: %v", err)
		n.run(peerID, func() {
			if n.events.OnError != nil {
				n.events.OnError(peerID, err)
			}
		})
	})
}

// Ready reports whether the peer's channel has opened and not closed since.
func (n *Notifier) Ready(peerID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ready[peerID]
}

// Forget drops the per-peer bookkeeping after the session is closed.
func (n *Notifier) Forget(peerID string) {
	n.mu.Lock()
	delete(n.ready, peerID)
	delete(n.locks, peerID)
	n.mu.Unlock()
}

func (n *Notifier) setReady(peerID string, ready bool) {
	n.mu.Lock()
	n.ready[peerID] = ready
	n.mu.Unlock()
}

func (n *Notifier) lockFor(peerID string) *sync.Mutex {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.locks[peerID]
	if !ok {
		l = &sync.Mutex{}
		n.locks[peerID] = l
	}
	return l
}

// run executes fn under the peer's lock and recovers a panic from it.
func (n *Notifier) run(peerID string, fn func()) {
	l := n.lockFor(peerID)
	l.Lock()
	defer l.Unlock()

	defer func() {
		if r := recover(); r != nil {
			util.LogPeer(peerID, "application callback panicked: %v", r)
		}
	}()
	fn()
}
