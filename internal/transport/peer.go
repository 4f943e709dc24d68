package transport

import (
	"github.com/pion/webrtc/v4"
)

// DefaultICEServers are used when no ICE servers are configured explicitly.
// No TURN: the relay only carries negotiation metadata, never chat payload.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newPeerConnection creates a PeerConnection configured with the given STUN
// servers. An empty list restricts gathering to host candidates.
func newPeerConnection(api *webrtc.API, iceServers []string) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{
			{URLs: iceServers},
		}
	}
	return api.NewPeerConnection(config)
}

// newDataChannel creates an ordered, in-band negotiated DataChannel. The
// offering side creates it; the answering side receives it through
// OnDataChannel, so channel ownership follows the offer direction.
func newDataChannel(pc *webrtc.PeerConnection, label string) (*webrtc.DataChannel, error) {
	ordered := true
	return pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
}
