// Package protocol defines the wire formats used by peerchat: relay
// signaling frames, manual exchange codes and chat messages.
package protocol

import "encoding/json"

// SignalType identifies the kind of relay signaling message.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
)

// Signal is the JSON frame exchanged through the relay. Payload holds a
// JSON-encoded SessionDescription (offer/answer) or ICECandidateInit
// (candidate).
type Signal struct {
	Type       SignalType      `json:"type"`
	SenderID   string          `json:"senderID"`
	ReceiverID string          `json:"receiverID,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// AddressedTo reports whether the frame should be accepted by localID.
// An empty receiver means broadcast.
func (s *Signal) AddressedTo(localID string) bool {
	return s.ReceiverID == "" || s.ReceiverID == localID
}

// ChatMessage is the payload sent over an open data channel.
type ChatMessage struct {
	SenderID string `json:"senderID"`
	Text     string `json:"text"`
}
