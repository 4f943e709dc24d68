package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerchat/internal/protocol"
	"github.com/1ureka/peerchat/internal/util"
)

// handleInbound runs on the sending peer's inbox goroutine. Failures stay
// with that peer.
func (e *Engine) handleInbound(msg *protocol.Signal) {
	if err := e.HandleSignal(msg); err != nil {
		util.LogPeer(msg.SenderID, "handle %s: %v", msg.Type, err)
	}
}

// HandleSignal applies one relay frame synchronously. The relay path goes
// through the per-peer inbox; tests and manual entry points call it
// directly.
func (e *Engine) HandleSignal(msg *protocol.Signal) error {
	if msg == nil || msg.SenderID == "" {
		return errors.New("signal without sender")
	}
	peerID := msg.SenderID

	switch msg.Type {
	case protocol.SignalOffer:
		e.setManual(peerID, false)
		answer, err := e.commitAnswer(peerID, msg.Payload)
		if err != nil {
			return err
		}
		e.deliverAnswer(peerID, answer)
		return nil

	case protocol.SignalAnswer:
		return e.applyAnswer(peerID, msg.Payload)

	case protocol.SignalCandidate:
		return e.applyCandidate(peerID, msg.Payload)

	default:
		util.LogWarning("[%s] ignoring signal of unknown type %q", peerID, msg.Type)
		return nil
	}
}

// deliverAnswer relays the answer, or surfaces it as an ANSWER code so the
// responder can finish the negotiation by hand.
func (e *Engine) deliverAnswer(peerID string, answer webrtc.SessionDescription) {
	if e.relay.Send(peerID, protocol.SignalAnswer, answer) {
		util.LogInfo("[%s] answer sent through relay", peerID)
		return
	}

	util.Stats.AddFallback()
	util.LogWarning("[%s] relay could not deliver the answer, falling back to a manual code", peerID)
	e.setManual(peerID, true)
	if _, err := e.surfaceDescription(e.ctx, peerID, protocol.CodeAnswer, "relay unavailable, hand this answer to the peer"); err != nil {
		util.LogPeer(peerID, "%v", err)
	}
}

// applyAnswer commits a remote answer unless one is already committed.
// Answers can arrive twice when both the relay and a manual code deliver
// them.
func (e *Engine) applyAnswer(peerID string, payload json.RawMessage) error {
	answer, err := decodeDescription(payload, webrtc.SDPTypeAnswer)
	if err != nil {
		return fmt.Errorf("[%s] %w", peerID, err)
	}

	s, err := e.registry.GetOrCreate(peerID)
	if err != nil {
		return err
	}
	if s.HasRemoteAnswer() {
		util.LogDebug("[%s] duplicate answer ignored", peerID)
		return nil
	}

	if err := s.Conn.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("[%s] apply answer: %w", peerID, err)
	}
	util.LogInfo("[%s] answer applied", peerID)
	return nil
}

// applyCandidate adds a remote ICE candidate.
func (e *Engine) applyCandidate(peerID string, payload json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &candidate); err != nil {
		return fmt.Errorf("[%s] decode candidate: %w", peerID, err)
	}
	if candidate.Candidate == "" {
		return fmt.Errorf("[%s] decode candidate: empty candidate", peerID)
	}

	s, err := e.registry.GetOrCreate(peerID)
	if err != nil {
		return err
	}
	if err := s.Conn.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("[%s] add candidate: %w", peerID, err)
	}
	util.LogDebug("[%s] remote candidate added", peerID)
	return nil
}
