package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peerchat/internal/protocol"
	"github.com/1ureka/peerchat/internal/util"
)

// CreateAutomaticOffer negotiates with peerID through the relay. When the
// relay cannot deliver the offer, the committed offer is surfaced as an
// OFFER code and also returned; otherwise the returned code is empty.
func (e *Engine) CreateAutomaticOffer(ctx context.Context, peerID string) (string, error) {
	if err := e.relay.Connect(ctx); err != nil {
		util.LogDebug("[%s] relay connect: %v", peerID, err)
	}
	e.setManual(peerID, !e.relay.Connected())

	offer, err := e.commitOffer(peerID)
	if err != nil {
		return "", err
	}

	if e.relay.Send(peerID, protocol.SignalOffer, offer) {
		util.LogInfo("[%s] offer sent through relay", peerID)
		return "", nil
	}

	util.Stats.AddFallback()
	util.LogWarning("[%s] relay could not deliver the offer, falling back to a manual code", peerID)
	e.setManual(peerID, true)
	return e.surfaceDescription(ctx, peerID, protocol.CodeOffer, "relay unavailable, hand this offer to the peer")
}

// commitOffer creates the offering side of the session: the outbound
// channel, then an offer committed as local description.
func (e *Engine) commitOffer(peerID string) (webrtc.SessionDescription, error) {
	s, err := e.registry.GetOrCreate(peerID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if _, err := s.EnsureChannel(e.label); err != nil {
		util.LogPeer(peerID, "%v", err)
		return webrtc.SessionDescription{}, fmt.Errorf("[%s] %w", peerID, err)
	}

	e.setState(peerID, StateOffering)

	offer, err := s.Conn.CreateOffer()
	if err != nil {
		util.LogPeer(peerID, "create offer: %v", err)
		return webrtc.SessionDescription{}, fmt.Errorf("[%s] create offer: %w", peerID, err)
	}
	if err := s.Conn.SetLocalDescription(offer); err != nil {
		util.LogPeer(peerID, "commit offer: %v", err)
		return webrtc.SessionDescription{}, fmt.Errorf("[%s] commit offer: %w", peerID, err)
	}

	e.setState(peerID, StateAwaitingAnswer)
	return offer, nil
}

// commitAnswer applies a remote offer and commits the local answer.
func (e *Engine) commitAnswer(peerID string, payload json.RawMessage) (webrtc.SessionDescription, error) {
	offer, err := decodeDescription(payload, webrtc.SDPTypeOffer)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("[%s] %w", peerID, err)
	}

	s, err := e.registry.GetOrCreate(peerID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := s.Conn.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("[%s] apply offer: %w", peerID, err)
	}
	answer, err := s.Conn.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("[%s] create answer: %w", peerID, err)
	}
	if err := s.Conn.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("[%s] commit answer: %w", peerID, err)
	}
	return answer, nil
}

// decodeDescription parses a session description and checks its type.
func decodeDescription(payload json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var sdp webrtc.SessionDescription
	if err := json.Unmarshal(payload, &sdp); err != nil {
		return sdp, fmt.Errorf("decode %s: %w", want, err)
	}
	if sdp.Type != want {
		return sdp, fmt.Errorf("decode %s: got description of type %s", want, sdp.Type)
	}
	if sdp.SDP == "" {
		return sdp, fmt.Errorf("decode %s: empty SDP", want)
	}
	return sdp, nil
}
