package signaling

import (
	"context"
	"fmt"

	"github.com/1ureka/peerchat/internal/protocol"
	"github.com/1ureka/peerchat/internal/util"
)

// CreateManualOffer commits an offer for peerID without using the relay and
// returns it as an OFFER code once ICE gathering has finished.
func (e *Engine) CreateManualOffer(ctx context.Context, peerID string) (string, error) {
	e.setManual(peerID, true)
	if _, err := e.commitOffer(peerID); err != nil {
		return "", err
	}
	return e.surfaceDescription(ctx, peerID, protocol.CodeOffer, "hand this offer to the peer")
}

// ConsumeCode applies an ANSWER or CANDIDATE code pasted by the user. A code
// that does not decode leaves every session untouched. OFFER codes are
// rejected with ErrOfferNotAccepted; AcceptManualOffer answers them.
func (e *Engine) ConsumeCode(ctx context.Context, raw string) error {
	code, err := protocol.DecodeCode(raw)
	if err != nil {
		e.prompter.Warn(fmt.Sprintf("invalid code: %v", err))
		return err
	}
	if code.SenderID == e.localID {
		return ErrOwnCode
	}

	switch code.Type {
	case protocol.CodeAnswer:
		if err := e.applyAnswer(code.SenderID, code.Payload); err != nil {
			util.LogPeer(code.SenderID, "%v", err)
			return err
		}
		return nil

	case protocol.CodeCandidate:
		if err := e.applyCandidate(code.SenderID, code.Payload); err != nil {
			util.LogPeer(code.SenderID, "%v", err)
			return err
		}
		return nil

	case protocol.CodeOffer:
		e.prompter.Warn(fmt.Sprintf("%s sent an offer; accept it to produce an answer code", code.SenderID))
		return ErrOfferNotAccepted

	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownCodeType, code.Type)
	}
}

// AcceptManualOffer answers an OFFER code and returns the ANSWER code for
// the offering peer.
func (e *Engine) AcceptManualOffer(ctx context.Context, raw string) (string, error) {
	code, err := protocol.DecodeCode(raw)
	if err != nil {
		e.prompter.Warn(fmt.Sprintf("invalid code: %v", err))
		return "", err
	}
	if code.SenderID == e.localID {
		return "", ErrOwnCode
	}
	if code.Type != protocol.CodeOffer {
		return "", fmt.Errorf("%w: want %s, got %s", ErrUnexpectedCode, protocol.CodeOffer, code.Type)
	}

	peerID := code.SenderID
	e.setManual(peerID, true)
	if _, err := e.commitAnswer(peerID, code.Payload); err != nil {
		util.LogPeer(peerID, "%v", err)
		return "", err
	}
	return e.surfaceDescription(ctx, peerID, protocol.CodeAnswer, "hand this answer back to the peer")
}
