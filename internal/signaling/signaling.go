// Package signaling negotiates peer connections. Offers, answers and ICE
// candidates travel through the relay when it is reachable; otherwise the
// engine degrades to manual codes the user copies between peers.
package signaling

import (
	"context"
	"errors"

	"github.com/1ureka/peerchat/internal/protocol"
)

var (
	// ErrOfferNotAccepted is returned by ConsumeCode for OFFER codes. Offers
	// are answered through AcceptManualOffer.
	ErrOfferNotAccepted = errors.New("offer codes are not consumed here, use accept")

	// ErrUnexpectedCode is returned when a manual code has the wrong type for
	// the operation.
	ErrUnexpectedCode = errors.New("unexpected manual code type")

	// ErrOwnCode is returned when a pasted code was produced by this peer.
	ErrOwnCode = errors.New("code was produced by this peer")
)

// State is the negotiation state of one peer.
type State string

const (
	StateIdle           State = "idle"
	StateOffering       State = "offering"
	StateAwaitingAnswer State = "awaiting-answer"
	StateConnected      State = "connected"
)

// Prompter surfaces manual codes and warnings to the user.
type Prompter interface {
	// ShowCode displays a code the user must hand to peerID out of band.
	ShowCode(peerID, code, reason string)
	// Warn displays a user-visible warning.
	Warn(msg string)
}

// Relay is the best-effort signaling link. relay.Client implements it.
type Relay interface {
	Connect(ctx context.Context) error
	Connected() bool
	Send(receiverID string, typ protocol.SignalType, payload any) bool
}

// RelayFactory builds the relay link given the handler that receives its
// inbound frames. The engine supplies the handler, so the link is created
// by the engine rather than handed to it.
type RelayFactory func(handler func(msg *protocol.Signal)) Relay

// nopPrompter is used when no prompter is configured.
type nopPrompter struct{}

func (nopPrompter) ShowCode(string, string, string) {}
func (nopPrompter) Warn(string)                     {}
