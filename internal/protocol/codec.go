package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CodeType is the leading segment of a manual exchange code.
type CodeType string

const (
	CodeOffer     CodeType = "OFFER"
	CodeAnswer    CodeType = "ANSWER"
	CodeCandidate CodeType = "CANDIDATE"

	// codeCandidateAlias is the German spelling older clients emit.
	codeCandidateAlias = "KANDIDAT"

	codeSeparator = ":"
	codeParts     = 3
)

var (
	ErrMalformedCode   = errors.New("malformed code: expected TYPE:ID:{JSON payload}")
	ErrUnknownCodeType = errors.New("unknown code type")
	ErrInvalidPayload  = errors.New("invalid code payload")
)

// Code is a decoded manual exchange code.
type Code struct {
	Type     CodeType
	SenderID string
	Payload  json.RawMessage
}

// SignalType maps the code type to its relay counterpart.
func (c Code) SignalType() SignalType {
	switch c.Type {
	case CodeOffer:
		return SignalOffer
	case CodeAnswer:
		return SignalAnswer
	default:
		return SignalCandidate
	}
}

// CodeTypeOf returns the manual code type for a relay signal type.
func CodeTypeOf(t SignalType) CodeType {
	switch t {
	case SignalOffer:
		return CodeOffer
	case SignalAnswer:
		return CodeAnswer
	default:
		return CodeCandidate
	}
}

// EncodeCode renders TYPE:SENDERID:JSON(payload). The sender id must not
// contain the separator, otherwise the code could not be split back.
func EncodeCode(t CodeType, senderID string, payload any) (string, error) {
	if senderID == "" || strings.Contains(senderID, codeSeparator) {
		return "", fmt.Errorf("encode %s code: invalid sender id %q", t, senderID)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s code: %w", t, err)
	}

	return string(t) + codeSeparator + senderID + codeSeparator + string(data), nil
}

// DecodeCode parses a manual exchange code. The input is split into at most
// three segments; every colon after the second belongs to the JSON payload.
func DecodeCode(raw string) (Code, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), codeSeparator, codeParts)
	if len(parts) < codeParts {
		return Code{}, ErrMalformedCode
	}

	t, err := parseCodeType(parts[0])
	if err != nil {
		return Code{}, err
	}

	payload := []byte(parts[2])
	if !json.Valid(payload) {
		return Code{}, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}

	return Code{
		Type:     t,
		SenderID: parts[1],
		Payload:  json.RawMessage(payload),
	}, nil
}

func parseCodeType(s string) (CodeType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(CodeOffer):
		return CodeOffer, nil
	case string(CodeAnswer):
		return CodeAnswer, nil
	case string(CodeCandidate), codeCandidateAlias:
		return CodeCandidate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCodeType, s)
	}
}

// EncodeChat serializes a chat message for the data channel.
func EncodeChat(senderID, text string) ([]byte, error) {
	return json.Marshal(ChatMessage{SenderID: senderID, Text: text})
}

// DecodeChat parses a data channel frame into a chat message.
func DecodeChat(data []byte) (*ChatMessage, error) {
	var msg ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode chat message (%d bytes): %w", len(data), err)
	}
	return &msg, nil
}
