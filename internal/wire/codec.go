package wire

import (
	"encoding/json"
	"fmt"

	"geosync/internal/clock"
	"geosync/internal/session"
)

// Envelope is the JSON framing of a session message: the payload union is
// carried as a type tag plus a raw body.
type Envelope struct {
	ID        int64               `json:"id"`
	Sender    string              `json:"sender"`
	Type      session.PayloadType `json:"type"`
	Payload   json.RawMessage     `json:"payload,omitempty"`
	Clock     clock.VectorClock   `json:"clock"`
	Timestamp int64               `json:"timestamp"`
}

// Encode serializes a session message into its JSON envelope.
func Encode(msg session.Message) ([]byte, error) {
	if msg.Payload == nil {
		return nil, fmt.Errorf("encode: %w: nil", session.ErrUnknownPayload)
	}
	body, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.Payload.Kind(), err)
	}
	return json.Marshal(Envelope{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Type:      msg.Payload.Kind(),
		Payload:   body,
		Clock:     msg.Clock,
		Timestamp: msg.Timestamp,
	})
}

// Decode parses a JSON envelope back into a session message. A malformed
// envelope or an unknown payload type is an error; decoding never guesses.
func Decode(data []byte) (session.Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return session.Message{}, fmt.Errorf("decode envelope: %w", err)
	}

	payload, err := decodePayload(env.Type, env.Payload)
	if err != nil {
		return session.Message{}, err
	}

	c := env.Clock
	if c == nil {
		c = clock.New()
	}
	return session.Message{
		ID:        env.ID,
		Sender:    env.Sender,
		Payload:   payload,
		Clock:     c,
		Timestamp: env.Timestamp,
	}, nil
}

func decodePayload(t session.PayloadType, body json.RawMessage) (session.Payload, error) {
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}

	var target session.Payload
	switch t {
	case session.TypeHello:
		var p session.Hello
		target = &p
	case session.TypeClockRequest:
		return session.ClockRequest{}, nil
	case session.TypeClockResponse:
		var p session.ClockResponse
		target = &p
	case session.TypeDeltaRequest:
		var p session.DeltaRequest
		target = &p
	case session.TypeDeltaResponse:
		var p session.DeltaResponse
		target = &p
	case session.TypeFullState:
		var p session.FullState
		target = &p
	case session.TypeHeartbeat:
		return session.Heartbeat{}, nil
	case session.TypeAck:
		var p session.Ack
		target = &p
	case session.TypeGoodbye:
		var p session.Goodbye
		target = &p
	case session.TypePropose:
		var p session.Propose
		target = &p
	case session.TypeVote:
		var p session.Vote
		target = &p
	case session.TypeCommit:
		var p session.Commit
		target = &p
	default:
		return nil, fmt.Errorf("decode: %w: %q", session.ErrUnknownPayload, t)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return valueOf(target), nil
}

// valueOf unwraps the pointer unmarshal target back into the value type
// the session dispatch switches on.
func valueOf(p session.Payload) session.Payload {
	switch v := p.(type) {
	case *session.Hello:
		return *v
	case *session.ClockResponse:
		return *v
	case *session.DeltaRequest:
		return *v
	case *session.DeltaResponse:
		return *v
	case *session.FullState:
		return *v
	case *session.Ack:
		return *v
	case *session.Goodbye:
		return *v
	case *session.Propose:
		return *v
	case *session.Vote:
		return *v
	case *session.Commit:
		return *v
	default:
		return p
	}
}
