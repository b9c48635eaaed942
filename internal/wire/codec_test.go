package wire

import (
	"errors"
	"reflect"
	"testing"

	"geosync/internal/clock"
	"geosync/internal/crdt"
	"geosync/internal/delta"
	"geosync/internal/multivector"
	"geosync/internal/session"
)

func roundTrip(t *testing.T, msg session.Message) session.Message {
	t.Helper()
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return got
}

func TestRoundTrip_Hello(t *testing.T) {
	msg := session.Message{
		ID:     7,
		Sender: "A",
		Payload: session.Hello{
			Info: session.PeerInfo{ID: "A", Addr: "a:9000", ProtocolVersion: 1},
		},
		Clock:     clock.VectorClock{"A": 3, "B": 1},
		Timestamp: 1700000000000,
	}

	got := roundTrip(t, msg)
	if !reflect.DeepEqual(got, msg) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, msg)
	}
}

func TestRoundTrip_EmptyPayloads(t *testing.T) {
	for _, p := range []session.Payload{session.Heartbeat{}, session.ClockRequest{}} {
		msg := session.Message{
			ID:      1,
			Sender:  "A",
			Payload: p,
			Clock:   clock.VectorClock{"A": 1},
		}
		got := roundTrip(t, msg)
		if got.Payload.Kind() != p.Kind() {
			t.Errorf("expected %s, got %s", p.Kind(), got.Payload.Kind())
		}
	}
}

func TestRoundTrip_DeltaResponse(t *testing.T) {
	batch := delta.NewBatch()
	batch.Push(delta.Compute(
		multivector.Vector(1, 0, 0), multivector.Vector(1, 2, 0),
		clock.VectorClock{"A": 1}, clock.VectorClock{"A": 2}, "A"))

	msg := session.Message{
		ID:      2,
		Sender:  "A",
		Payload: session.DeltaResponse{Batch: *batch},
		Clock:   clock.VectorClock{"A": 2},
	}

	got := roundTrip(t, msg)
	dr, ok := got.Payload.(session.DeltaResponse)
	if !ok {
		t.Fatalf("expected DeltaResponse, got %T", got.Payload)
	}
	if dr.Batch.Len() != 1 {
		t.Fatalf("expected 1 delta, got %d", dr.Batch.Len())
	}
	d := dr.Batch.Deltas[0]
	if d.Encoding != delta.Additive || d.SourceNode != "A" {
		t.Errorf("delta fields lost in transit: %+v", d)
	}
	if !multivector.ApproxEqual(d.Transform, multivector.Vector(0, 2, 0), 0) {
		t.Errorf("transform lost in transit: %v", d.Transform)
	}
}

func TestRoundTrip_FullState(t *testing.T) {
	r := crdt.NewReplica("A")
	if _, err := r.CreateOperation(multivector.Vector(1, 0, 0), crdt.OpAdd); err != nil {
		t.Fatal(err)
	}

	msg := session.Message{
		ID:     3,
		Sender: "A",
		Payload: session.FullState{
			State:      r.State(),
			Clock:      r.Clock(),
			Operations: r.Operations(),
		},
		Clock: r.Clock(),
	}

	got := roundTrip(t, msg)
	fs, ok := got.Payload.(session.FullState)
	if !ok {
		t.Fatalf("expected FullState, got %T", got.Payload)
	}
	if len(fs.Operations) != 1 || fs.Operations[0].Type != crdt.OpAdd {
		t.Fatalf("operations lost in transit: %+v", fs.Operations)
	}
	rebuilt, err := crdt.FromOperations("B", fs.Operations)
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if !multivector.ApproxEqual(rebuilt.State(), fs.State, 0) {
		t.Errorf("replayed state %v disagrees with carried state %v", rebuilt.State(), fs.State)
	}
}

func TestRoundTrip_Consensus(t *testing.T) {
	msg := session.Message{
		ID:      4,
		Sender:  "A",
		Payload: session.Propose{Round: 9, Value: multivector.Vector(1, 2, 3)},
		Clock:   clock.VectorClock{"A": 4},
	}
	got := roundTrip(t, msg)
	if !reflect.DeepEqual(got.Payload, msg.Payload) {
		t.Errorf("propose mismatch: %+v", got.Payload)
	}

	msg.Payload = session.Vote{Round: 9, Accept: true}
	got = roundTrip(t, msg)
	if !reflect.DeepEqual(got.Payload, msg.Payload) {
		t.Errorf("vote mismatch: %+v", got.Payload)
	}
}

func TestEncode_NilPayload(t *testing.T) {
	_, err := Encode(session.Message{ID: 1, Sender: "A"})
	if !errors.Is(err, session.ErrUnknownPayload) {
		t.Fatalf("expected ErrUnknownPayload, got %v", err)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"id":1,"sender":"A","type":"carrier_pigeon","clock":{}}`))
	if !errors.Is(err, session.ErrUnknownPayload) {
		t.Fatalf("expected ErrUnknownPayload, got %v", err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Error("malformed envelope should fail")
	}
	if _, err := Decode([]byte(`{"id":1,"type":"ack","payload":"not-an-object","clock":{}}`)); err == nil {
		t.Error("malformed payload body should fail")
	}
}

func TestDecode_MissingClock(t *testing.T) {
	msg, err := Decode([]byte(`{"id":1,"sender":"A","type":"heartbeat"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Clock == nil {
		t.Error("missing clock should decode to an empty clock, not nil")
	}
}
