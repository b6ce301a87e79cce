package telemetry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Avi0n/PocketMesh-sub005/internal/eventbus"
	"github.com/Avi0n/PocketMesh-sub005/internal/reliability"
	"github.com/Avi0n/PocketMesh-sub005/internal/wire"
)

func TestEnvelopeRoundTripsTimestamp(t *testing.T) {
	c := New(DefaultConfig())
	env := &Envelope{Type: EnvelopeHeartbeat}
	if err := c.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if env.Timestamp == nil {
		t.Fatal("expected Send to stamp an unset timestamp")
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out Envelope
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Timestamp.AsTime().Unix() != env.Timestamp.AsTime().Unix() {
		t.Fatalf("timestamp mismatch after round trip")
	}
}

func TestSendQueueFullReturnsError(t *testing.T) {
	c := New(DefaultConfig())
	c.sendChan = make(chan *Envelope, 1)
	if err := c.Send(&Envelope{Type: EnvelopeHeartbeat}); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := c.Send(&Envelope{Type: EnvelopeHeartbeat}); err == nil {
		t.Fatal("expected error on full send queue")
	}
}

func TestHandleInboundDispatchesAck(t *testing.T) {
	c := New(DefaultConfig())
	var got string
	c.OnAck(func(id string) { got = id })

	c.handleInbound(&Envelope{Type: EnvelopeAck, ID: "msg-42"})
	if got != "msg-42" {
		t.Fatalf("expected ack callback with msg-42, got %q", got)
	}

	c.handleInbound(&Envelope{Type: EnvelopeHeartbeat, ID: "ignored"})
	if got != "msg-42" {
		t.Fatalf("heartbeat envelope should not trigger ack callback, got %q", got)
	}
}

type nopResender struct{}

func (nopResender) ResendDirect(string, string, bool) ([4]byte, uint32, error) { return [4]byte{}, 0, nil }
func (nopResender) ResendChannel(uint8, string) ([4]byte, uint32, error)       { return [4]byte{}, 0, nil }
func (nopResender) SendPathDiscovery(string) error                            { return nil }

func TestMirrorForwardsDeliveredEnvelope(t *testing.T) {
	bus := eventbus.New(8, nil, nil)
	eng := reliability.New(reliability.DefaultConfig(), bus, nopResender{}, nil)
	eng.Start(context.Background())
	defer eng.Stop()

	c := New(DefaultConfig())
	Mirror(c, eng)

	eng.TrackSend(reliability.PendingAck{
		MessageID: "msg-99",
		Kind:      reliability.SendDirect,
		ContactID: "aabbcc",
		Text:      "ping",
	}, [4]byte{7, 0, 0, 0}, 1000)

	bus.Publish(wire.AcknowledgementEvent{Code: [4]byte{7, 0, 0, 0}})

	select {
	case env := <-c.sendChan:
		if env.Type != EnvelopeDelivered || env.ID != "msg-99" {
			t.Fatalf("unexpected envelope: %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered envelope")
	}
}
