package reliability

import (
	"context"
	"testing"
	"time"

	"github.com/Avi0n/PocketMesh-sub005/internal/eventbus"
	"github.com/Avi0n/PocketMesh-sub005/internal/wire"
)

func newTestEngine(t *testing.T) (*Engine, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(8, nil, nil)
	eng := New(DefaultConfig(), bus, &mockResender{}, nil)
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)
	return eng, bus
}

func TestEngineForwardsContactMessageOnce(t *testing.T) {
	eng, bus := newTestEngine(t)

	received := make(chan MessageEvent, 4)
	eng.OnMessage(func(m MessageEvent) { received <- m })

	ev := wire.ContactMessageReceivedEvent{SenderPrefix: [6]byte{1, 2, 3, 4, 5, 6}, SenderTs: 1000, Text: "hello"}
	bus.Publish(ev)
	bus.Publish(ev) // duplicate, must be dropped

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected first message to be forwarded")
	}

	select {
	case m := <-received:
		t.Fatalf("expected duplicate to be dropped, got %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineExtractsChannelSenderName(t *testing.T) {
	eng, bus := newTestEngine(t)

	received := make(chan MessageEvent, 1)
	eng.OnMessage(func(m MessageEvent) { received <- m })

	ev := wire.ChannelMessageReceivedEvent{ChannelIndex: 2, SenderTs: 500, Text: "alice: good morning"}
	bus.Publish(ev)

	select {
	case m := <-received:
		if m.SenderName != "alice" || m.Text != "good morning" {
			t.Fatalf("expected split sender/body, got %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel message")
	}
}

func TestEngineAcknowledgeResolvesPendingSend(t *testing.T) {
	eng, bus := newTestEngine(t)

	var delivered string
	eng.OnDelivered(func(messageID string, rtt time.Duration) { delivered = messageID })

	code := [4]byte{7, 0, 0, 0}
	eng.TrackSend(PendingAck{MessageID: "m1", Kind: SendDirect, ContactID: "c1", Text: "hi"}, code, 100)
	bus.Publish(wire.AcknowledgementEvent{Code: code})

	deadline := time.Now().Add(time.Second)
	for delivered == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if delivered != "m1" {
		t.Fatalf("expected delivery callback for m1, got %q", delivered)
	}
}

// TestEngineIndexOutboundResolvesReactionToOwnMessage confirms a message this
// device sent to a channel is indexed the same as an inbound one, so a later
// reaction referencing it (even from another device) resolves.
func TestEngineIndexOutboundResolvesReactionToOwnMessage(t *testing.T) {
	eng, bus := newTestEngine(t)

	received := make(chan MessageEvent, 1)
	eng.OnMessage(func(m MessageEvent) { received <- m })

	const channelIndex = 2
	senderTs := uint32(1000)
	text := "hello channel"
	eng.IndexOutbound(channelIndex, "bench-host", senderTs, text)

	id := messageHash(senderTs, text)
	reactionText := "carol: \U0001F44D @[bench-host] " + text + " [" + id + "]"
	bus.Publish(wire.ChannelMessageReceivedEvent{ChannelIndex: channelIndex, SenderTs: 2000, Text: reactionText})

	select {
	case m := <-received:
		if len(m.Resolved) != 1 {
			t.Fatalf("expected reaction to resolve against the outbound message, got %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolved reaction")
	}
}

// TestEngineIndexesReactionShapedChannelMessageForLaterResolution confirms
// that a channel message which itself happens to parse as a reaction is
// still indexed, so it can be the target of a later reaction.
func TestEngineIndexesReactionShapedChannelMessageForLaterResolution(t *testing.T) {
	eng, bus := newTestEngine(t)

	received := make(chan MessageEvent, 2)
	eng.OnMessage(func(m MessageEvent) { received <- m })

	const channelIndex = 5
	firstTs := uint32(3000)
	firstBody := "\U0001F389 @[carol] nice work [0000000a]"
	bus.Publish(wire.ChannelMessageReceivedEvent{ChannelIndex: channelIndex, SenderTs: firstTs, Text: "dave: " + firstBody})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first message")
	}

	targetID := messageHash(firstTs, firstBody)
	secondBody := "\U0001F44D @[dave] " + firstBody + " [" + targetID + "]"
	bus.Publish(wire.ChannelMessageReceivedEvent{ChannelIndex: channelIndex, SenderTs: 4000, Text: "eve: " + secondBody})

	select {
	case m := <-received:
		if len(m.Resolved) != 1 {
			t.Fatalf("expected second message to resolve a reaction to the first, got %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second message")
	}
}
