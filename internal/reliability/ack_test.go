package reliability

import (
	"sync"
	"testing"
	"time"
)

// mockResender records resend calls and returns a fresh synthetic ack code
// for each one so the retry ladder can keep tracking the message.
type mockResender struct {
	mu           sync.Mutex
	directCalls  []bool // useFlood per call
	channelCalls int
	pathDiscover int
	nextCode     byte
}

func (m *mockResender) ResendDirect(contactID, text string, useFlood bool) ([4]byte, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directCalls = append(m.directCalls, useFlood)
	m.nextCode++
	return [4]byte{m.nextCode, 0, 0, 0}, 10, nil
}

func (m *mockResender) ResendChannel(channelIndex uint8, text string) ([4]byte, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channelCalls++
	m.nextCode++
	return [4]byte{m.nextCode, 0, 0, 0}, 10, nil
}

func (m *mockResender) SendPathDiscovery(contactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pathDiscover++
	return nil
}

func TestAckTrackerResolvesOnAcknowledge(t *testing.T) {
	resender := &mockResender{}
	tracker := NewAckTracker(DefaultRetryConfig(), resender)

	var deliveredID string
	tracker.OnDelivered(func(messageID string, rtt time.Duration) { deliveredID = messageID })

	code := [4]byte{1, 0, 0, 0}
	tracker.Register(PendingAck{MessageID: "m1", Kind: SendDirect, ContactID: "c1", Text: "hi"}, code, 100)

	if !tracker.Acknowledge(code) {
		t.Fatal("expected acknowledge to find the pending ack")
	}
	if deliveredID != "m1" {
		t.Fatalf("expected delivered callback for m1, got %q", deliveredID)
	}
	if tracker.Pending() != 0 {
		t.Fatal("expected no pending acks remaining")
	}
}

func TestAckTrackerAcknowledgeUnknownCodeReturnsFalse(t *testing.T) {
	tracker := NewAckTracker(DefaultRetryConfig(), &mockResender{})
	if tracker.Acknowledge([4]byte{9, 9, 9, 9}) {
		t.Fatal("expected no match for unregistered code")
	}
}

func TestAckTrackerSweepResendsExpired(t *testing.T) {
	resender := &mockResender{}
	cfg := DefaultRetryConfig()
	tracker := NewAckTracker(cfg, resender)

	code := [4]byte{1, 0, 0, 0}
	// A near-zero suggested timeout means the very next Sweep sees it expired.
	tracker.Register(PendingAck{MessageID: "m1", Kind: SendDirect, ContactID: "c1", Text: "hi"}, code, 0)

	tracker.Sweep()
	time.Sleep(cfg.backoff(2) + 50*time.Millisecond)

	resender.mu.Lock()
	calls := len(resender.directCalls)
	resender.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected 1 resend after sweep + backoff, got %d", calls)
	}
}

func TestAckTrackerExhaustsRetriesAndFails(t *testing.T) {
	resender := &mockResender{}
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 1
	tracker := NewAckTracker(cfg, resender)

	var failedID string
	var mu sync.Mutex
	tracker.OnFailed(func(messageID string) {
		mu.Lock()
		failedID = messageID
		mu.Unlock()
	})

	code := [4]byte{1, 0, 0, 0}
	tracker.Register(PendingAck{MessageID: "m1", Kind: SendDirect, ContactID: "c1", Text: "hi"}, code, 0)
	tracker.Sweep()

	mu.Lock()
	defer mu.Unlock()
	if failedID != "m1" {
		t.Fatalf("expected failed callback for m1 once attempts are exhausted, got %q", failedID)
	}
	// With the default FloodAfter of 2, a single exhausted attempt never
	// reached flood routing, so path discovery must not fire.
	if resender.pathDiscover != 0 {
		t.Fatalf("expected no path discovery when the final attempt was direct, got %d calls", resender.pathDiscover)
	}
}

func TestAckTrackerExhaustionAfterFloodTriggersPathDiscovery(t *testing.T) {
	resender := &mockResender{}
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 1
	cfg.FloodAfter = 0
	cfg.MaxFloodAttempts = 1
	tracker := NewAckTracker(cfg, resender)

	var failedID string
	var mu sync.Mutex
	tracker.OnFailed(func(messageID string) {
		mu.Lock()
		failedID = messageID
		mu.Unlock()
	})

	code := [4]byte{1, 0, 0, 0}
	tracker.Register(PendingAck{MessageID: "m1", Kind: SendDirect, ContactID: "c1", Text: "hi"}, code, 0)
	tracker.Sweep()

	mu.Lock()
	defer mu.Unlock()
	if failedID != "m1" {
		t.Fatalf("expected failed callback for m1 once attempts are exhausted, got %q", failedID)
	}
	// FloodAfter=0 makes the one and only attempt a flood attempt, so its
	// exhaustion must trigger path discovery.
	if resender.pathDiscover != 1 {
		t.Fatalf("expected path discovery trigger after flood exhaustion, got %d calls", resender.pathDiscover)
	}
}
