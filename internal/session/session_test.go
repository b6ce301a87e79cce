package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Avi0n/PocketMesh-sub005/internal/eventbus"
	"github.com/Avi0n/PocketMesh-sub005/internal/wire"
)

// mockTransport is an in-memory Transport double: Write appends to sent,
// and the test injects inbound frames via inject.
type mockTransport struct {
	mu   sync.Mutex
	sent [][]byte
	rx   chan []byte
	mtu  int
}

func newMockTransport() *mockTransport {
	return &mockTransport{rx: make(chan []byte, 16), mtu: 250}
}

func (m *mockTransport) Connect(ctx context.Context) error { return nil }
func (m *mockTransport) Disconnect() error                 { close(m.rx); return nil }
func (m *mockTransport) MTU() int                           { return m.mtu }
func (m *mockTransport) Reads() <-chan []byte               { return m.rx }
func (m *mockTransport) Write(ctx context.Context, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), b...)
	m.sent = append(m.sent, cp)
	return nil
}

func (m *mockTransport) inject(f wire.Frame) {
	m.rx <- f.Bytes()
}

func (m *mockTransport) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// answerHandshake watches mt for the deviceQuery/appStart writes Connect's
// handshake issues and injects the deviceInfo/selfInfo responses it waits
// on, so newTestSession's Connect call completes without a real node.
func answerHandshake(mt *mockTransport) {
	go func() {
		for mt.sentCount() < 1 {
			time.Sleep(time.Millisecond)
		}
		mt.inject(wire.Frame{Code: wire.RespDeviceInfo, Payload: []byte{1}})

		for mt.sentCount() < 2 {
			time.Sleep(time.Millisecond)
		}
		mt.inject(wire.Frame{Code: wire.RespSelfInfo, Payload: make([]byte, 1+1+1+32+4+4+1+4+4+1+1)})
	}()
}

func newTestSession(t *testing.T) (*Session, *mockTransport) {
	t.Helper()
	mt := newMockTransport()
	bus := eventbus.New(8, nil, nil)
	s := New(mt, bus, DefaultConfig())
	answerHandshake(mt)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		// Disconnect may already have been called by the test; ignore
		// a second close-of-closed-channel scenario by recovering.
		defer func() { recover() }()
		s.Disconnect()
	})
	return s, mt
}

func TestConnectPerformsHandshakeAndReachesReady(t *testing.T) {
	s, mt := newTestSession(t)

	if s.State() != StateReady {
		t.Fatalf("expected StateReady after handshake, got %v", s.State())
	}
	if mt.sentCount() != 2 {
		t.Fatalf("expected deviceQuery+appStart writes, got %d", mt.sentCount())
	}
}

func TestConnectHandshakeFailureReturnsToDisconnected(t *testing.T) {
	mt := newMockTransport()
	bus := eventbus.New(8, nil, nil)
	cfg := DefaultConfig()
	cfg.PairingTimeout = 20 * time.Millisecond

	// No response is ever injected for the deviceQuery step, so the
	// handshake times out and Connect must fail the Session back to
	// disconnected rather than leaving it half set up.
	s := New(mt, bus, cfg)

	err := s.Connect(context.Background())
	if err == nil {
		t.Fatal("expected handshake failure error")
	}
	if s.State() != StateDisconnected {
		t.Fatalf("expected StateDisconnected after handshake failure, got %v", s.State())
	}
}

func TestSubmitResolvesOnMatchingResponse(t *testing.T) {
	s, mt := newTestSession(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		mt.inject(wire.Frame{Code: wire.RespOk})
	}()

	ev, err := s.Submit(context.Background(), wire.BuildReboot(), CategoryOkError, time.Second)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, ok := ev.(wire.OkEvent); !ok {
		t.Fatalf("expected OkEvent, got %T", ev)
	}
	if mt.sentCount() != 3 {
		t.Errorf("expected 3 writes (handshake's deviceQuery+appStart, then reboot), got %d", mt.sentCount())
	}
}

func TestSubmitTimesOutWithoutResponse(t *testing.T) {
	s, _ := newTestSession(t)

	_, err := s.Submit(context.Background(), wire.BuildReboot(), CategoryOkError, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestUnsolicitedEventsForwardToBus(t *testing.T) {
	s, mt := newTestSession(t)
	bus := s.bus

	sub := bus.Subscribe(eventbus.IsMessagesWaiting())
	defer sub.Close()

	mt.inject(wire.Frame{Code: wire.PushMessagesWaiting})

	select {
	case ev := <-sub.Events():
		if _, ok := ev.(wire.MessagesWaitingEvent); !ok {
			t.Fatalf("expected MessagesWaitingEvent, got %T", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for push event on bus")
	}
}

func TestSubmitContactsAssemblesSequence(t *testing.T) {
	s, mt := newTestSession(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		mt.inject(wire.Frame{Code: wire.RespContactsStart, Payload: []byte{2, 0, 0, 0}})
		c := wire.ContactFrame{Name: "Alice", OutPathLen: -1}
		mt.inject(wire.Frame{Code: wire.RespContact, Payload: c.Encode()})
		c2 := wire.ContactFrame{Name: "Bob", OutPathLen: -1}
		mt.inject(wire.Frame{Code: wire.RespContact, Payload: c2.Encode()})
		mt.inject(wire.Frame{Code: wire.RespContactsEnd, Payload: []byte{1, 2, 3, 4}})
	}()

	contacts, interrupted, err := s.SubmitContacts(context.Background(), wire.BuildGetContacts(nil), time.Second)
	if err != nil {
		t.Fatalf("SubmitContacts: %v", err)
	}
	if interrupted {
		t.Fatal("did not expect syncInterrupted")
	}
	if len(contacts) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(contacts))
	}
}

func TestSubmitContactsReportsSyncInterrupted(t *testing.T) {
	s, mt := newTestSession(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		mt.inject(wire.Frame{Code: wire.RespContactsStart, Payload: []byte{5, 0, 0, 0}})
		c := wire.ContactFrame{Name: "Alice", OutPathLen: -1}
		mt.inject(wire.Frame{Code: wire.RespContact, Payload: c.Encode()})
		mt.inject(wire.Frame{Code: wire.RespContactsEnd, Payload: []byte{1, 2, 3, 4}})
	}()

	contacts, interrupted, err := s.SubmitContacts(context.Background(), wire.BuildGetContacts(nil), time.Second)
	if err != nil {
		t.Fatalf("SubmitContacts: %v", err)
	}
	if !interrupted {
		t.Fatal("expected syncInterrupted")
	}
	if len(contacts) != 1 {
		t.Fatalf("expected partial list of 1, got %d", len(contacts))
	}
}

func TestDisconnectCancelsInFlightSubmit(t *testing.T) {
	s, _ := newTestSession(t)

	resultChan := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), wire.BuildReboot(), CategoryOkError, 5*time.Second)
		resultChan <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case err := <-resultChan:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancelled submit")
	}
}
