package services

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Avi0n/PocketMesh-sub005/internal/eventbus"
	"github.com/Avi0n/PocketMesh-sub005/internal/reliability"
	"github.com/Avi0n/PocketMesh-sub005/internal/session"
	"github.com/Avi0n/PocketMesh-sub005/internal/storage"
	"github.com/Avi0n/PocketMesh-sub005/internal/wire"
)

// mockTransport is an in-memory Transport double mirroring the one used by
// the session package's own tests.
type mockTransport struct {
	mu   sync.Mutex
	sent [][]byte
	rx   chan []byte
}

func newMockTransport() *mockTransport {
	return &mockTransport{rx: make(chan []byte, 16)}
}

func (m *mockTransport) Connect(ctx context.Context) error { return nil }
func (m *mockTransport) Disconnect() error                 { close(m.rx); return nil }
func (m *mockTransport) MTU() int                           { return 250 }
func (m *mockTransport) Reads() <-chan []byte               { return m.rx }
func (m *mockTransport) Write(ctx context.Context, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, append([]byte(nil), b...))
	return nil
}
func (m *mockTransport) inject(f wire.Frame) { m.rx <- f.Bytes() }

func (m *mockTransport) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// answerHandshake injects the deviceInfo/selfInfo responses Connect's
// deviceQuery/appStart handshake waits on, mirroring the session package's
// own test helper, so tests here can Connect without a real node.
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

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	f, err := os.CreateTemp("", "services-*.db")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := storage.Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestEnv(t *testing.T) (*session.Session, *mockTransport, *eventbus.Bus, *storage.DB) {
	t.Helper()
	mt := newMockTransport()
	bus := eventbus.New(8, nil, nil)
	sess := session.New(mt, bus, session.DefaultConfig())
	answerHandshake(mt)
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { defer func() { recover() }(); sess.Disconnect() })
	return sess, mt, bus, openTestDB(t)
}

func TestMessageServiceSendDirectTracksAck(t *testing.T) {
	sess, mt, bus, db := newTestEnv(t)

	resender := NewSessionResender(sess, bus)
	eng := reliability.New(reliability.DefaultConfig(), bus, resender, resender)
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)

	var deliveredID string
	eng.OnDelivered(func(messageID string, rtt time.Duration) { deliveredID = messageID })

	svc := NewMessageService("device-1", "bench-host", sess, eng, db)

	go func() {
		time.Sleep(20 * time.Millisecond)
		mt.inject(wire.Frame{Code: wire.RespMessageSent, Payload: messageSentPayload(1)})
	}()

	pk := [32]byte{1, 2, 3, 4, 5, 6}
	msg, err := svc.SendDirect(context.Background(), contactIDHex(pk), "hello there")
	if err != nil {
		t.Fatalf("SendDirect: %v", err)
	}
	if msg.Status != storage.StatusSent {
		t.Fatalf("expected sent status, got %v", msg.Status)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		mt.inject(wire.Frame{Code: wire.PushAcknowledgement, Payload: []byte{1, 0, 0, 0}})
	}()

	deadline := time.Now().Add(time.Second)
	for deliveredID == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if deliveredID != msg.ID {
		t.Fatalf("expected delivery callback for %s, got %q", msg.ID, deliveredID)
	}
}

func TestChannelServiceHashSecretLength(t *testing.T) {
	secret := HashSecret("correct horse battery staple")
	if !ValidateSecret(secret[:]) {
		t.Fatal("derived secret must be 16 bytes")
	}
}

func TestChannelServiceGetChannel(t *testing.T) {
	sess, mt, _, _ := newTestEnv(t)
	svc := NewChannelService(sess)

	go func() {
		time.Sleep(10 * time.Millisecond)
		payload := make([]byte, 1+32+16)
		payload[0] = 3
		copy(payload[1:], []byte("general"))
		mt.inject(wire.Frame{Code: wire.RespChannelInfo, Payload: payload})
	}()

	info, err := svc.GetChannel(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetChannel: %v", err)
	}
	if info.Index != 3 || info.Name != "general" {
		t.Fatalf("unexpected channel info: %+v", info)
	}
}

// messageSentPayload builds a minimal messageSent response payload:
// [type:1][expectedAck:4][suggestedTimeoutMs:4].
func messageSentPayload(ackByte byte) []byte {
	return []byte{0, ackByte, 0, 0, 0, 100, 0, 0, 0}
}
