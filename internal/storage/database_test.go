package storage

import (
	"os"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "meshhost-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	db, err := Open(tmpFile.Name())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndFetchContacts(t *testing.T) {
	db := openTestDB(t)

	c := Contact{
		DeviceID:   "dev1",
		PublicKey:  [32]byte{1, 2, 3, 4},
		Kind:       ContactChat,
		OutPathLen: -1,
		Name:       "Alice",
	}
	if err := db.SaveContact(c); err != nil {
		t.Fatalf("SaveContact: %v", err)
	}

	contacts, err := db.FetchContacts("dev1")
	if err != nil {
		t.Fatalf("FetchContacts: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("expected 1 contact, got %d", len(contacts))
	}
	if contacts[0].Name != "Alice" {
		t.Errorf("expected name Alice, got %q", contacts[0].Name)
	}
	if contacts[0].PublicKey != c.PublicKey {
		t.Errorf("public key mismatch: got %x want %x", contacts[0].PublicKey, c.PublicKey)
	}

	// Updating with the same key should overwrite, not duplicate.
	c.Name = "Alice Updated"
	if err := db.SaveContact(c); err != nil {
		t.Fatalf("SaveContact (update): %v", err)
	}
	contacts, err = db.FetchContacts("dev1")
	if err != nil {
		t.Fatalf("FetchContacts: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("expected 1 contact after update, got %d", len(contacts))
	}
	if contacts[0].Name != "Alice Updated" {
		t.Errorf("expected updated name, got %q", contacts[0].Name)
	}
}

func TestDeleteContact(t *testing.T) {
	db := openTestDB(t)

	key := [32]byte{9, 9, 9}
	if err := db.SaveContact(Contact{DeviceID: "dev1", PublicKey: key, Name: "Bob"}); err != nil {
		t.Fatalf("SaveContact: %v", err)
	}
	if err := db.DeleteContact("dev1", key); err != nil {
		t.Fatalf("DeleteContact: %v", err)
	}
	contacts, err := db.FetchContacts("dev1")
	if err != nil {
		t.Fatalf("FetchContacts: %v", err)
	}
	if len(contacts) != 0 {
		t.Fatalf("expected no contacts after delete, got %d", len(contacts))
	}
}

func TestSaveAndFetchChannels(t *testing.T) {
	db := openTestDB(t)

	ch := Channel{DeviceID: "dev1", Index: 0, Name: "General", Secret: [16]byte{0xaa}}
	if err := db.SaveChannel(ch); err != nil {
		t.Fatalf("SaveChannel: %v", err)
	}

	channels, err := db.FetchChannels("dev1")
	if err != nil {
		t.Fatalf("FetchChannels: %v", err)
	}
	if len(channels) != 1 || channels[0].Name != "General" {
		t.Fatalf("unexpected channels: %+v", channels)
	}
	if channels[0].Secret != ch.Secret {
		t.Errorf("secret mismatch: got %x want %x", channels[0].Secret, ch.Secret)
	}
}

func TestMessageLifecycle(t *testing.T) {
	db := openTestDB(t)

	msg := Message{
		ID:        "msg-1",
		DeviceID:  "dev1",
		Direction: DirectionSent,
		Kind:      MessageKind{ContactID: "alice"},
		TextType:  TextPlain,
		SenderTs:  1000,
		Text:      "hello",
		Status:    StatusPending,
		DedupKey:  "dev1:alice:1000:hello",
	}
	if err := db.SaveMessage(msg); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	dup, err := db.IsDuplicate("dev1", msg.DedupKey)
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Error("expected dedup key to be found after save")
	}

	rtt := 250 * time.Millisecond
	if err := db.UpdateMessageAck("msg-1", 0xdeadbeef, rtt); err != nil {
		t.Fatalf("UpdateMessageAck: %v", err)
	}

	msgs, err := db.FetchMessages("dev1", MessageKind{ContactID: "alice"}, 10)
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Status != StatusAcked {
		t.Errorf("expected status acked, got %s", msgs[0].Status)
	}
	if msgs[0].AckCode == nil || *msgs[0].AckCode != 0xdeadbeef {
		t.Errorf("expected ack code 0xdeadbeef, got %v", msgs[0].AckCode)
	}
	if msgs[0].RTT == nil || *msgs[0].RTT != rtt {
		t.Errorf("expected rtt %v, got %v", rtt, msgs[0].RTT)
	}
}

func TestFetchMessagesScopedByChannel(t *testing.T) {
	db := openTestDB(t)

	idx := uint8(3)
	for i, txt := range []string{"one", "two"} {
		m := Message{
			ID:        txt,
			DeviceID:  "dev1",
			Direction: DirectionReceived,
			Kind:      MessageKind{ChannelIndex: &idx},
			SenderTs:  uint32(i),
			Text:      txt,
			Status:    StatusSent,
			DedupKey:  txt,
		}
		if err := db.SaveMessage(m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}
	other := uint8(7)
	if err := db.SaveMessage(Message{
		ID: "other", DeviceID: "dev1", Kind: MessageKind{ChannelIndex: &other}, Status: StatusSent, DedupKey: "other",
	}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	msgs, err := db.FetchMessages("dev1", MessageKind{ChannelIndex: &idx}, 10)
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages scoped to channel 3, got %d", len(msgs))
	}
}

func TestPendingAckMirrorRoundtrip(t *testing.T) {
	db := openTestDB(t)

	row := PendingAckRow{
		MessageID:   "msg-1",
		AckCode:     42,
		SentAt:      time.Now().Truncate(time.Second),
		TimeoutSecs: 12.5,
		Attempt:     1,
	}
	if err := db.SavePendingAck(row); err != nil {
		t.Fatalf("SavePendingAck: %v", err)
	}

	pending, err := db.FetchPendingAcks()
	if err != nil {
		t.Fatalf("FetchPendingAcks: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending ack, got %d", len(pending))
	}
	if pending[0].AckCode != 42 {
		t.Errorf("expected ack code 42, got %d", pending[0].AckCode)
	}

	if err := db.DeletePendingAck("msg-1"); err != nil {
		t.Fatalf("DeletePendingAck: %v", err)
	}
	pending, err = db.FetchPendingAcks()
	if err != nil {
		t.Fatalf("FetchPendingAcks: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending acks after delete, got %d", len(pending))
	}
}

func TestIndexedMessageLookupByHash(t *testing.T) {
	db := openTestDB(t)

	row := IndexedMessageRow{
		MessageID:    "msg-7",
		DeviceID:     "dev1",
		ChannelIndex: 1,
		SenderName:   "Alice",
		Text:         "great idea",
		SenderTs:     555,
		IndexedAt:    time.Now().Truncate(time.Second),
		Hash:         "ABCDEF",
		Preview:      "great idea",
	}
	if err := db.SaveIndexedMessage(row); err != nil {
		t.Fatalf("SaveIndexedMessage: %v", err)
	}

	found, err := db.FindIndexedMessageByHash("dev1", "ABCDEF")
	if err != nil {
		t.Fatalf("FindIndexedMessageByHash: %v", err)
	}
	if found.MessageID != "msg-7" {
		t.Errorf("expected msg-7, got %s", found.MessageID)
	}

	if _, err := db.FindIndexedMessageByHash("dev1", "NOPE"); err == nil {
		t.Error("expected error for unknown hash")
	}
}
