// Package storage implements the Persistence contract the Session/Services
// consume: device-scoped CRUD for contacts, channels, and messages, plus a
// durable mirror of the Reliability engine's in-memory soft-cache state
// (pending acks and indexed messages). The Reliability engine itself does
// not write to or read from the mirror tables.
package storage

import (
	"encoding/hex"
	"time"
)

// keyHex renders a public key (or any byte identity) as the lowercase hex
// string used for contact IDs and map keys throughout this package.
func keyHex(b []byte) string { return hex.EncodeToString(b) }

// ContactKind mirrors the wire ContactType.
type ContactKind uint8

const (
	ContactChat     ContactKind = 0
	ContactRepeater ContactKind = 1
	ContactRoom     ContactKind = 2
)

// Contact is the persisted projection of a wire.ContactFrame.
type Contact struct {
	DeviceID     string    `json:"device_id"`
	PublicKey    [32]byte  `json:"public_key"`
	Kind         ContactKind `json:"kind"`
	Flags        uint8     `json:"flags"`
	OutPathLen   int8      `json:"out_path_len"` // -1 denotes flood routing
	OutPath      []byte    `json:"out_path,omitempty"`
	Name         string    `json:"name"`
	LastAdvertTs uint32    `json:"last_advert_ts"`
	Lat          int32     `json:"lat"`
	Lon          int32     `json:"lon"`
	LastModified uint32    `json:"last_modified"`
}

// ContactID is the stable identity used by services and messages to
// reference a Contact without carrying the full 32-byte key everywhere.
func (c Contact) ContactID() string { return keyHex(c.PublicKey[:]) }

// Channel is the persisted projection of a wire channelInfo.
type Channel struct {
	DeviceID string   `json:"device_id"`
	Index    uint8    `json:"index"`
	Name     string   `json:"name"`
	Secret   [16]byte `json:"secret"`
}

// MessageDirection distinguishes locally originated from received messages.
type MessageDirection uint8

const (
	DirectionSent     MessageDirection = 0
	DirectionReceived MessageDirection = 1
)

// MessageKind distinguishes a direct-to-contact message from a channel post.
// Exactly one of ContactID/ChannelIndex is set.
type MessageKind struct {
	ContactID    string
	ChannelIndex *uint8
}

// TextType mirrors wire.TextType.
type TextType uint8

const (
	TextPlain       TextType = 0
	TextCLIData     TextType = 1
	TextSignedPlain TextType = 2
)

// MessageStatus is the Message lifecycle state.
type MessageStatus string

const (
	StatusPending  MessageStatus = "pending"
	StatusSent     MessageStatus = "sent"
	StatusAcked    MessageStatus = "acked"
	StatusFailed   MessageStatus = "failed"
	StatusRetrying MessageStatus = "retrying"
)

// Message is the persisted projection of the spec's Message entity.
type Message struct {
	ID        string           `json:"id"`
	DeviceID  string           `json:"device_id"`
	Direction MessageDirection `json:"direction"`
	Kind      MessageKind      `json:"kind"`
	TextType  TextType         `json:"text_type"`
	SenderTs  uint32           `json:"sender_ts"`
	Text      string           `json:"text"`
	SNR       *float32         `json:"snr,omitempty"`
	PathLen   *uint8           `json:"path_len,omitempty"`
	Status    MessageStatus    `json:"status"`
	AckCode   *uint32          `json:"ack_code,omitempty"`
	RTT       *time.Duration   `json:"rtt,omitempty"`
	DedupKey  string           `json:"dedup_key"`
}

// PendingAckRow is the durable mirror of the Reliability engine's in-memory
// PendingAck, one row per in-flight send.
type PendingAckRow struct {
	MessageID   string    `json:"message_id"`
	AckCode     uint32    `json:"ack_code"`
	SentAt      time.Time `json:"sent_at"`
	TimeoutSecs float64   `json:"timeout_secs"`
	Delivered   bool      `json:"delivered"`
	Attempt     int       `json:"attempt"`
}

// IndexedMessageRow is the durable mirror of an IndexedMessage entry,
// looked up by reaction hash through FindIndexedMessageByHash.
type IndexedMessageRow struct {
	MessageID    string    `json:"message_id"`
	DeviceID     string    `json:"device_id"`
	ChannelIndex uint8     `json:"channel_index"`
	SenderName   string    `json:"sender_name"`
	Text         string    `json:"text"`
	SenderTs     uint32    `json:"sender_ts"`
	IndexedAt    time.Time `json:"indexed_at"`
	Hash         string    `json:"hash"`
	Preview      string    `json:"preview"`
}
