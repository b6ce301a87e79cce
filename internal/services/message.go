// Package services implements the thin facades the specification calls out
// in its services section: MessageService, ContactService, ChannelService,
// and RemoteNodeService, each binding the Session and Reliability engine to
// the persistence layer.
package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Avi0n/PocketMesh-sub005/internal/reliability"
	"github.com/Avi0n/PocketMesh-sub005/internal/session"
	"github.com/Avi0n/PocketMesh-sub005/internal/storage"
	"github.com/Avi0n/PocketMesh-sub005/internal/wire"
)

// MessageService sends direct and channel text and tracks delivery.
type MessageService struct {
	deviceID string
	selfName string // this device's advertised name, used to index own channel sends
	sess     *session.Session
	eng      *reliability.Engine
	db       *storage.DB
}

func NewMessageService(deviceID, selfName string, sess *session.Session, eng *reliability.Engine, db *storage.DB) *MessageService {
	return &MessageService{deviceID: deviceID, selfName: selfName, sess: sess, eng: eng, db: db}
}

// SendDirect persists the message as pending, submits sendText, and on a
// successful messageSent response registers the pending ack with the
// reliability engine.
func (m *MessageService) SendDirect(ctx context.Context, contactID string, text string) (storage.Message, error) {
	var pk [32]byte
	if err := decodeKeyHex(contactID, pk[:]); err != nil {
		return storage.Message{}, err
	}
	senderTs := uint32(time.Now().Unix())
	id := uuid.NewString()

	msg := storage.Message{
		ID:        id,
		DeviceID:  m.deviceID,
		Direction: storage.DirectionSent,
		Kind:      storage.MessageKind{ContactID: contactID},
		TextType:  storage.TextPlain,
		SenderTs:  senderTs,
		Text:      text,
		Status:    storage.StatusPending,
	}
	if err := m.db.SaveMessage(msg); err != nil {
		return storage.Message{}, err
	}

	var recipPrefix [6]byte
	copy(recipPrefix[:], pk[:6])
	frame := wire.BuildSendText(wire.TextPlain, 0, senderTs, recipPrefix, text)

	ev, err := m.sess.Submit(ctx, frame, session.CategoryMessageSent, 0)
	if err != nil {
		m.db.UpdateMessageStatus(id, storage.StatusFailed)
		return storage.Message{}, err
	}
	sent, ok := ev.(wire.MessageSentEvent)
	if !ok {
		m.db.UpdateMessageStatus(id, storage.StatusFailed)
		return storage.Message{}, errUnexpectedResponse
	}

	m.db.UpdateMessageStatus(id, storage.StatusSent)
	m.eng.TrackSend(reliability.PendingAck{
		MessageID: id,
		Kind:      reliability.SendDirect,
		ContactID: contactID,
		Text:      text,
	}, sent.ExpectedAck, sent.SuggestedTimeoutMs)

	msg.Status = storage.StatusSent
	return msg, nil
}

// SendChannel persists the message as pending, submits sendChanText, and
// registers the pending ack on success.
func (m *MessageService) SendChannel(ctx context.Context, channelIndex uint8, text string) (storage.Message, error) {
	senderTs := uint32(time.Now().Unix())
	id := uuid.NewString()

	msg := storage.Message{
		ID:        id,
		DeviceID:  m.deviceID,
		Direction: storage.DirectionSent,
		Kind:      storage.MessageKind{ChannelIndex: &channelIndex},
		TextType:  storage.TextPlain,
		SenderTs:  senderTs,
		Text:      text,
		Status:    storage.StatusPending,
	}
	if err := m.db.SaveMessage(msg); err != nil {
		return storage.Message{}, err
	}

	frame := wire.BuildSendChanText(wire.TextPlain, channelIndex, senderTs, text)
	ev, err := m.sess.Submit(ctx, frame, session.CategoryMessageSent, 0)
	if err != nil {
		m.db.UpdateMessageStatus(id, storage.StatusFailed)
		return storage.Message{}, err
	}
	sent, ok := ev.(wire.MessageSentEvent)
	if !ok {
		m.db.UpdateMessageStatus(id, storage.StatusFailed)
		return storage.Message{}, errUnexpectedResponse
	}

	m.db.UpdateMessageStatus(id, storage.StatusSent)
	m.eng.TrackSend(reliability.PendingAck{
		MessageID: id,
		Kind:      reliability.SendChannel,
		Channel:   channelIndex,
		Text:      text,
	}, sent.ExpectedAck, sent.SuggestedTimeoutMs)
	m.eng.IndexOutbound(channelIndex, m.selfName, senderTs, text)

	msg.Status = storage.StatusSent
	return msg, nil
}
