package services

import (
	"context"
	"time"

	"github.com/Avi0n/PocketMesh-sub005/internal/eventbus"
	"github.com/Avi0n/PocketMesh-sub005/internal/session"
	"github.com/Avi0n/PocketMesh-sub005/internal/wire"
)

// SessionResender adapts a Session to the reliability package's Resender and
// MessageFetcher interfaces, so the engine can drive retries and the
// messagesWaiting auto-fetch loop without depending on the session package.
type SessionResender struct {
	sess *session.Session
	bus  *eventbus.Bus
}

func NewSessionResender(sess *session.Session, bus *eventbus.Bus) *SessionResender {
	return &SessionResender{sess: sess, bus: bus}
}

func (r *SessionResender) ResendDirect(contactID string, text string, useFlood bool) ([4]byte, uint32, error) {
	var pk [32]byte
	if err := decodeKeyHex(contactID, pk[:]); err != nil {
		return [4]byte{}, 0, err
	}
	var recipPrefix [6]byte
	copy(recipPrefix[:], pk[:6])

	// useFlood selects attempt routing; the flood bit lives in the attempt
	// counter the node uses to pick a route, so a non-zero attempt signals
	// the node to widen its search rather than retry the same direct path.
	attempt := uint8(0)
	if useFlood {
		attempt = 1
	}
	senderTs := uint32(time.Now().Unix())
	frame := wire.BuildSendText(wire.TextPlain, attempt, senderTs, recipPrefix, text)

	ev, err := r.sess.Submit(context.Background(), frame, session.CategoryMessageSent, 0)
	if err != nil {
		return [4]byte{}, 0, err
	}
	sent, ok := ev.(wire.MessageSentEvent)
	if !ok {
		return [4]byte{}, 0, errUnexpectedResponse
	}
	return sent.ExpectedAck, sent.SuggestedTimeoutMs, nil
}

func (r *SessionResender) ResendChannel(channelIndex uint8, text string) ([4]byte, uint32, error) {
	senderTs := uint32(time.Now().Unix())
	frame := wire.BuildSendChanText(wire.TextPlain, channelIndex, senderTs, text)

	ev, err := r.sess.Submit(context.Background(), frame, session.CategoryMessageSent, 0)
	if err != nil {
		return [4]byte{}, 0, err
	}
	sent, ok := ev.(wire.MessageSentEvent)
	if !ok {
		return [4]byte{}, 0, errUnexpectedResponse
	}
	return sent.ExpectedAck, sent.SuggestedTimeoutMs, nil
}

func (r *SessionResender) SendPathDiscovery(contactID string) error {
	var pk [32]byte
	if err := decodeKeyHex(contactID, pk[:]); err != nil {
		return err
	}
	_, err := r.sess.Submit(context.Background(), wire.BuildSendPathDiscovery(pk), session.CategoryOkError, 0)
	return err
}

// SyncNextMessage implements reliability.MessageFetcher. A delivered message
// is republished onto the Event Bus so the reliability engine's dedup and
// reaction-indexing logic sees it exactly as it would an unsolicited push.
func (r *SessionResender) SyncNextMessage(ctx context.Context) (bool, error) {
	ev, err := r.sess.Submit(ctx, wire.BuildSyncNextMessage(), session.CategorySyncNext, 0)
	if err != nil {
		return false, err
	}
	switch ev.(type) {
	case wire.NoMoreMessagesEvent:
		return true, nil
	case wire.ErrorEvent:
		return true, errUnexpectedResponse
	default:
		r.bus.Publish(ev)
		return false, nil
	}
}
