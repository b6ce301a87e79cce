package telemetry

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Avi0n/PocketMesh-sub005/internal/reliability"
)

// messagePayload is the JSON body of an EnvelopeMessage envelope.
type messagePayload struct {
	ChannelMsg bool   `json:"channel_msg"`
	Channel    uint8  `json:"channel,omitempty"`
	ContactID  string `json:"contact_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Text       string `json:"text"`
}

type deliveryPayload struct {
	MessageID string `json:"message_id"`
	RTTMillis int64  `json:"rtt_millis,omitempty"`
}

// Mirror subscribes to the reliability engine's message and delivery
// callbacks and forwards each as an Envelope on c, best-effort: a full
// send queue drops the envelope rather than blocking the engine.
func Mirror(c *Client, eng *reliability.Engine) {
	eng.OnMessage(func(m reliability.MessageEvent) {
		payload, err := json.Marshal(messagePayload{
			ChannelMsg: m.ChannelMsg,
			Channel:    m.Channel,
			ContactID:  m.ContactID,
			SenderName: m.SenderName,
			Text:       m.Text,
		})
		if err != nil {
			return
		}
		c.Send(&Envelope{Type: EnvelopeMessage, ID: uuid.NewString(), Payload: payload})
	})

	eng.OnDelivered(func(messageID string, rtt time.Duration) {
		payload, err := json.Marshal(deliveryPayload{MessageID: messageID, RTTMillis: rtt.Milliseconds()})
		if err != nil {
			return
		}
		c.Send(&Envelope{Type: EnvelopeDelivered, ID: messageID, Payload: payload})
	})

	eng.OnFailed(func(messageID string) {
		payload, err := json.Marshal(deliveryPayload{MessageID: messageID})
		if err != nil {
			return
		}
		c.Send(&Envelope{Type: EnvelopeFailed, ID: messageID, Payload: payload})
	})
}
