package bridge

// Request/response payloads for the control-plane service. These travel
// over grpc via jsonCodec rather than generated protobuf types, so plain
// struct tags describe the wire shape.

type SendDirectRequest struct {
	ContactID string `json:"contact_id"`
	Text      string `json:"text"`
}

type SendDirectResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type SendChannelRequest struct {
	Channel uint8  `json:"channel"`
	Text    string `json:"text"`
}

type SendChannelResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type SyncContactsRequest struct {
	Force bool    `json:"force"`
	Since *uint32 `json:"since,omitempty"`
}

type SyncContactsResponse struct {
	Received      int    `json:"received"`
	LastSyncTs    uint32 `json:"last_sync_ts"`
	IsIncremental bool   `json:"is_incremental"`
	Interrupted   bool   `json:"interrupted"`
}

type SetChannelRequest struct {
	Index     uint8  `json:"index"`
	Name      string `json:"name"`
	SecretHex string `json:"secret_hex"`
}

type SetChannelResponse struct{}

type LoginRequest struct {
	PublicKeyHex string `json:"public_key_hex"`
	Password     string `json:"password"`
	PathHops     int    `json:"path_hops"`
}

type LoginResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SubscribeRequest has no filter fields yet; the stream currently mirrors
// every message and delivery event the reliability engine surfaces.
type SubscribeRequest struct{}

// SubscribeEvent is one item pushed down the Subscribe stream.
type SubscribeEvent struct {
	Kind string `json:"kind"` // "message", "delivered", "failed"

	ChannelMsg bool   `json:"channel_msg,omitempty"`
	Channel    uint8  `json:"channel,omitempty"`
	ContactID  string `json:"contact_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Text       string `json:"text,omitempty"`

	MessageID string `json:"message_id,omitempty"`
	RTTMillis int64  `json:"rtt_millis,omitempty"`
}
