// Package envelope declares the hand-written wire shapes exchanged with a
// software mesh-node simulator over ZeroMQ: one PUB/SUB socket streaming
// uplink frame/stats events, one REQ/REP socket accepting downlink sends.
// These mirror the request/response shapes a gateway concentrator daemon
// would expose, hand-declared to avoid depending on a generated protobuf
// client package this module does not have access to.
package envelope

// TxAckStatus reports the outcome of a downlink send request.
type TxAckStatus int32

const (
	TxAckOK             TxAckStatus = 0
	TxAckQueueFull      TxAckStatus = 1
	TxAckInternalError  TxAckStatus = 2
)

func (s TxAckStatus) String() string {
	switch s {
	case TxAckOK:
		return "OK"
	case TxAckQueueFull:
		return "QUEUE_FULL"
	case TxAckInternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// UplinkEnvelope wraps one inbound wire.Frame-worth of bytes observed by the
// simulated node, plus the link-quality metadata the Codec surfaces as SNR
// and the reliability engine never sees directly.
type UplinkEnvelope struct {
	NodeID  [8]byte
	Payload []byte
	RSSI    int32
	SNR     float32
}

// DownlinkEnvelope wraps one outbound send request.
type DownlinkEnvelope struct {
	DownlinkID uint32
	NodeID     [8]byte
	Payload    []byte
}

// DownlinkAck acknowledges a DownlinkEnvelope by DownlinkID.
type DownlinkAck struct {
	DownlinkID uint32
	Status     TxAckStatus
}

// Stats carries simulator-reported link counters, analogous to a gateway's
// packet-forwarder statistics.
type Stats struct {
	NodeID            [8]byte
	FramesReceived    uint32
	FramesReceivedOK  uint32
	FramesSent        uint32
}
