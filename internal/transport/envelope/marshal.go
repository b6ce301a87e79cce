package envelope

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MarshalDownlink serializes a DownlinkEnvelope for the REQ socket.
//
// Layout: [downlink_id:4][node_id:8][payload_len:2][payload:N]
func MarshalDownlink(d DownlinkEnvelope) []byte {
	buf := make([]byte, 4+8+2+len(d.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], d.DownlinkID)
	copy(buf[4:12], d.NodeID[:])
	binary.LittleEndian.PutUint16(buf[12:14], uint16(len(d.Payload)))
	copy(buf[14:], d.Payload)
	return buf
}

// UnmarshalDownlinkAck deserializes a DownlinkAck from the REP socket reply.
//
// Layout: [downlink_id:4][status:4]
func UnmarshalDownlinkAck(data []byte) (DownlinkAck, error) {
	if len(data) < 8 {
		return DownlinkAck{}, fmt.Errorf("envelope: ack too short: %d bytes", len(data))
	}
	return DownlinkAck{
		DownlinkID: binary.LittleEndian.Uint32(data[0:4]),
		Status:     TxAckStatus(binary.LittleEndian.Uint32(data[4:8])),
	}, nil
}

// UnmarshalUplink deserializes an UplinkEnvelope from a PUB "up" event.
//
// Layout: [node_id:8][rssi:4][snr:4 (float32 bits)][payload_len:2][payload:N]
func UnmarshalUplink(data []byte) (UplinkEnvelope, error) {
	if len(data) < 18 {
		return UplinkEnvelope{}, fmt.Errorf("envelope: uplink too short: %d bytes", len(data))
	}
	var u UplinkEnvelope
	copy(u.NodeID[:], data[0:8])
	u.RSSI = int32(binary.LittleEndian.Uint32(data[8:12]))
	u.SNR = math.Float32frombits(binary.LittleEndian.Uint32(data[12:16]))
	plen := int(binary.LittleEndian.Uint16(data[16:18]))
	if len(data) < 18+plen {
		return UplinkEnvelope{}, fmt.Errorf("envelope: uplink payload truncated")
	}
	u.Payload = append([]byte(nil), data[18:18+plen]...)
	return u, nil
}

// UnmarshalStats deserializes a Stats event from a PUB "stats" event.
//
// Layout: [node_id:8][rx:4][rx_ok:4][tx:4]
func UnmarshalStats(data []byte) (Stats, error) {
	if len(data) < 20 {
		return Stats{}, fmt.Errorf("envelope: stats too short: %d bytes", len(data))
	}
	var s Stats
	copy(s.NodeID[:], data[0:8])
	s.FramesReceived = binary.LittleEndian.Uint32(data[8:12])
	s.FramesReceivedOK = binary.LittleEndian.Uint32(data[12:16])
	s.FramesSent = binary.LittleEndian.Uint32(data[16:20])
	return s, nil
}
