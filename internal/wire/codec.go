// Package wire implements the bidirectional binary protocol spoken with the
// mesh node: pure functions that build command frames and parse
// response/push frames into a typed event algebra. All multi-byte integers
// are little-endian. The codec never throws across the parse boundary — a
// short or invalid payload yields a ParseFailure event, never a panic or a
// Go error return.
package wire

import (
	"encoding/binary"
)

// MaxPayload is the largest frame payload on the reference transport. The
// Build functions do not check it; callers with a smaller transport MTU
// chunk the encoded frame themselves (the Session's job, not the codec's).
const MaxPayload = 250

// Frame is the on-wire unit: a one-byte code followed by a payload whose
// code partitions into three disjoint ranges: commands (host->node),
// responses (node->host, solicited), and pushes (node->host, unsolicited,
// code >= 0x80).
type Frame struct {
	Code    byte
	Payload []byte
}

// IsPush reports whether code falls in the unsolicited push range.
func IsPush(code byte) bool { return code >= 0x80 }

// Bytes renders a Frame as the bytes written to (or read from) the
// Transport: a one-byte code followed by the payload, with no length
// prefix — the Transport's notification boundary is the frame boundary.
func (f Frame) Bytes() []byte {
	out := make([]byte, 1+len(f.Payload))
	out[0] = f.Code
	copy(out[1:], f.Payload)
	return out
}

// ParseRaw splits a raw Transport notification into a Frame ready for Parse.
func ParseRaw(raw []byte) Frame {
	if len(raw) == 0 {
		return Frame{}
	}
	return Frame{Code: raw[0], Payload: raw[1:]}
}

// Command codes (host -> node).
const (
	CmdAppStart           byte = 0x01
	CmdSendText           byte = 0x02
	CmdSendChanText       byte = 0x03
	CmdGetContacts        byte = 0x04
	CmdGetDeviceTime      byte = 0x05
	CmdSetDeviceTime      byte = 0x06
	CmdSendSelfAdvert     byte = 0x07
	CmdSetAdvertName      byte = 0x08
	CmdAddUpdateContact   byte = 0x09
	CmdSyncNextMessage    byte = 0x0A
	CmdSetRadioParams     byte = 0x0B
	CmdSetRadioTxPower    byte = 0x0C
	CmdResetPath          byte = 0x0D
	CmdSetAdvertLatLon    byte = 0x0E
	CmdRemoveContact      byte = 0x0F
	CmdShareContact       byte = 0x10
	CmdReboot             byte = 0x13
	CmdGetBatteryStorage  byte = 0x14
	CmdDeviceQuery        byte = 0x16
	CmdSendRawData        byte = 0x19
	CmdSendLogin          byte = 0x1A
	CmdSendStatusReq      byte = 0x1B
	CmdHasConnection      byte = 0x1C
	CmdLogout             byte = 0x1D
	CmdGetContactByKey    byte = 0x1E
	CmdGetChannel         byte = 0x1F
	CmdSetChannel         byte = 0x20
	CmdSendTracePath      byte = 0x24
	CmdSendTelemetryReq   byte = 0x27
	CmdGetAdvertPath      byte = 0x2A
	CmdGetTuningParams    byte = 0x2B
	CmdFactoryReset       byte = 0x33
	CmdSendBinaryReq      byte = 0x32
	CmdSendPathDiscovery  byte = 0x34
	CmdGetStats           byte = 0x38
)

// ProtocolVersion is the deviceQuery version byte this client speaks.
const ProtocolVersion byte = 1

var factoryResetGuard = [5]byte{'r', 'e', 's', 'e', 't'}

func frame(code byte, payload []byte) Frame {
	return Frame{Code: code, Payload: payload}
}

// BuildDeviceQuery encodes deviceQuery(0x16) [ver:1].
func BuildDeviceQuery(ver byte) Frame {
	return frame(CmdDeviceQuery, []byte{ver})
}

// BuildAppStart encodes appStart(0x01) [name: UTF-8].
func BuildAppStart(name string) Frame {
	return frame(CmdAppStart, []byte(name))
}

// BuildGetDeviceTime encodes getDeviceTime(0x05).
func BuildGetDeviceTime() Frame { return frame(CmdGetDeviceTime, nil) }

// BuildSetDeviceTime encodes setDeviceTime(0x06) [ts:4].
func BuildSetDeviceTime(ts uint32) Frame {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, ts)
	return frame(CmdSetDeviceTime, p)
}

// BuildGetBatteryAndStorage encodes getBatteryAndStorage(0x14).
func BuildGetBatteryAndStorage() Frame { return frame(CmdGetBatteryStorage, nil) }

// BuildReboot encodes reboot(0x13).
func BuildReboot() Frame { return frame(CmdReboot, nil) }

// BuildFactoryReset encodes factoryReset(0x33) with the literal "reset" guard.
func BuildFactoryReset() Frame {
	return frame(CmdFactoryReset, factoryResetGuard[:])
}

// TextType mirrors the wire's message text-type byte.
type TextType uint8

const (
	TextPlain       TextType = 0
	TextCLIData     TextType = 1
	TextSignedPlain TextType = 2
)

// BuildSendText encodes sendText(0x02) [type:1][attempt:1][ts:4][recipPrefix:6][text:L].
func BuildSendText(textType TextType, attempt uint8, ts uint32, recipPrefix [6]byte, text string) Frame {
	p := make([]byte, 1+1+4+6+len(text))
	p[0] = byte(textType)
	p[1] = attempt
	binary.LittleEndian.PutUint32(p[2:6], ts)
	copy(p[6:12], recipPrefix[:])
	copy(p[12:], text)
	return frame(CmdSendText, p)
}

// BuildSendChanText encodes sendChanText(0x03) [type:1][idx:1][ts:4][text:L].
func BuildSendChanText(textType TextType, idx uint8, ts uint32, text string) Frame {
	p := make([]byte, 1+1+4+len(text))
	p[0] = byte(textType)
	p[1] = idx
	binary.LittleEndian.PutUint32(p[2:6], ts)
	copy(p[6:], text)
	return frame(CmdSendChanText, p)
}

// BuildSyncNextMessage encodes syncNextMessage(0x0A).
func BuildSyncNextMessage() Frame { return frame(CmdSyncNextMessage, nil) }

// BuildGetContacts encodes getContacts(0x04) [since:4]?.
func BuildGetContacts(since *uint32) Frame {
	if since == nil {
		return frame(CmdGetContacts, nil)
	}
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, *since)
	return frame(CmdGetContacts, p)
}

// ContactType mirrors the Contact.type wire byte.
type ContactType uint8

const (
	ContactChat     ContactType = 0
	ContactRepeater ContactType = 1
	ContactRoom     ContactType = 2
)

// ContactFrame is the 147-byte wire layout shared by addUpdateContact,
// contact(...) responses, and the newAdvertisement fallback's full form.
type ContactFrame struct {
	PublicKey    [32]byte
	Type         ContactType
	Flags        uint8
	OutPathLen   int8 // -1 denotes flood routing
	OutPath      [64]byte
	Name         string // <=32 bytes, zero-padded/truncated on the wire
	LastAdvertTs uint32
	Lat          int32 // microdegrees
	Lon          int32 // microdegrees
	LastModified uint32
}

// Encode renders the 147-byte ContactFrame layout. Name is truncated or
// zero-padded to 32 bytes; OutPath beyond OutPathLen is still written
// verbatim (callers pass a zeroed array when OutPathLen == -1).
func (c ContactFrame) Encode() []byte {
	buf := make([]byte, 147)
	copy(buf[0:32], c.PublicKey[:])
	buf[32] = byte(c.Type)
	buf[33] = c.Flags
	buf[34] = byte(uint8(c.OutPathLen))
	copy(buf[35:99], c.OutPath[:])
	putFixedString(buf[99:131], c.Name)
	binary.LittleEndian.PutUint32(buf[131:135], c.LastAdvertTs)
	binary.LittleEndian.PutUint32(buf[135:139], uint32(c.Lat))
	binary.LittleEndian.PutUint32(buf[139:143], uint32(c.Lon))
	binary.LittleEndian.PutUint32(buf[143:147], c.LastModified)
	return buf
}

// putFixedString zero-pads dst with src, truncating src if it overflows dst.
func putFixedString(dst []byte, src string) {
	n := copy(dst, src)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// BuildAddUpdateContact encodes addUpdateContact(0x09) <ContactFrame>.
func BuildAddUpdateContact(c ContactFrame) Frame {
	return frame(CmdAddUpdateContact, c.Encode())
}

// BuildRemoveContact encodes removeContact(0x0F) [pk:32].
func BuildRemoveContact(pk [32]byte) Frame { return frame(CmdRemoveContact, pk[:]) }

// BuildGetContactByKey encodes getContactByKey(0x1E) [pk:32].
func BuildGetContactByKey(pk [32]byte) Frame { return frame(CmdGetContactByKey, pk[:]) }

// BuildResetPath encodes resetPath(0x0D) [pk:32].
func BuildResetPath(pk [32]byte) Frame { return frame(CmdResetPath, pk[:]) }

// BuildShareContact encodes shareContact(0x10) [pk:32].
func BuildShareContact(pk [32]byte) Frame { return frame(CmdShareContact, pk[:]) }

// BuildSetRadioParams encodes setRadioParams(0x0B) [freq:4][bw:4][sf:1][cr:1].
func BuildSetRadioParams(freq, bw uint32, sf, cr uint8) Frame {
	p := make([]byte, 10)
	binary.LittleEndian.PutUint32(p[0:4], freq)
	binary.LittleEndian.PutUint32(p[4:8], bw)
	p[8] = sf
	p[9] = cr
	return frame(CmdSetRadioParams, p)
}

// BuildSetRadioTxPower encodes setRadioTxPower(0x0C) [dbm:1].
func BuildSetRadioTxPower(dbm int8) Frame {
	return frame(CmdSetRadioTxPower, []byte{byte(dbm)})
}

// BuildSendSelfAdvert encodes sendSelfAdvert(0x07) [flood:1].
func BuildSendSelfAdvert(flood bool) Frame {
	var b byte
	if flood {
		b = 1
	}
	return frame(CmdSendSelfAdvert, []byte{b})
}

// BuildSetAdvertName encodes setAdvertName(0x08) [name:L].
func BuildSetAdvertName(name string) Frame { return frame(CmdSetAdvertName, []byte(name)) }

// BuildSetAdvertLatLon encodes setAdvertLatLon(0x0E) [lat:4][lon:4] in microdegrees.
func BuildSetAdvertLatLon(latDeg, lonDeg float64) Frame {
	p := make([]byte, 8)
	binary.LittleEndian.PutUint32(p[0:4], uint32(EncodeMicrodeg(latDeg)))
	binary.LittleEndian.PutUint32(p[4:8], uint32(EncodeMicrodeg(lonDeg)))
	return frame(CmdSetAdvertLatLon, p)
}

// EncodeMicrodeg rounds a degree value to the i32 microdegree wire encoding.
func EncodeMicrodeg(deg float64) int32 {
	if deg >= 0 {
		return int32(deg*1_000_000 + 0.5)
	}
	return int32(deg*1_000_000 - 0.5)
}

// DecodeMicrodeg converts the i32 microdegree wire encoding back to degrees.
func DecodeMicrodeg(v int32) float64 { return float64(v) / 1_000_000 }

// BuildGetTuningParams encodes getTuningParams(0x2B).
func BuildGetTuningParams() Frame { return frame(CmdGetTuningParams, nil) }

// BuildGetChannel encodes getChannel(0x1F) [idx:1].
func BuildGetChannel(idx uint8) Frame { return frame(CmdGetChannel, []byte{idx}) }

// BuildSetChannel encodes setChannel(0x20) [idx:1][name:32][secret:16].
func BuildSetChannel(idx uint8, name string, secret [16]byte) Frame {
	p := make([]byte, 1+32+16)
	p[0] = idx
	putFixedString(p[1:33], name)
	copy(p[33:49], secret[:])
	return frame(CmdSetChannel, p)
}

// BuildSendLogin encodes sendLogin(0x1A) [pk:32][pw:UTF-8].
func BuildSendLogin(pk [32]byte, password string) Frame {
	p := make([]byte, 32+len(password))
	copy(p[0:32], pk[:])
	copy(p[32:], password)
	return frame(CmdSendLogin, p)
}

// BuildHasConnection encodes hasConnection(0x1C) [pk:32].
func BuildHasConnection(pk [32]byte) Frame { return frame(CmdHasConnection, pk[:]) }

// BuildLogout encodes logout(0x1D) [pk:32].
func BuildLogout(pk [32]byte) Frame { return frame(CmdLogout, pk[:]) }

// BuildSendBinaryReq encodes sendBinaryReq(0x32) [pk:32][type:1][data:L].
func BuildSendBinaryReq(pk [32]byte, reqType uint8, data []byte) Frame {
	p := make([]byte, 32+1+len(data))
	copy(p[0:32], pk[:])
	p[32] = reqType
	copy(p[33:], data)
	return frame(CmdSendBinaryReq, p)
}

// BuildSendStatusReq encodes sendStatusReq(0x1B) [pk:32].
func BuildSendStatusReq(pk [32]byte) Frame { return frame(CmdSendStatusReq, pk[:]) }

// BuildSendTelemetryReq encodes sendTelemetryReq(0x27) [rsv:3][pk:32]?.
func BuildSendTelemetryReq(pk *[32]byte) Frame {
	if pk == nil {
		return frame(CmdSendTelemetryReq, []byte{0, 0, 0})
	}
	p := make([]byte, 3+32)
	copy(p[3:], pk[:])
	return frame(CmdSendTelemetryReq, p)
}

// BuildSendRawData encodes sendRawData(0x19) [pathLen:1][path:pathLen][payload:L].
func BuildSendRawData(path []byte, payload []byte) Frame {
	p := make([]byte, 1+len(path)+len(payload))
	p[0] = byte(len(path))
	copy(p[1:1+len(path)], path)
	copy(p[1+len(path):], payload)
	return frame(CmdSendRawData, p)
}

// BuildGetAdvertPath encodes getAdvertPath(0x2A) [0][pk:32].
func BuildGetAdvertPath(pk [32]byte) Frame {
	p := make([]byte, 1+32)
	copy(p[1:], pk[:])
	return frame(CmdGetAdvertPath, p)
}

// BuildSendPathDiscovery encodes sendPathDiscovery(0x34) [0][pk:32].
func BuildSendPathDiscovery(pk [32]byte) Frame {
	p := make([]byte, 1+32)
	copy(p[1:], pk[:])
	return frame(CmdSendPathDiscovery, p)
}

// BuildSendTracePath encodes sendTracePath(0x24) [tag:4][auth:4][flags:1][path:L].
func BuildSendTracePath(tag, auth uint32, flags uint8, path []byte) Frame {
	p := make([]byte, 4+4+1+len(path))
	binary.LittleEndian.PutUint32(p[0:4], tag)
	binary.LittleEndian.PutUint32(p[4:8], auth)
	p[8] = flags
	copy(p[9:], path)
	return frame(CmdSendTracePath, p)
}

// BuildGetStats encodes getStats(0x38).
func BuildGetStats() Frame { return frame(CmdGetStats, nil) }
