package wire

import (
	"encoding/binary"
	"unicode/utf8"
)

// Response codes (solicited, node -> host, code < 0x80).
const (
	RespOk               byte = 0x00
	RespError            byte = 0x01
	RespContactsStart    byte = 0x02
	RespContact          byte = 0x03
	RespContactsEnd      byte = 0x04
	RespDisabled         byte = 0x05
	RespMessageSent      byte = 0x06
	RespContactMsgRecvV1 byte = 0x07
	RespChannelMsgRecvV1 byte = 0x08
	RespCurrentTime      byte = 0x09
	RespContactMsgRecvV3 byte = 0x0A
	RespChannelMsgRecvV3 byte = 0x0B
	RespBattery          byte = 0x0C
	RespDeviceInfo       byte = 0x0D
	RespSelfInfo         byte = 0x0E
	RespChannelInfo      byte = 0x0F
	RespLoginSuccess     byte = 0x10
	RespLoginFail        byte = 0x11
)

// Push codes (unsolicited, node -> host, code >= 0x80).
const (
	PushAdvertisement        byte = 0x80
	PushPathUpdate           byte = 0x81
	PushAcknowledgement      byte = 0x82
	PushMessagesWaiting      byte = 0x83
	PushNoMoreMessages       byte = 0x84
	PushStatusResponse       byte = 0x85
	PushTelemetryResponse    byte = 0x86
	PushBinaryResponse       byte = 0x87
	PushPathDiscoveryResp    byte = 0x88
	PushControlData          byte = 0x89
	PushNewAdvertisement     byte = 0x8A
)

// Event is the closed tagged sum every parsed frame resolves to. Dynamic
// dispatch is a type switch over the concrete event types below, not
// reflection or an open interface hierarchy.
type Event interface{ eventTag() }

type base struct{}

func (base) eventTag() {}

type OkEvent struct {
	base
	Value *uint32
}

type ErrorEvent struct {
	base
	Code *uint8
}

type DisabledEvent struct{ base }

type DeviceInfoEvent struct {
	base
	Version      uint8
	MaxContacts  uint16
	MaxChannels  uint8
	Build        uint32
	Manufacturer string
	FirmwareStr  string
}

type SelfInfoEvent struct {
	base
	NodeType  uint8
	TxPower   int8
	MaxTxPower int8
	PublicKey [32]byte
	Lat       int32
	Lon       int32
	Flags     uint8
	Freq      uint32
	Bandwidth uint32
	SF        uint8
	CR        uint8
	Name      string
}

type CurrentTimeEvent struct {
	base
	TimeIntervalSince1970 uint32
}

type BatteryEvent struct {
	base
	LevelMV  uint16
	UsedKB   *uint32
	TotalKB  *uint32
}

type ContactsStartEvent struct {
	base
	Count uint32
}

type ContactEvent struct {
	base
	Contact ContactFrame
}

type ContactsEndEvent struct {
	base
	LastModTs uint32
}

type ContactMessageReceivedEvent struct {
	base
	SenderPrefix [6]byte
	PathLen      uint8
	TextType     TextType
	SenderTs     uint32
	Text         string
	SNR          *float32
}

type ChannelMessageReceivedEvent struct {
	base
	ChannelIndex uint8
	PathLen      uint8
	TextType     TextType
	SenderTs     uint32
	Text         string
	SNR          *float32
}

type MessageSentEvent struct {
	base
	Type               uint8
	ExpectedAck        [4]byte
	SuggestedTimeoutMs uint32
}

type AcknowledgementEvent struct {
	base
	Code [4]byte
}

type AdvertisementEvent struct {
	base
	PublicKeyOrPrefix []byte
}

type PathUpdateEvent struct {
	base
	PublicKeyOrPrefix []byte
}

type MessagesWaitingEvent struct{ base }

type NoMoreMessagesEvent struct{ base }

type RemoteNodeStatus struct {
	BatteryMV uint16
	Uptime    uint32
	Extra     []byte
}

type StatusResponseEvent struct {
	base
	Status RemoteNodeStatus
}

type TelemetryResponseEvent struct {
	base
	Raw []byte
}

type BinaryResponseEvent struct {
	base
	Data []byte
}

type PathDiscoveryResponseEvent struct {
	base
	Path []byte
}

type ControlDataEvent struct {
	base
	SNR         float32
	RSSI        int16
	PathLen     uint8
	PayloadType uint8
	Payload     []byte
}

type NewAdvertisementEvent struct {
	base
	Contact *ContactFrame // set when payload >= 147 bytes
	Bare    []byte        // first 32 bytes, set when 32 <= len(payload) < 147
}

type ChannelInfoEvent struct {
	base
	Index  uint8
	Name   string
	Secret [16]byte
}

type LoginSuccessEvent struct {
	base
	IsAdmin      bool
	Prefix       [6]byte
	ServerTs     *uint32
	ACL          *uint8
	FirmwareLvl  *uint8
}

type LoginFailEvent struct {
	base
	Prefix [6]byte
}

type ParseFailureEvent struct {
	base
	Code   byte
	Reason string
}

func (ParseFailureEvent) Error() string { return "" } // marker; use Reason/Code for detail

func fail(code byte, reason string) Event {
	return ParseFailureEvent{Code: code, Reason: reason}
}

// Parse dispatches a Frame into one Event variant. It is total over the
// codes this package covers and never panics on a short/malformed payload.
func Parse(f Frame) Event {
	switch f.Code {
	case RespOk:
		return parseOk(f.Payload)
	case RespError:
		return parseError(f.Payload)
	case RespDisabled:
		return DisabledEvent{}
	case RespDeviceInfo:
		return parseDeviceInfo(f.Payload)
	case RespSelfInfo:
		return parseSelfInfo(f.Payload)
	case RespChannelInfo:
		return parseChannelInfo(f.Payload)
	case RespCurrentTime:
		return parseCurrentTime(f.Payload)
	case RespBattery:
		return parseBattery(f.Payload)
	case RespContactsStart:
		return parseContactsStart(f.Payload)
	case RespContact:
		return parseContact(f.Payload)
	case RespContactsEnd:
		return parseContactsEnd(f.Payload)
	case RespContactMsgRecvV1:
		return parseContactMessageV1(f.Payload)
	case RespContactMsgRecvV3:
		return parseContactMessageV3(f.Payload)
	case RespChannelMsgRecvV1:
		return parseChannelMessageV1(f.Payload)
	case RespChannelMsgRecvV3:
		return parseChannelMessageV3(f.Payload)
	case RespMessageSent:
		return parseMessageSent(f.Payload)
	case RespLoginSuccess:
		return parseLoginSuccess(f.Payload)
	case RespLoginFail:
		return parseLoginFail(f.Payload)
	case PushAdvertisement:
		return parsePrefixOrKey(f.Payload, f.Code, func(b []byte) Event { return AdvertisementEvent{PublicKeyOrPrefix: b} })
	case PushPathUpdate:
		return parsePrefixOrKey(f.Payload, f.Code, func(b []byte) Event { return PathUpdateEvent{PublicKeyOrPrefix: b} })
	case PushAcknowledgement:
		return parseAcknowledgement(f.Payload)
	case PushMessagesWaiting:
		return MessagesWaitingEvent{}
	case PushNoMoreMessages:
		return NoMoreMessagesEvent{}
	case PushStatusResponse:
		return parseStatusResponse(f.Payload)
	case PushTelemetryResponse:
		return TelemetryResponseEvent{Raw: f.Payload}
	case PushBinaryResponse:
		return BinaryResponseEvent{Data: f.Payload}
	case PushPathDiscoveryResp:
		return PathDiscoveryResponseEvent{Path: f.Payload}
	case PushControlData:
		return parseControlData(f.Payload)
	case PushNewAdvertisement:
		return parseNewAdvertisement(f.Payload)
	default:
		return fail(f.Code, "unknown code")
	}
}

func parseOk(p []byte) Event {
	switch len(p) {
	case 0:
		return OkEvent{}
	case 4:
		v := binary.LittleEndian.Uint32(p)
		return OkEvent{Value: &v}
	default:
		return fail(RespOk, "short")
	}
}

func parseError(p []byte) Event {
	if len(p) == 0 {
		return ErrorEvent{}
	}
	c := p[0]
	return ErrorEvent{Code: &c}
}

func parseDeviceInfo(p []byte) Event {
	if len(p) < 1 {
		return fail(RespDeviceInfo, "short")
	}
	ev := DeviceInfoEvent{Version: p[0]}
	if ev.Version >= 3 {
		if len(p) < 8 {
			return fail(RespDeviceInfo, "short v3 header")
		}
		rawMaxContacts := p[1]
		ev.MaxContacts = uint16(rawMaxContacts) * 2
		ev.MaxChannels = p[2]
		ev.Build = binary.LittleEndian.Uint32(p[3:7])
		tail := p[7:]
		manu, rest := readCString(tail)
		ev.Manufacturer = manu
		fw, _ := readCString(rest)
		ev.FirmwareStr = fw
	}
	return ev
}

// readCString reads a NUL-terminated (or end-of-slice-terminated) UTF-8
// string and returns it plus the remaining bytes after the terminator.
func readCString(b []byte) (string, []byte) {
	for i, c := range b {
		if c == 0 {
			return decodeUTF8Lossy(b[:i]), b[i+1:]
		}
	}
	return decodeUTF8Lossy(b), nil
}

func parseSelfInfo(p []byte) Event {
	if len(p) < 1+1+1+32+4+4+1+4+4+1+1 {
		return fail(RespSelfInfo, "short")
	}
	i := 0
	ev := SelfInfoEvent{}
	ev.NodeType = p[i]
	i++
	ev.TxPower = int8(p[i])
	i++
	ev.MaxTxPower = int8(p[i])
	i++
	copy(ev.PublicKey[:], p[i:i+32])
	i += 32
	ev.Lat = int32(binary.LittleEndian.Uint32(p[i : i+4]))
	i += 4
	ev.Lon = int32(binary.LittleEndian.Uint32(p[i : i+4]))
	i += 4
	ev.Flags = p[i]
	i++
	ev.Freq = binary.LittleEndian.Uint32(p[i : i+4])
	i += 4
	ev.Bandwidth = binary.LittleEndian.Uint32(p[i : i+4])
	i += 4
	ev.SF = p[i]
	i++
	ev.CR = p[i]
	i++
	ev.Name = decodeUTF8Lossy(p[i:])
	return ev
}

// parseChannelInfo parses the getChannel/channelInfo response:
// [idx:1][name:32][secret:16].
func parseChannelInfo(p []byte) Event {
	if len(p) < 1+32+16 {
		return fail(RespChannelInfo, "short")
	}
	ev := ChannelInfoEvent{Index: p[0]}
	ev.Name = decodeUTF8Lossy(trimTrailingZero(p[1:33]))
	copy(ev.Secret[:], p[33:49])
	return ev
}

func parseCurrentTime(p []byte) Event {
	if len(p) < 4 {
		return fail(RespCurrentTime, "short")
	}
	return CurrentTimeEvent{TimeIntervalSince1970: binary.LittleEndian.Uint32(p[:4])}
}

func parseBattery(p []byte) Event {
	if len(p) < 2 {
		return fail(RespBattery, "short")
	}
	ev := BatteryEvent{LevelMV: binary.LittleEndian.Uint16(p[:2])}
	if len(p) >= 10 {
		used := binary.LittleEndian.Uint32(p[2:6])
		total := binary.LittleEndian.Uint32(p[6:10])
		ev.UsedKB = &used
		ev.TotalKB = &total
	}
	return ev
}

func parseContactsStart(p []byte) Event {
	if len(p) < 4 {
		return fail(RespContactsStart, "short")
	}
	return ContactsStartEvent{Count: binary.LittleEndian.Uint32(p[:4])}
}

// decodeContactFrame parses the 147-byte ContactFrame layout, treating
// outPathLen == 0xFF as -1 (flood) and forcing an empty outPath in that case.
func decodeContactFrame(p []byte) (ContactFrame, bool) {
	if len(p) < 147 {
		return ContactFrame{}, false
	}
	var c ContactFrame
	copy(c.PublicKey[:], p[0:32])
	c.Type = ContactType(p[32])
	c.Flags = p[33]
	rawLen := p[34]
	if rawLen == 0xFF {
		c.OutPathLen = -1
	} else {
		c.OutPathLen = int8(rawLen)
		copy(c.OutPath[:], p[35:99])
	}
	c.Name = decodeUTF8Lossy(trimTrailingZero(p[99:131]))
	c.LastAdvertTs = binary.LittleEndian.Uint32(p[131:135])
	c.Lat = int32(binary.LittleEndian.Uint32(p[135:139]))
	c.Lon = int32(binary.LittleEndian.Uint32(p[139:143]))
	c.LastModified = binary.LittleEndian.Uint32(p[143:147])
	return c, true
}

func trimTrailingZero(b []byte) []byte {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return b[:n]
}

func parseContact(p []byte) Event {
	c, ok := decodeContactFrame(p)
	if !ok {
		return fail(RespContact, "short")
	}
	return ContactEvent{Contact: c}
}

func parseContactsEnd(p []byte) Event {
	if len(p) < 4 {
		return fail(RespContactsEnd, "short")
	}
	return ContactsEndEvent{LastModTs: binary.LittleEndian.Uint32(p[:4])}
}

func parseContactMessageV1(p []byte) Event {
	if len(p) < 6+1+1+4 {
		return fail(RespContactMsgRecvV1, "short")
	}
	ev := ContactMessageReceivedEvent{}
	copy(ev.SenderPrefix[:], p[0:6])
	ev.PathLen = p[6]
	ev.TextType = TextType(p[7])
	ev.SenderTs = binary.LittleEndian.Uint32(p[8:12])
	ev.Text = decodeUTF8Lossy(p[12:])
	return ev
}

func parseContactMessageV3(p []byte) Event {
	if len(p) < 6+1+1+4+1+2 {
		return fail(RespContactMsgRecvV3, "short")
	}
	ev := ContactMessageReceivedEvent{}
	copy(ev.SenderPrefix[:], p[0:6])
	ev.PathLen = p[6]
	ev.TextType = TextType(p[7])
	ev.SenderTs = binary.LittleEndian.Uint32(p[8:12])
	snr := decodeQuarterDB(int8(p[12]))
	ev.SNR = &snr
	// p[13:15] reserved
	ev.Text = decodeUTF8Lossy(p[15:])
	return ev
}

func parseChannelMessageV1(p []byte) Event {
	if len(p) < 1+1+1+4 {
		return fail(RespChannelMsgRecvV1, "short")
	}
	ev := ChannelMessageReceivedEvent{}
	ev.ChannelIndex = p[0]
	ev.PathLen = p[1]
	ev.TextType = TextType(p[2])
	ev.SenderTs = binary.LittleEndian.Uint32(p[3:7])
	ev.Text = decodeUTF8Lossy(p[7:])
	return ev
}

func parseChannelMessageV3(p []byte) Event {
	if len(p) < 1+1+1+4+1+2 {
		return fail(RespChannelMsgRecvV3, "short")
	}
	ev := ChannelMessageReceivedEvent{}
	ev.ChannelIndex = p[0]
	ev.PathLen = p[1]
	ev.TextType = TextType(p[2])
	ev.SenderTs = binary.LittleEndian.Uint32(p[3:7])
	snr := decodeQuarterDB(int8(p[7]))
	ev.SNR = &snr
	// p[8:10] reserved
	ev.Text = decodeUTF8Lossy(p[10:])
	return ev
}

func decodeQuarterDB(raw int8) float32 { return float32(raw) / 4.0 }

func parseMessageSent(p []byte) Event {
	if len(p) < 1+4+4 {
		return fail(RespMessageSent, "short")
	}
	ev := MessageSentEvent{Type: p[0]}
	copy(ev.ExpectedAck[:], p[1:5])
	ev.SuggestedTimeoutMs = binary.LittleEndian.Uint32(p[5:9])
	return ev
}

func parseAcknowledgement(p []byte) Event {
	if len(p) < 4 {
		return fail(PushAcknowledgement, "short")
	}
	ev := AcknowledgementEvent{}
	copy(ev.Code[:], p[0:4])
	return ev
}

func parsePrefixOrKey(p []byte, code byte, mk func([]byte) Event) Event {
	if len(p) != 6 && len(p) != 32 {
		return fail(code, "short")
	}
	b := make([]byte, len(p))
	copy(b, p)
	return mk(b)
}

func parseStatusResponse(p []byte) Event {
	if len(p) < 6 {
		return fail(PushStatusResponse, "short")
	}
	st := RemoteNodeStatus{
		BatteryMV: binary.LittleEndian.Uint16(p[0:2]),
		Uptime:    binary.LittleEndian.Uint32(p[2:6]),
	}
	if len(p) > 6 {
		st.Extra = append([]byte(nil), p[6:]...)
	}
	return StatusResponseEvent{Status: st}
}

func parseControlData(p []byte) Event {
	if len(p) < 1+2+1+1 {
		return fail(PushControlData, "short")
	}
	ev := ControlDataEvent{}
	ev.SNR = decodeQuarterDB(int8(p[0]))
	ev.RSSI = int16(binary.LittleEndian.Uint16(p[1:3]))
	ev.PathLen = p[3]
	ev.PayloadType = p[4]
	ev.Payload = append([]byte(nil), p[5:]...)
	return ev
}

// parseNewAdvertisement applies the documented fallback rule: >=147 bytes
// parses as a full Contact; 32..146 bytes yields a bare advertisement
// carrying the first 32 bytes; otherwise parseFailure.
func parseNewAdvertisement(p []byte) Event {
	if len(p) >= 147 {
		c, ok := decodeContactFrame(p)
		if !ok {
			return fail(PushNewAdvertisement, "short")
		}
		return NewAdvertisementEvent{Contact: &c}
	}
	if len(p) >= 32 {
		b := append([]byte(nil), p[:32]...)
		return NewAdvertisementEvent{Bare: b}
	}
	return fail(PushNewAdvertisement, "short")
}

func parseLoginSuccess(p []byte) Event {
	if len(p) < 1+6 {
		return fail(RespLoginSuccess, "short")
	}
	ev := LoginSuccessEvent{IsAdmin: p[0] != 0}
	copy(ev.Prefix[:], p[1:7])
	rest := p[7:]
	if len(rest) >= 4 {
		ts := binary.LittleEndian.Uint32(rest[0:4])
		ev.ServerTs = &ts
		rest = rest[4:]
	}
	if len(rest) >= 1 {
		acl := rest[0]
		ev.ACL = &acl
		rest = rest[1:]
	}
	if len(rest) >= 1 {
		lvl := rest[0]
		ev.FirmwareLvl = &lvl
	}
	return ev
}

func parseLoginFail(p []byte) Event {
	if len(p) < 6 {
		return fail(RespLoginFail, "short")
	}
	ev := LoginFailEvent{}
	copy(ev.Prefix[:], p[0:6])
	return ev
}

// decodeUTF8Lossy decodes b as UTF-8, substituting U+FFFD for invalid
// sequences rather than failing the parse.
func decodeUTF8Lossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out := make([]rune, 0, len(b))
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		out = append(out, r)
		i += size
	}
	return string(out)
}
