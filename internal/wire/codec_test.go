package wire

import (
	"bytes"
	"testing"
)

func TestBuildFactoryReset_S1(t *testing.T) {
	f := BuildFactoryReset()
	got := append([]byte{f.Code}, f.Payload...)
	want := []byte{0x33, 0x72, 0x65, 0x73, 0x65, 0x74}
	if !bytes.Equal(got, want) {
		t.Fatalf("factoryReset = % X, want % X", got, want)
	}
}

func TestParseBattery_S2(t *testing.T) {
	ev := Parse(Frame{Code: 0x0C, Payload: []byte{0x68, 0x10}})
	b, ok := ev.(BatteryEvent)
	if !ok {
		t.Fatalf("got %T, want BatteryEvent", ev)
	}
	if b.LevelMV != 4200 {
		t.Fatalf("level = %d, want 4200", b.LevelMV)
	}
	if b.UsedKB != nil || b.TotalKB != nil {
		t.Fatalf("expected no extended fields")
	}
}

func TestParseCurrentTime_S3(t *testing.T) {
	ev := Parse(Frame{Code: 0x09, Payload: []byte{0x00, 0x5B, 0x4B, 0x65}})
	ct, ok := ev.(CurrentTimeEvent)
	if !ok {
		t.Fatalf("got %T, want CurrentTimeEvent", ev)
	}
	if ct.TimeIntervalSince1970 != 0x654B5B00 {
		t.Fatalf("ts = %#x, want 0x654B5B00", ct.TimeIntervalSince1970)
	}
}

func TestParseMessageSent_S4(t *testing.T) {
	ev := Parse(Frame{Code: 0x06, Payload: []byte{0x00, 0xDE, 0xAD, 0xBE, 0xEF, 0xE8, 0x03, 0x00, 0x00}})
	ms, ok := ev.(MessageSentEvent)
	if !ok {
		t.Fatalf("got %T, want MessageSentEvent", ev)
	}
	if ms.Type != 0 || ms.ExpectedAck != [4]byte{0xDE, 0xAD, 0xBE, 0xEF} || ms.SuggestedTimeoutMs != 1000 {
		t.Fatalf("unexpected messageSent: %+v", ms)
	}
}

func TestParseAcknowledgement_S5(t *testing.T) {
	ev := Parse(Frame{Code: 0x82, Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF}})
	a, ok := ev.(AcknowledgementEvent)
	if !ok {
		t.Fatalf("got %T, want AcknowledgementEvent", ev)
	}
	if a.Code != [4]byte{0xDE, 0xAD, 0xBE, 0xEF} {
		t.Fatalf("code = % X", a.Code)
	}
}

func TestParseContactsStart_S6(t *testing.T) {
	ev := Parse(Frame{Code: 0x02, Payload: []byte{0x0A, 0x00, 0x00, 0x00}})
	cs, ok := ev.(ContactsStartEvent)
	if !ok {
		t.Fatalf("got %T, want ContactsStartEvent", ev)
	}
	if cs.Count != 10 {
		t.Fatalf("count = %d, want 10", cs.Count)
	}
}

func TestParseNewAdvertisementFallback_S7(t *testing.T) {
	bare := make([]byte, 32)
	for i := range bare {
		bare[i] = byte(i)
	}
	ev := Parse(Frame{Code: PushNewAdvertisement, Payload: bare})
	na, ok := ev.(NewAdvertisementEvent)
	if !ok || na.Bare == nil || na.Contact != nil {
		t.Fatalf("32-byte payload should yield a bare advertisement, got %+v", ev)
	}

	full := make([]byte, 147)
	ev2 := Parse(Frame{Code: PushNewAdvertisement, Payload: full})
	na2, ok := ev2.(NewAdvertisementEvent)
	if !ok || na2.Contact == nil {
		t.Fatalf("147-byte payload should yield a full contact, got %+v", ev2)
	}

	short := make([]byte, 20)
	ev3 := Parse(Frame{Code: PushNewAdvertisement, Payload: short})
	if _, ok := ev3.(ParseFailureEvent); !ok {
		t.Fatalf("20-byte payload should fail to parse, got %T", ev3)
	}
}

func TestContactFrameFloodRule(t *testing.T) {
	buf := make([]byte, 147)
	buf[34] = 0xFF
	c, ok := decodeContactFrame(buf)
	if !ok {
		t.Fatal("decode failed")
	}
	if c.OutPathLen != -1 {
		t.Fatalf("outPathLen = %d, want -1", c.OutPathLen)
	}
}

func TestSendTextRoundtripLayout(t *testing.T) {
	prefix := [6]byte{1, 2, 3, 4, 5, 6}
	f := BuildSendText(TextPlain, 1, 0x12345678, prefix, "hi")
	if f.Code != CmdSendText {
		t.Fatalf("code = %#x", f.Code)
	}
	if len(f.Payload) != 1+1+4+6+2 {
		t.Fatalf("payload len = %d", len(f.Payload))
	}
}

func TestMicrodegRoundtrip(t *testing.T) {
	for _, deg := range []float64{45.123456, -122.654321, 0} {
		enc := EncodeMicrodeg(deg)
		dec := DecodeMicrodeg(enc)
		if diff := dec - deg; diff > 1e-5 || diff < -1e-5 {
			t.Fatalf("roundtrip %v -> %v -> %v", deg, enc, dec)
		}
	}
}

func TestParseUnknownCode(t *testing.T) {
	ev := Parse(Frame{Code: 0x7F, Payload: nil})
	pf, ok := ev.(ParseFailureEvent)
	if !ok || pf.Code != 0x7F {
		t.Fatalf("unexpected event for unknown code: %+v", ev)
	}
}

func TestParseLPPStopsAtUnknown(t *testing.T) {
	raw := []byte{
		1, byte(LPPTemperature), 0x64, 0x00, // channel 1, 10.0C
		2, 0xFE, // unknown sensor type, parsing should stop here
		3, 4, 5,
	}
	readings := ParseLPP(raw)
	if len(readings) != 1 {
		t.Fatalf("got %d readings, want 1", len(readings))
	}
	if readings[0].Channel != 1 {
		t.Fatalf("channel = %d", readings[0].Channel)
	}
}
