package wire

import "encoding/binary"

// LPPSensorType enumerates the per-type fixed sizes this parser recognizes.
type LPPSensorType uint8

const (
	LPPDigitalInput      LPPSensorType = 0x00 // 1 byte
	LPPTemperature       LPPSensorType = 0x67 // 2 bytes, 0.1 C
	LPPHumidity          LPPSensorType = 0x68 // 1 byte, 0.5 %
	LPPBatteryVoltage    LPPSensorType = 0x74 // 2 bytes, 0.01 V
	LPPAccelerometer     LPPSensorType = 0x71 // 6 bytes, 3x i16 0.001 G
	LPPGPS               LPPSensorType = 0x88 // 9 bytes, 3x i24
)

var lppSizes = map[LPPSensorType]int{
	LPPDigitalInput:   1,
	LPPTemperature:    2,
	LPPHumidity:       1,
	LPPBatteryVoltage: 2,
	LPPAccelerometer:  6,
	LPPGPS:            9,
}

// LPPReading is one decoded telemetry sample.
type LPPReading struct {
	Channel    uint8
	SensorType LPPSensorType
	Value      any
}

// GPSValue is the decoded payload of an LPPGPS reading.
type GPSValue struct {
	LatTenThousandths int32
	LonTenThousandths int32
	AltitudeCM        int32
}

// AccelerometerValue is the decoded payload of an LPPAccelerometer reading.
type AccelerometerValue struct{ X, Y, Z float32 }

// ParseLPP decodes a lazy, finite sequence of readings from raw LPP
// telemetry bytes. Parsing stops at the first unknown sensor byte or
// truncated tail; the prefix parsed so far is always returned, never an
// error, matching the Codec's non-throwing contract.
func ParseLPP(raw []byte) []LPPReading {
	var out []LPPReading
	i := 0
	for i+2 <= len(raw) {
		ch := raw[i]
		st := LPPSensorType(raw[i+1])
		size, known := lppSizes[st]
		if !known {
			break
		}
		if i+2+size > len(raw) {
			break
		}
		body := raw[i+2 : i+2+size]
		val := decodeLPPValue(st, body)
		out = append(out, LPPReading{Channel: ch, SensorType: st, Value: val})
		i += 2 + size
	}
	return out
}

func decodeLPPValue(st LPPSensorType, b []byte) any {
	switch st {
	case LPPDigitalInput:
		return b[0]
	case LPPTemperature:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 10.0
	case LPPHumidity:
		return float32(b[0]) / 2.0
	case LPPBatteryVoltage:
		return float32(binary.LittleEndian.Uint16(b)) / 100.0
	case LPPAccelerometer:
		return AccelerometerValue{
			X: float32(int16(binary.LittleEndian.Uint16(b[0:2]))) / 1000.0,
			Y: float32(int16(binary.LittleEndian.Uint16(b[2:4]))) / 1000.0,
			Z: float32(int16(binary.LittleEndian.Uint16(b[4:6]))) / 1000.0,
		}
	case LPPGPS:
		return GPSValue{
			LatTenThousandths: decode24(b[0:3]),
			LonTenThousandths: decode24(b[3:6]),
			AltitudeCM:        decode24(b[6:9]),
		}
	default:
		return nil
	}
}

// decode24 sign-extends a 24-bit little-endian signed integer.
func decode24(b []byte) int32 {
	v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	if v&0x800000 != 0 {
		v |= ^int32(0xFFFFFF)
	}
	return v
}
