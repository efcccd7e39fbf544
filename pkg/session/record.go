package session

import (
	"encoding/binary"
	"math"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for the record schema carried on the TCP data channel.
// Status and stream records share one schema; which optional fields are
// present determines the role (see record.isStream). Like the discovery
// response schema, this is this library's own wire contract rather than a
// published upstream one.
const (
	fDevicePort        = 1  // uint (varint)
	fHostName          = 2  // string
	fDeviceSN          = 3  // uint64, rendered as decimal string
	fDeviceFWRev       = 4  // string
	fDevicePN          = 5  // string
	fMACAddr           = 6  // 6 raw bytes
	fIPAddr            = 7  // 4 raw bytes
	fPwrStatus         = 8  // varint, 1 = on
	fHardwareRev       = 9  // string
	fSSID              = 10 // string
	fWifiSecurity      = 11 // string
	fWifiInfraMode     = 12 // string
	fAnalogPortCount   = 13 // varint
	fDigitalPortCount  = 14 // varint
	fCalSlopes         = 15 // packed fixed64 doubles, one per analog channel
	fCalOffsets        = 16 // packed fixed64 doubles
	fCalInternalScale  = 17 // packed fixed64 doubles
	fCalPortRange      = 18 // packed fixed64 doubles
	fCalResolution     = 19 // packed varint
	fMsgTimeStamp      = 20 // varint, device tick counter
	fAnalogInData      = 21 // packed varint, raw ADC counts
	fAnalogInDataFloat = 22 // packed fixed32 floats, preferred over fAnalogInData when present
	fDigitalData       = 23 // bytes, one bit per digital channel
	fChannelTimestamps = 24 // packed varint, per-channel tick offsets
)

// calibrationEntry is one analog channel's calibration, decoded from the
// parallel arrays a status record carries.
type calibrationEntry struct {
	slope         float64
	offset        float64
	internalScale float64
	portRange     float64
	resolution    uint32
}

// record is the decoded form of one TCP-channel frame, before role
// classification.
type record struct {
	devicePort  uint64
	hostName    string
	deviceSN    string
	deviceFWRev string
	devicePN    string
	hardwareRev string
	ssid        string
	wifiSecMode string
	wifiInfra   string
	macAddr     []byte
	ipAddr      []byte
	powerOn     bool

	analogPortCount  int
	digitalPortCount int
	calibration      []calibrationEntry

	hasTick     bool
	tick        uint32
	analogInt   []int64
	analogFloat []float64
	digitalData []byte
}

// isStream reports whether this record carries sample payload fields;
// role classification is by field presence, a record with none of them
// is a status record.
func (r record) isStream() bool {
	return r.hasTick || len(r.analogInt) > 0 || len(r.analogFloat) > 0 || len(r.digitalData) > 0
}

func decodeRecord(payload []byte) (record, bool) {
	var r record

	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return record{}, false
		}
		payload = payload[n:]

		switch num {
		case fDevicePort:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return record{}, false
			}
			r.devicePort = v
			payload = payload[n:]
		case fHostName:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			r.hostName = string(v)
			payload = payload[n:]
		case fDeviceSN:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return record{}, false
			}
			r.deviceSN = strconv.FormatUint(v, 10)
			payload = payload[n:]
		case fDeviceFWRev:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			r.deviceFWRev = string(v)
			payload = payload[n:]
		case fDevicePN:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			r.devicePN = string(v)
			payload = payload[n:]
		case fMACAddr:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			r.macAddr = append([]byte(nil), v...)
			payload = payload[n:]
		case fIPAddr:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			r.ipAddr = append([]byte(nil), v...)
			payload = payload[n:]
		case fPwrStatus:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return record{}, false
			}
			r.powerOn = v == 1
			payload = payload[n:]
		case fHardwareRev:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			r.hardwareRev = string(v)
			payload = payload[n:]
		case fSSID:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			r.ssid = string(v)
			payload = payload[n:]
		case fWifiSecurity:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			r.wifiSecMode = string(v)
			payload = payload[n:]
		case fWifiInfraMode:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			r.wifiInfra = string(v)
			payload = payload[n:]
		case fAnalogPortCount:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return record{}, false
			}
			r.analogPortCount = int(v)
			payload = payload[n:]
		case fDigitalPortCount:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return record{}, false
			}
			r.digitalPortCount = int(v)
			payload = payload[n:]
		case fCalSlopes, fCalOffsets, fCalInternalScale, fCalPortRange:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			doubles, ok := decodePackedDoubles(v)
			if !ok {
				return record{}, false
			}
			r.applyCalibrationDoubles(uint32(num), doubles)
			payload = payload[n:]
		case fCalResolution:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			ints, ok := decodePackedVarints(v)
			if !ok {
				return record{}, false
			}
			r.applyCalibrationResolutions(ints)
			payload = payload[n:]
		case fMsgTimeStamp:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return record{}, false
			}
			r.hasTick = true
			r.tick = uint32(v)
			payload = payload[n:]
		case fAnalogInData:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			ints, ok := decodePackedVarints(v)
			if !ok {
				return record{}, false
			}
			r.analogInt = make([]int64, len(ints))
			for i, u := range ints {
				r.analogInt[i] = int64(u)
			}
			payload = payload[n:]
		case fAnalogInDataFloat:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			floats, ok := decodePackedFloats(v)
			if !ok {
				return record{}, false
			}
			r.analogFloat = floats
			payload = payload[n:]
		case fDigitalData:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			r.digitalData = append([]byte(nil), v...)
			payload = payload[n:]
		case fChannelTimestamps:
			// Skipped: the value is consumed and discarded, since the core
			// session does not model per-channel sub-timestamps.
			_, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return record{}, false
			}
			payload = payload[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, payload)
			if n < 0 {
				return record{}, false
			}
			payload = payload[n:]
		}
	}

	return r, true
}

func (r *record) calAt(i int) *calibrationEntry {
	for len(r.calibration) <= i {
		r.calibration = append(r.calibration, calibrationEntry{
			slope: 1, offset: 0, internalScale: 1, portRange: 1, resolution: 65535,
		})
	}
	return &r.calibration[i]
}

func (r *record) applyCalibrationDoubles(field uint32, values []float64) {
	for i, v := range values {
		entry := r.calAt(i)
		switch field {
		case fCalSlopes:
			entry.slope = v
		case fCalOffsets:
			entry.offset = v
		case fCalInternalScale:
			entry.internalScale = v
		case fCalPortRange:
			entry.portRange = v
		}
	}
}

func (r *record) applyCalibrationResolutions(values []uint64) {
	for i, v := range values {
		r.calAt(i).resolution = uint32(v)
	}
}

func decodePackedVarints(b []byte) ([]uint64, bool) {
	var out []uint64
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, false
		}
		out = append(out, v)
		b = b[n:]
	}
	return out, true
}

func decodePackedDoubles(b []byte) ([]float64, bool) {
	if len(b)%8 != 0 {
		return nil, false
	}
	out := make([]float64, 0, len(b)/8)
	for i := 0; i < len(b); i += 8 {
		bits := binary.LittleEndian.Uint64(b[i : i+8])
		out = append(out, math.Float64frombits(bits))
	}
	return out, true
}

func decodePackedFloats(b []byte) ([]float64, bool) {
	if len(b)%4 != 0 {
		return nil, false
	}
	out := make([]float64, 0, len(b)/4)
	for i := 0; i < len(b); i += 4 {
		bits := binary.LittleEndian.Uint32(b[i : i+4])
		out = append(out, float64(math.Float32frombits(bits)))
	}
	return out, true
}
