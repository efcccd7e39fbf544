package discovery

import (
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for the discovery response record: this library's own
// wire contract for the length-delimited UDP response payload.
const (
	fieldDevicePort  = 1 // uint (varint)
	fieldHostName    = 2 // string
	fieldDeviceSN    = 3 // uint64, rendered as decimal string
	fieldDeviceFWRev = 4 // string
	fieldDevicePN    = 5 // string
	fieldMACAddr     = 6 // 6 raw bytes
	fieldIPAddr      = 7 // 4 raw bytes
	fieldPwrStatus   = 8 // varint, 1 = on
)

// response is the decoded form of a discovery UDP payload.
type response struct {
	devicePort  uint64
	hostName    string
	deviceSN    string
	deviceFWRev string
	devicePN    string
	macAddr     []byte
	ipAddr      []byte
	powerOn     bool
}

// decodeResponse walks payload field-by-field using protobuf wire
// encoding. Unknown fields are skipped; a malformed tag or truncated
// value aborts with ok=false.
func decodeResponse(payload []byte) (response, bool) {
	var r response

	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return response{}, false
		}
		payload = payload[n:]

		switch num {
		case fieldDevicePort:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return response{}, false
			}
			r.devicePort = v
			payload = payload[n:]
		case fieldHostName:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return response{}, false
			}
			r.hostName = string(v)
			payload = payload[n:]
		case fieldDeviceSN:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return response{}, false
			}
			r.deviceSN = strconv.FormatUint(v, 10)
			payload = payload[n:]
		case fieldDeviceFWRev:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return response{}, false
			}
			r.deviceFWRev = string(v)
			payload = payload[n:]
		case fieldDevicePN:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return response{}, false
			}
			r.devicePN = string(v)
			payload = payload[n:]
		case fieldMACAddr:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return response{}, false
			}
			r.macAddr = append([]byte(nil), v...)
			payload = payload[n:]
		case fieldIPAddr:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return response{}, false
			}
			r.ipAddr = append([]byte(nil), v...)
			payload = payload[n:]
		case fieldPwrStatus:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return response{}, false
			}
			r.powerOn = v == 1
			payload = payload[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, payload)
			if n < 0 {
				return response{}, false
			}
			payload = payload[n:]
		}
	}

	return r, true
}
