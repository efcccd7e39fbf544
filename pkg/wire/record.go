package wire

// maxVarintBytes is the most bytes a base-128 varint length prefix may
// occupy before it is considered malformed.
const maxVarintBytes = 5

// maxRetries is how many consecutive garbage-recovery steps RecordFramer
// takes in a single call before giving up and returning what it has so far.
const maxRetries = 3

// RecordFramer extracts varint-length-prefixed records:
// [varint length][payload of that many bytes], repeated. It tolerates
// partial frames (returns with bytesConsumed unchanged) and recovers from
// garbage by advancing a single byte at a time, up to maxRetries
// consecutive recovery steps per call.
type RecordFramer struct{}

// NewRecordFramer returns a ready-to-use RecordFramer.
func NewRecordFramer() *RecordFramer {
	return &RecordFramer{}
}

// ParseMessages implements Framer.
func (f *RecordFramer) ParseMessages(buf []byte) ([][]byte, int) {
	var messages [][]byte
	pos := 0
	retries := 0

	for pos < len(buf) {
		length, prefixLen, malformed := readVarint(buf[pos:])
		if prefixLen == 0 && !malformed {
			// Not enough bytes yet for a complete varint.
			break
		}

		if malformed || length <= 0 {
			// Garbage: recover by skipping one byte.
			pos++
			retries++
			if retries >= maxRetries {
				break
			}
			continue
		}

		frameLen := prefixLen + int(length)
		if len(buf)-pos < frameLen {
			// Partial frame: wait for more bytes.
			break
		}

		payload := buf[pos+prefixLen : pos+frameLen]
		messages = append(messages, payload)
		pos += frameLen
		retries = 0
	}

	return messages, pos
}

// readVarint reads a base-128 varint of up to maxVarintBytes bytes from the
// front of buf. It returns (value, bytesRead, malformed); bytesRead is 0
// when buf is too short to know whether the varint is complete, and
// malformed is true when maxVarintBytes were available but the MSB never
// cleared, so the bytes cannot be a valid length prefix.
func readVarint(buf []byte) (int64, int, bool) {
	var value int64
	for i := 0; i < len(buf) && i < maxVarintBytes; i++ {
		b := buf[i]
		value |= int64(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return value, i + 1, false
		}
	}
	if len(buf) >= maxVarintBytes {
		return 0, 0, true
	}
	return 0, 0, false
}
