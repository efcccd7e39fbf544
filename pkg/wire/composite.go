package wire

import "bytes"

// Heuristic thresholds, tuned against observed device traffic.
const (
	asciiRatioThreshold         = 0.8
	nullRatioRecordThreshold    = 0.10
	nullRatioUncertainThreshold = 0.05
)

// textCommandPrefixes are the known text command prefixes plus the "**"
// error-reply prefix; a chunk starting with one of these is unambiguously
// text even mid-reply.
var textCommandPrefixes = [][]byte{
	[]byte("SYSTem:"),
	[]byte("ENAble:"),
	[]byte("**"),
}

// CompositeFramer dispatches each call to either a LineFramer or a
// RecordFramer based on the shape of the buffer. It is itself stateless and
// satisfies Framer, so callers that don't know a priori which mode a byte
// stream is in can use it interchangeably with its two delegates.
type CompositeFramer struct {
	lines   *LineFramer
	records *RecordFramer
}

// NewCompositeFramer returns a ready-to-use CompositeFramer.
func NewCompositeFramer() *CompositeFramer {
	return &CompositeFramer{lines: NewLineFramer(), records: NewRecordFramer()}
}

// ParseMessages implements Framer, picking a delegate in a fixed priority
// order: ASCII ratio, known prefix/suffix, null-byte ratio (two tiers),
// then an uncertain fallback that tries text before records.
func (f *CompositeFramer) ParseMessages(buf []byte) ([][]byte, int) {
	switch classify(buf) {
	case kindText:
		return f.lines.ParseMessages(buf)
	case kindRecord:
		return f.records.ParseMessages(buf)
	default:
		if msgs, n := f.lines.ParseMessages(buf); n > 0 {
			return msgs, n
		}
		return f.records.ParseMessages(buf)
	}
}

type kind int

const (
	kindUncertain kind = iota
	kindText
	kindRecord
)

func classify(buf []byte) kind {
	if len(buf) == 0 {
		return kindUncertain
	}

	if asciiRatio(buf) > asciiRatioThreshold {
		return kindText
	}

	for _, prefix := range textCommandPrefixes {
		if bytes.HasPrefix(buf, prefix) {
			return kindText
		}
	}
	if bytes.HasSuffix(buf, []byte("\r\n")) || bytes.HasSuffix(buf, []byte("\n")) {
		return kindText
	}

	nullRatio := countByte(buf, 0x00)

	if nullRatio > nullRatioRecordThreshold {
		return kindRecord
	}

	if nullRatio > nullRatioUncertainThreshold && hasRecordLikeBytePair(buf) {
		return kindRecord
	}

	return kindUncertain
}

func asciiRatio(buf []byte) float64 {
	printable := 0
	for _, b := range buf {
		if b >= 0x20 && b < 0x7f {
			printable++
		}
	}
	return float64(printable) / float64(len(buf))
}

func countByte(buf []byte, target byte) float64 {
	count := 0
	for _, b := range buf {
		if b == target {
			count++
		}
	}
	return float64(count) / float64(len(buf))
}

// hasRecordLikeBytePair looks, in the first five bytes, for a pair (b1, b2)
// where b1's low three bits are at most 5 and its remaining bits are
// non-zero, the shape of a protobuf field tag. Only b1 is tested; b2 just
// has to exist.
func hasRecordLikeBytePair(buf []byte) bool {
	limit := len(buf)
	if limit > 5 {
		limit = 5
	}
	for i := 0; i+1 < limit; i++ {
		b1 := buf[i]
		if (b1&7) <= 5 && (b1>>3) > 0 {
			return true
		}
	}
	return false
}
