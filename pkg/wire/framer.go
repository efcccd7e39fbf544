// Package wire implements the mixed text/binary framing used on the
// DAQiFi TCP data channel: CRLF-terminated command/reply lines and
// varint-length-prefixed binary records, sharing one socket.
package wire

// Framer is the small capability every framer in this package satisfies.
// Implementers are stateless across calls; buffering partial frames between
// calls is the caller's (the Consumer's) responsibility.
type Framer interface {
	// ParseMessages extracts as many complete frames as are present in buf
	// and reports how many leading bytes of buf were consumed. Callers
	// must retain buf[bytesConsumed:] and prepend the next read to it.
	ParseMessages(buf []byte) (messages [][]byte, bytesConsumed int)
}
