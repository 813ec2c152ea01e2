// Package framing implements the Content-Length framed base protocol used by
// language servers over stdio. The decoder is a pure buffering state machine
// with no I/O of its own, so it works identically over pipes, sockets, and
// test fixtures regardless of how the byte stream is chunked.
package framing

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// headerSeparator terminates the header block of a framed message.
var headerSeparator = []byte("\r\n\r\n")

// Encode wraps a payload with a Content-Length header. The length is the
// payload's byte length, not its rune count.
func Encode(payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+32)
	buf = append(buf, fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))...)
	buf = append(buf, payload...)
	return buf
}

// Decoder converts a chunked byte stream into complete message payloads.
// Feed it raw bytes as they arrive; it emits each payload exactly once,
// as soon as the full declared length has been received.
//
// A header block without a usable Content-Length is discarded and scanning
// resumes at the following byte. Decoder is not safe for concurrent use;
// each stream gets its own instance.
type Decoder struct {
	buf     bytes.Buffer
	dropped int
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the internal buffer and returns every payload that
// is now complete, in stream order. It returns nil when no message has been
// fully received yet; callers simply feed more data later.
func (d *Decoder) Feed(chunk []byte) [][]byte {
	d.buf.Write(chunk)

	var msgs [][]byte
	for {
		payload, ok := d.next()
		if !ok {
			return msgs
		}
		msgs = append(msgs, payload)
	}
}

// next attempts to extract one complete message from the buffer.
func (d *Decoder) next() ([]byte, bool) {
	for {
		data := d.buf.Bytes()

		sep := bytes.Index(data, headerSeparator)
		if sep < 0 {
			return nil, false
		}

		contentLen, ok := parseContentLength(data[:sep])
		if !ok {
			// Malformed header block. Drop it and rescan; the stream
			// itself stays usable.
			d.buf.Next(sep + len(headerSeparator))
			d.dropped++
			continue
		}

		bodyStart := sep + len(headerSeparator)
		if len(data) < bodyStart+contentLen {
			return nil, false
		}

		payload := make([]byte, contentLen)
		copy(payload, data[bodyStart:bodyStart+contentLen])
		d.buf.Next(bodyStart + contentLen)
		return payload, true
	}
}

// Buffered returns the number of bytes held for a not-yet-complete message.
func (d *Decoder) Buffered() int {
	return d.buf.Len()
}

// Dropped returns how many malformed header blocks have been discarded.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Reset discards all buffered data and counters.
func (d *Decoder) Reset() {
	d.buf.Reset()
	d.dropped = 0
}

// parseContentLength scans a header block for a Content-Length field.
// Field names are case-insensitive; unknown fields are ignored.
func parseContentLength(header []byte) (int, bool) {
	for _, line := range strings.Split(string(header), "\r\n") {
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		key := strings.TrimSpace(line[:colon])
		if !strings.EqualFold(key, "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(line[colon+1:]))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
