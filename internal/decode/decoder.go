// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package decode

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mhatzl/embedded-runner/internal/frame"
)

// ErrUnexpectedEOF is returned by Decode when the buffered bytes do not
// yet hold a complete frame. It is a flow-control signal, not a failure:
// feed more bytes and retry.
var ErrUnexpectedEOF = errors.New("incomplete frame in buffer")

// ErrMalformed is returned by Decode when the buffered bytes hold a
// corrupt frame. Whether decoding can continue afterwards depends on
// the table's encoding; see Encoding.CanRecover.
var ErrMalformed = errors.New("malformed frame")

// placeholder marks an argument position in a format string.
const placeholder = "{}"

// StreamDecoder incrementally decodes frames from a byte stream.
//
// A frame body on the wire is a uvarint table index followed by one
// uvarint per placeholder in the indexed format string. The rzcobs
// encoding additionally terminates each body with a zero byte.
type StreamDecoder struct {
	table *Table
	root  string
	buf   []byte
	now   func() time.Time
}

// NewStreamDecoder creates a decoder interpreting bytes against the
// table. Source file paths are resolved relative to root.
func NewStreamDecoder(table *Table, root string) *StreamDecoder {
	return &StreamDecoder{table: table, root: root, now: time.Now}
}

// Received appends stream bytes to the decoder's buffer.
func (d *StreamDecoder) Received(p []byte) {
	d.buf = append(d.buf, p...)
}

// Decode attempts to decode a single frame from the buffered bytes.
//
// It returns ErrUnexpectedEOF if more bytes are needed and ErrMalformed
// on a corrupt span. With the rzcobs encoding a malformed span has been
// skipped when Decode returns, so calling Decode again continues with
// the next frame.
func (d *StreamDecoder) Decode() (*frame.Frame, error) {
	switch d.table.Encoding() {
	case EncodingRzcobs:
		return d.decodeDelimited()
	default:
		return d.decodeRaw()
	}
}

// decodeDelimited decodes one zero-delimited frame body. The body and
// its delimiter are consumed even when malformed, so the decoder
// resynchronizes at the next delimiter.
func (d *StreamDecoder) decodeDelimited() (*frame.Frame, error) {
	i := bytes.IndexByte(d.buf, 0)
	if i < 0 {
		return nil, ErrUnexpectedEOF
	}
	body := d.buf[:i]
	d.buf = d.buf[i+1:]
	if len(body) == 0 {
		return nil, ErrMalformed
	}

	idx, n := binary.Uvarint(body)
	if n <= 0 {
		return nil, ErrMalformed
	}
	body = body[n:]
	entry := d.table.entry(idx)
	if entry == nil {
		return nil, ErrMalformed
	}
	args := make([]uint64, 0, strings.Count(entry.Format, placeholder))
	for len(args) < cap(args) {
		arg, n := binary.Uvarint(body)
		if n <= 0 {
			return nil, ErrMalformed
		}
		body = body[n:]
		args = append(args, arg)
	}
	if len(body) != 0 {
		return nil, ErrMalformed
	}
	return d.buildFrame(entry, args), nil
}

// decodeRaw decodes one frame from an undelimited stream. Nothing is
// consumed until a complete frame is available, so an incomplete tail
// stays buffered for the next call.
func (d *StreamDecoder) decodeRaw() (*frame.Frame, error) {
	rest := d.buf
	idx, n := binary.Uvarint(rest)
	if n == 0 {
		return nil, ErrUnexpectedEOF
	}
	if n < 0 {
		return nil, ErrMalformed
	}
	rest = rest[n:]
	entry := d.table.entry(idx)
	if entry == nil {
		return nil, ErrMalformed
	}
	args := make([]uint64, 0, strings.Count(entry.Format, placeholder))
	for len(args) < cap(args) {
		arg, n := binary.Uvarint(rest)
		if n == 0 {
			return nil, ErrUnexpectedEOF
		}
		if n < 0 {
			return nil, ErrMalformed
		}
		rest = rest[n:]
		args = append(args, arg)
	}
	d.buf = rest
	return d.buildFrame(entry, args), nil
}

// buildFrame assembles the decoded frame for a table entry, stamping it
// with the host receive time.
func (d *StreamDecoder) buildFrame(entry *Entry, args []uint64) *frame.Frame {
	f := &frame.Frame{
		Text:          interpolate(entry.Format, args),
		HostTimestamp: d.now().UnixNano(),
		Location:      entry.location(d.root),
	}
	if entry.Level != "" {
		// Validated during table parsing.
		level, _ := frame.ParseLevel(entry.Level)
		f.Level = &level
	}
	return f
}

// interpolate substitutes the argument values into the format string's
// placeholders, in order.
func interpolate(format string, args []uint64) string {
	if len(args) == 0 {
		return format
	}
	var b strings.Builder
	rest := format
	for _, arg := range args {
		i := strings.Index(rest, placeholder)
		if i < 0 {
			break
		}
		b.WriteString(rest[:i])
		b.WriteString(strconv.FormatUint(arg, 10))
		rest = rest[i+len(placeholder):]
	}
	b.WriteString(rest)
	return b.String()
}
