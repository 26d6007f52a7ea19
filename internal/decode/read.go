// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package decode

import (
	"context"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/mhatzl/embedded-runner/internal/frame"
	"github.com/mhatzl/embedded-runner/internal/logging"
	"github.com/mhatzl/embedded-runner/internal/oneshot"
)

const (
	// readBufferSize bounds how many bytes are pulled from the
	// transport per read.
	readBufferSize = 1024
	// readTimeout is the per-read deadline. Expiry only means no bytes
	// arrived yet; the read is retried until the token is canceled.
	readTimeout = 500 * time.Millisecond
)

// CanRecover reports whether the decoder's encoding allows skipping
// malformed spans.
func (d *StreamDecoder) CanRecover() bool {
	return d.table.Encoding().CanRecover()
}

// ReadFrames reads transport bytes from conn and decodes them until the
// token is canceled or the connection is closed by the peer. Both are
// normal ends; the frames captured so far are returned.
//
// Cancellation is cooperative: the token is polled once per read, so
// after cancellation the current buffer is drained and partially
// received frame data is dropped.
func ReadFrames(ctx context.Context, conn net.Conn, dec *StreamDecoder, token *oneshot.Token) ([]*frame.Frame, error) {
	buf := make([]byte, readBufferSize)
	var frames []*frame.Frame
	for {
		if token.Canceled() {
			return frames, nil
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Received(buf[:n])
			var derr error
			if frames, derr = drainDecoder(ctx, dec, frames); derr != nil {
				return frames, derr
			}
		}
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue // nothing received yet
			}
			if errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, net.ErrClosed) {
				return frames, nil
			}
			return frames, errors.Wrap(err, "failed to read from log transport")
		}
	}
}

// drainDecoder decodes buffered bytes until the decoder needs more
// input. Malformed spans are skipped when the encoding allows it and
// abort the stream otherwise.
func drainDecoder(ctx context.Context, dec *StreamDecoder, frames []*frame.Frame) ([]*frame.Frame, error) {
	for {
		f, err := dec.Decode()
		switch {
		case err == nil:
			frames = append(frames, f)
		case errors.Is(err, ErrUnexpectedEOF):
			return frames, nil
		case errors.Is(err, ErrMalformed) && dec.CanRecover():
			logging.Warn(ctx, "Skipped malformed log frame")
		default:
			return frames, errors.Wrap(err, "failed to decode log frame")
		}
	}
}
