// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package decode

import (
	"context"
	"net"
	"testing"

	"github.com/mhatzl/embedded-runner/internal/oneshot"
)

// serveBytes starts a TCP server on the loopback interface that writes
// chunks to the first accepted connection and then closes it.
func serveBytes(t *testing.T, chunks ...[]byte) net.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("Failed to listen: ", err)
	}
	go func() {
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for _, c := range chunks {
			if _, err := conn.Write(c); err != nil {
				return
			}
		}
	}()
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal("Failed to dial: ", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestReadFramesUntilClose(t *testing.T) {
	conn := serveBytes(t,
		delimited(body(1)),
		delimited(body(2, 3, 7)),
	)
	dec := newTestDecoder(t, EncodingRzcobs, "")

	frames, err := ReadFrames(context.Background(), conn, dec, oneshot.NewToken())
	if err != nil {
		t.Fatal("ReadFrames failed: ", err)
	}
	if len(frames) != 2 {
		t.Fatalf("ReadFrames returned %d frames; want 2", len(frames))
	}
	if frames[0].Text != "boot complete" || frames[1].Text != "value 3 of 7" {
		t.Errorf("ReadFrames returned texts %q, %q", frames[0].Text, frames[1].Text)
	}
}

func TestReadFramesSkipsMalformed(t *testing.T) {
	conn := serveBytes(t,
		delimited(body(99)), // unknown index
		delimited(body(1)),
	)
	dec := newTestDecoder(t, EncodingRzcobs, "")

	frames, err := ReadFrames(context.Background(), conn, dec, oneshot.NewToken())
	if err != nil {
		t.Fatal("ReadFrames failed: ", err)
	}
	if len(frames) != 1 || frames[0].Text != "boot complete" {
		t.Fatalf("ReadFrames returned %+v; want the one well-formed frame", frames)
	}
}

func TestReadFramesMalformedFatal(t *testing.T) {
	conn := serveBytes(t, body(99), body(1))
	dec := newTestDecoder(t, EncodingRaw, "")

	if _, err := ReadFrames(context.Background(), conn, dec, oneshot.NewToken()); err == nil {
		t.Fatal("ReadFrames unexpectedly succeeded on a non-recoverable encoding")
	}
}

func TestReadFramesCanceled(t *testing.T) {
	// The server writes nothing and keeps the connection open; the
	// already-canceled token must end the loop on its first poll.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("Failed to listen: ", err)
	}
	defer ln.Close()
	go ln.Accept()
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal("Failed to dial: ", err)
	}
	defer conn.Close()

	token := oneshot.NewToken()
	token.Cancel()
	frames, err := ReadFrames(context.Background(), conn, newTestDecoder(t, EncodingRzcobs, ""), token)
	if err != nil {
		t.Fatal("ReadFrames failed: ", err)
	}
	if len(frames) != 0 {
		t.Errorf("ReadFrames returned %d frames; want 0", len(frames))
	}
}
