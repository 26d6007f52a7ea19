// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package session

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/mhatzl/embedded-runner/internal/logging"
)

// dialTimeout bounds a single connection attempt.
const dialTimeout = time.Second

// Connect opens the stream connection to the log transport server on
// the local port. The server needs a moment to come up after the
// readiness marker, so refused and timed-out attempts are retried until
// the setup timeout expires; any other dial error is fatal.
func Connect(ctx context.Context, port int, timeout time.Duration, clk clock.Clock) (net.Conn, error) {
	if clk == nil {
		clk = clock.NewClock()
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = timeout
	bo.Clock = clk

	var conn net.Conn
	op := func() error {
		d := net.Dialer{Timeout: dialTimeout}
		c, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn = c
			return nil
		}
		if retriableDialError(err) {
			logging.Debugf(ctx, "Log transport not accepting connections yet: %v", err)
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to log transport at %s", addr)
	}
	logging.Infof(ctx, "Connected to log transport at %s", addr)
	return conn, nil
}

// retriableDialError reports whether a dial error indicates the server
// is merely not up yet.
func retriableDialError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
