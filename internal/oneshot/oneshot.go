// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package oneshot provides a set-once cancellation token shared between
// the process-wait path and the decode path of a run.
package oneshot

import "sync/atomic"

// Token is a one-shot, monotonic cancellation signal. It is set at most
// once and never cleared, so concurrent readers need no further
// synchronization.
type Token struct {
	canceled atomic.Bool
}

// NewToken returns a token in the not-canceled state.
func NewToken() *Token {
	return &Token{}
}

// Cancel signals cancellation. Calling it more than once is allowed and
// has no further effect.
func (t *Token) Cancel() {
	t.canceled.Store(true)
}

// Canceled reports whether Cancel has been called. It never blocks.
func (t *Token) Canceled() bool {
	return t.canceled.Load()
}
