// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mhatzl/embedded-runner/internal/logging"
)

func TestSinkLoggerMinimumLevel(t *testing.T) {
	var buf bytes.Buffer
	ctx := logging.AttachLogger(context.Background(), logging.NewSinkLogger(&buf, false, logging.LevelInfo))

	logging.Debug(ctx, "dropped")
	logging.Info(ctx, "kept info")
	logging.Warnf(ctx, "kept %s", "warn")

	const want = "kept info\nkept warn\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("Log output mismatch (-want +got):\n%s", diff)
	}
}

func TestAttachLoggerPropagates(t *testing.T) {
	var outer, inner bytes.Buffer
	ctx := logging.AttachLogger(context.Background(), logging.NewSinkLogger(&outer, false, logging.LevelDebug))
	ctx = logging.AttachLogger(ctx, logging.NewSinkLogger(&inner, false, logging.LevelDebug))

	logging.Info(ctx, "hello")

	for name, buf := range map[string]*bytes.Buffer{"outer": &outer, "inner": &inner} {
		if buf.String() != "hello\n" {
			t.Errorf("%s logger got %q; want %q", name, buf.String(), "hello\n")
		}
	}
}

func TestHasLogger(t *testing.T) {
	ctx := context.Background()
	if logging.HasLogger(ctx) {
		t.Error("HasLogger = true for a bare context")
	}
	ctx = logging.AttachLogger(ctx, logging.NewFuncLogger(func(level logging.Level, ts time.Time, msg string) {}))
	if !logging.HasLogger(ctx) {
		t.Error("HasLogger = false after AttachLogger")
	}
}
