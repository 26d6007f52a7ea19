// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package session supervises the external debug-session process and
// the connection to the target's log transport.
package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/mhatzl/embedded-runner/internal/logging"
	"github.com/mhatzl/embedded-runner/shutil"
)

// ReadinessMarker is the substring in the debug tool's diagnostic
// output indicating the log transport is ready for connections.
const ReadinessMarker = "for rtt connection"

// ReadinessTimeoutError is returned by WaitReady if the readiness
// marker was not observed within the setup timeout. The process has
// been killed when this error is returned.
type ReadinessTimeoutError struct {
	Timeout time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("debug session not ready within %v", e.Timeout)
}

// ExecutionTimeoutError is returned by Wait if the debug session did
// not exit within the execution timeout. The process has been killed
// when this error is returned.
type ExecutionTimeoutError struct {
	Timeout time.Duration
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("debug session did not exit within %v", e.Timeout)
}

// Config describes how to start a debug session.
type Config struct {
	// GDB is the debugger executable.
	GDB string
	// Script is the path of the generated session script.
	Script string
	// Binary is the path of the target binary to debug.
	Binary string
	// WorkDir is the working directory for the process, usually the
	// build root.
	WorkDir string
	// Output receives the process's diagnostic output live.
	Output io.Writer
	// Clock drives the timeouts. Fake clocks are injected in tests.
	Clock clock.Clock
}

// Session is a running debug-session process.
type Session struct {
	cmd      *exec.Cmd
	clk      clock.Clock
	readyCh  chan struct{} // closed once the readiness marker was seen
	eofCh    chan struct{} // closed once diagnostic output ended
	waitCh   chan error    // receives the cmd.Wait result exactly once
	killOnce sync.Once
}

// Start spawns the debug-session process and begins scanning its
// diagnostic output for the readiness marker.
func Start(ctx context.Context, cfg *Config) (*Session, error) {
	cmd := exec.Command(cfg.GDB, "-x", cfg.Script, cfg.Binary)
	cmd.Dir = cfg.WorkDir
	cmd.Stdout = cfg.Output
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open diagnostic pipe")
	}

	logging.Infof(ctx, "Starting %s", shutil.EscapeSlice(cmd.Args))
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %s", cfg.GDB)
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewClock()
	}
	s := &Session{
		cmd:     cmd,
		clk:     clk,
		readyCh: make(chan struct{}),
		eofCh:   make(chan struct{}),
		waitCh:  make(chan error, 1),
	}
	go s.scanDiagnostics(stderr, cfg.Output)
	go func() { s.waitCh <- cmd.Wait() }()
	return s, nil
}

// scanDiagnostics copies the diagnostic stream to out, watching for the
// readiness marker. The stream is drained to EOF so the process never
// blocks on a full pipe.
func (s *Session) scanDiagnostics(r io.Reader, out io.Writer) {
	defer close(s.eofCh)
	marker := []byte(ReadinessMarker)
	tail := make([]byte, 0, len(marker))
	ready := false
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if out != nil {
				out.Write(buf[:n])
			}
			if !ready {
				window := append(tail, buf[:n]...)
				if bytes.Contains(window, marker) {
					ready = true
					close(s.readyCh)
				} else if len(window) > len(marker)-1 {
					window = window[len(window)-len(marker)+1:]
				}
				tail = append(tail[:0], window...)
			}
		}
		if err != nil {
			return
		}
	}
}

// WaitReady blocks until the readiness marker appears in the diagnostic
// output. If it does not appear within timeout, or the output ends
// first, the process is killed.
func (s *Session) WaitReady(ctx context.Context, timeout time.Duration) error {
	timer := s.clk.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.readyCh:
		return nil
	case <-s.eofCh:
		s.Kill(ctx)
		return errors.New("debug session ended before the log transport became ready")
	case <-timer.C():
		s.Kill(ctx)
		return &ReadinessTimeoutError{Timeout: timeout}
	}
}

// Wait blocks until the process exits and returns its state. Exiting
// with a non-zero code is not an error; the caller judges the status.
// If the process is still running after timeout it is killed.
func (s *Session) Wait(ctx context.Context, timeout time.Duration) (*os.ProcessState, error) {
	timer := s.clk.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-s.waitCh:
		if err != nil && s.cmd.ProcessState == nil {
			return nil, errors.Wrap(err, "failed to wait for debug session")
		}
		return s.cmd.ProcessState, nil
	case <-timer.C():
		s.Kill(ctx)
		<-s.waitCh // reap
		return nil, &ExecutionTimeoutError{Timeout: timeout}
	}
}

// Kill terminates the debug-session process and its children. The
// debug tool spawns the flash bridge as a child, which would otherwise
// keep the device and the transport port busy.
func (s *Session) Kill(ctx context.Context) {
	s.killOnce.Do(func() {
		if proc, err := process.NewProcess(int32(s.cmd.Process.Pid)); err == nil {
			if children, err := proc.Children(); err == nil {
				for _, child := range children {
					child.Terminate()
				}
			}
		}
		if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logging.Errorf(ctx, "Failed to kill debug session: %v", err)
		}
	})
}
