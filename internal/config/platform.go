// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import "runtime"

// Platform captures the host capabilities the runner depends on. It is
// resolved once at startup and threaded through configuration so that
// no OS-conditional branching is scattered across use sites.
type Platform struct {
	// SleepCommand is the shell command the generated debug script uses
	// for bounded sleeps.
	SleepCommand string
}

// CurrentPlatform resolves the capabilities of the host this process
// runs on.
func CurrentPlatform() Platform {
	return platformFor(runtime.GOOS)
}

func platformFor(goos string) Platform {
	sleep := "sleep"
	if goos == "windows" {
		sleep = "timeout"
	}
	return Platform{SleepCommand: sleep}
}
