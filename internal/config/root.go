// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
)

// FindRoot locates the build root by walking up from dir to the first
// directory containing a .embedded directory, falling back to the first
// directory containing .git, and finally to dir itself.
func FindRoot(dir string) string {
	if root, ok := findUp(dir, EmbeddedDirName); ok {
		return root
	}
	if root, ok := findUp(dir, ".git"); ok {
		return root
	}
	return dir
}

// findUp walks up from dir looking for a directory containing name.
func findUp(dir, name string) (string, bool) {
	for {
		if fi, err := os.Stat(filepath.Join(dir, name)); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
