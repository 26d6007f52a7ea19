// Copyright 2024 The embedded-runner Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package session

import (
	"path/filepath"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/mhatzl/embedded-runner/internal/config"
	"github.com/mhatzl/embedded-runner/internal/symbols"
)

// ScriptName is the file name of the generated session script inside
// the .embedded directory.
const ScriptName = "session.gdb"

// defaultLoad is used when the runner config declares no load template.
const defaultLoad = "load"

// scriptTemplate is the session script handed to the debugger: connect,
// flash, break at start, bring up the log transport, let logs flush,
// quit. The bounded sleeps give the target time to drain its buffers.
var scriptTemplate = template.Must(template.New("script").Parse(`set pagination off

{{if .Remote -}}
target extended-remote {{.Remote}}
{{- else -}}
target extended-remote | openocd -c "gdb_port pipe; log_output {{.GDBLogfile}}" -f {{.OpenOCDCfg}}
{{- end}}

{{.Load}}

b main
continue

monitor rtt setup 0x{{printf "%x" .RTTAddress}} {{.RTTSize}} "SEGGER RTT"
monitor rtt start
monitor rtt server start {{.RTTPort}} {{.RTTChannel}}

shell {{.SleepCommand}} 1

continue

shell {{.SleepCommand}} 1
{{if .PreExit}}
{{.PreExit}}
{{end}}
quit
`))

// loadVars are the variables a load-directive template may refer to.
// All paths use forward slashes, which GDB accepts on every platform.
type loadVars struct {
	// BinaryDir is the binary's containing directory.
	BinaryDir string
	// BinaryNoExt is the binary's path with the extension stripped.
	BinaryNoExt string
	// BinaryPath is the binary's full path.
	BinaryPath string
}

// scriptVars feed scriptTemplate.
type scriptVars struct {
	Remote       string
	GDBLogfile   string
	OpenOCDCfg   string
	Load         string
	RTTAddress   uint64
	RTTSize      uint64
	RTTPort      int
	RTTChannel   int
	SleepCommand string
	PreExit      string
}

// GenerateScript renders the debug-session script for binary, wiring
// the log transport to the located control block.
func GenerateScript(cfg *config.Config, binary string, sym symbols.Symbol) (string, error) {
	load, err := resolveLoad(cfg.Runner.Load, binary)
	if err != nil {
		return "", err
	}

	logfile := cfg.Runner.GDBLogfile
	if logfile == "" {
		logfile = filepath.Join(config.EmbeddedDirName, "gdb.log")
	}
	openocdCfg := cfg.Runner.OpenOCDCfg
	if openocdCfg == "" {
		openocdCfg = filepath.Join(config.EmbeddedDirName, "openocd.cfg")
	}

	var b strings.Builder
	err = scriptTemplate.Execute(&b, scriptVars{
		Remote:       cfg.Runner.Remote,
		GDBLogfile:   filepath.ToSlash(logfile),
		OpenOCDCfg:   filepath.ToSlash(openocdCfg),
		Load:         load,
		RTTAddress:   sym.Address,
		RTTSize:      sym.Size,
		RTTPort:      cfg.Runner.RTTPort,
		RTTChannel:   cfg.Runner.RTTChannel,
		SleepCommand: cfg.Platform.SleepCommand,
		PreExit:      cfg.Runner.PreExit,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to render session script")
	}
	return b.String(), nil
}

// resolveLoad renders the configured load-directive template against
// the binary's paths.
func resolveLoad(load, binary string) (string, error) {
	if load == "" {
		return defaultLoad, nil
	}
	tmpl, err := template.New("load").Parse(load)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse load template")
	}

	ext := filepath.Ext(binary)
	vars := loadVars{
		BinaryDir:   filepath.ToSlash(filepath.Dir(binary)),
		BinaryNoExt: filepath.ToSlash(strings.TrimSuffix(binary, ext)),
		BinaryPath:  filepath.ToSlash(binary),
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, vars); err != nil {
		return "", errors.Wrap(err, "failed to render load template")
	}
	return strings.TrimSpace(b.String()), nil
}
