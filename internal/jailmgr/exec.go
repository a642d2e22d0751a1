package jailmgr

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/crateutil/crate"
	"github.com/crateutil/crate/internal/diag"
)

// ExecParams describes Phase F's execution of the crate's payload inside
// the jail.
type ExecParams struct {
	JailName   string
	User       string
	Executable string
	Args       []string // extra CLI args appended to the invocation
	Env        []string // additional environment beyond CRATE=yes
	Ktrace     bool      // wrap with the kernel-trace tool (options.dbg-ktrace)
}

// baseEnv is always injected into the executed child.
var baseEnv = []string{"CRATE=yes"}

// Execute runs p.Executable inside the jail under p.User, reducing the
// observed exit status to its low eight bits, 0..255 (jexec has been
// observed to report 256 for a clean exit). It never itself returns a
// non-nil error for a non-zero exit; err is only set when the process
// could not be launched or was terminated by a signal, and exitCode is
// then 1.
func Execute(ctx context.Context, p ExecParams) (exitCode int, err error) {
	args := []string{p.JailName, "-U", p.User, "/usr/bin/env"}
	args = append(args, baseEnv...)
	args = append(args, p.Env...)
	if p.Ktrace {
		args = append(args, "ktrace", "-i")
	}
	args = append(args, p.Executable)
	args = append(args, p.Args...)

	cmd := exec.CommandContext(ctx, "jexec", args...)
	runErr := cmd.Run()
	return clampExitCode(cmd.ProcessState, runErr)
}

// clampExitCode derives the exit status to report to the caller, folding
// the observed 256 quirk down to 0.
func clampExitCode(state *exec.ProcessState, runErr error) (int, error) {
	if state == nil {
		return 1, &crate.SysError{Call: "jexec", Err: runErr}
	}
	code := state.ExitCode()
	if code < 0 {
		return 1, &crate.SysError{Call: "jexec", Err: fmt.Errorf("process terminated by signal")}
	}
	if code > 0xFF {
		diag.Warn("jexec reported raw exit status %d, clamping to %d", code, code&0xFF)
	}
	return code & 0xFF, nil
}

// SleepScript is the trivial shell script executed when run.executable is
// unset but services exist: it installs a SIGINT handler and sleeps
// indefinitely, keeping the jail alive for its services.
const SleepScript = `#!/bin/sh
trap 'exit 0' INT
while :; do
	sleep 3600
done
`
