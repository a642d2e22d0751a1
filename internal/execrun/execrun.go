// Package execrun is the external-command runner: spawn a shell command,
// capture stdout, fail fast on a non-zero exit. It is the single chokepoint
// through which the rest of the tree invokes tar, xz, pkg, ldd, ifconfig,
// ipfw, jexec and service: real platform tools, never reimplemented.
package execrun

import (
	"context"
	"os"
	"os/exec"

	"github.com/crateutil/crate"
	"golang.org/x/xerrors"
)

// cmdErr wraps a failed external command with its source position before
// handing it to the caller as a *crate.ExternalCommandError.
func cmdErr(args []string, err error) error {
	return &crate.ExternalCommandError{Args: args, Err: xerrors.Errorf("%v: %w", args, err)}
}

// Run executes name with args, streaming stderr to the process's stderr and
// returning stdout as captured (not trimmed). A non-zero exit becomes an
// *crate.ExternalCommandError.
func Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return "", cmdErr(append([]string{name}, args...), err)
	}
	return string(out), nil
}

// RunQuiet executes name with args, discarding stdout and stderr (used for
// commands whose side effect is all that matters, e.g. ifconfig create).
func RunQuiet(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Run(); err != nil {
		return cmdErr(append([]string{name}, args...), err)
	}
	return nil
}

// RunInherit executes name with args with stdin/stdout/stderr all inherited
// from the current process, for long-running steps whose output the
// invoking user should see live (archive extraction, package installation).
func RunInherit(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return cmdErr(append([]string{name}, args...), err)
	}
	return nil
}

// Pipeline runs a two-stage shell pipeline equivalent to `first | second`,
// e.g. "xz -d | tar -x", writing the final stage's stdout to out and
// returning once both processes have exited. Used by the create/run
// pipelines to extract/pack archives without shelling out to /bin/sh.
func Pipeline(ctx context.Context, first, second []string, out *os.File) error {
	c1 := exec.CommandContext(ctx, first[0], first[1:]...)
	c2 := exec.CommandContext(ctx, second[0], second[1:]...)
	c1.Stderr = os.Stderr
	c2.Stderr = os.Stderr
	if out != nil {
		c2.Stdout = out
	} else {
		c2.Stdout = os.Stdout
	}

	pr, pw := os.Pipe()
	c1.Stdout = pw
	c2.Stdin = pr

	if err := c1.Start(); err != nil {
		pw.Close()
		pr.Close()
		return cmdErr(first, err)
	}
	if err := c2.Start(); err != nil {
		pw.Close()
		pr.Close()
		return cmdErr(second, err)
	}
	pw.Close()

	err1 := c1.Wait()
	err2 := c2.Wait()
	pr.Close()
	if err1 != nil {
		return cmdErr(first, err1)
	}
	if err2 != nil {
		return cmdErr(second, err2)
	}
	return nil
}

// PipelineFromFile is like Pipeline but feeds `first`'s stdin from a file
// instead of running it with no input, used to decompress an on-disk crate
// or base archive into a tar stream.
func PipelineFromFile(ctx context.Context, in *os.File, first, second []string, cwd string) error {
	c1 := exec.CommandContext(ctx, first[0], first[1:]...)
	c2 := exec.CommandContext(ctx, second[0], second[1:]...)
	c1.Stdin = in
	c1.Stderr = os.Stderr
	c2.Stderr = os.Stderr
	c2.Stdout = os.Stdout
	c2.Dir = cwd

	pr, pw := os.Pipe()
	c1.Stdout = pw
	c2.Stdin = pr

	if err := c1.Start(); err != nil {
		pw.Close()
		pr.Close()
		return cmdErr(first, err)
	}
	if err := c2.Start(); err != nil {
		pw.Close()
		pr.Close()
		return cmdErr(second, err)
	}
	pw.Close()

	err1 := c1.Wait()
	err2 := c2.Wait()
	pr.Close()
	if err1 != nil {
		return cmdErr(first, err1)
	}
	if err2 != nil {
		return cmdErr(second, err2)
	}
	return nil
}
