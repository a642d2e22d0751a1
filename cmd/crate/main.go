// Command crate packages a host application plus a pruned FreeBSD base tree
// into a single xz-compressed tar artifact, and runs that artifact inside a
// jail(8) container.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/crateutil/crate"
	"github.com/crateutil/crate/internal/createpipe"
	"github.com/crateutil/crate/internal/diag"
	"github.com/crateutil/crate/internal/fsutil"
	"github.com/crateutil/crate/internal/runpipe"
)

const usage = `crate [-p|--log-progress] create (-s|--spec) <spec.yml> [(-o|--output) <out.crate>]
crate [-p|--log-progress] run [(-f|--file)] <path.crate> [-- <extra args>]

Shorthands:
  crate <name>.yml              equivalent to: crate create -s <name>.yml
  crate <name>.crate [args...]  equivalent to: crate run -f <name>.crate -- args...
`

func main() {
	if err := funcmain(); err != nil {
		diag.Error("crate", err)
		os.Exit(1)
	}
}

func funcmain() error {
	args := os.Args[1:]

	logProgress := false
	args = extractGlobalFlags(args, &logProgress)

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return &crate.PolicyError{Msg: "no command given"}
	}

	if args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(0)
	}

	verb := args[0]
	rest := args[1:]

	switch verb {
	case "create":
		return cmdCreate(rest, logProgress)
	case "run":
		return cmdRun(rest, logProgress)
	default:
		return dispatchShorthand(verb, rest, logProgress)
	}
}

// extractGlobalFlags strips -p/--log-progress wherever it appears before
// the verb, by hand rather than through a flag set, since it is the only
// recognized global flag (create and run each define their own -s/-o/-f
// flags afterward). Arguments from the verb on are returned unchanged.
func extractGlobalFlags(args []string, logProgress *bool) []string {
	for i, a := range args {
		if a == "-p" || a == "--log-progress" {
			*logProgress = true
			continue
		}
		return args[i:]
	}
	return nil
}

func dispatchShorthand(first string, rest []string, logProgress bool) error {
	switch {
	case strings.HasSuffix(first, ".yml") || strings.HasSuffix(first, ".yaml"):
		return createpipe.Create(context.Background(), createpipe.Options{
			SpecPath:    first,
			LogProgress: logProgress,
		})
	case fsutil.IsXzArchive(first):
		return runCrate(first, rest, logProgress)
	default:
		fmt.Fprint(os.Stderr, usage)
		return &crate.PolicyError{Msg: "unknown command or file: " + first}
	}
}

func cmdCreate(args []string, logProgress bool) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	specPath := fs.String("spec", "", "path to the spec YAML file")
	fs.StringVar(specPath, "s", "", "path to the spec YAML file (shorthand)")
	output := fs.String("output", "", "path to write the crate file to")
	fs.StringVar(output, "o", "", "path to write the crate file to (shorthand)")
	fs.Parse(args)

	if *specPath == "" {
		return &crate.PolicyError{Msg: "create requires -s/--spec"}
	}

	return createpipe.Create(context.Background(), createpipe.Options{
		SpecPath:    *specPath,
		OutputPath:  *output,
		LogProgress: logProgress,
	})
}

func cmdRun(args []string, logProgress bool) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	file := fs.String("file", "", "path to the crate file")
	fs.StringVar(file, "f", "", "path to the crate file (shorthand)")
	fs.Parse(args)

	path := *file
	extra := fs.Args()
	if path == "" && len(extra) > 0 {
		path = extra[0]
		extra = extra[1:]
	}
	if path == "" {
		return &crate.PolicyError{Msg: "run requires a crate file path"}
	}

	return runCrate(path, extra, logProgress)
}

func runCrate(path string, extraArgs []string, logProgress bool) error {
	ctx, canc := crate.InterruptibleContext()
	defer canc()

	exitCode, err := runpipe.Run(ctx, runpipe.Options{
		CratePath:   path,
		ExtraArgs:   extraArgs,
		LogProgress: logProgress,
	})
	if err != nil {
		diag.Error("crate", err)
		os.Exit(boundExitCode(exitCode))
	}
	os.Exit(exitCode)
	return nil
}

func boundExitCode(code int) int {
	if code <= 0 {
		return 1
	}
	if code > 255 {
		return 255
	}
	return code
}
