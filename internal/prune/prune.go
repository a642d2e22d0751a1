// Package prune implements the base-tree pruner: compute a keep set, then
// sweep a fixed ordered list of base directories, deleting everything
// outside it.
package prune

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/crateutil/crate/internal/elfdeps"
	"github.com/crateutil/crate/internal/fsutil"
	"github.com/crateutil/crate/internal/specmodel"
	"golang.org/x/sync/errgroup"
)

// BasePrefix is the prefix identifying files that belong to a third-party
// package rather than the extracted base tree.
const BasePrefix = "/usr/local/"

// baselineUtilities are always-required base utilities: the dynamic
// linker, a shell, env, and user-management tools.
var baselineUtilities = []string{
	"/usr/libexec/ld-elf.so.1",
	"/bin/sh",
	"/usr/bin/env",
	"/usr/sbin/pw",
	"/usr/bin/id",
}

// serviceUtilities are seeded when run.services is non-empty: the
// service-management tools and helpers used during service startup.
var serviceUtilities = []string{
	"/usr/sbin/service",
	"/usr/sbin/daemon",
	"/etc/rc.subr",
}

// torUtilities are seeded when options.tor is set: additional helpers the
// tor service exercises.
var torUtilities = []string{
	"/usr/bin/logger",
	"/usr/sbin/syslogd",
}

// sweepStrategy names one of the four directory-removal strategies a
// sweep entry may use.
type sweepStrategy int

const (
	hier sweepStrategy = iota
	flat
	hierExcept
	flatExcept
)

type sweepEntry struct {
	dir      string
	strategy sweepStrategy
	// pkgOnly restricts this entry to running only when packages were
	// installed or added, e.g. the package-manager cache.
	pkgOnly bool
}

// sweepOrder is the fixed ordered list of base directories the deletion
// sweep walks, each handled by exactly one strategy.
var sweepOrder = []sweepEntry{
	{dir: "usr/share/doc", strategy: hier},
	{dir: "usr/share/examples", strategy: hier},
	{dir: "usr/share/man", strategy: hier},
	{dir: "usr/include", strategy: hier},
	{dir: "usr/tests", strategy: hier},
	{dir: "usr/lib/debug", strategy: hier},
	{dir: "usr/local/share/doc", strategy: hier},
	{dir: "usr/local/man", strategy: hier},
	{dir: "usr/local/include", strategy: hier},
	{dir: "usr/src", strategy: hier},
	{dir: "usr/obj", strategy: hier},
	{dir: "var/cache/pkg", strategy: flat, pkgOnly: true},
	{dir: "var/db/pkg", strategy: flat, pkgOnly: true},
	{dir: "boot", strategy: hierExcept},
	{dir: "rescue", strategy: hierExcept},
	{dir: "bin", strategy: flatExcept},
	{dir: "sbin", strategy: flatExcept},
	{dir: "usr/bin", strategy: flatExcept},
	{dir: "usr/sbin", strategy: flatExcept},
	{dir: "lib", strategy: hierExcept},
	{dir: "usr/lib", strategy: hierExcept},
	{dir: "libexec", strategy: flatExcept},
	{dir: "usr/libexec", strategy: flatExcept},
}

// Options configures a Prune invocation.
type Options struct {
	// JailRoot is the extracted base tree's path on the host.
	JailRoot string
	Spec     *specmodel.Spec
	// PackagesInstalled reports whether any pkg.install/pkg.add ran during
	// create.
	PackagesInstalled bool
}

// Prune deletes every file and directory in opts.JailRoot outside the keep
// set computed from opts.Spec.
func Prune(ctx context.Context, opts Options) error {
	keep, err := buildKeepSet(ctx, opts)
	if err != nil {
		return err
	}
	return sweep(opts.JailRoot, keep, opts.PackagesInstalled)
}

func buildKeepSet(ctx context.Context, opts Options) (map[string]bool, error) {
	jail := opts.JailRoot
	keep := make(map[string]bool)

	add := func(relOrAbs string) error {
		abs := filepath.Join(jail, relOrAbs)
		keep[abs] = true
		kind, err := fsutil.IsElfOrDir(abs)
		if err != nil {
			return nil // entry absent or unreadable; nothing further to keep
		}
		if kind != fsutil.ELF {
			return nil
		}
		closure, err := elfdeps.Closure(ctx, jail, []string{relOrAbs}, elfdeps.Any)
		if err != nil {
			return err
		}
		for _, dep := range closure {
			keep[filepath.Join(jail, dep)] = true
		}
		return nil
	}

	// Step 2: run.executable, if it lies in the base tree (outside BasePrefix).
	if exe := opts.Spec.Run.Executable; exe != "" && !strings.HasPrefix(exe, BasePrefix) {
		if err := add(exe); err != nil {
			return nil, err
		}
	}

	// Step 3: base.keep and expanded base.keep_wildcard.
	for _, entry := range opts.Spec.Base.Keep {
		if err := add(entry); err != nil {
			return nil, err
		}
	}
	for _, pattern := range opts.Spec.Base.KeepWildcard {
		matches, err := filepath.Glob(filepath.Join(jail, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			rel := strings.TrimPrefix(m, jail)
			if err := add(rel); err != nil {
				return nil, err
			}
		}
	}

	// Step 4: baseline utilities.
	for _, u := range baselineUtilities {
		if err := add(u); err != nil {
			return nil, err
		}
	}

	// Step 5: service-management helpers.
	if len(opts.Spec.Run.Services) > 0 {
		for _, u := range serviceUtilities {
			if err := add(u); err != nil {
				return nil, err
			}
		}
	}

	// Step 6: tor helpers.
	if opts.Spec.Options.Has(specmodel.OptTor) {
		for _, u := range torUtilities {
			if err := add(u); err != nil {
				return nil, err
			}
		}
	}

	// Step 7: every ELF file under /usr/local, closure restricted to the
	// base tree (paths under BasePrefix excluded), computed concurrently.
	if opts.PackagesInstalled {
		usrLocal := filepath.Join(jail, "usr/local")
		elves, err := fsutil.FindElfFiles(usrLocal)
		if err != nil {
			return nil, err
		}
		var (
			eg   errgroup.Group
			mu   sync.Mutex
			seen = make(map[string]bool, len(elves))
		)
		for path := range elves {
			path := path
			rel := strings.TrimPrefix(path, jail)
			eg.Go(func() error {
				closure, err := elfdeps.Closure(ctx, jail, []string{rel}, elfdeps.ExcludePrefix(BasePrefix))
				if err != nil {
					return err
				}
				mu.Lock()
				for _, dep := range closure {
					seen[filepath.Join(jail, dep)] = true
				}
				mu.Unlock()
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		for path := range seen {
			keep[path] = true
		}
	}

	// Step 8: keep set entries are already absolute, jail-prefixed paths.
	return keep, nil
}

func sweep(jail string, keep map[string]bool, pkgInstalled bool) error {
	for _, entry := range sweepOrder {
		if entry.pkgOnly && !pkgInstalled {
			continue
		}
		dir := filepath.Join(jail, entry.dir)
		switch entry.strategy {
		case hier:
			if err := fsutil.RmdirHier(dir); err != nil {
				return err
			}
		case flat:
			if err := fsutil.RmdirFlat(dir); err != nil {
				return err
			}
		case hierExcept:
			if err := fsutil.RmdirHierExcept(dir, keep); err != nil {
				return err
			}
		case flatExcept:
			if err := fsutil.RmdirFlatExcept(dir, keep); err != nil {
				return err
			}
		}
	}
	return nil
}
