// Package createpipe implements the `create` pipeline:
// fetch/extract a base archive, install packages, prune, and pack the
// result into a crate file.
package createpipe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/crateutil/crate"
	"github.com/crateutil/crate/internal/diag"
	"github.com/crateutil/crate/internal/execrun"
	"github.com/crateutil/crate/internal/fsutil"
	"github.com/crateutil/crate/internal/jailmgr"
	"github.com/crateutil/crate/internal/prune"
	"github.com/crateutil/crate/internal/scoped"
	"github.com/crateutil/crate/internal/specmodel"
)

// Options configures one Create invocation.
type Options struct {
	SpecPath     string
	OutputPath   string // defaulted from the executable/service basename if empty
	LogProgress  bool
	JailRootBase string // defaults to crate.DefaultJailRoot
	CacheDir     string // defaults to crate.DefaultCacheDir
}

// Create runs the full pipeline and writes the resulting
// crate file to opts.OutputPath (or its computed default).
func Create(ctx context.Context, opts Options) (err error) {
	if opts.JailRootBase == "" {
		opts.JailRootBase = crate.DefaultJailRoot
	}
	if opts.CacheDir == "" {
		opts.CacheDir = crate.DefaultCacheDir
	}

	spec, err := specmodel.Load(opts.SpecPath)
	if err != nil {
		return err
	}
	spec, err = specmodel.Preprocess(spec)
	if err != nil {
		return err
	}
	if err := specmodel.Validate(spec); err != nil {
		return err
	}

	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = defaultOutputName(spec)
	}

	var reg scoped.Registry
	defer func() {
		if tdErr := reg.Teardown(); tdErr != nil {
			diag.Warn("teardown: %v", tdErr)
		}
	}()

	// Step 1: fetch the base archive if not cached.
	archivePath := filepath.Join(opts.CacheDir, "base.txz")
	if err := ensureBaseArchive(ctx, archivePath); err != nil {
		return err
	}

	// Step 2: create a uniquely named jail working directory.
	base := filepath.Base(outputPath)
	dirName := fmt.Sprintf("chroot-create-%s-pid%d", base, os.Getpid())
	root := filepath.Join(opts.JailRootBase, dirName)
	if err := fsutil.MkdirAll(root, 0o755); err != nil {
		return err
	}
	reg.Push("remove jail working dir "+root, func() error { return fsutil.RmdirHier(root) })

	diag.Progress(opts.LogProgress, "extracting base archive into %s", root)

	// Step 3: extract the base archive, clearing uid/gid.
	in, err := os.Open(archivePath)
	if err != nil {
		return &crate.IoError{Op: "open", Path: archivePath, Err: err}
	}
	defer in.Close()
	if err := execrun.PipelineFromFile(ctx, in,
		[]string{"xz", "-d", "-c"},
		[]string{"tar", "-x", "-f", "-", "--numeric-owner", "--owner=0", "--group=0"},
		root); err != nil {
		return err
	}

	// Step 4: copy the host's resolver configuration.
	resolvPath := filepath.Join(root, "etc", "resolv.conf")
	if err := fsutil.CopyFile("/etc/resolv.conf", resolvPath); err != nil {
		return err
	}

	// Step 5: mount devfs and the package cache.
	var mounts scoped.Registry
	defer func() {
		if tdErr := mounts.Teardown(); tdErr != nil {
			diag.Warn("teardown: %v", tdErr)
		}
	}()
	if err := jailmgr.MountDevfs(ctx, &mounts, root); err != nil {
		return err
	}
	pkgCacheHost := filepath.Join(opts.CacheDir, "pkgcache")
	if err := fsutil.MkdirAll(pkgCacheHost, 0o755); err != nil {
		return err
	}
	if err := jailmgr.MountNullfs(ctx, &mounts, pkgCacheHost, filepath.Join(root, "var/cache/pkg")); err != nil {
		return err
	}

	// Step 6: package installation.
	pkgsInstalled := false
	if len(spec.Pkg.Install) > 0 || len(spec.Pkg.Add) > 0 {
		pkgsInstalled = true
		if err := installPackages(ctx, root, spec); err != nil {
			return err
		}
	}

	// Step 7: unmount everything registered so far (devfs + pkg cache),
	// reverse order, before pruning touches the tree.
	if err := mounts.Teardown(); err != nil {
		return err
	}

	// Step 8: invoke the pruner.
	diag.Progress(opts.LogProgress, "pruning base tree")
	if err := prune.Prune(ctx, prune.Options{
		JailRoot:          root,
		Spec:              spec,
		PackagesInstalled: pkgsInstalled,
	}); err != nil {
		return err
	}

	// Step 9: remove the resolver config from the jail.
	if err := fsutil.Unlink(resolvPath); err != nil {
		diag.Warn("removing jail resolv.conf: %v", err)
	}

	// Step 10: copy the spec file into the crate.
	rawSpec, err := specmodel.Raw(opts.SpecPath)
	if err != nil {
		return err
	}
	if err := fsutil.Write(filepath.Join(root, crate.SpecSentinel), rawSpec, 0o644); err != nil {
		return err
	}

	// Step 11: pack the crate file.
	diag.Progress(opts.LogProgress, "packing %s", outputPath)
	if err := packCrate(ctx, root, outputPath); err != nil {
		return err
	}
	if err := chownToCaller(outputPath); err != nil {
		diag.Warn("chown %s: %v", outputPath, err)
	}

	// Step 12: recursively remove the jail working directory, via the
	// teardown registered in step 2 and run by the deferred reg.Teardown
	// above.
	return nil
}

func defaultOutputName(spec *specmodel.Spec) string {
	if spec.Run.Executable != "" {
		return filepath.Base(spec.Run.Executable) + ".crate"
	}
	if len(spec.Run.Services) > 0 {
		return spec.Run.Services[0] + ".crate"
	}
	return "crate.crate"
}

func ensureBaseArchive(ctx context.Context, archivePath string) error {
	if _, err := os.Stat(archivePath); err == nil {
		return nil
	}
	arch, err := crate.MachineArch()
	if err != nil {
		return err
	}
	release, err := crate.OSRelease()
	if err != nil {
		return err
	}
	url := crate.BaseArchiveURL(arch, release)
	if err := fsutil.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return err
	}
	return downloadFile(ctx, url, archivePath)
}

func downloadFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &crate.SysError{Call: "http.NewRequest " + url, Err: err}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &crate.SysError{Call: "GET " + url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &crate.SysError{Call: "GET " + url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	tmp := dest + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return &crate.IoError{Op: "create", Path: tmp, Err: err}
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return &crate.IoError{Op: "write", Path: tmp, Err: err}
	}
	if err := out.Close(); err != nil {
		return &crate.IoError{Op: "close", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		return &crate.IoError{Op: "rename", Path: dest, Err: err}
	}
	return nil
}

func installPackages(ctx context.Context, root string, spec *specmodel.Spec) error {
	if len(spec.Pkg.Install) > 0 {
		args := append([]string{"pkg", "-c", root, "install", "-y"}, spec.Pkg.Install...)
		if err := execrun.RunInherit(ctx, args[0], args[1:]...); err != nil {
			return err
		}
	}
	for _, addPath := range spec.Pkg.Add {
		dest := filepath.Join(root, "tmp", filepath.Base(addPath))
		if err := fsutil.CopyFile(addPath, dest); err != nil {
			return err
		}
		if err := execrun.RunInherit(ctx, "pkg", "-c", root, "add", filepath.Join("/tmp", filepath.Base(addPath))); err != nil {
			return err
		}
		if err := fsutil.Unlink(dest); err != nil {
			diag.Warn("removing staged package %s: %v", dest, err)
		}
	}
	for _, kv := range spec.Pkg.LocalOverride {
		if err := execrun.RunInherit(ctx, "pkg", "-c", root, "delete", "-y", kv.Key); err != nil {
			diag.Warn("deleting %s before local override: %v", kv.Key, err)
		}
		if err := execrun.RunInherit(ctx, "pkg", "-c", root, "add", kv.Value); err != nil {
			return err
		}
	}
	for _, name := range spec.Pkg.Nuke {
		if err := execrun.RunInherit(ctx, "pkg", "-c", root, "delete", "-f", "-y", name); err != nil {
			return err
		}
	}

	pkgList := append([]string{}, spec.Pkg.Install...)
	pkgsFile := filepath.Join(root, crate.PkgsSentinel)
	data := ""
	for _, p := range pkgList {
		data += p + "\n"
	}
	if err := fsutil.Write(pkgsFile, []byte(data), 0o644); err != nil {
		return err
	}

	return removePkgBinary(root)
}

func removePkgBinary(root string) error {
	return fsutil.Unlink(filepath.Join(root, "usr/local/sbin/pkg"))
}

func packCrate(ctx context.Context, root, outputPath string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return &crate.IoError{Op: "create", Path: outputPath, Err: err}
	}
	defer out.Close()
	return execrun.Pipeline(ctx,
		[]string{"tar", "-c", "-C", root, "-f", "-", "."},
		[]string{"xz", "-9", "-e", "-c"},
		out)
}

func chownToCaller(path string) error {
	u, err := user.Current()
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}
	return fsutil.Chown(path, uid, gid)
}
