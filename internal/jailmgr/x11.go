package jailmgr

import (
	"context"
	"os"

	"github.com/crateutil/crate"
	"github.com/crateutil/crate/internal/fsutil"
	"github.com/crateutil/crate/internal/scoped"
)

// X11SocketDir is the conventional host X11 Unix-domain socket directory.
const X11SocketDir = "/tmp/.X11-unix"

// SetupX11 bind-mounts the host's X socket directory into the jail and
// copies the caller's X/ICE authority files into the jail home, chowned to
// the caller. The in-jail DISPLAY value is
// returned for the caller to add to Execute's env.
func SetupX11(ctx context.Context, reg *scoped.Registry, root string, c Caller, hostHome, display string) (env string, err error) {
	jailX11 := root + X11SocketDir
	if err := os.MkdirAll(jailX11, 0o777); err != nil {
		return "", &crate.IoError{Op: "mkdir", Path: jailX11, Err: err}
	}
	if err := MountNullfs(ctx, reg, X11SocketDir, jailX11); err != nil {
		return "", err
	}

	jailHome := root + "/home/" + c.User
	for _, name := range []string{".Xauthority", ".ICEauthority"} {
		src := hostHome + "/" + name
		if _, statErr := os.Stat(src); statErr != nil {
			continue // advisory: not every caller has an ICEauthority file
		}
		dst := jailHome + "/" + name
		if err := fsutil.CopyFile(src, dst); err != nil {
			return "", err
		}
		if err := fsutil.Chown(dst, c.UID, c.GID); err != nil {
			return "", err
		}
	}

	return "DISPLAY=" + display, nil
}
