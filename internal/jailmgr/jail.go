package jailmgr

import (
	"context"
	"os"
	"strconv"

	"github.com/crateutil/crate"
	"github.com/crateutil/crate/internal/execrun"
	"github.com/crateutil/crate/internal/scoped"
)

// Handle identifies a running jail by name, numeric id and root path.
// Create registers the jail's removal with the registry passed to it and
// leaves the Registry field empty.
type Handle struct {
	Name string
	JID  int
	Root string

	Registry scoped.Registry
}

// MountDevfs mounts devfs at <root>/dev, registering its unmount.
func MountDevfs(ctx context.Context, reg *scoped.Registry, root string) error {
	devPath := root + "/dev"
	if err := os.MkdirAll(devPath, 0o755); err != nil {
		return &crate.IoError{Op: "mkdir", Path: devPath, Err: err}
	}
	if err := execrun.RunQuiet(ctx, "mount", "-t", "devfs", "devfs", devPath); err != nil {
		return err
	}
	reg.Push("unmount devfs at "+devPath, func() error {
		return execrun.RunQuiet(context.Background(), "umount", devPath)
	})
	return nil
}

// MountNullfs bind-mounts host onto jailPath via nullfs (used for the
// package cache during create, and for dirs.share during run), registering
// its unmount.
func MountNullfs(ctx context.Context, reg *scoped.Registry, host, jailPath string) error {
	if err := os.MkdirAll(jailPath, 0o755); err != nil {
		return &crate.IoError{Op: "mkdir", Path: jailPath, Err: err}
	}
	if err := execrun.RunQuiet(ctx, "mount", "-t", "nullfs", host, jailPath); err != nil {
		return err
	}
	reg.Push("unmount nullfs at "+jailPath, func() error {
		return execrun.RunQuiet(context.Background(), "umount", jailPath)
	})
	return nil
}

// NetParams carries the jail(8) networking knobs derived from options.net:
// raw-socket and socket-family permissions, and the virtual network stack.
type NetParams struct {
	VNet       bool
	AllowRaw   bool
	AllowSocketAF bool
}

// Create starts a jail rooted at root, capturing its numeric jail id, and
// registers its removal.
func Create(ctx context.Context, reg *scoped.Registry, name, root, hostname string, net NetParams) (*Handle, error) {
	args := []string{
		"-c",
		"name=" + name,
		"path=" + root,
		"host.hostname=" + hostname,
		"persist",
	}
	if net.VNet {
		args = append(args, "vnet")
	}
	if net.AllowRaw {
		args = append(args, "allow.raw_sockets")
	}
	if net.AllowSocketAF {
		args = append(args, "allow.socket_af")
	}
	if err := execrun.RunQuiet(ctx, "jail", args...); err != nil {
		return nil, err
	}

	jidOut, err := execrun.Run(ctx, "jls", "-j", name, "jid")
	if err != nil {
		return nil, err
	}
	jid, convErr := strconv.Atoi(trimJLSOutput(jidOut))
	if convErr != nil {
		return nil, &crate.SysError{Call: "jls jid", Err: convErr}
	}

	h := &Handle{Name: name, JID: jid, Root: root}
	reg.Push("remove jail "+name, func() error {
		return execrun.RunQuiet(context.Background(), "jail", "-r", name)
	})
	return h, nil
}

func trimJLSOutput(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}

// Jexec runs a command inside the named jail as the given user (empty user
// means root), used throughout Phase D/E/F for in-jail setup.
func Jexec(ctx context.Context, jailName, user string, args ...string) (string, error) {
	full := []string{jailName}
	if user != "" {
		full = append(full, "-U", user)
	}
	full = append(full, args...)
	return execrun.Run(ctx, "jexec", full...)
}

// JexecQuiet is Jexec discarding output, for fire-and-forget setup steps.
func JexecQuiet(ctx context.Context, jailName, user string, args ...string) error {
	full := []string{jailName}
	if user != "" {
		full = append(full, "-U", user)
	}
	full = append(full, args...)
	return execrun.RunQuiet(ctx, "jexec", full...)
}
