package jailmgr

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/crateutil/crate"
	"github.com/crateutil/crate/internal/execrun"
	"github.com/crateutil/crate/internal/fsutil"
	"github.com/crateutil/crate/internal/scoped"
	"github.com/crateutil/crate/internal/specmodel"
)

// Caller identifies the invoking user, whose identity is mirrored inside
// the jail.
type Caller struct {
	User string
	UID  int
	GID  int
}

// StartFirewallService starts the in-jail firewall service.
func StartFirewallService(ctx context.Context, jailName string) error {
	return JexecQuiet(ctx, jailName, "", "service", "ipfw", "start")
}

// CreateUser creates the home directory, group and user inside the jail
// matching the caller's identity, with wheel membership and /bin/sh as
// shell.
func CreateUser(ctx context.Context, jailName string, c Caller) error {
	home := "/home/" + c.User
	if err := JexecQuiet(ctx, jailName, "", "mkdir", "-p", home); err != nil {
		return err
	}
	if err := JexecQuiet(ctx, jailName, "", "chown",
		strconv.Itoa(c.UID)+":"+strconv.Itoa(c.GID), home); err != nil {
		return err
	}
	if err := JexecQuiet(ctx, jailName, "", "pw", "groupadd", c.User, "-g", strconv.Itoa(c.GID)); err != nil {
		return err
	}
	return JexecQuiet(ctx, jailName, "", "pw", "useradd", c.User,
		"-u", strconv.Itoa(c.UID), "-g", strconv.Itoa(c.GID),
		"-d", home, "-s", "/bin/sh", "-G", "wheel")
}

// CreateVideoUser probes the first of the host's /dev/video* devices for
// its group id and creates a videoops group with that gid and a video user
// in that group inside the jail, adding c to the group. The device's uid is
// not used: the video user's uid is whatever pw assigns.
func CreateVideoUser(ctx context.Context, jailName string, c Caller) error {
	matches, _ := filepath.Glob("/dev/video*")
	if len(matches) == 0 {
		return nil // advisory: no video devices found
	}
	fi, err := os.Stat(matches[0])
	if err != nil {
		return &crate.IoError{Op: "stat", Path: matches[0], Err: err}
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return &crate.SysError{Call: "stat " + matches[0], Err: errNotStatT}
	}
	gid := int(st.Gid)
	if err := JexecQuiet(ctx, jailName, "", "pw", "groupadd", "videoops", "-g", strconv.Itoa(gid)); err != nil {
		return err
	}
	if err := JexecQuiet(ctx, jailName, "", "pw", "useradd", "video",
		"-g", strconv.Itoa(gid), "-s", "/usr/sbin/nologin"); err != nil {
		return err
	}
	return JexecQuiet(ctx, jailName, "", "pw", "groupmod", "videoops", "-m", c.User)
}

// ShareDir ensures the host directory exists, creates its jail-side mount
// point and nullfs-binds host onto the jail path.
func ShareDir(ctx context.Context, reg *scoped.Registry, root string, pair specmodel.SharePair) error {
	if err := os.MkdirAll(pair.Host, 0o755); err != nil {
		return &crate.IoError{Op: "mkdir", Path: pair.Host, Err: err}
	}
	return MountNullfs(ctx, reg, pair.Host, root+pair.Jail)
}

// ShareFile reconciles a host/jail file pair by hard link. If both sides
// exist, the host copy wins as the link source; if only one side exists,
// it is linked to the missing side; if neither exists, this fails.
func ShareFile(root string, pair specmodel.SharePair) error {
	jailPath := root + pair.Jail
	hostExists := pathExists(pair.Host)
	jailExists := pathExists(jailPath)

	switch {
	case hostExists && jailExists:
		if err := fsutil.Unlink(jailPath); err != nil {
			return err
		}
		return fsutil.Link(pair.Host, jailPath)
	case hostExists && !jailExists:
		return fsutil.Link(pair.Host, jailPath)
	case !hostExists && jailExists:
		return fsutil.Link(jailPath, pair.Host)
	default:
		return &crate.ConfigError{Msg: "neither host nor jail file exists for share pair: " + pair.Host + " / " + pair.Jail}
	}
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

var errNotStatT = os.ErrInvalid

// RunServices starts run.services in listed order inside the jail,
// pushing onto reg a teardown for each that stops it, so reg stops them in
// reverse order.
func RunServices(ctx context.Context, reg *scoped.Registry, jailName string, services []string) error {
	for _, svc := range services {
		if err := JexecQuiet(ctx, jailName, "", "service", svc, "start"); err != nil {
			return err
		}
		svc := svc
		reg.Push("stop service "+svc, func() error {
			return execrun.RunQuiet(context.Background(), "jexec", jailName, "service", svc, "stop")
		})
	}
	return nil
}
