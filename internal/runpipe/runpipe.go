// Package runpipe implements the `run` pipeline: unpack a
// crate, stand up a jail with networking, filesystem shares and services,
// execute its payload, and tear everything down in reverse order.
package runpipe

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/crateutil/crate"
	"github.com/crateutil/crate/internal/diag"
	"github.com/crateutil/crate/internal/execrun"
	"github.com/crateutil/crate/internal/fsutil"
	"github.com/crateutil/crate/internal/jailmgr"
	"github.com/crateutil/crate/internal/scoped"
	"github.com/crateutil/crate/internal/specmodel"
)

// Options configures one Run invocation.
type Options struct {
	CratePath    string
	ExtraArgs    []string
	LogProgress  bool
	JailRootBase string // defaults to crate.DefaultJailRoot
	NextEpairIdx func() int
}

// Run executes the `run` command end to end, returning the clamped child
// exit code.
func Run(ctx context.Context, opts Options) (exitCode int, err error) {
	if opts.JailRootBase == "" {
		opts.JailRootBase = crate.DefaultJailRoot
	}

	var reg scoped.Registry
	defer func() {
		if tdErr := reg.Teardown(); tdErr != nil {
			diag.Warn("teardown: %v", tdErr)
		}
	}()

	base := filepath.Base(opts.CratePath)
	jailName := fmt.Sprintf("jail-%s-pid%d", base, os.Getpid())
	root := filepath.Join(opts.JailRootBase, jailName)

	// Phase A: setup.
	diag.Progress(opts.LogProgress, "extracting %s into %s", opts.CratePath, root)
	if err := fsutil.MkdirAll(root, 0o755); err != nil {
		return 1, err
	}
	reg.Push("remove jail root "+root, func() error { return fsutil.RmdirHier(root) })

	in, err := os.Open(opts.CratePath)
	if err != nil {
		return 1, &crate.IoError{Op: "open", Path: opts.CratePath, Err: err}
	}
	defer in.Close()
	if err := execrun.PipelineFromFile(ctx, in, []string{"xz", "-d", "-c"}, []string{"tar", "-x", "-f", "-"}, root); err != nil {
		return 1, err
	}

	rawSpec, err := specmodel.Load(filepath.Join(root, crate.SpecSentinel))
	if err != nil {
		return 1, err
	}
	spec, err := specmodel.Preprocess(rawSpec)
	if err != nil {
		return 1, err
	}
	if err := specmodel.Validate(spec); err != nil {
		return 1, err
	}

	wantsNet := spec.Options.Has(specmodel.OptNet)
	if wantsNet {
		if err := ensureNetPreconditions(ctx); err != nil {
			return 1, err
		}
	}

	if err := runScripts(ctx, root, spec.Scripts, specmodel.SectionRunBegin); err != nil {
		return 1, err
	}

	if err := jailmgr.MountDevfs(ctx, &reg, root); err != nil {
		return 1, err
	}

	caller, err := callerIdentity()
	if err != nil {
		return 1, err
	}

	var epair *jailmgr.Epair
	var rules *jailmgr.RuleSet
	var fwUsers jailmgr.FirewallUsers
	epairIdx := 0
	if opts.NextEpairIdx != nil {
		epairIdx = opts.NextEpairIdx()
	}

	// Phase B: networking.
	if wantsNet {
		epair, err = jailmgr.CreateEpair(ctx, epairIdx)
		if err != nil {
			return 1, err
		}
		reg.Push("destroy epair "+epair.HostIf, func() error {
			return epair.Destroy(context.Background())
		})

		gwIface, err := jailmgr.DefaultGatewayInterface(ctx)
		if err != nil {
			return 1, err
		}
		diag.Progress(opts.LogProgress, "routing jail traffic via host interface %s", gwIface)

		hostIP, lanCIDR, err := jailmgr.GatewayIPv4(ctx, gwIface)
		if err != nil {
			return 1, err
		}

		net := spec.Options.EnsureNet()
		var nameserver string
		if net.OutboundDNS {
			if err := copyResolvConf(root); err != nil {
				return 1, err
			}
			nameserver, _ = hostNameserver()
		}

		fwUsers = jailmgr.FirewallUsers{Path: crate.FirewallUsersFile}
		wasEmpty, err := fwUsers.AddSelf()
		if err != nil {
			return 1, err
		}
		reg.Push("release firewall-users slot", func() error {
			nowEmpty, rerr := fwUsers.RemoveSelf()
			if rerr != nil {
				return rerr
			}
			if nowEmpty {
				return jailmgr.RemoveCommonOutboundRule(context.Background())
			}
			return nil
		})
		if wasEmpty {
			if err := jailmgr.InstallCommonOutboundRule(ctx, hostIP); err != nil {
				return 1, err
			}
		}

		rules, err = jailmgr.InstallInboundRules(ctx, epairIdx, hostIP, epair.Addrs.JailAddr, net)
		if err != nil {
			return 1, err
		}
		reg.Push("remove firewall rules for epair index "+strconv.Itoa(epairIdx), func() error {
			return rules.Teardown(context.Background())
		})
		if err := jailmgr.InstallOutboundRules(ctx, rules, lanCIDR, hostIP, nameserver, hostIP, net); err != nil {
			return 1, err
		}
	}

	// Phase C: jail creation.
	hostname, _ := os.Hostname()
	handle, err := jailmgr.Create(ctx, &reg, jailName, root, hostname, jailmgr.NetParams{
		VNet:          wantsNet,
		AllowRaw:      wantsNet,
		AllowSocketAF: wantsNet,
	})
	if err != nil {
		return 1, err
	}

	if wantsNet {
		if err := epair.MoveIntoJail(ctx, handle.Name); err != nil {
			return 1, err
		}
	}

	// Phase D: in-jail initialization.
	if err := jailmgr.StartFirewallService(ctx, handle.Name); err != nil {
		diag.Warn("starting in-jail firewall service: %v", err)
	}
	if err := jailmgr.CreateUser(ctx, handle.Name, caller); err != nil {
		return 1, err
	}
	if spec.Options.Has(specmodel.OptVideo) {
		if err := jailmgr.CreateVideoUser(ctx, handle.Name, caller); err != nil {
			return 1, err
		}
	}
	for _, pair := range spec.Dirs.Share {
		if err := jailmgr.ShareDir(ctx, &reg, root, pair); err != nil {
			return 1, err
		}
	}
	for _, pair := range spec.Files.Share {
		if err := jailmgr.ShareFile(root, pair); err != nil {
			return 1, err
		}
	}

	// Phase E: options & services.
	var extraEnv []string
	if spec.Options.Has(specmodel.OptX11) {
		display := os.Getenv("DISPLAY")
		env, err := jailmgr.SetupX11(ctx, &reg, root, caller, os.Getenv("HOME"), display)
		if err != nil {
			return 1, err
		}
		extraEnv = append(extraEnv, env)
	}
	if err := runScripts(ctx, root, spec.Scripts, specmodel.SectionRunBeforeStartServices); err != nil {
		return 1, err
	}
	if err := jailmgr.RunServices(ctx, &reg, handle.Name, spec.Run.Services); err != nil {
		return 1, err
	}
	if err := runScripts(ctx, root, spec.Scripts, specmodel.SectionRunAfterStartServices); err != nil {
		return 1, err
	}

	// Phase F: execution.
	if spec.Run.Executable != "" {
		exitCode, err = jailmgr.Execute(ctx, jailmgr.ExecParams{
			JailName:   handle.Name,
			User:       caller.User,
			Executable: spec.Run.Executable,
			Args:       opts.ExtraArgs,
			Env:        extraEnv,
			Ktrace:     spec.Options.Has(specmodel.OptDbgKtrace),
		})
		if err != nil {
			return exitCode, err
		}
	} else if len(spec.Run.Services) > 0 {
		sleepScriptPath := filepath.Join(root, "tmp", "crate-sleep.sh")
		if err := fsutil.Write(sleepScriptPath, []byte(jailmgr.SleepScript), 0o755); err != nil {
			return 1, err
		}
		exitCode, err = jailmgr.Execute(ctx, jailmgr.ExecParams{
			JailName:   handle.Name,
			User:       caller.User,
			Executable: "/tmp/crate-sleep.sh",
			Env:        extraEnv,
		})
		if err != nil {
			return exitCode, err
		}
	}

	// Phase G: teardown (run:end here; the rest happens in the deferred
	// reg.Teardown above, LIFO).
	if spec.Options.Has(specmodel.OptDbgKtrace) {
		traceOut := filepath.Join(root, "home", caller.User, "ktrace.out")
		if err := fsutil.CopyFile(traceOut, "ktrace.out"); err != nil {
			diag.Warn("copying ktrace.out: %v", err)
		}
	}
	if err := runScripts(ctx, root, spec.Scripts, specmodel.SectionRunEnd); err != nil {
		diag.Warn("run:end scripts: %v", err)
	}

	return exitCode, nil
}

func runScripts(ctx context.Context, root string, scripts specmodel.Scripts, section string) error {
	names := scripts[section]
	for _, kv := range names {
		if err := execrun.RunInherit(ctx, "chroot", root, "/bin/sh", "-c", kv.Value); err != nil {
			return err
		}
	}
	return nil
}

func callerIdentity() (jailmgr.Caller, error) {
	u, err := user.Current()
	if err != nil {
		return jailmgr.Caller{}, &crate.SysError{Call: "user.Current", Err: err}
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return jailmgr.Caller{}, &crate.SysError{Call: "parse uid", Err: err}
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return jailmgr.Caller{}, &crate.SysError{Call: "parse gid", Err: err}
	}
	return jailmgr.Caller{User: u.Username, UID: uid, GID: gid}, nil
}

func copyResolvConf(root string) error {
	return fsutil.CopyFile("/etc/resolv.conf", filepath.Join(root, "etc", "resolv.conf"))
}

// hostNameserver returns the first "nameserver" entry of /etc/resolv.conf.
func hostNameserver() (string, error) {
	return firstNameserver("/etc/resolv.conf")
}

func firstNameserver(resolvConfPath string) (string, error) {
	lines, err := fsutil.ReadLines(resolvConfPath)
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "nameserver" {
			return fields[1], nil
		}
	}
	return "", &crate.ConfigError{Msg: "no nameserver entry found in " + resolvConfPath}
}

// ensureNetPreconditions checks and, if necessary, fixes the host-level
// preconditions for options.net: the NAT
// firewall module loaded, IP forwarding enabled.
func ensureNetPreconditions(ctx context.Context) error {
	if _, err := execrun.Run(ctx, "kldstat", "-q", "-m", "ipfw_nat"); err != nil {
		if loadErr := execrun.RunQuiet(ctx, "kldload", "ipfw_nat"); loadErr != nil {
			return &crate.PolicyError{Msg: "ipfw_nat module not loaded and could not be loaded: " + loadErr.Error()}
		}
	}

	out, err := execrun.Run(ctx, "sysctl", "-n", "net.inet.ip.forwarding")
	if err != nil {
		return &crate.PolicyError{Msg: "could not read net.inet.ip.forwarding: " + err.Error()}
	}
	if out != "1" && out != "1\n" {
		diag.Warn("enabling net.inet.ip.forwarding (not restored on exit)")
		if err := execrun.RunQuiet(ctx, "sysctl", "net.inet.ip.forwarding=1"); err != nil {
			return &crate.PolicyError{Msg: "could not enable net.inet.ip.forwarding: " + err.Error()}
		}
	}
	return nil
}
