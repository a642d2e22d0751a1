package jailmgr

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/crateutil/crate"
	"github.com/crateutil/crate/internal/execrun"
	"github.com/crateutil/crate/internal/fsutil"
	"github.com/crateutil/crate/internal/specmodel"
	"golang.org/x/sys/unix"
)

// ruleBase is the starting ipfw rule number of the per-jail blocks: the
// jail with epair index n owns [ruleBase+n*rulesPerJail,
// ruleBase+(n+1)*rulesPerJail), so up to ~600 concurrent jails fit below ipfw's default
// 65535 rule ceiling without colliding with the shared outbound rule at
// rule 100.
const (
	commonOutboundRule = 100
	ruleBase           = 1000
	rulesPerJail       = 100
)

// RuleSet is every ipfw rule number installed for one jail, recorded so
// Teardown can remove them in reverse order if installation fails partway
// through.
type RuleSet struct {
	epairIndex int
	installed  []int
}

func jailBase(epairIndex int) int {
	return ruleBase + epairIndex*rulesPerJail
}

// InstallInboundRules adds one ipfw rule for each inbound TCP/UDP port
// range, numbered from this jail's base+1, that passes traffic addressed to
// hostIP on the host port range to nat instance 1. No redirect of that
// traffic to jailIP or to the jail port range is configured here: jailIP
// and the jail side of each PortRange are not used.
func InstallInboundRules(ctx context.Context, epairIndex int, hostIP string, jailIP string, net *specmodel.NetOption) (*RuleSet, error) {
	rs := &RuleSet{epairIndex: epairIndex}
	base := jailBase(epairIndex) + 1

	install := func(num int, proto string, pr specmodel.PortRange) error {
		args := []string{"add", strconv.Itoa(num), "nat", "1", proto, "from", "any", "to",
			hostIP, strconv.Itoa(pr.HostLo) + "-" + strconv.Itoa(pr.HostHi)}
		if err := execrun.RunQuiet(ctx, "ipfw", args...); err != nil {
			return err
		}
		rs.installed = append(rs.installed, num)
		return nil
	}

	num := base
	for _, pr := range net.InboundTCP {
		if err := install(num, "tcp", pr); err != nil {
			return rs, err
		}
		num++
	}
	for _, pr := range net.InboundUDP {
		if err := install(num, "udp", pr); err != nil {
			return rs, err
		}
		num++
	}
	return rs, nil
}

// InstallOutboundRules installs the per-jail outbound rules: DNS
// allow/deny, LAN deny, host deny, then catch-all NAT, in that order, all
// below the next jail's inbound block so they never shadow it.
func InstallOutboundRules(ctx context.Context, rs *RuleSet, lanCIDR, hostIP, nameserver, gatewayIP string, net *specmodel.NetOption) error {
	num := jailBase(rs.epairIndex) + 1 + len(rs.installed)

	add := func(args ...string) error {
		full := append([]string{"add", strconv.Itoa(num)}, args...)
		if err := execrun.RunQuiet(ctx, "ipfw", full...); err != nil {
			return err
		}
		rs.installed = append(rs.installed, num)
		num++
		return nil
	}

	if net.OutboundDNS && nameserver != "" {
		if err := add("allow", "udp", "from", "any", "to", nameserver, "53"); err != nil {
			return err
		}
	} else {
		if err := add("deny", "udp", "from", "any", "to", "any", "53"); err != nil {
			return err
		}
	}

	if !net.OutboundLAN && lanCIDR != "" {
		if err := add("deny", "ip", "from", "any", "to", lanCIDR); err != nil {
			return err
		}
	}

	if !net.OutboundHost && hostIP != "" {
		if err := add("deny", "ip", "from", "any", "to", hostIP); err != nil {
			return err
		}
	}

	if err := add("nat", "1", "ip", "from", "any", "to", "any", "via", gatewayIP); err != nil {
		return err
	}
	return nil
}

// Teardown removes every rule this RuleSet installed, in reverse order.
func (rs *RuleSet) Teardown(ctx context.Context) error {
	var firstErr error
	for i := len(rs.installed) - 1; i >= 0; i-- {
		if err := execrun.RunQuiet(ctx, "ipfw", "delete", strconv.Itoa(rs.installed[i])); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// InstallCommonOutboundRule installs the shared outbound NAT rule (rule
// commonOutboundRule) plus its companion return-traffic allow rule
// (commonOutboundRule+1), used once globally
// for however many jails reference it.
func InstallCommonOutboundRule(ctx context.Context, gatewayIP string) error {
	if err := execrun.RunQuiet(ctx, "ipfw", "add", strconv.Itoa(commonOutboundRule),
		"nat", "1", "ip", "from", "any", "to", "any", "via", gatewayIP); err != nil {
		return err
	}
	return execrun.RunQuiet(ctx, "ipfw", "add", strconv.Itoa(commonOutboundRule+1),
		"allow", "ip", "from", "any", "to", "any", "established")
}

// RemoveCommonOutboundRule deletes the shared outbound NAT rule and its
// companion allow rule.
func RemoveCommonOutboundRule(ctx context.Context) error {
	err1 := execrun.RunQuiet(ctx, "ipfw", "delete", strconv.Itoa(commonOutboundRule))
	err2 := execrun.RunQuiet(ctx, "ipfw", "delete", strconv.Itoa(commonOutboundRule+1))
	if err1 != nil {
		return err1
	}
	return err2
}

// FirewallUsers is the cross-process reference-counted PID set deciding
// whether the shared outbound NAT rule should be installed or removed,
// backed by a plain-text file at Path. Every mutation holds an exclusive
// flock for the entire read-modify-write window.
type FirewallUsers struct {
	Path string
}

// AddSelf records the caller's PID in the firewall-users file under an
// exclusive lock, reporting whether the set was empty beforehand: the
// caller installs the common rule iff wasEmpty is true.
func (f *FirewallUsers) AddSelf() (wasEmpty bool, err error) {
	err = f.mutate(func(pids map[int]bool) {
		wasEmpty = len(pids) == 0
		pids[os.Getpid()] = true
	})
	return wasEmpty, err
}

// RemoveSelf removes the caller's PID, reporting whether the set became
// empty as a result; the caller deletes the common rule iff nowEmpty is
// true.
func (f *FirewallUsers) RemoveSelf() (nowEmpty bool, err error) {
	err = f.mutate(func(pids map[int]bool) {
		delete(pids, os.Getpid())
		nowEmpty = len(pids) == 0
	})
	return nowEmpty, err
}

func (f *FirewallUsers) mutate(edit func(map[int]bool)) error {
	file, err := os.OpenFile(f.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return &crate.IoError{Op: "open", Path: f.Path, Err: err}
	}
	defer file.Close()

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		return &crate.SysError{Call: "flock", Err: err}
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN)

	lines, err := fsutil.ReadLines(f.Path)
	if err != nil {
		return err
	}
	pids := make(map[int]bool, len(lines))
	for _, line := range lines {
		if n, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
			pids[n] = true
		}
	}

	edit(pids)

	var b strings.Builder
	for pid := range pids {
		fmt.Fprintf(&b, "%d\n", pid)
	}
	if err := file.Truncate(0); err != nil {
		return &crate.IoError{Op: "truncate", Path: f.Path, Err: err}
	}
	if _, err := file.WriteAt([]byte(b.String()), 0); err != nil {
		return &crate.IoError{Op: "write", Path: f.Path, Err: err}
	}
	return nil
}
