// Package jailmgr drives jail(8) lifecycle, devfs/nullfs mounts, epair
// virtual ethernet and firewall rule orchestration for the run pipeline.
// Every privileged operation shells out to the real platform tool via
// internal/execrun; jailmgr never talks to the kernel directly except
// where golang.org/x/sys/unix already covers it (flock),
// preferring raw syscalls over reimplementing a tool that ships in base.
package jailmgr

import (
	"context"
	"fmt"
	"math/bits"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/crateutil/crate"
	"github.com/crateutil/crate/internal/execrun"
)

// EpairAddrs is the host (A) and jail (B) endpoint addresses derived for a
// given epair index, addressed from a per-epair allocation inside
// 10.0.0.0/8 by a fixed injective function of n with a 31-bit netmask.
type EpairAddrs struct {
	HostAddr string // endpoint A, stays on the host side
	JailAddr string // endpoint B, moved into the jail
	Prefix   int    // netmask length, always 31
}

// AllocateEpairAddrs computes the point-to-point /31 pair for epair index n.
// Each index gets its own 10.<second>.<third>.0/31 inside 10.0.0.0/8; this
// keeps concurrently running jails (distinct n below 65536) from colliding
// on addresses.
func AllocateEpairAddrs(n int) EpairAddrs {
	if n < 0 {
		n = 0
	}
	// The low 16 bits of n are split across the second (n/256) and third
	// (n%256) octets; host gets .0, jail gets .1 of that /31.
	block := n
	third := block % 256
	second := (block / 256) % 256
	return EpairAddrs{
		HostAddr: fmt.Sprintf("10.%d.%d.0", second, third),
		JailAddr: fmt.Sprintf("10.%d.%d.1", second, third),
		Prefix:   31,
	}
}

// Epair is a created host/jail interface pair ready to be wired into a
// jail.
type Epair struct {
	HostIf string // e.g. epair0a
	JailIf string // e.g. epair0b
	Addrs  EpairAddrs
}

// CreateEpair runs `ifconfig epair create`, which atomically allocates the
// next free epairN pair at the kernel layer, then assigns the host-side
// address to the A endpoint.
func CreateEpair(ctx context.Context, n int) (*Epair, error) {
	out, err := execrun.Run(ctx, "ifconfig", "epair", "create")
	if err != nil {
		return nil, err
	}
	hostIf := strings.TrimRight(out, "\r\n")
	jailIf := hostIf[:len(hostIf)-1] + "b"

	addrs := AllocateEpairAddrs(n)
	if err := execrun.RunQuiet(ctx, "ifconfig", hostIf,
		"inet", addrs.HostAddr+"/31", "up"); err != nil {
		return nil, err
	}
	return &Epair{HostIf: hostIf, JailIf: jailIf, Addrs: addrs}, nil
}

// MoveIntoJail transfers the B endpoint into the named jail and assigns its
// address and default route.
func (e *Epair) MoveIntoJail(ctx context.Context, jailName string) error {
	if err := execrun.RunQuiet(ctx, "ifconfig", e.JailIf, "vnet", jailName); err != nil {
		return err
	}
	if err := execrun.RunQuiet(ctx, "jexec", jailName, "ifconfig", e.JailIf,
		"inet", e.Addrs.JailAddr+"/31", "up"); err != nil {
		return err
	}
	if err := execrun.RunQuiet(ctx, "jexec", jailName, "route", "add", "default", e.Addrs.HostAddr); err != nil {
		return err
	}
	return nil
}

// Destroy removes the host-side interface, which also destroys its B peer.
func (e *Epair) Destroy(ctx context.Context) error {
	return execrun.RunQuiet(ctx, "ifconfig", e.HostIf, "destroy")
}

// DefaultGatewayInterface returns the host's default-route interface name,
// used as the jail's upstream route when options.net is set.
func DefaultGatewayInterface(ctx context.Context) (string, error) {
	out, err := execrun.Run(ctx, "route", "-n", "get", "default")
	if err != nil {
		return "", err
	}
	iface := grepField(out, "interface:")
	if iface == "" {
		return "", &crate.SysError{Call: "route -n get default", Err: errNoDefaultRoute}
	}
	return iface, nil
}

var errNoDefaultRoute = fmt.Errorf("no default route interface found")

// inetLine matches ifconfig's "inet <addr> netmask <hex>" field pair on an
// interface's address line.
var inetLine = regexp.MustCompile(`inet\s+(\d+\.\d+\.\d+\.\d+)\s+netmask\s+(0x[0-9a-fA-F]+)`)

// GatewayIPv4 returns iface's own IPv4 address and the CIDR of the LAN it
// sits on, parsed out of ifconfig's inet/netmask line. The address is used
// as the NAT gateway IP for the jail's outbound traffic and for inbound
// port-forward targets; the CIDR scopes the options.net LAN-deny rule.
func GatewayIPv4(ctx context.Context, iface string) (addr string, lanCIDR string, err error) {
	out, err := execrun.Run(ctx, "ifconfig", iface)
	if err != nil {
		return "", "", err
	}
	return parseGatewayIPv4(iface, out)
}

func parseGatewayIPv4(iface, out string) (addr string, lanCIDR string, err error) {
	m := inetLine.FindStringSubmatch(out)
	if m == nil {
		return "", "", &crate.SysError{Call: "ifconfig " + iface, Err: errNoInetAddr}
	}
	ip := net.ParseIP(m[1]).To4()
	if ip == nil {
		return "", "", &crate.SysError{Call: "ifconfig " + iface, Err: fmt.Errorf("unparseable address %q", m[1])}
	}
	mask, convErr := strconv.ParseUint(strings.TrimPrefix(m[2], "0x"), 16, 32)
	if convErr != nil {
		return "", "", &crate.SysError{Call: "ifconfig " + iface, Err: fmt.Errorf("unparseable netmask %q", m[2])}
	}
	prefix := bits.OnesCount32(uint32(mask))
	network := ip.Mask(net.CIDRMask(prefix, 32))
	return ip.String(), fmt.Sprintf("%s/%d", network.String(), prefix), nil
}

var errNoInetAddr = fmt.Errorf("no inet address found")

func grepField(out, label string) string {
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, label); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
