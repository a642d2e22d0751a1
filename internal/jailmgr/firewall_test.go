package jailmgr

import (
	"path/filepath"
	"testing"
)

func TestAllocateEpairAddrsDistinctAndInjective(t *testing.T) {
	seen := make(map[string]int)
	for n := 0; n < 10; n++ {
		a := AllocateEpairAddrs(n)
		if a.Prefix != 31 {
			t.Errorf("n=%d: Prefix = %d, want 31", n, a.Prefix)
		}
		if a.HostAddr == a.JailAddr {
			t.Errorf("n=%d: host and jail addr must differ, got %s", n, a.HostAddr)
		}
		for _, addr := range []string{a.HostAddr, a.JailAddr} {
			if other, ok := seen[addr]; ok && other != n {
				t.Errorf("address %s reused by n=%d and n=%d", addr, other, n)
			}
			seen[addr] = n
		}
	}
}

func TestFirewallUsersAddRemoveRefcount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx-firewall-users")
	f := &FirewallUsers{Path: path}

	wasEmpty, err := f.AddSelf()
	if err != nil {
		t.Fatal(err)
	}
	if !wasEmpty {
		t.Error("expected set to be empty before first add")
	}

	wasEmpty2, err := f.AddSelf()
	if err != nil {
		t.Fatal(err)
	}
	if wasEmpty2 {
		t.Error("second add of the same PID should not report empty")
	}

	nowEmpty, err := f.RemoveSelf()
	if err != nil {
		t.Fatal(err)
	}
	if !nowEmpty {
		t.Error("removing the only PID should report the set empty")
	}
}

func TestJailBaseSeparatesJailsBySlot(t *testing.T) {
	if jailBase(0) == jailBase(1) {
		t.Error("distinct epair indices must not share a rule-number block")
	}
	if jailBase(0) <= commonOutboundRule+1 {
		t.Error("per-jail rule base must sit above the common outbound rules")
	}
}
