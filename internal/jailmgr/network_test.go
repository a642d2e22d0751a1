package jailmgr

import "testing"

func TestParseGatewayIPv4(t *testing.T) {
	const out = `em0: flags=8943<UP,BROADCAST,RUNNING,PROMISC,SIMPLEX,MULTICAST> metric 0 mtu 1500
	options=81009b<RXCSUM,TXCSUM,VLAN_MTU,VLAN_HWTAGGING,VLAN_HWCSUM,LINKSTATE>
	ether 00:1b:21:3c:4d:5e
	inet 192.168.1.42 netmask 0xffffff00 broadcast 192.168.1.255
	media: Ethernet autoselect (1000baseT <full-duplex>)
	status: active
`

	addr, lanCIDR, err := parseGatewayIPv4("em0", out)
	if err != nil {
		t.Fatal(err)
	}
	if addr != "192.168.1.42" {
		t.Errorf("addr = %q, want 192.168.1.42", addr)
	}
	if lanCIDR != "192.168.1.0/24" {
		t.Errorf("lanCIDR = %q, want 192.168.1.0/24", lanCIDR)
	}
}

func TestParseGatewayIPv4NoInetLine(t *testing.T) {
	const out = "em1: flags=8802<BROADCAST,SIMPLEX,MULTICAST> metric 0 mtu 1500\n\tether 00:1b:21:3c:4d:5f\n"
	if _, _, err := parseGatewayIPv4("em1", out); err == nil {
		t.Error("expected error for an interface with no inet address")
	}
}

func TestParseGatewayIPv4OddPrefix(t *testing.T) {
	addr, lanCIDR, err := parseGatewayIPv4("epair3a", "inet 10.3.0.0 netmask 0xfffffffe\n")
	if err != nil {
		t.Fatal(err)
	}
	if addr != "10.3.0.0" {
		t.Errorf("addr = %q, want 10.3.0.0", addr)
	}
	if lanCIDR != "10.3.0.0/31" {
		t.Errorf("lanCIDR = %q, want 10.3.0.0/31", lanCIDR)
	}
}
