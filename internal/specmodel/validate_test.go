package specmodel

import "testing"

func TestValidateRejectsRelativeExecutable(t *testing.T) {
	s := mustLoadString(t, `
run:
  executable: bin/app
`)
	if err := Validate(s); err == nil {
		t.Fatal("expected error for relative run.executable")
	}
}

func TestValidateRejectsRelativeSharePath(t *testing.T) {
	s := mustLoadString(t, `
run:
  executable: /usr/local/bin/app
dirs:
  share:
    - Downloads: /home/crate/Downloads
`)
	if err := Validate(s); err == nil {
		t.Fatal("expected error for relative dirs.share host path")
	}
}

func TestValidateRequiresExecutableServicesOrTor(t *testing.T) {
	s := mustLoadString(t, `
base:
  keep: ["/bin/sh"]
`)
	if err := Validate(s); err == nil {
		t.Fatal("expected error when spec sets none of executable/services/tor")
	}
}

func TestValidateAcceptsTorOnlySpec(t *testing.T) {
	s := mustLoadString(t, `
options: [tor]
`)
	if err := Validate(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsDuplicateLocalOverrideKeys(t *testing.T) {
	s := mustLoadString(t, `
run:
  executable: /usr/local/bin/app
pkg:
  local_override:
    curl: /path/one
`)
	s.Pkg.LocalOverride = append(s.Pkg.LocalOverride, KV{Key: "curl", Value: "/path/two"})
	if err := Validate(s); err == nil {
		t.Fatal("expected error for duplicate pkg.local_override key")
	}
}

func TestValidateRejectsMismatchedPortRangeSpan(t *testing.T) {
	s := mustLoadString(t, `
run:
  executable: /usr/local/bin/app
options:
  net:
    inbound-tcp:
      "8080-8090": "80-85"
`)
	if err := Validate(s); err == nil {
		t.Fatal("expected error for mismatched inbound port range span")
	}
}

func TestValidateAcceptsEqualPortRangeSpan(t *testing.T) {
	s := mustLoadString(t, `
run:
  executable: /usr/local/bin/app
options:
  net:
    inbound-tcp:
      "8080-8090": "80-90"
`)
	if err := Validate(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsUnknownScriptSection(t *testing.T) {
	s := mustLoadString(t, `
run:
  executable: /usr/local/bin/app
scripts:
  run:unknown-section:
    foo: echo hi
`)
	if err := Validate(s); err == nil {
		t.Fatal("expected error for unrecognized scripts section")
	}
}
