package specmodel

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func mustLoadString(t *testing.T, data string) *Spec {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/spec.yml"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestPreprocessSSLCerts(t *testing.T) {
	s := mustLoadString(t, `
run:
  executable: /usr/local/bin/app
options: [ssl-certs]
`)
	out, err := Preprocess(s)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(out.Pkg.Install, "ca_root_nss") {
		t.Errorf("Pkg.Install = %v, want ca_root_nss", out.Pkg.Install)
	}
	if out.Options.Has(OptSSLCerts) {
		t.Error("ssl-certs option should be absorbed and unset")
	}

	// Idempotence: running Preprocess again changes nothing further.
	out2, err := Preprocess(out)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(out, out2, cmpopts.IgnoreUnexported(Options{})); diff != "" {
		t.Errorf("Preprocess not idempotent (-first +second):\n%s", diff)
	}
}

func TestPreprocessTorControlPort(t *testing.T) {
	s := mustLoadString(t, `
run:
  executable: /usr/local/bin/app
options:
  tor:
    control-port: true
`)
	out, err := Preprocess(s)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(out.Pkg.Install, "tor") {
		t.Errorf("Pkg.Install = %v, want tor", out.Pkg.Install)
	}
	if len(out.Run.Services) == 0 || out.Run.Services[0] != "tor" {
		t.Errorf("Run.Services = %v, want tor prepended", out.Run.Services)
	}
	if out.Options.Net == nil || !out.Options.Net.OutboundWAN {
		t.Error("tor should force options.net.wan")
	}
	body, ok := out.Scripts[SectionRunBeforeStartServices].Get("openTorControlPort")
	if !ok {
		t.Fatal("expected openTorControlPort script to be materialized")
	}
	if body == "" {
		t.Error("openTorControlPort script body is empty")
	}
}

func TestPreprocessGL(t *testing.T) {
	s := mustLoadString(t, `
run:
  executable: /usr/local/bin/app
options: [gl]
`)
	out, err := Preprocess(s)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"mesa-dri", "nvidia-driver"} {
		if !contains(out.Pkg.Install, want) {
			t.Errorf("Pkg.Install = %v, want %s", out.Pkg.Install, want)
		}
	}
	if out.Options.Has(OptGL) {
		t.Error("gl option should be unset after absorption")
	}
}

func TestPreprocessDbgKtraceRetainsOption(t *testing.T) {
	s := mustLoadString(t, `
run:
  executable: /usr/local/bin/app
options: [dbg-ktrace]
`)
	out, err := Preprocess(s)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(out.Base.Keep, "/usr/bin/ktrace") {
		t.Errorf("Base.Keep = %v, want /usr/bin/ktrace", out.Base.Keep)
	}
	if !out.Options.Has(OptDbgKtrace) {
		t.Error("dbg-ktrace must remain set; run pipeline still consults it")
	}
}

func TestPreprocessDoesNotMutateInput(t *testing.T) {
	s := mustLoadString(t, `
run:
  executable: /usr/local/bin/app
options: [ssl-certs]
`)
	before := len(s.Pkg.Install)
	if _, err := Preprocess(s); err != nil {
		t.Fatal(err)
	}
	if len(s.Pkg.Install) != before {
		t.Error("Preprocess mutated its input spec")
	}
	if !s.Options.Has(OptSSLCerts) {
		t.Error("Preprocess unset the option on the original spec")
	}
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
