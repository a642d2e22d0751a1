package createpipe

import (
	"testing"

	"github.com/crateutil/crate/internal/specmodel"
)

func TestDefaultOutputNameFromExecutable(t *testing.T) {
	spec := &specmodel.Spec{Run: specmodel.Run{Executable: "/usr/local/bin/myapp"}}
	if got, want := defaultOutputName(spec), "myapp.crate"; got != want {
		t.Errorf("defaultOutputName = %q, want %q", got, want)
	}
}

func TestDefaultOutputNameFromFirstService(t *testing.T) {
	spec := &specmodel.Spec{Run: specmodel.Run{Services: []string{"tor", "other"}}}
	if got, want := defaultOutputName(spec), "tor.crate"; got != want {
		t.Errorf("defaultOutputName = %q, want %q", got, want)
	}
}

func TestDefaultOutputNamePrefersExecutableOverServices(t *testing.T) {
	spec := &specmodel.Spec{
		Run: specmodel.Run{Executable: "/usr/local/bin/myapp", Services: []string{"tor"}},
	}
	if got, want := defaultOutputName(spec), "myapp.crate"; got != want {
		t.Errorf("defaultOutputName = %q, want %q", got, want)
	}
}
