package specmodel

import (
	"os"

	"github.com/crateutil/crate"
	"gopkg.in/yaml.v3"
)

// Load reads and parses the YAML spec file at path. It does not validate or
// preprocess; callers combine Load, Preprocess and Validate themselves, in
// that order, so preprocessing always runs on an already-parsed raw spec.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &crate.IoError{Op: "read", Path: path, Err: err}
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, &crate.ConfigError{Msg: "parsing " + path + ": " + err.Error()}
	}
	return &spec, nil
}

// Raw returns the exact bytes of the spec file, used to populate
// <jail>/+CRATE.SPEC verbatim.
func Raw(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &crate.IoError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}
