// Package specmodel implements the declarative crate specification: its
// types, YAML parsing read with gopkg.in/yaml.v3, validation, and the
// derived-field expansion performed by Preprocess.
package specmodel

// Spec is the declarative crate specification. It is immutable after
// Preprocess.
type Spec struct {
	Base    Base    `yaml:"base"`
	Pkg     Pkg     `yaml:"pkg"`
	Run     Run     `yaml:"run"`
	Dirs    Dirs    `yaml:"dirs"`
	Files   Files   `yaml:"files"`
	Options Options `yaml:"options"`
	Scripts Scripts `yaml:"scripts"`
}

// Base controls which parts of the extracted base tree survive pruning.
type Base struct {
	Keep         []string `yaml:"keep"`
	KeepWildcard []string `yaml:"keep_wildcard"`
	Remove       []string `yaml:"remove"`
}

// Pkg controls third-party package installation.
type Pkg struct {
	Install       []string         `yaml:"install"`
	LocalOverride OrderedStringMap `yaml:"local_override"`
	Add           []string         `yaml:"add"`
	Nuke          []string         `yaml:"nuke"`
}

// Run describes the executable and/or services that make up the crate's
// payload.
type Run struct {
	Executable string   `yaml:"executable"`
	Args       string   `yaml:"args"`
	Services   []string `yaml:"services"`
}

// SharePair is a single (host path, jail path) association.
type SharePair struct {
	Host string
	Jail string
}

// Dirs lists host directories to bind into the jail.
type Dirs struct {
	Share ShareList `yaml:"share"`
}

// Files lists host files to hard-link into the jail.
type Files struct {
	Share ShareList `yaml:"share"`
}
