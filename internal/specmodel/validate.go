package specmodel

import (
	"fmt"
	"path/filepath"

	"github.com/crateutil/crate"
)

// Validate checks the structural invariants of a spec that has already gone
// through variable substitution (i.e. a spec returned by Preprocess, which
// applies the $HOME substitution). It is
// idempotent: calling it twice on the same spec yields the same result.
func Validate(s *Spec) error {
	if s.Run.Executable != "" && !filepath.IsAbs(s.Run.Executable) {
		return cfgErr("run.executable must be absolute: %s", s.Run.Executable)
	}

	for _, pair := range s.Dirs.Share {
		if !filepath.IsAbs(pair.Host) {
			return cfgErr("dirs.share host path must be absolute: %s", pair.Host)
		}
		if !filepath.IsAbs(pair.Jail) {
			return cfgErr("dirs.share jail path must be absolute: %s", pair.Jail)
		}
	}
	for _, pair := range s.Files.Share {
		if !filepath.IsAbs(pair.Host) {
			return cfgErr("files.share host path must be absolute: %s", pair.Host)
		}
		if !filepath.IsAbs(pair.Jail) {
			return cfgErr("files.share jail path must be absolute: %s", pair.Jail)
		}
	}

	if s.Run.Executable == "" && len(s.Run.Services) == 0 && !s.Options.Has(OptTor) {
		return cfgErr("spec must set run.executable, run.services, or options.tor")
	}

	seen := make(map[string]bool, len(s.Pkg.LocalOverride))
	for _, kv := range s.Pkg.LocalOverride {
		if seen[kv.Key] {
			return cfgErr("pkg.local_override has duplicate key: %s", kv.Key)
		}
		seen[kv.Key] = true
	}

	if s.Options.Net != nil {
		for _, pr := range s.Options.Net.InboundTCP {
			if err := validatePortRangeSpan(pr); err != nil {
				return err
			}
		}
		for _, pr := range s.Options.Net.InboundUDP {
			if err := validatePortRangeSpan(pr); err != nil {
				return err
			}
		}
	}

	for section := range s.Scripts {
		if !knownScriptSections[section] {
			return cfgErr("unrecognized scripts section: %s", section)
		}
	}

	return nil
}

func validatePortRangeSpan(pr PortRange) error {
	hostSpan := pr.HostHi - pr.HostLo
	jailSpan := pr.JailHi - pr.JailLo
	if hostSpan != jailSpan {
		return cfgErr("inbound port range span mismatch: host %d-%d (span %d) vs jail %d-%d (span %d)",
			pr.HostLo, pr.HostHi, hostSpan, pr.JailLo, pr.JailHi, jailSpan)
	}
	return nil
}

func cfgErr(format string, args ...interface{}) error {
	return &crate.ConfigError{Msg: fmt.Sprintf(format, args...)}
}
