package specmodel

import "os"

// Preprocess expands a raw, loaded spec's derived fields in a fixed,
// order-sensitive sequence, after applying $HOME variable substitution to
// dirs.share / files.share paths. It returns a new Spec;
// the input is not mutated. Preprocess is idempotent: ssl-certs and gl are
// removed from Options once absorbed, and the entries derived from tor and
// dbg-ktrace (which stay set) are added only if not already present, so a
// second call changes nothing further.
func Preprocess(s *Spec) (*Spec, error) {
	out := s.clone()

	substitute(out)

	if out.Options.Has(OptSSLCerts) {
		out.Pkg.Install = appendUnique(out.Pkg.Install, "ca_root_nss")
		out.Options.Unset(OptSSLCerts)
	}

	if out.Options.Has(OptTor) {
		out.Pkg.Install = appendUnique(out.Pkg.Install, "tor")
		out.Run.Services = prependUnique(out.Run.Services, "tor")
		out.Base.Keep = appendUnique(out.Base.Keep,
			"/usr/local/bin/tor",
			"/usr/local/etc/tor/torrc",
		)
		out.Base.KeepWildcard = appendUnique(out.Base.KeepWildcard, "/usr/lib/pam_*.so*")

		if out.Options.Tor != nil && out.Options.Tor.ControlPort {
			out.Scripts.Append(SectionRunBeforeStartServices, "openTorControlPort",
				"echo ControlPort 9051 >> /usr/local/etc/tor/torrc")
		}

		net := out.Options.EnsureNet()
		net.OutboundWAN = true
	}

	if out.Options.Has(OptGL) {
		out.Pkg.Install = appendUnique(out.Pkg.Install, "mesa-dri", "nvidia-driver")
		out.Options.Unset(OptGL)
	}

	if out.Options.Has(OptDbgKtrace) {
		out.Base.Keep = appendUnique(out.Base.Keep, "/usr/bin/ktrace")
		// dbg-ktrace's effect on execution (wrapping the executable) is
		// applied by the run pipeline, which checks Options.Has directly;
		// the option itself is retained, unlike ssl-certs and gl above.
	}

	return out, nil
}

// substitute expands $HOME in dirs.share / files.share host and jail paths.
func substitute(s *Spec) {
	home := os.Getenv("HOME")
	for i := range s.Dirs.Share {
		s.Dirs.Share[i].Host = expandHome(s.Dirs.Share[i].Host, home)
		s.Dirs.Share[i].Jail = expandHome(s.Dirs.Share[i].Jail, home)
	}
	for i := range s.Files.Share {
		s.Files.Share[i].Host = expandHome(s.Files.Share[i].Host, home)
		s.Files.Share[i].Jail = expandHome(s.Files.Share[i].Jail, home)
	}
}

func expandHome(path, home string) string {
	return os.Expand(path, func(name string) string {
		if name == "HOME" {
			return home
		}
		return "$" + name
	})
}

func appendUnique(list []string, items ...string) []string {
	seen := make(map[string]bool, len(list))
	for _, v := range list {
		seen[v] = true
	}
	for _, item := range items {
		if seen[item] {
			continue
		}
		list = append(list, item)
		seen[item] = true
	}
	return list
}

func prependUnique(list []string, item string) []string {
	for _, v := range list {
		if v == item {
			return list
		}
	}
	return append([]string{item}, list...)
}

// clone deep-copies s so Preprocess never mutates its input.
func (s *Spec) clone() *Spec {
	out := *s
	out.Base.Keep = append([]string(nil), s.Base.Keep...)
	out.Base.KeepWildcard = append([]string(nil), s.Base.KeepWildcard...)
	out.Base.Remove = append([]string(nil), s.Base.Remove...)
	out.Pkg.Install = append([]string(nil), s.Pkg.Install...)
	out.Pkg.LocalOverride = append(OrderedStringMap(nil), s.Pkg.LocalOverride...)
	out.Pkg.Add = append([]string(nil), s.Pkg.Add...)
	out.Pkg.Nuke = append([]string(nil), s.Pkg.Nuke...)
	out.Run.Services = append([]string(nil), s.Run.Services...)
	out.Dirs.Share = append(ShareList(nil), s.Dirs.Share...)
	out.Files.Share = append(ShareList(nil), s.Files.Share...)

	out.Options = s.Options
	out.Options.set = make(map[string]bool, len(s.Options.set))
	for k, v := range s.Options.set {
		out.Options.set[k] = v
	}
	if s.Options.Net != nil {
		netCopy := *s.Options.Net
		netCopy.InboundTCP = append([]PortRange(nil), s.Options.Net.InboundTCP...)
		netCopy.InboundUDP = append([]PortRange(nil), s.Options.Net.InboundUDP...)
		out.Options.Net = &netCopy
	}
	if s.Options.Tor != nil {
		torCopy := *s.Options.Tor
		out.Options.Tor = &torCopy
	}

	out.Scripts = make(Scripts, len(s.Scripts))
	for section, names := range s.Scripts {
		out.Scripts[section] = append(OrderedStringMap(nil), names...)
	}

	return &out
}
