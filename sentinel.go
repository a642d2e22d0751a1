package crate

// Sentinel file names written into the root of every crate.
const (
	SpecSentinel = "+CRATE.SPEC"
	PkgsSentinel = "+CRATE.PKGS"
)

// EnvMarker is always present in the environment of the executed process, so
// that applications can detect they are running inside a crate.
const EnvMarker = "CRATE=yes"

// Default host-side paths.
const (
	DefaultJailRoot  = "/var/run/crate"
	DefaultCacheDir  = "/var/cache/crate"
	FirewallUsersFile = DefaultJailRoot + "/ctx-firewall-users"
	BaseArchiveCache  = DefaultCacheDir + "/base.txz"
)

// ThirdPartyPrefix is the root under which installed packages live; ELF
// files below it are excluded from base-only dependency closures.
const ThirdPartyPrefix = "/usr/local/"
