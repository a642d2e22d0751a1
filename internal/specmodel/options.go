package specmodel

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Option names recognized in a spec's options mapping.
const (
	OptX11           = "x11"
	OptNet           = "net"
	OptSSLCerts      = "ssl-certs"
	OptTor           = "tor"
	OptVideo         = "video"
	OptGL            = "gl"
	OptDbgKtrace     = "dbg-ktrace"
	OptNoRmStaticLib = "no-rm-static-libs"
)

var knownOptions = map[string]bool{
	OptX11: true, OptNet: true, OptSSLCerts: true, OptTor: true,
	OptVideo: true, OptGL: true, OptDbgKtrace: true, OptNoRmStaticLib: true,
}

// PortRange is an inbound TCP or UDP mapping between a contiguous host port
// range and a contiguous jail-side port range; validation requires the two
// ranges to have equal span.
type PortRange struct {
	HostLo, HostHi int
	JailLo, JailHi int
}

// NetOption is the option-specific detail payload for "net", a tagged
// variant rather than open-ended inheritance.
type NetOption struct {
	OutboundWAN  bool
	OutboundLAN  bool
	OutboundHost bool
	OutboundDNS  bool
	InboundTCP   []PortRange
	InboundUDP   []PortRange
}

// TorOption is the option-specific detail payload for "tor".
type TorOption struct {
	ControlPort bool
}

// Options is the recognized-option capability set. Flag-like
// options (x11, ssl-certs, video, gl, dbg-ktrace, no-rm-static-libs) carry no
// payload beyond their presence; net and tor carry structured detail.
type Options struct {
	set map[string]bool

	X11            bool
	Net            *NetOption
	SSLCerts       bool
	Tor            *TorOption
	Video          bool
	GL             bool
	DbgKtrace      bool
	NoRmStaticLibs bool
}

// Has reports whether name is currently in the option set: set by the
// parsed spec or by EnsureNet, and cleared by Unset.
func (o *Options) Has(name string) bool {
	if o == nil {
		return false
	}
	return o.set[name]
}

func (o *Options) mark(name string) {
	if o.set == nil {
		o.set = make(map[string]bool)
	}
	o.set[name] = true
}

// Unset removes name from the set; used by Preprocess to drop options that
// are fully absorbed into other derived fields (ssl-certs, gl).
func (o *Options) Unset(name string) {
	delete(o.set, name)
	switch name {
	case OptSSLCerts:
		o.SSLCerts = false
	case OptGL:
		o.GL = false
	}
}

// EnsureNet returns the net option, creating an absent (all-false) one and
// marking it present; used by Preprocess's tor rule ("enable net.wan,
// creating options.net if absent").
func (o *Options) EnsureNet() *NetOption {
	if o.Net == nil {
		o.Net = &NetOption{}
	}
	o.mark(OptNet)
	return o.Net
}

// UnmarshalYAML accepts either form the spec's scenarios use: a sequence of
// bare option names (flags only, e.g. "options: [ssl-certs]") or a mapping
// from option name to option-specific details (e.g. "options: {tor:
// {control-port: true}}").
func (o *Options) UnmarshalYAML(value *yaml.Node) error {
	o.set = make(map[string]bool)
	switch value.Kind {
	case yaml.SequenceNode:
		for _, item := range value.Content {
			var name string
			if err := item.Decode(&name); err != nil {
				return err
			}
			if err := o.apply(name, nil); err != nil {
				return err
			}
		}
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			var name string
			if err := value.Content[i].Decode(&name); err != nil {
				return err
			}
			detail := value.Content[i+1]
			if detail.Kind == yaml.ScalarNode && detail.Tag == "!!null" {
				detail = nil
			}
			if err := o.apply(name, detail); err != nil {
				return err
			}
		}
		return nil
	case 0:
		return nil // absent "options:" key
	default:
		return &yamlTypeError{node: value, want: "sequence or mapping"}
	}
}

func (o *Options) apply(name string, detail *yaml.Node) error {
	if !knownOptions[name] {
		return &optionError{name: name}
	}
	o.mark(name)
	switch name {
	case OptX11:
		o.X11 = true
	case OptSSLCerts:
		o.SSLCerts = true
	case OptVideo:
		o.Video = true
	case OptGL:
		o.GL = true
	case OptDbgKtrace:
		o.DbgKtrace = true
	case OptNoRmStaticLib:
		o.NoRmStaticLibs = true
	case OptTor:
		tor := &TorOption{}
		if detail != nil {
			var raw struct {
				ControlPort bool `yaml:"control-port"`
			}
			if err := detail.Decode(&raw); err != nil {
				return err
			}
			tor.ControlPort = raw.ControlPort
		}
		o.Tor = tor
	case OptNet:
		net := &NetOption{}
		if detail != nil {
			var raw struct {
				WAN        bool              `yaml:"wan"`
				LAN        bool              `yaml:"lan"`
				Host       bool              `yaml:"host"`
				DNS        bool              `yaml:"dns"`
				InboundTCP map[string]string `yaml:"inbound-tcp"`
				InboundUDP map[string]string `yaml:"inbound-udp"`
			}
			if err := detail.Decode(&raw); err != nil {
				return err
			}
			net.OutboundWAN = raw.WAN
			net.OutboundLAN = raw.LAN
			net.OutboundHost = raw.Host
			net.OutboundDNS = raw.DNS
			ranges, err := decodePortRanges(raw.InboundTCP)
			if err != nil {
				return err
			}
			net.InboundTCP = ranges
			ranges, err = decodePortRanges(raw.InboundUDP)
			if err != nil {
				return err
			}
			net.InboundUDP = ranges
		}
		o.Net = net
	}
	return nil
}

// decodePortRanges parses a host-range -> jail-range string mapping, e.g.
// {"8080": "80"} or {"8080-8090": "80-90"}, into PortRanges.
func decodePortRanges(raw map[string]string) ([]PortRange, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ranges := make([]PortRange, 0, len(raw))
	for hostSpec, jailSpec := range raw {
		hostLo, hostHi, err := parsePortSpec(hostSpec)
		if err != nil {
			return nil, err
		}
		jailLo, jailHi, err := parsePortSpec(jailSpec)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, PortRange{HostLo: hostLo, HostHi: hostHi, JailLo: jailLo, JailHi: jailHi})
	}
	return ranges, nil
}

func parsePortSpec(spec string) (lo, hi int, err error) {
	if i := strings.IndexByte(spec, '-'); i >= 0 {
		lo, err = strconv.Atoi(spec[:i])
		if err != nil {
			return 0, 0, err
		}
		hi, err = strconv.Atoi(spec[i+1:])
		return lo, hi, err
	}
	lo, err = strconv.Atoi(spec)
	return lo, lo, err
}

type optionError struct {
	name string
}

func (e *optionError) Error() string {
	return "unrecognized option: " + e.name
}
