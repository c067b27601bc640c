package rtnlproxy

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Fixed sysfs path templates for legacy link management.  These files are a
// pre-existing kernel contract; the proxy only fills in interface names and
// attribute keys.
const (
	bondingMasters = "/sys/class/net/bonding_masters"
	bondingSlaves  = "/sys/class/net/%s/bonding/slaves"
	bridgeMaster   = "/sys/class/net/%s/brport/bridge/ifindex"
	bondingMaster  = "/sys/class/net/%s/master/ifindex"
	bondAttrPath   = "/sys/class/net/%s/bonding/%s"
	bridgeAttrPath = "/sys/class/net/%s/bridge/%s"
	classNet       = "/sys/class/net/%s/"
)

// An FS provides the file operations the proxy performs against sysfs.  It
// exists so tests can substitute an in-memory tree for /sys.
type FS interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	ReadDir(path string) ([]string, error)
}

// osFS is the FS used in production, backed by package os.
type osFS struct{}

func (osFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (osFS) WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func (osFS) ReadDir(path string) ([]string, error) {
	des, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(des))
	for _, de := range des {
		names = append(names, de.Name())
	}
	return names, nil
}

// A Kind identifies the virtual interface type a link message refers to.
type Kind int

const (
	// KindUnknown means the type could not be determined from the message
	// or from sysfs.
	KindUnknown Kind = iota
	KindBond
	KindBridge
	KindTeam
	KindTunTap
	// KindOther is any native kind the proxy does not emulate.
	KindOther
)

// String returns the IFLA_INFO_KIND spelling of k.
func (k Kind) String() string {
	switch k {
	case KindBond:
		return "bond"
	case KindBridge:
		return "bridge"
	case KindTeam:
		return "team"
	case KindTunTap:
		return "tuntap"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// kindFromString maps an IFLA_INFO_KIND value onto the closed Kind set.
func kindFromString(s string) Kind {
	switch s {
	case "bond":
		return KindBond
	case "bridge":
		return KindBridge
	case "team":
		return KindTeam
	case "tuntap":
		return KindTunTap
	case "":
		return KindUnknown
	default:
		return KindOther
	}
}

// kindOf determines an interface's type by probing its sysfs directory for
// kind-specific marker entries.  Some kernels do not report the type over
// rtnetlink, and ioctl() does not expose it either, so sysfs is the only
// reliable source.
func (p *Proxy) kindOf(name string) Kind {
	entries, err := p.fs.ReadDir(fmt.Sprintf(classNet, name))
	if err != nil {
		return KindUnknown
	}

	for _, e := range entries {
		switch e {
		case "bonding":
			return KindBond
		case "bridge":
			return KindBridge
		}
	}
	return KindUnknown
}

// masterIndex looks up the interface's current master index from sysfs,
// first via the bridge port path and then via the bonding path.  It returns
// false if neither file can be read.
func (p *Proxy) masterIndex(name string) (uint32, bool) {
	for _, t := range []string{bridgeMaster, bondingMaster} {
		b, err := p.fs.ReadFile(fmt.Sprintf(t, name))
		if err != nil {
			continue
		}

		n, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 32)
		if err != nil {
			continue
		}
		return uint32(n), true
	}
	return 0, false
}

// bondAttrs and bridgeAttrs map the kind-specific netlink attribute types
// onto their legacy per-attribute sysfs file names, in attribute-type order.
// The tables drive both enrichment reads and modify-link writes.
var bondAttrs = []struct {
	typ  uint16
	name string
}{
	{1, "mode"},
	{3, "miimon"},
	{4, "updelay"},
	{5, "downdelay"},
	{6, "use_carrier"},
	{7, "arp_interval"},
	{9, "arp_validate"},
	{10, "arp_all_targets"},
	{12, "primary_reselect"},
	{13, "fail_over_mac"},
	{14, "xmit_hash_policy"},
	{15, "resend_igmp"},
	{16, "num_grat_arp"},
	{17, "all_slaves_active"},
	{18, "min_links"},
	{19, "lp_interval"},
	{20, "packets_per_slave"},
	{21, "lacp_rate"},
	{22, "ad_select"},
}

var bridgeAttrs = []struct {
	typ  uint16
	name string
}{
	{1, "forward_delay"},
	{2, "hello_time"},
	{3, "max_age"},
	{4, "ageing_time"},
	{5, "stp_state"},
	{6, "priority"},
}

// legacyKey returns the sysfs file name for a kind-specific attribute type,
// or false if the attribute has no legacy counterpart.
func legacyKey(kind Kind, typ uint16) (string, bool) {
	var table []struct {
		typ  uint16
		name string
	}
	switch kind {
	case KindBond:
		table = bondAttrs
	case KindBridge:
		table = bridgeAttrs
	default:
		return "", false
	}

	for _, e := range table {
		if e.typ == typ {
			return e.name, true
		}
	}
	return "", false
}

// attrPath builds the sysfs path of a kind-specific attribute file.
func attrPath(kind Kind, ifname, key string) string {
	if kind == KindBond {
		return fmt.Sprintf(bondAttrPath, ifname, key)
	}
	return fmt.Sprintf(bridgeAttrPath, ifname, key)
}

// readLegacyValue reads one legacy attribute file and parses its numeric
// value.  The bond mode file is special: its on-disk form is
// "<name> <index>" and only the numeric index token is meaningful.
func (p *Proxy) readLegacyValue(kind Kind, ifname string, typ uint16) (uint32, error) {
	key, ok := legacyKey(kind, typ)
	if !ok {
		return 0, fmt.Errorf("no legacy key for attribute %d", typ)
	}

	b, err := p.fs.ReadFile(attrPath(kind, ifname, key))
	if err != nil {
		return 0, err
	}

	s := strings.TrimSpace(string(b))
	if kind == KindBond && key == "mode" {
		fields := strings.Fields(s)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed bond mode value %q", s)
		}
		s = fields[1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// writeLegacyValue writes one legacy attribute file.  The returned error
// carries the OS error code of the failed write, if any.
func (p *Proxy) writeLegacyValue(kind Kind, ifname, key, value string) error {
	return p.fs.WriteFile(attrPath(kind, ifname, key), []byte(value))
}
