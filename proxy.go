package rtnlproxy

import (
	"strconv"
	"time"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

// A LinkDesc is the compact description of a live interface, fetched from
// the kernel's link table when a request carries only an index.
type LinkDesc struct {
	Index  uint32
	Name   string
	Master uint32
	Kind   Kind
}

// A LinkQuerier fetches the full current description of a live interface by
// index.  Port and delete operations resolve their context through it
// rather than trusting the caller-supplied message.
type LinkQuerier interface {
	LinkByIndex(index uint32) (LinkDesc, error)
}

// An Execer runs an external control tool, returning its exit code.  A
// missing executable is reported as ENOENT so callers can degrade
// gracefully when an optional legacy tool is not installed.
type Execer interface {
	Run(name string, args ...string) (int, error)
}

// A Verdict is the outcome of routing one link message.  Forward means the
// (possibly modified) wire buffer should be passed along to the kernel
// socket; otherwise the operation was fully emulated and nothing further
// is sent.
type Verdict struct {
	Forward bool
	Data    []byte
}

// Config specifies configuration for a Proxy.
type Config struct {
	// Capabilities of the running kernel, as negotiated by the transport
	// layer.
	Capabilities Capabilities

	// FS overrides the filesystem used for sysfs access.  If nil, the
	// real /sys tree is used.
	FS FS

	// Exec overrides the runner for external control tools.  If nil,
	// os/exec is used.
	Exec Execer

	// Links resolves link descriptions for port and delete operations.
	// If nil, those operations are forwarded unmodified.
	Links LinkQuerier

	// DialEvents opens a private notification channel for one
	// synchronized legacy operation.  If nil, legacy operations run
	// without waiting for kernel confirmation.
	DialEvents EventDialer

	// WaitTimeout bounds the wait for the kernel notification confirming
	// a legacy operation.  Zero means wait indefinitely, matching the
	// behavior of a native netlink round-trip on a healthy kernel.
	WaitTimeout time.Duration
}

// A Proxy intercepts rtnetlink link messages, forwarding them to the kernel
// when the running kernel supports the operation natively and emulating
// them through legacy mechanisms when it does not.
type Proxy struct {
	caps        Capabilities
	fs          FS
	exec        Execer
	links       LinkQuerier
	dialEvents  EventDialer
	waitTimeout time.Duration
	d           *debugger
}

// New creates a Proxy.  If config is nil, a default configuration with no
// native capabilities is used.
func New(config *Config) *Proxy {
	if config == nil {
		config = &Config{}
	}

	p := &Proxy{
		caps:        config.Capabilities,
		fs:          config.FS,
		exec:        config.Exec,
		links:       config.Links,
		dialEvents:  config.DialEvents,
		waitTimeout: config.WaitTimeout,
		d:           newDebugger(debugArgs),
	}
	if p.fs == nil {
		p.fs = osFS{}
	}
	if p.exec == nil {
		p.exec = osExec{}
	}

	return p
}

// consumed builds the Verdict for a fully emulated operation.  A non-nil
// error carries the operation's single OS error code to the caller.
func consumed(op string, err error) (Verdict, error) {
	if err != nil {
		return Verdict{}, newOpError(op, err)
	}
	return Verdict{}, nil
}

// NewLink routes an outbound create-link request.  Kinds the running kernel
// cannot create natively are diverted to a legacy executor; everything else
// is forwarded unmodified.
func (p *Proxy) NewLink(b []byte) (Verdict, error) {
	msg, err := DecodeLink(b)
	if err != nil {
		return Verdict{}, newOpError("newlink", err)
	}

	var kind Kind
	if li, err := msg.LinkInfo(); err == nil && li != nil {
		kind = kindFromString(li.Kind)
	}
	p.d.debugf(1, "newlink: %q kind %s", msg.Name(), kind)

	switch kind {
	case KindTunTap:
		return consumed("tuntap create", p.manageTunTap(msg))
	case KindTeam:
		return consumed("team create", p.manageTeam(msg))
	case KindBond:
		if !p.caps.CreateBond {
			return consumed("bond create", p.createBond(msg))
		}
	case KindBridge:
		if !p.caps.CreateBridge {
			return consumed("bridge create", p.createBridge(msg))
		}
	}

	return Verdict{Forward: true, Data: b}, nil
}

// DelLink routes an outbound delete-link request.  The target's kind is
// resolved from the live link table, because a delete request may carry
// only an index.
func (p *Proxy) DelLink(b []byte) (Verdict, error) {
	msg, err := DecodeLink(b)
	if err != nil {
		return Verdict{}, newOpError("dellink", err)
	}

	if p.links == nil {
		return Verdict{Forward: true, Data: b}, nil
	}

	desc, err := p.links.LinkByIndex(uint32(msg.Index))
	if err != nil {
		p.d.debugf(1, "dellink: link %d lookup failed: %v", msg.Index, err)
		return Verdict{Forward: true, Data: b}, nil
	}
	p.d.debugf(1, "dellink: %q kind %s", desc.Name, desc.Kind)

	switch desc.Kind {
	case KindBond:
		if !p.caps.CreateBond {
			return consumed("bond delete", p.deleteBond(desc.Name))
		}
	case KindBridge:
		if !p.caps.CreateBridge {
			return consumed("bridge delete", p.deleteBridge(desc.Name))
		}
	}

	return Verdict{Forward: true, Data: b}, nil
}

// SetLink routes an outbound modify-link request.  Bond and bridge
// parameter blocks are applied through sysfs, and master changes are
// dispatched to the matching port-management executor.  Anything the proxy
// did not consume is forwarded unmodified.
func (p *Proxy) SetLink(b []byte) (Verdict, error) {
	msg, err := DecodeLink(b)
	if err != nil {
		return Verdict{}, newOpError("setlink", err)
	}

	name := msg.Name()
	if name == "" && p.links != nil {
		if desc, err := p.links.LinkByIndex(uint32(msg.Index)); err == nil {
			name = desc.Name
		}
	}

	if err := p.applyInfoData(msg, name); err != nil {
		return Verdict{}, newOpError("setlink", err)
	}

	forward, err := p.managePort(msg, name)
	if err != nil {
		return Verdict{}, newOpError("setlink", err)
	}
	if !forward {
		return Verdict{}, nil
	}

	return Verdict{Forward: true, Data: b}, nil
}

// applyInfoData applies a bond or bridge parameter block attribute by
// attribute through sysfs.  Every write is attempted; the first non-zero
// OS error code observed is the one reported, modeling the best-effort
// semantics of the legacy tools.
func (p *Proxy) applyInfoData(msg *LinkMessage, name string) error {
	li, err := msg.LinkInfo()
	if err != nil || li == nil || li.Data == nil {
		return nil
	}

	kind := kindFromString(li.Kind)
	if kind != KindBond && kind != KindBridge {
		return nil
	}

	attrs, err := netlink.UnmarshalAttributes(li.Data)
	if err != nil {
		return err
	}

	var code *OpError
	for _, a := range attrs {
		key, ok := legacyKey(kind, a.Type&nlaTypeMask)
		if !ok {
			continue
		}

		err := p.writeLegacyValue(kind, name, key, attrText(a.Data))
		p.d.debugf(2, "setlink: %s %s %s=%s: %v", kind, name, key, attrText(a.Data), err)
		if err != nil && code == nil {
			code = &OpError{Op: kind.String() + " set", Errno: errnoOf(err), Err: err}
		}
	}

	if code != nil {
		return code
	}
	return nil
}

// managePort handles the master attribute of a modify-link request.  Index
// zero detaches the port from its current master; a non-zero index attaches
// it to the named master.  The return value reports whether the message
// should still be forwarded to the kernel.
func (p *Proxy) managePort(msg *LinkMessage, name string) (forward bool, err error) {
	master, ok := msg.MasterIndex()
	if !ok || p.links == nil {
		return true, nil
	}

	var (
		desc LinkDesc
		add  bool
	)
	if master == 0 {
		// Port detach: the current master must be looked up first.
		self, err := p.links.LinkByIndex(uint32(msg.Index))
		if err != nil {
			return true, nil
		}
		desc, err = p.links.LinkByIndex(self.Master)
		if err != nil {
			return true, nil
		}
	} else {
		var err error
		desc, err = p.links.LinkByIndex(master)
		if err != nil {
			return true, nil
		}
		add = true
	}
	p.d.debugf(1, "setlink: port %q master %q kind %s add=%v", name, desc.Name, desc.Kind, add)

	switch desc.Kind {
	case KindTeam:
		return false, p.teamPort(add, desc.Name, name)
	case KindBridge:
		if p.caps.CreateBridge {
			return true, nil
		}
		return false, p.bridgePort(add, desc.Name, name)
	case KindBond:
		if p.caps.CreateBond {
			return true, nil
		}
		return false, p.bondPort(add, desc.Name, name)
	}

	// Unrecognized master kind: pass the original request through and
	// let the kernel decide.
	return true, nil
}

// LinkInfo enriches an inbound batch of link-info response messages and
// returns the re-encoded buffer.  Messages which cannot be decoded or
// enriched are passed through untouched; a per-message failure never
// aborts the batch.
func (p *Proxy) LinkInfo(b []byte) (Verdict, error) {
	frames, err := SplitFrames(b)
	if err != nil {
		return Verdict{}, newOpError("linkinfo", err)
	}

	out := make([]byte, 0, len(b))
	for _, f := range frames {
		if MessageType(nlenc.Uint16(f[4:6])) != TypeNewLink {
			// Error and control messages pass through verbatim.
			out = append(out, f...)
			continue
		}

		msg, err := DecodeLink(f)
		if err != nil {
			out = append(out, f...)
			continue
		}

		// Sysfs reads can require permissions the caller does not
		// have; in the worst case the caller just gets what the
		// kernel sent.
		if err := p.enrich(msg); err != nil {
			out = append(out, f...)
			continue
		}

		eb, err := msg.Encode()
		if err != nil {
			out = append(out, f...)
			continue
		}
		out = append(out, eb...)
	}

	return Verdict{Forward: true, Data: out}, nil
}

// attrText renders an attribute payload as the text written to a legacy
// sysfs file.
func attrText(data []byte) string {
	switch len(data) {
	case 1:
		return strconv.FormatUint(uint64(data[0]), 10)
	case 2:
		return strconv.FormatUint(uint64(nlenc.Uint16(data)), 10)
	case 4:
		return strconv.FormatUint(uint64(nlenc.Uint32(data)), 10)
	case 8:
		return strconv.FormatUint(nlenc.Uint64(data), 10)
	default:
		return nlenc.String(data)
	}
}
