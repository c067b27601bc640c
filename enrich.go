package rtnlproxy

import (
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

// enrich appends attributes the running kernel failed to supply to an
// inbound link message: the master index, the link-info kind, and the
// bond/bridge parameter block.  Attributes already present are never
// overwritten, so enriching a fully populated message is a no-op.
//
// Individual sysfs reads are best-effort; a value that cannot be read is
// simply omitted.  Only codec failures are reported.
func (p *Proxy) enrich(m *LinkMessage) error {
	name := m.Name()
	if name == "" {
		return nil
	}

	if !p.caps.ProvideMaster {
		if _, ok := m.MasterIndex(); !ok {
			if idx, ok := p.masterIndex(name); ok {
				m.AddAttr(iflaMaster, nlenc.Uint32Bytes(idx))
			}
		}
	}

	li, err := m.LinkInfo()
	if err != nil {
		return err
	}

	var kind Kind
	switch {
	case li == nil, li.Kind == "":
		kind = p.kindOf(name)
		err := m.appendLinkInfo(netlink.Attribute{
			Type: iflaInfoKind,
			Data: nlenc.Bytes(kind.String()),
		})
		if err != nil {
			return err
		}
	default:
		kind = kindFromString(li.Kind)
	}

	if kind != KindBond && kind != KindBridge {
		return nil
	}

	// Re-read the block: the kind fix-up above may have created it.
	li, err = m.LinkInfo()
	if err != nil || li.Data != nil {
		return err
	}

	var data []netlink.Attribute
	for _, e := range kindTable(kind) {
		v, err := p.readLegacyValue(kind, name, e.typ)
		if err != nil {
			continue
		}
		data = append(data, netlink.Attribute{Type: e.typ, Data: nlenc.Uint32Bytes(v)})
	}
	if len(data) == 0 {
		return nil
	}

	b, err := netlink.MarshalAttributes(data)
	if err != nil {
		return err
	}
	return m.appendLinkInfo(netlink.Attribute{Type: iflaInfoData, Data: b})
}

// kindTable returns the legacy attribute table for a bond or bridge.
func kindTable(kind Kind) []struct {
	typ  uint16
	name string
} {
	if kind == KindBond {
		return bondAttrs
	}
	return bridgeAttrs
}
