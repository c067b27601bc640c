package rtnlproxy

import (
	"errors"
	"syscall"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

// TunFlags are the option flags of a tun/tap create request.  Values mirror
// the kernel's IFF_* tun device flags.
type TunFlags uint16

const (
	TunNoPI       TunFlags = 0x1000
	TunOneQueue   TunFlags = 0x2000
	TunVnetHdr    TunFlags = 0x4000
	TunMultiQueue TunFlags = 0x0100
)

// Nested attribute types of a tuntap info-data block.
const (
	tunAttrMode  uint16 = 1
	tunAttrUID   uint16 = 2
	tunAttrGID   uint16 = 3
	tunAttrFlags uint16 = 4
)

// ifNameSize is the kernel's fixed interface name length limit (IFNAMSIZ).
const ifNameSize = 16

// A tunRequest is a validated tun/tap create request.
type tunRequest struct {
	name  string
	tap   bool
	flags TunFlags
	uid   *uint32
	gid   *uint32
}

// manageTunTap creates a persistent tun or tap device through the tun
// control device.  The request is validated in full before any syscall is
// attempted.
func (p *Proxy) manageTunTap(msg *LinkMessage) error {
	if msg.Header.Type != TypeNewLink {
		return notSupported("tuntap create")
	}

	req, err := parseTunRequest(msg)
	if err != nil {
		return err
	}

	return p.synced(TypeNewLink, req.name, func() error {
		return createTunTap(req)
	})
}

// parseTunRequest extracts and validates the tuntap parameters from the
// message's info-data block.
func parseTunRequest(msg *LinkMessage) (*tunRequest, error) {
	li, err := msg.LinkInfo()
	if err != nil {
		return nil, err
	}

	req := &tunRequest{name: msg.Name()}
	var mode string

	if li != nil && li.Data != nil {
		attrs, err := netlink.UnmarshalAttributes(li.Data)
		if err != nil {
			return nil, err
		}
		for _, a := range attrs {
			switch a.Type & nlaTypeMask {
			case tunAttrMode:
				mode = nlenc.String(a.Data)
			case tunAttrFlags:
				if len(a.Data) == 2 {
					req.flags = TunFlags(nlenc.Uint16(a.Data))
				}
			case tunAttrUID:
				if len(a.Data) == 4 {
					v := nlenc.Uint32(a.Data)
					req.uid = &v
				}
			case tunAttrGID:
				if len(a.Data) == 4 {
					v := nlenc.Uint32(a.Data)
					req.gid = &v
				}
			}
		}
	}

	switch mode {
	case "tun":
	case "tap":
		req.tap = true
	default:
		return nil, &OpError{Op: "tuntap create", Errno: syscall.EINVAL, Err: errors.New("invalid mode")}
	}

	if len(req.name) > ifNameSize {
		return nil, &OpError{Op: "tuntap create", Errno: syscall.EINVAL, Err: errors.New("ifname too long")}
	}

	return req, nil
}
