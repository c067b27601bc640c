package rtnlproxy

import (
	"errors"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

// Various errors which may occur when attempting to decode or re-encode
// a link message to and from its binary form.
var (
	errShortMessage     = errors.New("not enough data to create a link message")
	errUnalignedMessage = errors.New("input data is not properly aligned for netlink message")
	errShortBatch       = errors.New("truncated netlink message in batch")
)

// A MessageType is the rtnetlink message type carried in a netlink header.
// Values mirror the kernel's RTM_* constants; they are declared locally so
// the codec does not depend on platform-specific headers.
type MessageType uint16

const (
	// TypeNewLink requests creation of a link, or announces one.
	TypeNewLink MessageType = 16

	// TypeDelLink requests removal of a link, or announces its removal.
	TypeDelLink MessageType = 17

	// TypeGetLink queries the link table.
	TypeGetLink MessageType = 18

	// TypeSetLink modifies an existing link.
	TypeSetLink MessageType = 19
)

// Link attribute types understood by the proxy.  Only the attributes the
// enrichment and routing stages touch are named; everything else passes
// through opaque.
const (
	iflaIfname   uint16 = 3
	iflaMaster   uint16 = 10
	iflaLinkinfo uint16 = 18

	iflaInfoKind uint16 = 1
	iflaInfoData uint16 = 2
)

// Attribute type flag bits, masked off when matching attribute types.
const (
	nlaFNested       uint16 = 0x8000
	nlaFNetByteorder uint16 = 0x4000

	nlaTypeMask = ^(nlaFNested | nlaFNetByteorder)
)

// Alignment and header sizes for netlink messages and attributes.
const (
	nlmsgAlignTo   = 4
	nlmsgHeaderLen = 16
	ifInfoLen      = 16
	nlaHeaderLen   = 4
)

func nlmsgAlign(n int) int {
	return (n + nlmsgAlignTo - 1) & ^(nlmsgAlignTo - 1)
}

// A Header is a netlink message header, in the memory layout of Linux's
// nlmsghdr.
type Header struct {
	// Length of a message, including this header.
	Length uint32

	// The rtnetlink message type.
	Type MessageType

	// Netlink header flags.
	Flags uint16

	// The sequence number of the message.
	Sequence uint32

	// The port ID of the sending process.
	PID uint32
}

// A LinkMessage is a decoded rtnetlink link message: the netlink header,
// the fixed ifinfmsg part, and an ordered list of attributes.
//
// The attribute list preserves wire order, so a message which is decoded
// and re-encoded without modification produces byte-identical output.
// Attributes are only ever appended, never removed or renamed.
type LinkMessage struct {
	Header Header

	// Fixed ifinfmsg fields.
	Family  uint8
	IfType  uint16
	Index   int32
	IfFlags uint32
	Change  uint32

	// Attributes in wire order.  Attribute types are unique within
	// one message.
	Attrs []netlink.Attribute
}

// DecodeLink unmarshals a single link message, including its netlink
// header, from b.
func DecodeLink(b []byte) (*LinkMessage, error) {
	if len(b) < nlmsgHeaderLen+ifInfoLen {
		return nil, errShortMessage
	}
	if len(b) != nlmsgAlign(len(b)) {
		return nil, errUnalignedMessage
	}

	var m LinkMessage
	m.Header.Length = nlenc.Uint32(b[0:4])
	m.Header.Type = MessageType(nlenc.Uint16(b[4:6]))
	m.Header.Flags = nlenc.Uint16(b[6:8])
	m.Header.Sequence = nlenc.Uint32(b[8:12])
	m.Header.PID = nlenc.Uint32(b[12:16])

	if int(m.Header.Length) > len(b) || int(m.Header.Length) < nlmsgHeaderLen+ifInfoLen {
		return nil, errShortMessage
	}

	ifi := b[nlmsgHeaderLen:]
	m.Family = ifi[0]
	m.IfType = nlenc.Uint16(ifi[2:4])
	m.Index = nlenc.Int32(ifi[4:8])
	m.IfFlags = nlenc.Uint32(ifi[8:12])
	m.Change = nlenc.Uint32(ifi[12:16])

	attrs, err := netlink.UnmarshalAttributes(b[nlmsgHeaderLen+ifInfoLen : m.Header.Length])
	if err != nil {
		return nil, err
	}
	m.Attrs = attrs

	return &m, nil
}

// Encode marshals m back into wire format, recomputing the netlink header
// length.  All other header fields are written back verbatim.
func (m *LinkMessage) Encode() ([]byte, error) {
	ab, err := netlink.MarshalAttributes(m.Attrs)
	if err != nil {
		return nil, err
	}

	l := nlmsgHeaderLen + ifInfoLen + len(ab)
	b := make([]byte, nlmsgAlign(l))

	m.Header.Length = uint32(l)
	nlenc.PutUint32(b[0:4], m.Header.Length)
	nlenc.PutUint16(b[4:6], uint16(m.Header.Type))
	nlenc.PutUint16(b[6:8], m.Header.Flags)
	nlenc.PutUint32(b[8:12], m.Header.Sequence)
	nlenc.PutUint32(b[12:16], m.Header.PID)

	ifi := b[nlmsgHeaderLen:]
	ifi[0] = m.Family
	nlenc.PutUint16(ifi[2:4], m.IfType)
	nlenc.PutInt32(ifi[4:8], m.Index)
	nlenc.PutUint32(ifi[8:12], m.IfFlags)
	nlenc.PutUint32(ifi[12:16], m.Change)

	copy(b[nlmsgHeaderLen+ifInfoLen:], ab)

	return b, nil
}

// SplitFrames splits a buffer containing one or more netlink messages into
// individual raw frames.  Frames are returned as sub-slices of b.
func SplitFrames(b []byte) ([][]byte, error) {
	var frames [][]byte
	for len(b) > 0 {
		if len(b) < nlmsgHeaderLen {
			return nil, errShortBatch
		}

		l := nlmsgAlign(int(nlenc.Uint32(b[0:4])))
		if l < nlmsgHeaderLen || l > len(b) {
			return nil, errShortBatch
		}

		frames = append(frames, b[:l])
		b = b[l:]
	}

	return frames, nil
}

// Attr returns the payload of the first attribute with the given type, or
// false if no such attribute exists.
func (m *LinkMessage) Attr(typ uint16) ([]byte, bool) {
	for _, a := range m.Attrs {
		if a.Type&nlaTypeMask == typ {
			return a.Data, true
		}
	}
	return nil, false
}

// AddAttr appends an attribute to the message.  It is a no-op if an
// attribute with the same type is already present: existing attributes are
// never overwritten.
func (m *LinkMessage) AddAttr(typ uint16, data []byte) {
	if _, ok := m.Attr(typ); ok {
		return
	}
	m.Attrs = append(m.Attrs, netlink.Attribute{Type: typ, Data: data})
}

// setAttr replaces the payload of an existing attribute in place.  Used
// only to patch a nested container whose contents grew; top-level
// attribute types are still never removed or renamed.
func (m *LinkMessage) setAttr(typ uint16, data []byte) {
	for i, a := range m.Attrs {
		if a.Type&nlaTypeMask == typ {
			m.Attrs[i].Data = data
			m.Attrs[i].Length = 0
			return
		}
	}
	m.Attrs = append(m.Attrs, netlink.Attribute{Type: typ, Data: data})
}

// Name returns the IFLA_IFNAME attribute, or an empty string if absent.
func (m *LinkMessage) Name() string {
	b, ok := m.Attr(iflaIfname)
	if !ok {
		return ""
	}
	return nlenc.String(b)
}

// MasterIndex returns the IFLA_MASTER attribute.
func (m *LinkMessage) MasterIndex() (uint32, bool) {
	b, ok := m.Attr(iflaMaster)
	if !ok || len(b) != 4 {
		return 0, false
	}
	return nlenc.Uint32(b), true
}

// A linkInfo is the decoded contents of an IFLA_LINKINFO nested block.
type linkInfo struct {
	// Kind is the IFLA_INFO_KIND value, empty if the block carries none.
	Kind string

	// Data is the raw IFLA_INFO_DATA payload, nil if absent.
	Data []byte

	attrs []netlink.Attribute
}

// LinkInfo decodes the IFLA_LINKINFO block, returning nil if the message
// carries none.
func (m *LinkMessage) LinkInfo() (*linkInfo, error) {
	b, ok := m.Attr(iflaLinkinfo)
	if !ok {
		return nil, nil
	}

	attrs, err := netlink.UnmarshalAttributes(b)
	if err != nil {
		return nil, err
	}

	li := &linkInfo{attrs: attrs}
	for _, a := range attrs {
		switch a.Type & nlaTypeMask {
		case iflaInfoKind:
			li.Kind = nlenc.String(a.Data)
		case iflaInfoData:
			li.Data = a.Data
		}
	}

	return li, nil
}

// appendLinkInfo appends attributes to the message's IFLA_LINKINFO block,
// creating the block if the message has none.  Existing nested attributes
// are preserved in order.
func (m *LinkMessage) appendLinkInfo(add ...netlink.Attribute) error {
	var attrs []netlink.Attribute
	if b, ok := m.Attr(iflaLinkinfo); ok {
		var err error
		attrs, err = netlink.UnmarshalAttributes(b)
		if err != nil {
			return err
		}
	}

	attrs = append(attrs, add...)
	b, err := netlink.MarshalAttributes(attrs)
	if err != nil {
		return err
	}

	m.setAttr(iflaLinkinfo, b)
	return nil
}
