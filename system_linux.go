//go:build linux

package rtnlproxy

import "github.com/jsimonetti/rtnetlink"

// rtnlQuerier resolves live link descriptions over a typed rtnetlink
// client connection.
type rtnlQuerier struct {
	c *rtnetlink.Conn
}

// NewLinkQuerier dials a NETLINK_ROUTE connection used to resolve link
// descriptions for port and delete operations.  Close the returned querier
// when the proxy session ends.
func NewLinkQuerier() (*rtnlQuerier, error) {
	c, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, err
	}
	return &rtnlQuerier{c: c}, nil
}

func (q *rtnlQuerier) LinkByIndex(index uint32) (LinkDesc, error) {
	msg, err := q.c.Link.Get(index)
	if err != nil {
		return LinkDesc{}, err
	}

	desc := LinkDesc{Index: index}
	if a := msg.Attributes; a != nil {
		desc.Name = a.Name
		if a.Master != nil {
			desc.Master = *a.Master
		}
		if a.Info != nil {
			desc.Kind = kindFromString(a.Info.Kind)
		}
	}
	return desc, nil
}

func (q *rtnlQuerier) Close() error {
	return q.c.Close()
}

// System assembles a production Proxy wired to the running kernel: real
// sysfs, real control tools, a live link querier, and a fresh rtnl
// notification channel per synchronized operation.
func System(caps Capabilities) (*Proxy, error) {
	links, err := NewLinkQuerier()
	if err != nil {
		return nil, err
	}

	return New(&Config{
		Capabilities: caps,
		Links:        links,
		DialEvents:   DialRTNLEvents(),
	}), nil
}
