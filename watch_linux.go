//go:build linux

package rtnlproxy

import (
	"encoding/binary"
	"time"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// DialRTNLEvents returns the production EventDialer: each call opens a raw
// NETLINK_ROUTE socket subscribed to the link multicast group, with a
// socket filter admitting only the awaited message type.
func DialRTNLEvents() EventDialer {
	return func(typ MessageType) (EventSource, error) {
		c, err := netlink.Dial(unix.NETLINK_ROUTE, &netlink.Config{
			Groups: unix.RTMGRP_LINK,
		})
		if err != nil {
			return nil, err
		}

		// Filtering is an optimization; the watcher matches in process
		// too, so a kernel that refuses the filter is fine.
		if prog, err := bpf.Assemble(typeFilter(uint16(typ))); err == nil {
			_ = c.SetBPF(prog)
		}

		return &rtnlEventSource{c: c}, nil
	}
}

// rtnlEventSource wraps a netlink.Conn so Close aborts a Receive already
// in flight.
type rtnlEventSource struct {
	c *netlink.Conn
}

func (s *rtnlEventSource) Receive() ([]netlink.Message, error) {
	return s.c.Receive()
}

func (s *rtnlEventSource) Close() error {
	s.c.SetDeadline(time.Unix(0, 1))
	return s.c.Close()
}

// typeFilter admits only netlink messages whose header type equals typ.
// The type field sits at offset 4 of nlmsghdr in host byte order, while
// classic BPF loads are big-endian, so the comparison constant is
// byte-swapped accordingly.
func typeFilter(typ uint16) []bpf.Instruction {
	v := binary.BigEndian.Uint16(nlenc.Uint16Bytes(typ))

	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 4, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(v), SkipFalse: 1},
		bpf.RetConstant{Val: 0xffffffff},
		bpf.RetConstant{Val: 0},
	}
}
