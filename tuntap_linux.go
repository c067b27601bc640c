//go:build linux

package rtnlproxy

import "golang.org/x/sys/unix"

// tunDev is the tun control device node.
const tunDev = "/dev/net/tun"

// createTunTap opens the tun control device, issues the set-interface
// ioctl built from the validated request, applies ownership when supplied,
// and finally makes the device persistent.
func createTunTap(req *tunRequest) error {
	fd, err := unix.Open(tunDev, unix.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(req.name)
	if err != nil {
		return err
	}

	var flags uint16
	if req.tap {
		flags = unix.IFF_TAP
	} else {
		flags = unix.IFF_TUN
	}
	if req.flags&TunNoPI != 0 {
		flags |= unix.IFF_NO_PI
	}
	if req.flags&TunOneQueue != 0 {
		flags |= unix.IFF_ONE_QUEUE
	}
	if req.flags&TunVnetHdr != 0 {
		flags |= unix.IFF_VNET_HDR
	}
	if req.flags&TunMultiQueue != 0 {
		flags |= unix.IFF_MULTI_QUEUE
	}
	ifr.SetUint16(flags)

	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		return err
	}

	if req.uid != nil {
		if err := unix.IoctlSetInt(fd, unix.TUNSETOWNER, int(*req.uid)); err != nil {
			return err
		}
	}
	if req.gid != nil {
		if err := unix.IoctlSetInt(fd, unix.TUNSETGROUP, int(*req.gid)); err != nil {
			return err
		}
	}

	return unix.IoctlSetInt(fd, unix.TUNSETPERSIST, 1)
}
