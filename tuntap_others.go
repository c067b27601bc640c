//go:build !linux

package rtnlproxy

// createTunTap is unsupported on platforms without known tun ioctl
// numbers.
func createTunTap(_ *tunRequest) error {
	return notSupported("tuntap create")
}
