//go:build !linux

package rtnlproxy

// System is unsupported on platforms without rtnetlink.
func System(_ Capabilities) (*Proxy, error) {
	return nil, notSupported("system")
}
