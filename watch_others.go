//go:build !linux

package rtnlproxy

// DialRTNLEvents returns an EventDialer that always fails, because
// rtnetlink notification sockets only exist on Linux.  Proxies built with
// it degrade to fire-and-forget legacy operations.
func DialRTNLEvents() EventDialer {
	return func(_ MessageType) (EventSource, error) {
		return nil, notSupported("dial events")
	}
}
