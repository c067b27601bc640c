package rtnlproxy

// Capabilities is a read-only snapshot of the link operations and attributes
// the running kernel provides natively over rtnetlink.  It is established by
// the transport layer before the proxy begins operating and injected into
// each Proxy; the proxy itself never probes or mutates it.
type Capabilities struct {
	// ProvideMaster indicates the kernel includes IFLA_MASTER in link
	// messages.  When false, the enrichment stage synthesizes it from
	// sysfs.
	ProvideMaster bool

	// CreateBond indicates bond interfaces can be created and managed
	// natively over rtnetlink.
	CreateBond bool

	// CreateBridge indicates bridge interfaces can be created and managed
	// natively over rtnetlink.
	CreateBridge bool
}
