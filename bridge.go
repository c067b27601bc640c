package rtnlproxy

// Bridge create, delete and port membership are emulated through the
// brctl(8) control executable, matching the legacy userspace contract on
// kernels without native rtnetlink bridge support.

func (p *Proxy) createBridge(msg *LinkMessage) error {
	name := msg.Name()
	return p.synced(TypeNewLink, name, func() error {
		return absorbMissing(p.runTool("brctl", "addbr", name))
	})
}

func (p *Proxy) deleteBridge(name string) error {
	return p.synced(TypeDelLink, name, func() error {
		if err := p.linkDown(name); err != nil {
			return err
		}
		return absorbMissing(p.runTool("brctl", "delbr", name))
	})
}

// bridgePort adds or removes a port via "brctl addif" / "brctl delif".
func (p *Proxy) bridgePort(add bool, master, port string) error {
	cmd := "delif"
	if add {
		cmd = "addif"
	}
	return absorbMissing(p.runTool("brctl", cmd, master, port))
}
