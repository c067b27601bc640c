package rtnlproxy

import "fmt"

// createBond creates a bond interface by writing "+<name>" to the bonding
// control file, waiting for the kernel's new-link notification before
// returning.
func (p *Proxy) createBond(msg *LinkMessage) error {
	name := msg.Name()
	return p.synced(TypeNewLink, name, func() error {
		return p.fs.WriteFile(bondingMasters, []byte("+"+name))
	})
}

// deleteBond brings the bond down and removes it by writing "-<name>" to
// the bonding control file.
func (p *Proxy) deleteBond(name string) error {
	return p.synced(TypeDelLink, name, func() error {
		if err := p.linkDown(name); err != nil {
			return err
		}
		return p.fs.WriteFile(bondingMasters, []byte("-"+name))
	})
}

// bondPort enslaves or frees a port by writing "+<port>" or "-<port>" to
// the bond's slaves file.
func (p *Proxy) bondPort(add bool, master, port string) error {
	sign := "-"
	if add {
		sign = "+"
	}
	return p.fs.WriteFile(fmt.Sprintf(bondingSlaves, master), []byte(sign+port))
}
