// Command rtnlinfo dumps the kernel link table and runs it through the
// proxy's enrichment stage, printing what a client on an old kernel would
// see.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/jouste/rtnlproxy"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

const familyRoute = 0

func main() {
	var (
		masterFlag = flag.Bool("provide-master", false, "kernel provides IFLA_MASTER natively")
		bondFlag   = flag.Bool("create-bond", false, "kernel creates bonds natively")
		bridgeFlag = flag.Bool("create-bridge", false, "kernel creates bridges natively")
	)
	flag.Parse()

	c, err := netlink.Dial(familyRoute, nil)
	if err != nil {
		log.Fatalf("failed to dial: %v", err)
	}
	defer c.Close()

	req := netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(rtnlproxy.TypeGetLink),
			Flags: netlink.Request | netlink.Dump,
		},
		Data: make([]byte, 16),
	}

	msgs, err := c.Execute(req)
	if err != nil {
		log.Fatalf("failed to dump links: %v", err)
	}

	var batch []byte
	for _, m := range msgs {
		batch = append(batch, frame(m)...)
	}

	p := rtnlproxy.New(&rtnlproxy.Config{
		Capabilities: rtnlproxy.Capabilities{
			ProvideMaster: *masterFlag,
			CreateBond:    *bondFlag,
			CreateBridge:  *bridgeFlag,
		},
	})

	v, err := p.LinkInfo(batch)
	if err != nil {
		log.Fatalf("failed to enrich link table: %v", err)
	}

	frames, err := rtnlproxy.SplitFrames(v.Data)
	if err != nil {
		log.Fatalf("failed to split enriched batch: %v", err)
	}

	for _, f := range frames {
		lm, err := rtnlproxy.DecodeLink(f)
		if err != nil {
			continue
		}
		fmt.Printf("%d: %s (%d attributes)\n", lm.Index, lm.Name(), len(lm.Attrs))
	}
}

// frame re-encodes one received message into its wire form.
func frame(m netlink.Message) []byte {
	b := make([]byte, 16, 16+len(m.Data))
	nlenc.PutUint32(b[0:4], uint32(16+len(m.Data)))
	nlenc.PutUint16(b[4:6], uint16(m.Header.Type))
	nlenc.PutUint16(b[6:8], uint16(m.Header.Flags))
	nlenc.PutUint32(b[8:12], m.Header.Sequence)
	nlenc.PutUint32(b[12:16], m.Header.PID)
	return append(b, m.Data...)
}
