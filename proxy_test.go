package rtnlproxy

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os/exec"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jouste/rtnlproxy/internal/proxytest"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

// fakeLinks is an in-memory link table.
type fakeLinks struct {
	links map[uint32]LinkDesc
}

func (f *fakeLinks) LinkByIndex(index uint32) (LinkDesc, error) {
	d, ok := f.links[index]
	if !ok {
		return LinkDesc{}, syscall.ENODEV
	}
	return d, nil
}

func TestProxyNewLink(t *testing.T) {
	tests := []struct {
		name    string
		caps    Capabilities
		m       *LinkMessage
		forward bool
		writes  []proxytest.Write
		calls   [][]string
	}{
		{
			name: "bond emulated",
			m: &LinkMessage{
				Header: Header{Type: TypeNewLink},
				Attrs:  []netlink.Attribute{nameAttr("bond0"), linkInfoAttr(t, "bond", nil)},
			},
			writes: []proxytest.Write{{Path: bondingMasters, Value: "+bond0"}},
		},
		{
			name: "bond native",
			caps: Capabilities{CreateBond: true},
			m: &LinkMessage{
				Header: Header{Type: TypeNewLink},
				Attrs:  []netlink.Attribute{nameAttr("bond0"), linkInfoAttr(t, "bond", nil)},
			},
			forward: true,
		},
		{
			name: "bridge emulated",
			m: &LinkMessage{
				Header: Header{Type: TypeNewLink},
				Attrs:  []netlink.Attribute{nameAttr("br0"), linkInfoAttr(t, "bridge", nil)},
			},
			calls: [][]string{{"brctl", "addbr", "br0"}},
		},
		{
			name: "bridge native",
			caps: Capabilities{CreateBridge: true},
			m: &LinkMessage{
				Header: Header{Type: TypeNewLink},
				Attrs:  []netlink.Attribute{nameAttr("br0"), linkInfoAttr(t, "bridge", nil)},
			},
			forward: true,
		},
		{
			name: "native kind untouched",
			m: &LinkMessage{
				Header: Header{Type: TypeNewLink},
				Attrs:  []netlink.Attribute{nameAttr("vlan0"), linkInfoAttr(t, "vlan", nil)},
			},
			forward: true,
		},
		{
			name: "no link-info untouched",
			m: &LinkMessage{
				Header: Header{Type: TypeNewLink},
				Attrs:  []netlink.Attribute{nameAttr("eth0")},
			},
			forward: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mfs := proxytest.NewFS(nil)
			ex := proxytest.NewExecer()
			p := New(&Config{Capabilities: tt.caps, FS: mfs, Exec: ex})

			b := mustEncode(t, tt.m)
			v, err := p.NewLink(b)
			if err != nil {
				t.Fatalf("failed to route message: %v", err)
			}

			if v.Forward != tt.forward {
				t.Fatalf("unexpected forward verdict: want %v, got %v", tt.forward, v.Forward)
			}
			if v.Forward {
				if diff := cmp.Diff(b, v.Data); diff != "" {
					t.Fatalf("unexpected forwarded bytes (-want +got):\n%s", diff)
				}
			}

			if diff := cmp.Diff(tt.writes, mfs.Writes); diff != "" {
				t.Fatalf("unexpected sysfs writes (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.calls, ex.Calls); diff != "" {
				t.Fatalf("unexpected tool calls (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProxyNewLinkTeam(t *testing.T) {
	m := &LinkMessage{
		Header: Header{Type: TypeNewLink},
		Attrs:  []netlink.Attribute{nameAttr("team0"), linkInfoAttr(t, "team", nil)},
	}

	t.Run("daemon spawned with generated config", func(t *testing.T) {
		ex := proxytest.NewExecer()
		p := New(&Config{FS: proxytest.NewFS(nil), Exec: ex})

		if _, err := p.NewLink(mustEncode(t, m)); err != nil {
			t.Fatalf("failed to route message: %v", err)
		}

		calls := ex.CallsFor("teamd")
		if len(calls) != 1 {
			t.Fatalf("expected one teamd invocation, got %d", len(calls))
		}

		args := calls[0]
		if diff := cmp.Diff([]string{"teamd", "-d", "-n", "-c"}, args[:4]); diff != "" {
			t.Fatalf("unexpected teamd arguments (-want +got):\n%s", diff)
		}

		var cfg struct {
			Device string `json:"device"`
			Runner struct {
				Name string `json:"name"`
			} `json:"runner"`
		}
		if err := json.Unmarshal([]byte(args[4]), &cfg); err != nil {
			t.Fatalf("failed to decode teamd config: %v", err)
		}
		if want, got := "team0", cfg.Device; want != got {
			t.Fatalf("unexpected device in teamd config: want %q, got %q", want, got)
		}
		if want, got := "activebackup", cfg.Runner.Name; want != got {
			t.Fatalf("unexpected runner in teamd config: want %q, got %q", want, got)
		}
	})

	t.Run("daemon not installed", func(t *testing.T) {
		ex := proxytest.NewExecer()
		ex.Script("teamd", proxytest.Result{Err: exec.ErrNotFound})
		p := New(&Config{FS: proxytest.NewFS(nil), Exec: ex})

		_, err := p.NewLink(mustEncode(t, m))
		var oe *OpError
		if !errors.As(err, &oe) || oe.Errno != syscall.EOPNOTSUPP {
			t.Fatalf("expected EOPNOTSUPP, got %v", err)
		}
	})

	t.Run("wrong command type", func(t *testing.T) {
		p := New(&Config{FS: proxytest.NewFS(nil), Exec: proxytest.NewExecer()})

		b := mustEncode(t, &LinkMessage{
			Header: Header{Type: TypeSetLink},
			Attrs:  []netlink.Attribute{nameAttr("team0"), linkInfoAttr(t, "team", nil)},
		})

		_, err := p.NewLink(b)
		var oe *OpError
		if !errors.As(err, &oe) || oe.Errno != syscall.EINVAL {
			t.Fatalf("expected EINVAL, got %v", err)
		}
	})

	t.Run("daemon failed", func(t *testing.T) {
		ex := proxytest.NewExecer()
		ex.Script("teamd", proxytest.Result{Code: 1})
		p := New(&Config{FS: proxytest.NewFS(nil), Exec: ex})

		_, err := p.NewLink(mustEncode(t, m))
		var oe *OpError
		if !errors.As(err, &oe) || oe.Errno != syscall.Errno(1) {
			t.Fatalf("expected exit code 1, got %v", err)
		}
	})
}

func TestProxyDelLink(t *testing.T) {
	links := &fakeLinks{links: map[uint32]LinkDesc{
		5: {Index: 5, Name: "bond0", Kind: KindBond},
		6: {Index: 6, Name: "br0", Kind: KindBridge},
		7: {Index: 7, Name: "eth0", Kind: KindOther},
	}}

	tests := []struct {
		name    string
		caps    Capabilities
		links   LinkQuerier
		index   int32
		forward bool
		writes  []proxytest.Write
		calls   [][]string
	}{
		{
			name:   "bond emulated",
			links:  links,
			index:  5,
			writes: []proxytest.Write{{Path: bondingMasters, Value: "-bond0"}},
			calls:  [][]string{{"ip", "link", "set", "dev", "bond0", "down"}},
		},
		{
			name:    "bond native",
			caps:    Capabilities{CreateBond: true},
			links:   links,
			index:   5,
			forward: true,
		},
		{
			name:  "bridge emulated",
			links: links,
			index: 6,
			calls: [][]string{
				{"ip", "link", "set", "dev", "br0", "down"},
				{"brctl", "delbr", "br0"},
			},
		},
		{
			name:    "physical link untouched",
			links:   links,
			index:   7,
			forward: true,
		},
		{
			name:    "unknown index untouched",
			links:   links,
			index:   99,
			forward: true,
		},
		{
			name:    "no link table untouched",
			index:   5,
			forward: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mfs := proxytest.NewFS(nil)
			ex := proxytest.NewExecer()
			p := New(&Config{Capabilities: tt.caps, FS: mfs, Exec: ex, Links: tt.links})

			b := mustEncode(t, &LinkMessage{
				Header: Header{Type: TypeDelLink},
				Index:  tt.index,
			})

			v, err := p.DelLink(b)
			if err != nil {
				t.Fatalf("failed to route message: %v", err)
			}

			if v.Forward != tt.forward {
				t.Fatalf("unexpected forward verdict: want %v, got %v", tt.forward, v.Forward)
			}
			if diff := cmp.Diff(tt.writes, mfs.Writes); diff != "" {
				t.Fatalf("unexpected sysfs writes (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.calls, ex.Calls); diff != "" {
				t.Fatalf("unexpected tool calls (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProxySetLinkParameters(t *testing.T) {
	msg := &LinkMessage{
		Header: Header{Type: TypeSetLink},
		Index:  3,
		Attrs: []netlink.Attribute{
			nameAttr("bond0"),
			linkInfoAttr(t, "bond", []netlink.Attribute{
				{Type: 1, Data: nlenc.Uint32Bytes(2)},
				{Type: 3, Data: nlenc.Uint32Bytes(50)},
			}),
		},
	}

	wantWrites := []proxytest.Write{
		{Path: "/sys/class/net/bond0/bonding/mode", Value: "2"},
		{Path: "/sys/class/net/bond0/bonding/miimon", Value: "50"},
	}

	t.Run("all attributes written", func(t *testing.T) {
		mfs := proxytest.NewFS(nil)
		p := New(&Config{FS: mfs, Exec: proxytest.NewExecer()})

		b := mustEncode(t, msg)
		v, err := p.SetLink(b)
		if err != nil {
			t.Fatalf("failed to route message: %v", err)
		}
		if !v.Forward {
			t.Fatal("expected the message to still be forwarded")
		}

		if diff := cmp.Diff(wantWrites, mfs.Writes); diff != "" {
			t.Fatalf("unexpected sysfs writes (-want +got):\n%s", diff)
		}
	})

	t.Run("first error code reported, all writes attempted", func(t *testing.T) {
		mfs := proxytest.NewFS(nil)
		mfs.FailWrite("/sys/class/net/bond0/bonding/mode", &fs.PathError{
			Op:   "write",
			Path: "/sys/class/net/bond0/bonding/mode",
			Err:  syscall.EACCES,
		})
		p := New(&Config{FS: mfs, Exec: proxytest.NewExecer()})

		_, err := p.SetLink(mustEncode(t, msg))

		var oe *OpError
		if !errors.As(err, &oe) || oe.Errno != syscall.EACCES {
			t.Fatalf("expected EACCES, got %v", err)
		}

		// The failed write must not short-circuit the remaining ones.
		if diff := cmp.Diff(wantWrites, mfs.Writes); diff != "" {
			t.Fatalf("unexpected sysfs writes (-want +got):\n%s", diff)
		}
	})
}

func TestProxySetLinkPort(t *testing.T) {
	links := &fakeLinks{links: map[uint32]LinkDesc{
		1: {Index: 1, Name: "eth0", Master: 4},
		4: {Index: 4, Name: "bond0", Kind: KindBond},
		5: {Index: 5, Name: "br0", Kind: KindBridge},
		6: {Index: 6, Name: "team0", Kind: KindTeam},
		7: {Index: 7, Name: "ovs0", Kind: KindOther},
	}}

	port := func(master uint32) []byte {
		return mustEncode(t, &LinkMessage{
			Header: Header{Type: TypeSetLink},
			Index:  1,
			Attrs:  []netlink.Attribute{nameAttr("eth0"), masterAttr(master)},
		})
	}

	tests := []struct {
		name    string
		caps    Capabilities
		links   LinkQuerier
		b       []byte
		forward bool
		writes  []proxytest.Write
		calls   [][]string
	}{
		{
			name:   "bond attach",
			links:  links,
			b:      port(4),
			writes: []proxytest.Write{{Path: "/sys/class/net/bond0/bonding/slaves", Value: "+eth0"}},
		},
		{
			name:   "bond detach via current master",
			links:  links,
			b:      port(0),
			writes: []proxytest.Write{{Path: "/sys/class/net/bond0/bonding/slaves", Value: "-eth0"}},
		},
		{
			name:  "bridge attach",
			links: links,
			b:     port(5),
			calls: [][]string{{"brctl", "addif", "br0", "eth0"}},
		},
		{
			name:    "bridge attach with native support",
			caps:    Capabilities{CreateBridge: true},
			links:   links,
			b:       port(5),
			forward: true,
		},
		{
			name:  "team attach",
			links: links,
			b:     port(6),
			calls: [][]string{{"teamdctl", "team0", "port", "add", "eth0"}},
		},
		{
			name:    "unrecognized master kind untouched",
			links:   links,
			b:       port(7),
			forward: true,
		},
		{
			name:    "no link table untouched",
			b:       port(4),
			forward: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mfs := proxytest.NewFS(nil)
			ex := proxytest.NewExecer()
			p := New(&Config{Capabilities: tt.caps, FS: mfs, Exec: ex, Links: tt.links})

			v, err := p.SetLink(tt.b)
			if err != nil {
				t.Fatalf("failed to route message: %v", err)
			}

			if v.Forward != tt.forward {
				t.Fatalf("unexpected forward verdict: want %v, got %v", tt.forward, v.Forward)
			}
			if diff := cmp.Diff(tt.writes, mfs.Writes); diff != "" {
				t.Fatalf("unexpected sysfs writes (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.calls, ex.Calls); diff != "" {
				t.Fatalf("unexpected tool calls (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProxyLinkInfoBatch(t *testing.T) {
	link := mustEncode(t, &LinkMessage{
		Header: Header{Type: TypeNewLink},
		Index:  2,
		Attrs:  []netlink.Attribute{nameAttr("eth0")},
	})

	// A 20-byte NLMSG_ERROR frame, as a kernel dump termination would
	// carry it.
	errFrame := make([]byte, 20)
	nlenc.PutUint32(errFrame[0:4], 20)
	nlenc.PutUint16(errFrame[4:6], 2)

	p := New(&Config{
		FS: proxytest.NewFS(map[string]string{
			"/sys/class/net/eth0/brport/bridge/ifindex": "7\n",
		}),
		Exec: proxytest.NewExecer(),
	})

	in := append(append([]byte{}, link...), errFrame...)
	v, err := p.LinkInfo(in)
	if err != nil {
		t.Fatalf("failed to enrich batch: %v", err)
	}

	frames, err := SplitFrames(v.Data)
	if err != nil {
		t.Fatalf("failed to split output batch: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 output frames, got %d", len(frames))
	}

	m, err := DecodeLink(frames[0])
	if err != nil {
		t.Fatalf("failed to decode enriched frame: %v", err)
	}
	if master, ok := m.MasterIndex(); !ok || master != 7 {
		t.Fatalf("unexpected master after enrichment: got %d, %v", master, ok)
	}

	// The error frame passes through byte for byte.
	if diff := cmp.Diff(errFrame, frames[1]); diff != "" {
		t.Fatalf("unexpected error frame bytes (-want +got):\n%s", diff)
	}
}
