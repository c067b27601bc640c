package rtnlproxy

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sync/errgroup"
)

// errWaitTimeout reports that a legacy operation completed but the kernel
// never announced it within the configured window.
var errWaitTimeout = errors.New("timed out waiting for kernel notification")

// An EventSource is a private, already-subscribed notification channel for
// asynchronous link-change events.  Close must unblock a concurrent
// Receive.
type EventSource interface {
	Receive() ([]netlink.Message, error)
	Close() error
}

// An EventDialer opens a fresh EventSource for one synchronized operation.
// The awaited message type is passed so the source may filter at the
// socket where supported.
type EventDialer func(typ MessageType) (EventSource, error)

// synced makes a synchronous legacy executor observably equivalent to a
// native netlink round-trip.  It opens a private notification channel,
// starts a watcher for the event matching the operation's message type and
// interface name, runs fn, and:
//
//   - on success, blocks until the watcher has observed the matching
//     notification and terminated, so no notification for this operation
//     is still in flight when synced returns;
//   - on failure, cancels the watcher, joins it, and propagates fn's
//     error.
//
// The notification channel is closed on every exit path.
func (p *Proxy) synced(typ MessageType, ifname string, fn func() error) error {
	if p.dialEvents == nil {
		// No notification channel available; the operation degrades to
		// fire-and-forget.
		return fn()
	}

	es, err := p.dialEvents(typ)
	if err != nil {
		p.d.debugf(1, "sync: no notification channel, running unsynchronized: %v", err)
		return fn()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		for {
			msgs, err := es.Receive()
			if err != nil {
				// Unblocked by the cancellation path.
				return nil
			}
			for _, m := range msgs {
				if MessageType(m.Header.Type) == typ && eventName(m.Data) == ifname {
					p.d.debugf(2, "sync: observed %d for %q", typ, ifname)
					return nil
				}
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	})

	if err := fn(); err != nil {
		// Terminate the watcher and join it before propagating.
		cancel()
		es.Close()
		_ = g.Wait()
		return err
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var timeout <-chan time.Time
	if p.waitTimeout > 0 {
		t := time.NewTimer(p.waitTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-done:
		es.Close()
		return nil
	case <-timeout:
		cancel()
		es.Close()
		<-done
		return &OpError{Op: "sync", Errno: syscall.ETIMEDOUT, Err: errWaitTimeout}
	}
}

// eventName extracts the IFLA_IFNAME attribute from a notification
// payload, or returns an empty string if the payload carries none.
func eventName(data []byte) string {
	if len(data) < ifInfoLen {
		return ""
	}

	attrs, err := netlink.UnmarshalAttributes(data[ifInfoLen:])
	if err != nil {
		return ""
	}

	for _, a := range attrs {
		if a.Type&nlaTypeMask == iflaIfname {
			return nlenc.String(a.Data)
		}
	}
	return ""
}
