// Package proxytest provides in-memory collaborator implementations for
// testing the rtnlproxy package: a fake sysfs tree, a recording command
// runner, and a scripted notification channel.
package proxytest

import (
	"io/fs"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

// A Write is one recorded sysfs write.
type Write struct {
	Path  string
	Value string
}

// FS is an in-memory sysfs tree.  Reads resolve against the seeded file
// map; writes are recorded in order and can be scripted to fail per path.
type FS struct {
	mu       sync.Mutex
	files    map[string]string
	writeErr map[string]error

	// Writes holds every attempted write in order, including ones that
	// were scripted to fail.
	Writes []Write
}

// NewFS creates a fake sysfs seeded with the given path to contents map.
func NewFS(files map[string]string) *FS {
	if files == nil {
		files = make(map[string]string)
	}
	return &FS{
		files:    files,
		writeErr: make(map[string]error),
	}
}

// FailWrite scripts an error for every write to path.
func (f *FS) FailWrite(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr[path] = err
}

func (f *FS) ReadFile(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: syscall.ENOENT}
	}
	return []byte(v), nil
}

func (f *FS) WriteFile(path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Writes = append(f.Writes, Write{Path: path, Value: string(data)})
	if err, ok := f.writeErr[path]; ok {
		return err
	}

	f.files[path] = string(data)
	return nil
}

// ReadDir lists the immediate children of path, derived from the seeded
// file paths.
func (f *FS) ReadDir(path string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !strings.HasSuffix(path, "/") {
		path += "/"
	}

	seen := make(map[string]struct{})
	for p := range f.files {
		rest, ok := strings.CutPrefix(p, path)
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		seen[name] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, &fs.PathError{Op: "open", Path: path, Err: syscall.ENOENT}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// A Result scripts the outcome of one external tool invocation.
type Result struct {
	Code int
	Err  error
}

// Execer records external tool invocations and returns scripted results,
// keyed by tool name.  Tools without a scripted result succeed.
type Execer struct {
	mu      sync.Mutex
	results map[string]Result

	// Calls holds every invocation in order, command name first.
	Calls [][]string
}

// NewExecer creates a recording command runner.
func NewExecer() *Execer {
	return &Execer{results: make(map[string]Result)}
}

// Script sets the result returned for every invocation of the named tool.
func (e *Execer) Script(name string, res Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[name] = res
}

func (e *Execer) Run(name string, args ...string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Calls = append(e.Calls, append([]string{name}, args...))
	res := e.results[name]
	return res.Code, res.Err
}

// CallsFor returns the recorded invocations of one tool.
func (e *Execer) CallsFor(name string) [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out [][]string
	for _, c := range e.Calls {
		if c[0] == name {
			out = append(out, c)
		}
	}
	return out
}

// EventSource is a scripted notification channel.  Emit feeds notification
// batches to a blocked Receive; Close unblocks Receive permanently.
type EventSource struct {
	msgs   chan []netlink.Message
	closed chan struct{}
	once   sync.Once
}

// NewEventSource creates a scripted notification channel.
func NewEventSource() *EventSource {
	return &EventSource{
		msgs:   make(chan []netlink.Message, 16),
		closed: make(chan struct{}),
	}
}

// Emit queues one notification batch.
func (s *EventSource) Emit(msgs ...netlink.Message) {
	s.msgs <- msgs
}

func (s *EventSource) Receive() ([]netlink.Message, error) {
	select {
	case msgs := <-s.msgs:
		return msgs, nil
	case <-s.closed:
		return nil, syscall.EBADF
	}
}

func (s *EventSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Closed reports whether Close has been called.
func (s *EventSource) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// LinkEvent builds a link notification message as the watcher receives it
// from a notification channel: an ifinfmsg fixed part followed by an
// interface name attribute.
func LinkEvent(typ uint16, ifname string) netlink.Message {
	ab, err := netlink.MarshalAttributes([]netlink.Attribute{
		{Type: 3, Data: nlenc.Bytes(ifname)},
	})
	if err != nil {
		panic(err)
	}

	data := make([]byte, 16)
	data = append(data, ab...)
	return netlink.Message{
		Header: netlink.Header{Type: netlink.HeaderType(typ)},
		Data:   data,
	}
}
