package rtnlproxy

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// errToolMissing distinguishes a legacy control executable that is not
// installed on the system from one that ran and failed.  Optional helper
// invocations absorb it so the proxy degrades gracefully.
var errToolMissing = errors.New("control executable not found")

// osExec is the Execer used in production, backed by os/exec.  Tool output
// is discarded; only the exit code matters.
type osExec struct{}

func (osExec) Run(name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	err := cmd.Run()
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

// runTool invokes an external control tool and folds its result into the
// package error taxonomy: a missing executable becomes errToolMissing, and
// a non-zero exit code becomes an OpError carrying that code.
func (p *Proxy) runTool(name string, args ...string) error {
	code, err := p.exec.Run(name, args...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || os.IsNotExist(err) || errnoOf(err) == syscall.ENOENT {
			p.d.debugf(1, "%s: not installed, skipping", name)
			return errToolMissing
		}
		return err
	}

	if code != 0 {
		return &OpError{
			Op:    name,
			Errno: syscall.Errno(code),
			Err:   fmt.Errorf("%s exited with code %d", name, code),
		}
	}
	return nil
}

// absorbMissing drops the missing-tool failure for optional helper
// invocations.
func absorbMissing(err error) error {
	if errors.Is(err, errToolMissing) {
		return nil
	}
	return err
}

// linkDown administratively downs an interface before a legacy delete.
func (p *Proxy) linkDown(name string) error {
	return absorbMissing(p.runTool("ip", "link", "set", "dev", name, "down"))
}
