package rtnlproxy

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Arguments used to create a debugger.
var debugArgs []string

func init() {
	// Is proxy debugging enabled?
	s := os.Getenv("RTNLPROXY_DEBUG")
	if s == "" {
		return
	}

	debugArgs = strings.Split(s, ",")
}

// A debugger is used to provide debugging information about proxy routing
// decisions.  A nil debugger discards everything.
type debugger struct {
	Log   *log.Logger
	Level int
}

// newDebugger creates a debugger by parsing key=value arguments, or
// returns nil when debugging is disabled.
func newDebugger(args []string) *debugger {
	if args == nil {
		return nil
	}

	d := &debugger{
		Log:   log.New(os.Stderr, "rtnlproxy: ", 0),
		Level: 1,
	}
	for _, a := range args {
		kv := strings.Split(a, "=")
		if len(kv) != 2 {
			continue
		}
		if kv[0] == "level" {
			level, err := strconv.Atoi(kv[1])
			if err != nil {
				continue
			}
			d.Level = level
		}
	}

	return d
}

// debugf prints debugging information at the specified level, if d.Level
// is high enough to print the message.
func (d *debugger) debugf(level int, format string, v ...interface{}) {
	if d == nil || d.Level < level {
		return
	}
	d.Log.Printf(format, v...)
}
