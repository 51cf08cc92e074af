package link

import (
	"sync"

	"github.com/robotalks/supercap.go/pkg/protocol"
)

// commandCell holds the pending command. req counts one-shot requests,
// so a transmission can tell whether a new restart or clear-error was
// asked for while it was on the wire. Edits to other fields leave it
// alone.
type commandCell struct {
	lock sync.Mutex
	cmd  protocol.Command
	req  uint64
}

func (c *commandCell) load() (protocol.Command, uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.cmd, c.req
}

// store replaces the command. A command carrying a one-shot flag counts
// as a new request.
func (c *commandCell) store(cmd protocol.Command) {
	c.lock.Lock()
	c.cmd = cmd
	if cmd.HasOneShot() {
		c.req++
	}
	c.lock.Unlock()
}

// clearOneShot clears the edge-triggered requests once they were sent,
// unless a new one was requested since req was read.
func (c *commandCell) clearOneShot(req uint64) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.req != req {
		return false
	}
	c.cmd = c.cmd.WithoutOneShot()
	return true
}

// modify applies fn to a copy of the pending command and stores the
// result if fn succeeds. fn sees the command without pending one-shot
// flags: the flags it sets are new requests, and pending ones survive
// until they are sent.
func (c *commandCell) modify(fn func(*protocol.Command) error) (protocol.Command, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	cmd := c.cmd.WithoutOneShot()
	if err := fn(&cmd); err != nil {
		return c.cmd, err
	}
	if cmd.HasOneShot() {
		c.req++
	}
	cmd.SystemRestart = cmd.SystemRestart || c.cmd.SystemRestart
	cmd.ClearError = cmd.ClearError || c.cmd.ClearError
	c.cmd = cmd
	return cmd, nil
}
