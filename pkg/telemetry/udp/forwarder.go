// Package udp forwards telemetry as key=value text lines over UDP, the
// format plotting tools such as VOFA+ and PlotJuggler read.
package udp

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/supercap.go/pkg/protocol"
)

// DefaultAddr is where the forwarder sends by default.
const DefaultAddr = "127.0.0.1:23456"

// FormatLine renders the telemetry line, terminated with CRLF.
// refereePower only appears for the new format.
func FormatLine(t protocol.Telemetry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "chassisPower=%.2f,", t.ChassisPower)
	if ref, ok := t.RefereePower(); ok {
		fmt.Fprintf(&sb, "refereePower=%.2f,", ref)
	}
	fmt.Fprintf(&sb, "chassisPowerLimit=%d,capEnergy=%d\r\n", t.ChassisPowerLimit, t.CapEnergy)
	return sb.String()
}

// Forwarder sends one datagram per telemetry.
type Forwarder struct {
	addr string
	lock sync.Mutex
	conn net.Conn
}

// NewForwarder creates a Forwarder sending to addr.
func NewForwarder(addr string) (*Forwarder, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "udp forwarder %s", addr)
	}
	glog.V(1).Infof("forwarding telemetry to udp://%s", addr)
	return &Forwarder{addr: addr, conn: conn}, nil
}

// Addr returns the destination address.
func (f *Forwarder) Addr() string {
	return f.addr
}

// Publish implements telemetry.Sink.
func (f *Forwarder) Publish(_ context.Context, t protocol.Telemetry) error {
	line := FormatLine(t)
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.conn == nil {
		return net.ErrClosed
	}
	_, err := f.conn.Write([]byte(line))
	return err
}

// Close implements io.Closer.
func (f *Forwarder) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.conn == nil {
		return nil
	}
	err := f.conn.Close()
	f.conn = nil
	return err
}
