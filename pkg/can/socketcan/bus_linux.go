//go:build linux

package socketcan

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/robotalks/supercap.go/pkg/can"
)

func init() {
	can.Register(can.Driver{Scheme: "socketcan", Open: openURL})
}

// Bus is a raw CAN socket bound to one interface.
type Bus struct {
	ifname string
	fd     int
	closed int32

	closeOnce sync.Once
	buf       [frameSize]byte
}

// Open binds a raw CAN socket to the interface. Frames with ids in
// filters are the only ones delivered, all frames when filters is empty.
func Open(ifname string, filters ...uint32) (*Bus, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, errors.Wrap(err, "create CAN socket")
	}
	ifreq, err := unix.NewIfreq(ifname)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "create ifreq")
	}
	if err = unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifreq); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "get interface index of %s", ifname)
	}
	if err = unix.Bind(fd, &unix.SockaddrCAN{Ifindex: int(ifreq.Uint32())}); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "bind %s", ifname)
	}
	if len(filters) > 0 {
		canFilters := make([]unix.CanFilter, 0, len(filters))
		for _, id := range filters {
			canFilters = append(canFilters, unix.CanFilter{Id: id, Mask: maskSFF | flagEFF | flagRTR})
		}
		if err = unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, canFilters); err != nil {
			unix.Close(fd)
			return nil, errors.Wrap(err, "set CAN filter")
		}
	}
	glog.V(1).Infof("socketcan %s opened", ifname)
	return &Bus{ifname: ifname, fd: fd}, nil
}

// openURL accepts socketcan://can0?filter=0x51,0x52.
func openURL(_ context.Context, u *url.URL) (can.Bus, error) {
	ifname := u.Host
	if ifname == "" {
		ifname = strings.TrimPrefix(u.Path, "/")
	}
	if ifname == "" {
		return nil, errors.New("socketcan: missing interface name")
	}
	var filters []uint32
	if s := u.Query().Get("filter"); s != "" {
		for _, item := range strings.Split(s, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(item), 0, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "socketcan: filter %q", item)
			}
			filters = append(filters, uint32(id))
		}
	}
	return Open(ifname, filters...)
}

// PadLength implements can.Padded.
func (b *Bus) PadLength() int {
	return CommandPadLength
}

// Send implements can.Bus.
func (b *Bus) Send(f can.Frame) error {
	if atomic.LoadInt32(&b.closed) != 0 {
		return can.ErrClosed
	}
	buf, err := marshalFrame(f)
	if err != nil {
		return err
	}
	if _, err = unix.Write(b.fd, buf[:]); err != nil {
		return errors.Wrapf(err, "write %s", b.ifname)
	}
	return nil
}

// Receive implements can.Bus. It must not be called concurrently.
func (b *Bus) Receive(timeout time.Duration) (can.Frame, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if atomic.LoadInt32(&b.closed) != 0 {
			return can.Frame{}, false, can.ErrClosed
		}
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		fds := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(remaining/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return can.Frame{}, false, errors.Wrapf(err, "poll %s", b.ifname)
		}
		if n == 0 {
			return can.Frame{}, false, nil
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return can.Frame{}, false, errors.Errorf("poll %s: revents 0x%x", b.ifname, fds[0].Revents)
		}
		nr, err := unix.Read(b.fd, b.buf[:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return can.Frame{}, false, errors.Wrapf(err, "read %s", b.ifname)
		}
		f, err := unmarshalFrame(b.buf[:nr])
		if err == errNotData {
			glog.V(4).Infof("socketcan %s: skip non-data frame", b.ifname)
			if time.Now().After(deadline) {
				return can.Frame{}, false, nil
			}
			continue
		}
		if err != nil {
			return can.Frame{}, false, err
		}
		return f, true, nil
	}
}

// Close implements can.Bus.
func (b *Bus) Close() (err error) {
	b.closeOnce.Do(func() {
		atomic.StoreInt32(&b.closed, 1)
		err = unix.Close(b.fd)
	})
	return
}
