// Package slcan provides a bus over serial-line CAN adapters speaking the
// Lawicel ASCII protocol, registered as "slcan://<device>".
//
//	slcan:///dev/ttyUSB0?baud=115200&bitrate=1000000
package slcan

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/robotalks/supercap.go/pkg/can"
)

func init() {
	can.Register(can.Driver{Scheme: "slcan", Open: openURL})
}

// Defaults of the serial link and the CAN bit rate.
const (
	DefaultBaudRate = 115200
	DefaultBitRate  = 1000000
)

// CommandPadLength is the payload length used for outgoing frames.
// Serial adapters are driven with full 8-byte frames.
const CommandPadLength = 8

// bit rate setup commands S0-S8.
var bitRates = []int{10000, 20000, 50000, 100000, 125000, 250000, 500000, 800000, 1000000}

// Port is the part of serial.Port the bus uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// OpenPort opens the serial device. It's a variable so tests can
// replace it.
var OpenPort = func(path string, baudRate int) (Port, error) {
	return serial.Open(path, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// Config configures the adapter.
type Config struct {
	Device   string
	BaudRate int
	BitRate  int
}

// Bus is an opened SLCAN adapter.
type Bus struct {
	device string
	port   Port

	parser      Parser
	pending     []can.Frame
	readTimeout time.Duration
	buf         [64]byte

	writeLock sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func openURL(_ context.Context, u *url.URL) (can.Bus, error) {
	conf := Config{Device: u.Path, BaudRate: DefaultBaudRate, BitRate: DefaultBitRate}
	if conf.Device == "" {
		conf.Device = u.Host
	}
	q := u.Query()
	if s := q.Get("baud"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, errors.Wrapf(err, "slcan: baud %q", s)
		}
		conf.BaudRate = n
	}
	if s := q.Get("bitrate"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, errors.Wrapf(err, "slcan: bitrate %q", s)
		}
		conf.BitRate = n
	}
	return Open(conf)
}

func bitRateCommand(bitRate int) (string, error) {
	for n, r := range bitRates {
		if r == bitRate {
			return "S" + strconv.Itoa(n) + "\r", nil
		}
	}
	return "", errors.Errorf("slcan: unsupported bit rate %d", bitRate)
}

// Open opens the device, sets the bit rate and opens the CAN channel.
func Open(conf Config) (*Bus, error) {
	if conf.Device == "" {
		return nil, errors.New("slcan: missing device")
	}
	if conf.BaudRate == 0 {
		conf.BaudRate = DefaultBaudRate
	}
	if conf.BitRate == 0 {
		conf.BitRate = DefaultBitRate
	}
	setup, err := bitRateCommand(conf.BitRate)
	if err != nil {
		return nil, err
	}
	port, err := OpenPort(conf.Device, conf.BaudRate)
	if err != nil {
		return nil, errors.Wrapf(err, "slcan: open %s", conf.Device)
	}
	// close a channel left open, then configure and open it.
	if _, err = io.WriteString(port, "\rC\r"+setup+"O\r"); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "slcan: setup %s", conf.Device)
	}
	glog.V(1).Infof("slcan %s opened at %d baud, bit rate %d", conf.Device, conf.BaudRate, conf.BitRate)
	return &Bus{device: conf.Device, port: port, closed: make(chan struct{})}, nil
}

// PadLength implements can.Padded.
func (b *Bus) PadLength() int {
	return CommandPadLength
}

// Send implements can.Bus.
func (b *Bus) Send(f can.Frame) error {
	line, err := AppendFrame(nil, f)
	if err != nil {
		return err
	}
	b.writeLock.Lock()
	defer b.writeLock.Unlock()
	select {
	case <-b.closed:
		return can.ErrClosed
	default:
	}
	if _, err = b.port.Write(line); err != nil {
		return errors.Wrapf(err, "slcan: write %s", b.device)
	}
	return nil
}

// Receive implements can.Bus. It must not be called concurrently.
// Adapter errors and invalid lines are logged and skipped.
func (b *Bus) Receive(timeout time.Duration) (can.Frame, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if len(b.pending) > 0 {
			f := b.pending[0]
			b.pending = b.pending[1:]
			return f, true, nil
		}
		select {
		case <-b.closed:
			return can.Frame{}, false, can.ErrClosed
		default:
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return can.Frame{}, false, nil
		}
		if remaining != b.readTimeout {
			if err := b.port.SetReadTimeout(remaining); err != nil {
				return can.Frame{}, false, errors.Wrapf(err, "slcan: set read timeout %s", b.device)
			}
			b.readTimeout = remaining
		}
		n, err := b.port.Read(b.buf[:])
		if err != nil {
			return can.Frame{}, false, errors.Wrapf(err, "slcan: read %s", b.device)
		}
		for _, c := range b.buf[:n] {
			pr := b.parser.Parse(c)
			if pr.Err != nil {
				glog.V(2).Infof("%s: %v", b.device, pr.Err)
			}
			if pr.Frame != nil {
				b.pending = append(b.pending, *pr.Frame)
			}
		}
	}
}

// Close closes the CAN channel and the serial device.
func (b *Bus) Close() (err error) {
	b.closeOnce.Do(func() {
		b.writeLock.Lock()
		close(b.closed)
		io.WriteString(b.port, "C\r")
		b.writeLock.Unlock()
		err = b.port.Close()
	})
	return
}
