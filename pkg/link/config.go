package link

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/supercap.go/pkg/protocol"
)

// Config provides common options to set up a Link.
type Config struct {
	// BusURL selects the transport, e.g. socketcan://can0,
	// slcan:///dev/ttyUSB0?bitrate=1000000, mqtt://host:1883/cap/ or sim://.
	BusURL string
	// Protocol selects how status bytes are decoded, v1 or v2.
	Protocol string
	// AutoSend enables the heartbeat from the start.
	AutoSend bool

	HeartbeatInterval time.Duration
	PollTimeout       time.Duration
	ReadErrorBackoff  time.Duration

	// Command is the initial pending command.
	Command protocol.Command
}

var defaultConfig = Config{
	BusURL:            "socketcan://can0",
	Protocol:          protocol.DefaultProtocolVersion.String(),
	AutoSend:          true,
	HeartbeatInterval: DefaultHeartbeatInterval,
	PollTimeout:       DefaultPollTimeout,
	ReadErrorBackoff:  DefaultReadErrorBackoff,
	Command:           protocol.DefaultCommand(),
}

func init() {
	if val := os.Getenv("SUPERCAP_BUS_URL"); val != "" {
		defaultConfig.BusURL = val
	}
	if val := os.Getenv("SUPERCAP_PROTOCOL"); val != "" {
		defaultConfig.Protocol = val
	}
	if val := os.Getenv("SUPERCAP_AUTO_SEND"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			defaultConfig.AutoSend = b
		} else {
			glog.Warningf("ignore SUPERCAP_AUTO_SEND=%q: %v", val, err)
		}
	}
}

// uint16Flag adapts a uint16 field to flag.Value.
type uint16Flag struct{ p *uint16 }

func (f uint16Flag) String() string {
	if f.p == nil {
		return "0"
	}
	return strconv.Itoa(int(*f.p))
}

func (f uint16Flag) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 16)
	if err == nil {
		*f.p = uint16(v)
	}
	return err
}

type uint8Flag struct{ p *uint8 }

func (f uint8Flag) String() string {
	if f.p == nil {
		return "0"
	}
	return strconv.Itoa(int(*f.p))
}

func (f uint8Flag) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 8)
	if err == nil {
		*f.p = uint8(v)
	}
	return err
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	c := &defaultConfig
	flag.StringVar(&c.BusURL, "bus", c.BusURL, "CAN bus URL: socketcan://can0, slcan:///dev/ttyUSB0, mqtt://host:1883/prefix/ or sim://.")
	flag.StringVar(&c.Protocol, "protocol", c.Protocol, "Status byte protocol version: v1 or v2.")
	flag.BoolVar(&c.AutoSend, "auto-send", c.AutoSend, "Send the command periodically.")
	flag.DurationVar(&c.HeartbeatInterval, "heartbeat", c.HeartbeatInterval, "Command heartbeat interval.")
	flag.DurationVar(&c.PollTimeout, "poll-timeout", c.PollTimeout, "Receive poll timeout.")
	flag.DurationVar(&c.ReadErrorBackoff, "read-backoff", c.ReadErrorBackoff, "Wait time after a read error.")
	flag.BoolVar(&c.Command.EnableDCDC, "dcdc", c.Command.EnableDCDC, "Enable the DC-DC output.")
	flag.BoolVar(&c.Command.UseNewFeedback, "new-feedback", c.Command.UseNewFeedback, "Request the new feedback format.")
	flag.BoolVar(&c.Command.EnableActiveChargingLimit, "charging-limit", c.Command.EnableActiveChargingLimit, "Enable the active charging limit.")
	flag.Var(uint16Flag{&c.Command.RefereePowerLimit}, "power-limit", "Referee power limit (W).")
	flag.Var(uint16Flag{&c.Command.RefereeEnergyBuffer}, "energy-buffer", "Referee energy buffer (J), 0-60.")
	flag.Var(uint8Flag{&c.Command.ActiveChargingLimitRatio}, "charging-ratio", "Active charging limit ratio, 0-255.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// ProtocolVersion parses Protocol.
func (c *Config) ProtocolVersion() (protocol.ProtocolVersion, error) {
	return protocol.ParseProtocolVersion(c.Protocol)
}

// NewLink creates a disconnected Link using the config. The initial
// command is validated so a bad energy buffer is caught at startup.
func (c *Config) NewLink(opts ...Option) (*Link, error) {
	if _, err := c.ProtocolVersion(); err != nil {
		return nil, err
	}
	if err := c.Command.Validate(); err != nil {
		return nil, err
	}
	l := New(append([]Option{WithCommand(c.Command)}, opts...)...)
	if c.HeartbeatInterval > 0 {
		l.HeartbeatInterval = c.HeartbeatInterval
	}
	if c.PollTimeout > 0 {
		l.PollTimeout = c.PollTimeout
	}
	if c.ReadErrorBackoff > 0 {
		l.ReadErrorBackoff = c.ReadErrorBackoff
	}
	l.SetAutoSend(c.AutoSend)
	return l, nil
}
