package supercap

import (
	"fmt"
	"strconv"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/supercap.go/pkg/cli/sh"
	"github.com/robotalks/supercap.go/pkg/protocol"
	"github.com/robotalks/supercap.go/pkg/telemetry"
)

func parseOnOff(args []string) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("on or off expected")
	}
	switch args[0] {
	case "on", "1", "true", "enable":
		return true, nil
	case "off", "0", "false", "disable":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch %q, on or off expected", args[0])
}

func parseUint(args []string, bits int) (uint64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("a number expected")
	}
	return strconv.ParseUint(args[0], 0, bits)
}

func setFlag(set func(*protocol.Command, bool)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		on, err := parseOnOff(c.Args)
		if err != nil {
			c.Err(err)
			return
		}
		sh.ModifyCommand(c, func(cmd *protocol.Command) error {
			set(cmd, on)
			return nil
		})
	}
}

var (
	// OnCmd enables the DC-DC output.
	OnCmd = ishell.Cmd{
		Name: "on",
		Help: "enable DC-DC output",
		Func: func(c *ishell.Context) {
			sh.ModifyCommand(c, func(cmd *protocol.Command) error {
				cmd.EnableDCDC = true
				return nil
			})
		},
	}

	// OffCmd disables the DC-DC output.
	OffCmd = ishell.Cmd{
		Name: "off",
		Help: "disable DC-DC output",
		Func: func(c *ishell.Context) {
			sh.ModifyCommand(c, func(cmd *protocol.Command) error {
				cmd.EnableDCDC = false
				return nil
			})
		},
	}

	// RestartCmd requests a system restart with the next transmission.
	RestartCmd = ishell.Cmd{
		Name: "restart",
		Help: "request a board restart",
		Func: func(c *ishell.Context) {
			sh.ModifyCommand(c, func(cmd *protocol.Command) error {
				cmd.SystemRestart = true
				return nil
			})
		},
	}

	// ClearCmd requests clearing the board error with the next transmission.
	ClearCmd = ishell.Cmd{
		Name: "clear",
		Help: "request clearing the board error",
		Func: func(c *ishell.Context) {
			sh.ModifyCommand(c, func(cmd *protocol.Command) error {
				cmd.ClearError = true
				return nil
			})
		},
	}

	// FormatCmd selects the feedback format.
	FormatCmd = ishell.Cmd{
		Name: "format",
		Help: "new|old",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("new or old expected"))
				return
			}
			var useNew bool
			switch c.Args[0] {
			case protocol.FormatNew.String():
				useNew = true
			case protocol.FormatOld.String():
			default:
				c.Err(fmt.Errorf("invalid format %q", c.Args[0]))
				return
			}
			sh.ModifyCommand(c, func(cmd *protocol.Command) error {
				cmd.UseNewFeedback = useNew
				return nil
			})
		},
	}

	// ChargingLimitCmd toggles the active charging limit.
	ChargingLimitCmd = ishell.Cmd{
		Name: "charging",
		Help: "on|off, active charging limit",
		Func: setFlag(func(cmd *protocol.Command, on bool) {
			cmd.EnableActiveChargingLimit = on
		}),
	}

	// LimitCmd sets the referee power limit.
	LimitCmd = ishell.Cmd{
		Name: "limit",
		Help: "WATTS, referee power limit",
		Func: func(c *ishell.Context) {
			v, err := parseUint(c.Args, 16)
			if err != nil {
				c.Err(err)
				return
			}
			sh.ModifyCommand(c, func(cmd *protocol.Command) error {
				cmd.RefereePowerLimit = uint16(v)
				return nil
			})
		},
	}

	// BufferCmd sets the referee energy buffer.
	BufferCmd = ishell.Cmd{
		Name: "buffer",
		Help: "JOULES, referee energy buffer, 0-60",
		Func: func(c *ishell.Context) {
			v, err := parseUint(c.Args, 16)
			if err != nil {
				c.Err(err)
				return
			}
			sh.ModifyCommand(c, func(cmd *protocol.Command) error {
				cmd.RefereeEnergyBuffer = uint16(v)
				return nil
			})
		},
	}

	// RatioCmd sets the active charging limit ratio.
	RatioCmd = ishell.Cmd{
		Name: "ratio",
		Help: "0-255, active charging limit ratio",
		Func: func(c *ishell.Context) {
			v, err := parseUint(c.Args, 8)
			if err != nil {
				c.Err(err)
				return
			}
			sh.ModifyCommand(c, func(cmd *protocol.Command) error {
				cmd.ActiveChargingLimitRatio = uint8(v)
				return nil
			})
		},
	}

	// CommandCmd prints the pending command.
	CommandCmd = ishell.Cmd{
		Name:    "command",
		Aliases: []string{"cmd"},
		Help:    "",
		Func: func(c *ishell.Context) {
			sh.Print(c, sh.ShellFrom(c).Link.Command())
		},
	}

	// AutoSendCmd toggles periodic transmission.
	AutoSendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"auto"},
		Help:    "[on|off], periodic transmission",
		Func: func(c *ishell.Context) {
			l := sh.ShellFrom(c).Link
			if len(c.Args) > 0 {
				on, err := parseOnOff(c.Args)
				if err != nil {
					c.Err(err)
					return
				}
				l.SetAutoSend(on)
			}
			sh.Print(c, map[string]bool{"autoSend": l.AutoSend()})
		},
	}

	// OnceCmd transmits the pending command now.
	OnceCmd = ishell.Cmd{
		Name: "once",
		Help: "send the command now",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if err := sh.ShellFrom(c).Link.SendOnce(); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		}),
	}

	// StatusCmd prints the latest telemetry.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"s"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := sh.ShellFrom(c)
			t, ok := s.Latest.Get()
			if !ok {
				c.Err(fmt.Errorf("no telemetry received"))
				return
			}
			if s.OutputJSON {
				sh.Print(c, telemetry.NewRecord(t, s.Version))
				return
			}
			c.Println(sh.FormatTelemetry(t, s.Version))
		},
	}

	// WatchCmd toggles printing received telemetry.
	WatchCmd = ishell.Cmd{
		Name:    "watch",
		Aliases: []string{"w"},
		Help:    "on|off",
		Func: func(c *ishell.Context) {
			on, err := parseOnOff(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			sh.ShellFrom(c).SetWatch(on)
		},
	}

	// StatsCmd prints the link counters.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "",
		Func: func(c *ishell.Context) {
			s := sh.ShellFrom(c)
			if s.OutputJSON {
				sh.Print(c, s.Link.Stats())
				return
			}
			st := s.Link.Stats()
			c.Printf("state %s, sent %d (%d errors), received %d (%d malformed, %d ignored), read errors %d\n",
				s.Link.State(), st.Sent, st.SendErrors, st.Received, st.Malformed, st.Ignored, st.ReadErrors)
		},
	}
)

func init() {
	sh.AddCmds(
		&OnCmd,
		&OffCmd,
		&RestartCmd,
		&ClearCmd,
		&FormatCmd,
		&ChargingLimitCmd,
		&LimitCmd,
		&BufferCmd,
		&RatioCmd,
		&CommandCmd,
		&AutoSendCmd,
		&OnceCmd,
		&StatusCmd,
		&WatchCmd,
		&StatsCmd,
	)
}
