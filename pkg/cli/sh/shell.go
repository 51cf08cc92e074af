package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/supercap.go/pkg/link"
	"github.com/robotalks/supercap.go/pkg/protocol"
	"github.com/robotalks/supercap.go/pkg/telemetry"
)

// Shell provides ishell backed interactive shell controlling a Link.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool

	Shell   *ishell.Shell
	Config  *link.Config
	Link    *link.Link
	Latest  *telemetry.Latest
	Version protocol.ProtocolVersion

	watching int32
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell with a disconnected link.
func New(conf *link.Config, opts ...link.Option) (*Shell, error) {
	v, err := conf.ProtocolVersion()
	if err != nil {
		return nil, err
	}
	l, err := conf.NewLink(opts...)
	if err != nil {
		return nil, err
	}
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:   ishell.New(),
		Config:  conf,
		Link:    l,
		Latest:  &telemetry.Latest{},
		Version: v,
	}
	mux := &telemetry.Mux{}
	mux.Add(s.Latest, telemetry.PublishFunc(s.watch))
	l.Telemetry = mux
	l.Diagnostics = link.HandleDiagnosticFunc(func(d link.Diagnostic) {
		s.Shell.Printf("! %s\n", d)
	})
	l.Notifier = link.StateChangedFunc(s.stateChanged)

	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s, nil
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Link.State() != link.Connected {
			c.Err(link.ErrNotConnected)
			return
		}
		fn(c)
	}
}

// Print prints v as JSON if OutputJSON is set, or with fmt otherwise.
func Print(c *ishell.Context, v interface{}) {
	if ShellFrom(c).OutputJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(v)
}

// ModifyCommand edits the pending command and prints the result.
func ModifyCommand(c *ishell.Context, fn func(*protocol.Command) error) {
	cmd, err := ShellFrom(c).Link.ModifyCommand(func(cmd *protocol.Command) error {
		if err := fn(cmd); err != nil {
			return err
		}
		return cmd.Validate()
	})
	if err != nil {
		c.Err(err)
		return
	}
	Print(c, cmd)
}

// SetWatch toggles printing every received telemetry.
func (s *Shell) SetWatch(on bool) {
	var v int32
	if on {
		v = 1
	}
	atomic.StoreInt32(&s.watching, v)
}

func (s *Shell) watch(_ context.Context, t protocol.Telemetry) error {
	if atomic.LoadInt32(&s.watching) == 0 {
		return nil
	}
	rec := telemetry.NewRecord(t, s.Version)
	if s.OutputJSON {
		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		s.Shell.Println(string(out))
		return nil
	}
	s.Shell.Println(FormatTelemetry(t, s.Version))
	return nil
}

func (s *Shell) stateChanged(st link.State) {
	switch st {
	case link.Connected:
		s.Shell.SetPrompt(fmt.Sprintf("[%s] > ", s.Link.BusURL()))
	case link.Disconnected:
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// FormatTelemetry renders telemetry on a single line.
func FormatTelemetry(t protocol.Telemetry, v protocol.ProtocolVersion) string {
	line := fmt.Sprintf("[%s] chassis %.2fW", t.Format, t.ChassisPower)
	if ref, ok := t.RefereePower(); ok {
		line += fmt.Sprintf(" referee %.2fW", ref)
	}
	return line + fmt.Sprintf(" limit %dW energy %d, %s",
		t.ChassisPowerLimit, t.CapEnergy, t.DecodeStatus(v))
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Connect connects the link to busURL, or the configured bus if empty.
func (s *Shell) Connect(busURL string) error {
	if busURL == "" {
		busURL = s.Config.BusURL
	}
	return s.Link.Connect(context.Background(), busURL)
}

// Disconnect disconnects the link.
func (s *Shell) Disconnect() error {
	return s.Link.Disconnect()
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect && s.Config.BusURL != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.BusURL)
		}
		if err := s.Connect(""); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.BusURL, err)
		}
	}
	defer func() {
		if s.Link.State() == link.Connected {
			s.Disconnect()
		}
	}()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// ConnectCmd connects the board.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[BUS_URL]",
		Func: func(c *ishell.Context) {
			var busURL string
			if len(c.Args) > 0 {
				busURL = c.Args[0]
			}
			if err := ShellFrom(c).Connect(busURL); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects the board.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			if err := ShellFrom(c).Disconnect(); err != nil {
				c.Err(err)
			}
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	s, err := New(link.Default())
	if err != nil {
		log.Fatalln(err)
	}
	s.WithAutoConnect(true).Run(flag.Args()...)
}
