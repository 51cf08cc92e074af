package sinks

import (
	"context"
	"net"
	"net/http"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	fx "github.com/robotalks/supercap.go/pkg/framework"
	"github.com/robotalks/supercap.go/pkg/link"
	"github.com/robotalks/supercap.go/pkg/protocol"
	"github.com/robotalks/supercap.go/pkg/telemetry"
	"github.com/robotalks/supercap.go/pkg/telemetry/mqtt"
	"github.com/robotalks/supercap.go/pkg/telemetry/udp"
	"github.com/robotalks/supercap.go/pkg/telemetry/websocket"
)

// FeedPath is where the websocket feed is served.
const FeedPath = "/telemetry"

// Sinks is the set of configured sinks behind a single Mux.
type Sinks struct {
	Mux       *telemetry.Mux
	Latest    *telemetry.Latest
	Publisher *mqtt.Publisher
	Forwarder *udp.Forwarder
	Hub       *websocket.Hub

	httpAddr string
}

func newSinks(c *Config, v protocol.ProtocolVersion) (*Sinks, error) {
	s := &Sinks{
		Mux:      &telemetry.Mux{},
		Latest:   &telemetry.Latest{},
		httpAddr: c.HTTPAddr,
	}
	s.Mux.Add(s.Latest)
	if c.UDPAddr != "" {
		fwd, err := udp.NewForwarder(c.UDPAddr)
		if err != nil {
			return nil, err
		}
		s.Forwarder = fwd
		s.Mux.Add(fwd)
	}
	if c.MQTTURL != "" {
		pub, err := mqtt.NewPublisher(c.MQTTURL, v)
		if err != nil {
			s.Close()
			return nil, errors.Wrap(err, "mqtt publisher")
		}
		s.Publisher = pub
		s.Mux.Add(pub)
	}
	if c.HTTPAddr != "" {
		s.Hub = websocket.NewHub(v)
		s.Mux.Add(s.Hub)
	}
	return s, nil
}

// Attach makes the sinks the telemetry handler of l, and the MQTT
// publisher, if any, its state notifier.
func (s *Sinks) Attach(l *link.Link) {
	l.Telemetry = s.Mux
	if s.Publisher != nil {
		l.Notifier = s.Publisher
	}
}

// Name implements framework.Named.
func (s *Sinks) Name() string {
	return "sinks"
}

// Run connects the MQTT publisher and serves the websocket feed until
// ctx is canceled.
func (s *Sinks) Run(ctx context.Context) error {
	if s.Publisher != nil {
		if err := s.Publisher.Connect(); err != nil {
			return errors.Wrap(err, "mqtt connect")
		}
		glog.Infof("publishing telemetry to MQTT")
	}
	if s.Hub == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ln, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return errors.Wrap(err, "http listen")
	}
	mux := http.NewServeMux()
	mux.Handle(FeedPath, s.Hub.Handler())
	server := &http.Server{Handler: mux}
	glog.Infof("websocket feed on http://%s%s", ln.Addr(), FeedPath)
	return fx.RunWithContextCloser(ctx, server, func() error {
		return server.Serve(ln)
	})
}

// Close releases the sinks.
func (s *Sinks) Close() error {
	var errs fx.AggregatedError
	if s.Publisher != nil {
		errs.Add(s.Publisher.Close())
	}
	if s.Forwarder != nil {
		errs.Add(s.Forwarder.Close())
	}
	return errs.Aggregate()
}
