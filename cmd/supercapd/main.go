package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/supercap.go/pkg/framework"
	"github.com/robotalks/supercap.go/pkg/link"
	"github.com/robotalks/supercap.go/pkg/telemetry/sinks"

	_ "github.com/robotalks/supercap.go/pkg/can/all"
)

var retryInterval = 2 * time.Second

func init() {
	link.SetupFlags()
	sinks.SetupFlags()
	flag.DurationVar(&retryInterval, "retry", retryInterval, "Wait time before connecting again after a failure.")
}

// keepConnected connects the link, retrying until it succeeds, and
// disconnects when ctx is canceled.
func keepConnected(l *link.Link, busURL string) fx.Runnable {
	return fx.NamedRun("link", fx.RunFunc(func(ctx context.Context) error {
		for {
			err := l.Connect(ctx, busURL)
			if err == nil {
				break
			}
			glog.Warningf("connect %s: %v, retry in %s", busURL, err, retryInterval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryInterval):
			}
		}
		<-ctx.Done()
		l.Disconnect()
		return ctx.Err()
	}))
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := link.Default()
	v, err := conf.ProtocolVersion()
	if err != nil {
		glog.Exit(err)
	}
	l, err := conf.NewLink()
	if err != nil {
		glog.Exit(err)
	}
	s, err := sinks.Default().NewSinks(v)
	if err != nil {
		glog.Exit(err)
	}
	defer s.Close()
	s.Attach(l)

	runner := fx.NewRunner().HandleSignals()
	// the link is useless without its sinks.
	runner.GoEssential(s).Go(keepConnected(l, conf.BusURL))
	if err := runner.Wait(); err != nil {
		glog.Error(err)
	}
	st := l.Stats()
	glog.Infof("sent %d, received %d, malformed %d, read errors %d, sink failures %d",
		st.Sent, st.Received, st.Malformed, st.ReadErrors, s.Mux.Failures())
}
