//go:build !linux

package socketcan

import (
	"context"
	"net/url"

	"github.com/pkg/errors"

	"github.com/robotalks/supercap.go/pkg/can"
)

func init() {
	can.Register(can.Driver{Scheme: "socketcan", Open: func(context.Context, *url.URL) (can.Bus, error) {
		return nil, errors.New("socketcan is only supported on linux")
	}})
}
