package link

import (
	"context"
	"time"
)

func (l *Link) heartbeat(_ context.Context, _ time.Time) {
	if !l.AutoSend() {
		return
	}
	if err := l.transmit(); err != nil && err != ErrNotConnected {
		l.diagf("heartbeat: %v", err)
	}
}
