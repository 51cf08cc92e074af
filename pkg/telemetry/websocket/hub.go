// Package websocket serves live telemetry to browsers as JSON records.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/supercap.go/pkg/protocol"
	"github.com/robotalks/supercap.go/pkg/telemetry"
)

// clientBacklog is how many records a slow client may lag behind.
const clientBacklog = 16

// Hub broadcasts telemetry to all connected websocket clients. A client
// which does not keep up loses records instead of slowing the link.
type Hub struct {
	Version protocol.ProtocolVersion

	lock    sync.RWMutex
	clients map[*client]struct{}
	dropped uint64
}

type client struct {
	conn *websocket.Conn
	out  chan []byte
}

// NewHub creates a Hub.
func NewHub(v protocol.ProtocolVersion) *Hub {
	return &Hub{Version: v, clients: make(map[*client]struct{})}
}

// Handler returns the http.Handler accepting websocket clients.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serve)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

// Dropped returns how many records were not delivered to slow clients.
func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

func (h *Hub) serve(conn *websocket.Conn) {
	c := &client{conn: conn, out: make(chan []byte, clientBacklog)}
	h.lock.Lock()
	h.clients[c] = struct{}{}
	h.lock.Unlock()
	glog.V(1).Infof("websocket client %s connected", conn.Request().RemoteAddr)

	// the reader only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		var msg []byte
		for websocket.Message.Receive(conn, &msg) == nil {
		}
	}()

	defer func() {
		h.lock.Lock()
		delete(h.clients, c)
		h.lock.Unlock()
		conn.Close()
		glog.V(1).Infof("websocket client %s disconnected", conn.Request().RemoteAddr)
	}()
	for {
		select {
		case <-closed:
			return
		case msg := <-c.out:
			if err := websocket.Message.Send(conn, string(msg)); err != nil {
				return
			}
		}
	}
}

// Publish implements telemetry.Sink.
func (h *Hub) Publish(_ context.Context, t protocol.Telemetry) error {
	msg, err := json.Marshal(telemetry.NewRecord(t, h.Version))
	if err != nil {
		return err
	}
	h.lock.RLock()
	defer h.lock.RUnlock()
	for c := range h.clients {
		select {
		case c.out <- msg:
		default:
			atomic.AddUint64(&h.dropped, 1)
		}
	}
	return nil
}
