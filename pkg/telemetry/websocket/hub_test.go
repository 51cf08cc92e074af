package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/robotalks/supercap.go/pkg/protocol"
	"github.com/robotalks/supercap.go/pkg/telemetry"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(protocol.ProtocolV1)
	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := websocket.Dial(wsURL, "", server.URL)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 5*time.Second, time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), protocol.NewTelemetry(protocol.FormatNew, 0x80, 12.5, 10, 80, 50)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg string
	require.NoError(t, websocket.Message.Receive(conn, &msg))
	var r telemetry.Record
	require.NoError(t, json.Unmarshal([]byte(msg), &r))
	assert.Equal(t, 12.5, r.ChassisPower)
	assert.True(t, r.PowerStageOn)
	require.NotNil(t, r.RefereePower)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 5*time.Second, time.Millisecond)
}

func TestHubDropsForSlowClient(t *testing.T) {
	hub := NewHub(protocol.ProtocolV1)
	c := &client{out: make(chan []byte, 1)}
	hub.clients[c] = struct{}{}
	for i := 0; i < 3; i++ {
		require.NoError(t, hub.Publish(context.Background(), protocol.Telemetry{}))
	}
	assert.Equal(t, uint64(2), hub.Dropped())
}
