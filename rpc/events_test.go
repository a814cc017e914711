package rpc

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvent(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg EventMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubStreamsProcessEvents(t *testing.T) {
	cpm, h := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(ctx, cpm)
	go hub.Run()
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the current state arrives first
	msg := readEvent(t, conn)
	assert.Equal(t, EventDetached, msg.Event)
	assert.Nil(t, msg.Metadata)

	p := launch(h)
	require.NoError(t, cpm.ForceOpenCheatProcess())
	msg = readEvent(t, conn)
	assert.Equal(t, EventAttached, msg.Event)
	require.NotNil(t, msg.Metadata)
	assert.Equal(t, p.PID(), msg.Metadata.ProcessID)
	assert.Equal(t, uint64(testProgramID), msg.Metadata.ProgramID)

	cpm.ForceCloseCheatProcess()
	msg = readEvent(t, conn)
	assert.Equal(t, EventDetached, msg.Event)
	require.NotNil(t, msg.Metadata)
	assert.Equal(t, p.PID(), msg.Metadata.ProcessID)

	hub.Broadcast([]byte(`{"event":"custom"}`))
	msg = readEvent(t, conn)
	assert.Equal(t, "custom", msg.Event)
}

func TestHubSnapshotWhenAttached(t *testing.T) {
	cpm, h := newTestManager(t)
	launch(h)
	require.NoError(t, cpm.ForceOpenCheatProcess())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(ctx, cpm)
	go hub.Run()

	srv := httptest.NewServer(hub)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readEvent(t, conn)
	assert.Equal(t, EventAttached, msg.Event)
	require.NotNil(t, msg.Metadata)
	assert.Equal(t, uint64(testProgramID), msg.Metadata.ProgramID)
}
