package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/homework-scanner/internal/entity"
	"github.com/joseph-ayodele/homework-scanner/internal/scan"
	"github.com/joseph-ayodele/homework-scanner/internal/store"
)

func startHub(t *testing.T, origins []string) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(origins, quietLogger())
	go hub.Run(ctx)
	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	return hub, ts, cancel
}

func dial(t *testing.T, ts *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), header)
}

func readMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubDeliversEventsAndNotifications(t *testing.T) {
	hub, ts, cancel := startHub(t, nil)

	conn, _, err := dial(t, ts, nil)
	require.NoError(t, err)
	assert.Equal(t, "connected", readMessage(t, conn).Type)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	st := store.NewMemory(nil, quietLogger())
	events, unsubscribe := st.Subscribe(16)
	fwdCtx, stopForward := context.WithCancel(context.Background())
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		hub.Forward(fwdCtx, events)
	}()

	_, err = st.AddItems(entity.FileItem{File: entity.File{Name: "a.png", Data: []byte("a"), MimeType: "image/png"}})
	require.NoError(t, err)
	msg := readMessage(t, conn)
	assert.Equal(t, string(store.EventItemAdded), msg.Type)

	hub.Notify(scan.Notification{Kind: scan.NotifyImproved, Message: "Solution improved"})
	msg = readMessage(t, conn)
	assert.Equal(t, "notification", msg.Type)
	assert.NotZero(t, msg.Timestamp)

	stopForward()
	<-forwarded
	unsubscribe()

	// Stopping the hub sends a close frame to every client.
	cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	_ = conn.Close()
	hub.Wait()
	ts.Close()
	assert.Zero(t, hub.Clients())
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub, ts, cancel := startHub(t, []string{"http://localhost:5173"})
	defer func() {
		cancel()
		hub.Wait()
		ts.Close()
	}()

	conn, resp, err := dial(t, ts, http.Header{"Origin": {"http://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err = dial(t, ts, http.Header{"Origin": {"http://localhost:5173"}})
	require.NoError(t, err)
	assert.Equal(t, "connected", readMessage(t, conn).Type)
	_ = conn.Close()
}

func TestHubDropsSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, quietLogger())
	go hub.Run(ctx)
	defer func() {
		cancel()
		hub.Wait()
	}()

	// An unbuffered send channel with no writer behind it is always full.
	slow := &client{id: "slow", send: make(chan ServerMessage), hub: hub}
	hub.register <- slow
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, time.Millisecond)

	hub.Publish("solution.delta", "chunk")
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-slow.send
	assert.False(t, open)
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, quietLogger())
	go hub.Run(ctx)
	cancel()
	hub.Wait()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 2000 {
			hub.Publish("item.updated", nil)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a stopped hub")
	}
}
