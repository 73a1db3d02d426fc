package websocket

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/canvasbridge/bridge"
	"github.com/glimte/canvasbridge/contracts"
)

func listen(t *testing.T) (*Listener, <-chan bridge.Event) {
	t.Helper()
	l := NewListener()
	events, err := l.Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, events
}

func dial(t *testing.T, l *Listener, path string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+l.Addr()+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func nextEvent(t *testing.T, events <-chan bridge.Event) bridge.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return bridge.Event{}
	}
}

func TestListener(t *testing.T) {
	t.Run("publishes connect, frame and disconnect", func(t *testing.T) {
		l, events := listen(t)
		ws := dial(t, l, "/any/path")

		ev := nextEvent(t, events)
		require.Equal(t, bridge.EventConnected, ev.Kind)
		peer := ev.Peer
		assert.True(t, peer.IsOpen())
		assert.Regexp(t, `^ws-[0-9a-f]{8}$`, peer.ID())

		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"id":"a","success":true}`)))
		ev = nextEvent(t, events)
		assert.Equal(t, bridge.EventFrame, ev.Kind)
		assert.Equal(t, peer, ev.Peer)
		assert.JSONEq(t, `{"id":"a","success":true}`, string(ev.Data))

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		require.NoError(t, ws.WriteMessage(websocket.CloseMessage, msg))
		ev = nextEvent(t, events)
		assert.Equal(t, bridge.EventDisconnected, ev.Kind)
		assert.NoError(t, ev.Err)
		assert.False(t, peer.IsOpen())
	})

	t.Run("peer Send reaches the client", func(t *testing.T) {
		l, events := listen(t)
		ws := dial(t, l, "/")
		peer := nextEvent(t, events).Peer

		require.NoError(t, peer.Send([]byte(`{"id":"cmd_1_abc","type":"GET_SELECTION","timestamp":1,"params":{}}`)))

		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		messageType, data, err := ws.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, messageType)
		assert.Contains(t, string(data), `"GET_SELECTION"`)
	})

	t.Run("closing a peer disconnects cleanly", func(t *testing.T) {
		l, events := listen(t)
		ws := dial(t, l, "/")
		peer := nextEvent(t, events).Peer

		require.NoError(t, peer.Close())
		assert.NoError(t, peer.Close())
		assert.False(t, peer.IsOpen())
		assert.ErrorIs(t, peer.Send([]byte("{}")), ErrConnectionClosed)

		ev := nextEvent(t, events)
		assert.Equal(t, bridge.EventDisconnected, ev.Kind)
		assert.NoError(t, ev.Err)

		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := ws.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	})

	t.Run("bind failure is fatal", func(t *testing.T) {
		occupied, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer occupied.Close()

		l := NewListener()
		_, err = l.Listen(context.Background(), occupied.Addr().String())
		var fatal *contracts.TransportFatalError
		require.ErrorAs(t, err, &fatal)
		assert.Equal(t, occupied.Addr().String(), fatal.Addr)
		assert.Empty(t, l.Addr())
	})

	t.Run("Listen twice fails", func(t *testing.T) {
		l, _ := listen(t)
		_, err := l.Listen(context.Background(), "127.0.0.1:0")
		assert.Error(t, err)
	})

	t.Run("Close closes connections and the events channel", func(t *testing.T) {
		l := NewListener()
		events, err := l.Listen(context.Background(), "127.0.0.1:0")
		require.NoError(t, err)
		dial(t, l, "/")
		peer := nextEvent(t, events).Peer

		require.NoError(t, l.Close())
		assert.NoError(t, l.Close())
		assert.False(t, peer.IsOpen())
		assert.Empty(t, l.Addr())

		deadline := time.After(2 * time.Second)
		for {
			select {
			case _, ok := <-events:
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("events channel not closed")
			}
		}
	})

	t.Run("listens again after Close", func(t *testing.T) {
		l := NewListener()
		_, err := l.Listen(context.Background(), "127.0.0.1:0")
		require.NoError(t, err)
		require.NoError(t, l.Close())

		events, err := l.Listen(context.Background(), "127.0.0.1:0")
		require.NoError(t, err)
		defer l.Close()

		dial(t, l, "/")
		assert.Equal(t, bridge.EventConnected, nextEvent(t, events).Kind)
	})
}

func TestListenerWithBridge(t *testing.T) {
	b, err := bridge.New(NewListener(), bridge.WithCommandTimeout(2*time.Second))
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background(), "127.0.0.1:0"))
	defer b.Stop()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+b.Addr()+"/", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, b.IsConnected, 2*time.Second, 5*time.Millisecond)

	// plugin side: answer every command with a node id
	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			cmd := contracts.Command{}
			if err := json.Unmarshal(data, &cmd); err != nil {
				return
			}
			resp := contracts.Response{ID: cmd.ID, Success: true, Result: []byte(`{"nodeId":"1:23"}`)}
			out, _ := resp.Encode()
			_ = ws.WriteMessage(websocket.TextMessage, out)
		}
	}()

	result, err := bridge.SendTyped[contracts.NodeResult](context.Background(), b, contracts.CreateFrame,
		contracts.CreateFrameParams{Width: 100, Height: 50})
	require.NoError(t, err)
	assert.Equal(t, "1:23", result.NodeID)
	assert.Equal(t, 0, b.PendingCount())
}
