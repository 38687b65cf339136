package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daytonaio/sdk-go/internal/backoff"
)

type fakeServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	conns       []*websocket.Conn
	connections int32
	closed      int32
	reject      bool
	token       string
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/socket.io/" || r.URL.Query().Get("EIO") != "4" {
		http.NotFound(w, r)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	atomic.AddInt32(&f.connections, 1)
	conn.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"abc","pingInterval":25000,"pingTimeout":20000}`))

	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	var auth struct {
		Token string `json:"token"`
	}
	json.Unmarshal(data[2:], &auth)
	f.mu.Lock()
	f.token = auth.Token
	reject := f.reject
	f.mu.Unlock()
	if reject {
		conn.WriteMessage(websocket.TextMessage, []byte(`44{"message":"unauthorized"}`))
		conn.Close()
		return
	}
	conn.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"ns"}`))

	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			atomic.AddInt32(&f.closed, 1)
			return
		}
	}
}

func (f *fakeServer) latest() *websocket.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func (f *fakeServer) emit(t *testing.T, name string, payload interface{}) {
	data, err := json.Marshal([]interface{}{name, payload})
	require.NoError(t, err)
	conn := f.latest()
	require.NotNil(t, conn)
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, append([]byte("42"), data...)))
}

func newTestBus(f *fakeServer, mutate func(*Config)) *Bus {
	config := Config{
		APIURL:            f.URL + "/api",
		Token:             "secret",
		OrganizationID:    "org-1",
		DisconnectDelay:   100 * time.Millisecond,
		Reconnect:         backoff.Fixed(10 * time.Millisecond),
		ReconnectAttempts: 3,
	}
	if mutate != nil {
		mutate(&config)
	}
	return New(config)
}

func stateEvent(id, state string) map[string]interface{} {
	return map[string]interface{}{
		"sandbox":  map[string]interface{}{"id": id, "state": state},
		"oldState": "started",
		"newState": state,
	}
}

func TestSubscribeAndDispatchInOrder(t *testing.T) {
	f := newFakeServer(t)
	bus := newTestBus(f, nil)
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	unsub, err := bus.Subscribe(context.Background(), "sb-1", func(ev Event) {
		mu.Lock()
		got = append(got, ev.Name+":"+string(ev.Payload))
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()
	require.True(t, bus.IsConnected())
	require.Equal(t, "secret", f.token)

	other := int32(0)
	unsubOther, err := bus.Subscribe(context.Background(), "sb-2", func(Event) { atomic.AddInt32(&other, 1) })
	require.NoError(t, err)
	defer unsubOther()
	require.Equal(t, int32(1), atomic.LoadInt32(&f.connections))

	for i := 0; i < 10; i++ {
		f.emit(t, EventStateUpdated, stateEvent("sb-1", fmt.Sprintf("s%d", i)))
	}
	f.emit(t, EventCreated, map[string]interface{}{"id": "sb-1"})
	f.emit(t, "unrelated.event", map[string]interface{}{"id": "sb-1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 11
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 10; i++ {
		var payload struct {
			NewState string `json:"newState"`
		}
		require.NoError(t, json.Unmarshal([]byte(got[i][len(EventStateUpdated)+1:]), &payload))
		require.Equal(t, fmt.Sprintf("s%d", i), payload.NewState)
	}
	require.Contains(t, got[10], EventCreated)
	require.Equal(t, int32(0), atomic.LoadInt32(&other))
}

func TestHandlerPanicDoesNotPoisonOthers(t *testing.T) {
	f := newFakeServer(t)
	bus := newTestBus(f, nil)
	defer bus.Close()

	_, err := bus.Subscribe(context.Background(), "sb-1", func(Event) { panic("bad handler") })
	require.NoError(t, err)
	var calls int32
	_, err = bus.Subscribe(context.Background(), "sb-1", func(Event) { atomic.AddInt32(&calls, 1) })
	require.NoError(t, err)

	f.emit(t, EventStateUpdated, stateEvent("sb-1", "stopped"))
	f.emit(t, EventStateUpdated, stateEvent("sb-1", "started"))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	f := newFakeServer(t)
	bus := newTestBus(f, nil)
	defer bus.Close()

	var calls int32
	var unsub func()
	unsub, err := bus.Subscribe(context.Background(), "sb-1", func(Event) {
		atomic.AddInt32(&calls, 1)
		unsub()
	})
	require.NoError(t, err)

	f.emit(t, EventStateUpdated, stateEvent("sb-1", "stopped"))
	f.emit(t, EventStateUpdated, stateEvent("sb-1", "started"))
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDelayedDisconnect(t *testing.T) {
	f := newFakeServer(t)
	bus := newTestBus(f, nil)
	defer bus.Close()

	unsub, err := bus.Subscribe(context.Background(), "sb-1", func(Event) {})
	require.NoError(t, err)
	unsub()
	require.True(t, bus.IsConnected())

	time.Sleep(30 * time.Millisecond)
	unsub, err = bus.Subscribe(context.Background(), "sb-2", func(Event) {})
	require.NoError(t, err)
	time.Sleep(150 * time.Millisecond)
	require.True(t, bus.IsConnected())
	require.Equal(t, int32(1), atomic.LoadInt32(&f.connections))

	unsub()
	require.Eventually(t, func() bool { return !bus.IsConnected() }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&f.closed) == 1 }, time.Second, 10*time.Millisecond)
}

func TestConnectRejected(t *testing.T) {
	f := newFakeServer(t)
	f.reject = true
	bus := newTestBus(f, nil)
	defer bus.Close()

	_, err := bus.Subscribe(context.Background(), "sb-1", func(Event) {})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unauthorized")
	require.False(t, bus.IsConnected())
}

func TestReconnectAfterServerDrop(t *testing.T) {
	f := newFakeServer(t)
	bus := newTestBus(f, nil)
	defer bus.Close()

	var calls int32
	_, err := bus.Subscribe(context.Background(), "sb-1", func(Event) { atomic.AddInt32(&calls, 1) })
	require.NoError(t, err)

	f.latest().Close()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&f.connections) == 2 && bus.IsConnected() }, 2*time.Second, 10*time.Millisecond)

	f.emit(t, EventStateUpdated, stateEvent("sb-1", "started"))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, bus.IsFailed())
}

func TestReconnectGivesUp(t *testing.T) {
	f := newFakeServer(t)
	bus := newTestBus(f, nil)
	defer bus.Close()

	_, err := bus.Subscribe(context.Background(), "sb-1", func(Event) {})
	require.NoError(t, err)

	f.mu.Lock()
	f.reject = true
	f.mu.Unlock()
	f.latest().Close()

	require.Eventually(t, bus.IsFailed, 2*time.Second, 10*time.Millisecond)
	require.False(t, bus.IsConnected())

	f.mu.Lock()
	f.reject = false
	f.mu.Unlock()
	require.NoError(t, bus.Connect(context.Background()))
	require.False(t, bus.IsFailed())
}

func TestSubscribeAfterClose(t *testing.T) {
	f := newFakeServer(t)
	bus := newTestBus(f, nil)
	require.NoError(t, bus.Close())
	_, err := bus.Subscribe(context.Background(), "sb-1", func(Event) {})
	require.ErrorIs(t, err, ErrClosed)
}

func TestCloseWhileConnecting(t *testing.T) {
	f := newFakeServer(t)
	for i := 0; i < 20; i++ {
		bus := newTestBus(f, nil)
		connected := make(chan error, 1)
		go func() { connected <- bus.Connect(context.Background()) }()
		if i%2 == 0 {
			time.Sleep(time.Millisecond)
		}
		require.NoError(t, bus.Close())

		err := <-connected
		if err != nil {
			require.ErrorIs(t, err, ErrClosed)
		}
		require.False(t, bus.IsConnected())
		require.NoError(t, bus.Close())
	}
}

func TestSandboxIDOf(t *testing.T) {
	require.Equal(t, "a", sandboxIDOf(json.RawMessage(`{"sandbox":{"id":"a"},"id":"b"}`)))
	require.Equal(t, "b", sandboxIDOf(json.RawMessage(`{"id":"b"}`)))
	require.Equal(t, "", sandboxIDOf(json.RawMessage(`[1]`)))
}
