// Package eventbus 订阅控制面推送的沙箱事件，连接由所有订阅者共享。
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/daytonaio/sdk-go/internal/backoff"
)

// 控制面推送的事件名。
const (
	EventStateUpdated        = "sandbox.state.updated"
	EventDesiredStateUpdated = "sandbox.desired-state.updated"
	EventCreated             = "sandbox.created"
)

// Event 是一条与沙箱相关的事件。
type Event struct {
	Name      string
	SandboxID string
	Payload   json.RawMessage
}

// Handler 在分发 goroutine 上被调用，不应长时间阻塞。
type Handler func(Event)

var (
	ErrClosed = errors.New("event bus is closed")
)

// Config 配置事件总线。
type Config struct {
	// APIURL 是控制面地址，如 https://app.daytona.io/api
	APIURL string
	// Path 是 socket.io 路径，默认 /api/socket.io/
	Path           string
	Token          string
	OrganizationID string
	Header         http.Header

	HandshakeTimeout  time.Duration
	DisconnectDelay   time.Duration
	Reconnect         backoff.Backoff
	ReconnectAttempts int

	Dialer *websocket.Dialer
	Logger *zap.Logger
}

func (c *Config) init() {
	if c.Path == "" {
		c.Path = "/api/socket.io/"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.DisconnectDelay <= 0 {
		c.DisconnectDelay = 30 * time.Second
	}
	if c.Reconnect == nil {
		c.Reconnect = backoff.Reconnect()
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 10
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus 维护至多一条到控制面的连接，按沙箱 ID 分发事件。
type Bus struct {
	config Config
	logger *zap.Logger

	connectMu sync.Mutex

	mu              sync.Mutex
	conn            *websocket.Conn
	connected       bool
	failed          bool
	closed          bool
	reconnecting    bool
	subscribers     map[string][]subscription
	nextID          uint64
	disconnectTimer *time.Timer

	writeMu sync.Mutex
	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup
}

// New 创建事件总线，第一次订阅时才会建立连接。
func New(config Config) *Bus {
	config.init()
	b := &Bus{
		config:      config,
		logger:      config.Logger.Named("eventbus"),
		subscribers: make(map[string][]subscription),
		events:      make(chan Event, 256),
		done:        make(chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// IsConnected 报告连接当前是否可用。
func (b *Bus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// IsFailed 报告重连是否已耗尽次数，直到下一次 Connect 成功之前保持为 true。
func (b *Bus) IsFailed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failed
}

// Subscribe 注册 sandboxID 的事件处理函数，必要时先建立连接。
// 连接失败时返回错误且不保留订阅。返回的函数用于取消订阅，可重复调用。
func (b *Bus) Subscribe(ctx context.Context, sandboxID string, handler Handler) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if b.disconnectTimer != nil {
		b.disconnectTimer.Stop()
		b.disconnectTimer = nil
	}
	b.nextID++
	sub := subscription{id: b.nextID, handler: handler}
	b.subscribers[sandboxID] = append(b.subscribers[sandboxID], sub)
	connected := b.connected
	b.mu.Unlock()

	if !connected {
		if err := b.Connect(ctx); err != nil {
			b.remove(sandboxID, sub.id)
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sandboxID, sub.id) })
	}, nil
}

func (b *Bus) remove(sandboxID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sandboxID]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subscribers, sandboxID)
	} else {
		b.subscribers[sandboxID] = subs
	}

	if len(b.subscribers) == 0 && !b.closed && b.disconnectTimer == nil {
		var timer *time.Timer
		timer = time.AfterFunc(b.config.DisconnectDelay, func() { b.disconnectIfIdle(timer) })
		b.disconnectTimer = timer
	}
}

func (b *Bus) disconnectIfIdle(timer *time.Timer) {
	b.mu.Lock()
	if b.disconnectTimer != timer || len(b.subscribers) > 0 {
		b.mu.Unlock()
		return
	}
	b.disconnectTimer = nil
	conn := b.conn
	b.conn = nil
	b.connected = false
	b.mu.Unlock()

	if conn != nil {
		b.logger.Debug("closing idle event bus connection")
		b.closeConn(conn)
	}
}

// Connect 建立连接并完成 socket.io 命名空间握手。已连接时直接返回。
func (b *Bus) Connect(ctx context.Context) error {
	b.connectMu.Lock()
	defer b.connectMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.connected {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	conn, err := b.handshake(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	b.conn = conn
	b.connected = true
	b.failed = false
	b.wg.Add(1)
	b.mu.Unlock()

	b.logger.Info("event bus connected")
	go b.readLoop(conn)
	return nil
}

func (b *Bus) endpoint() (string, error) {
	u, err := url.Parse(b.config.APIURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = b.config.Path
	query := url.Values{}
	query.Set("EIO", "4")
	query.Set("transport", "websocket")
	if b.config.OrganizationID != "" {
		query.Set("organizationId", b.config.OrganizationID)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (b *Bus) handshake(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.HandshakeTimeout)
	defer cancel()

	endpoint, err := b.endpoint()
	if err != nil {
		return nil, err
	}
	conn, resp, err := b.config.Dialer.DialContext(ctx, endpoint, b.config.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial event bus: %w", err)
	}

	fail := func(err error) (*websocket.Conn, error) {
		conn.Close()
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return fail(fmt.Errorf("read open packet: %w", err))
	}
	if _, err := decodeOpen(string(data)); err != nil {
		return fail(err)
	}

	var auth interface{}
	if b.config.Token != "" {
		auth = map[string]string{"token": b.config.Token}
	}
	packet, err := encodeConnect(auth)
	if err != nil {
		return fail(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(packet)); err != nil {
		return fail(err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fail(fmt.Errorf("read connect ack: %w", err))
		}
		msg := string(data)
		switch {
		case msg == string(eioPing):
			if err := conn.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				return fail(err)
			}
		case len(msg) >= 2 && msg[0] == eioMessage && msg[1] == sioConnect:
			conn.SetReadDeadline(time.Time{})
			return conn, nil
		case len(msg) >= 2 && msg[0] == eioMessage && msg[1] == sioConnectError:
			return fail(fmt.Errorf("event bus rejected connection: %s", decodeConnectError(msg[2:])))
		}
	}
}

func (b *Bus) readLoop(conn *websocket.Conn) {
	defer b.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.onConnectionLost(conn, err)
			return
		}
		msg := string(data)
		if msg == "" {
			continue
		}
		switch msg[0] {
		case eioPing:
			b.writeMu.Lock()
			err = conn.WriteMessage(websocket.TextMessage, []byte{eioPong})
			b.writeMu.Unlock()
			if err != nil {
				b.onConnectionLost(conn, err)
				return
			}
		case eioClose:
			b.onConnectionLost(conn, errors.New("server closed the connection"))
			return
		case eioMessage:
			if len(msg) < 2 {
				continue
			}
			switch msg[1] {
			case sioEvent:
				b.enqueue(msg[2:])
			case sioDisconnect:
				conn.Close()
				b.onConnectionLost(conn, errors.New("server disconnected the namespace"))
				return
			}
		}
	}
}

func (b *Bus) enqueue(body string) {
	name, payload, err := decodeEvent(body)
	if err != nil {
		b.logger.Debug("ignoring malformed event", zap.Error(err))
		return
	}
	switch name {
	case EventStateUpdated, EventDesiredStateUpdated, EventCreated:
	default:
		return
	}
	ev := Event{Name: name, SandboxID: sandboxIDOf(payload), Payload: payload}
	if ev.SandboxID == "" {
		return
	}
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case ev := <-b.events:
			b.mu.Lock()
			subs := append([]subscription(nil), b.subscribers[ev.SandboxID]...)
			b.mu.Unlock()
			for _, s := range subs {
				b.safeCall(s.handler, ev)
			}
		}
	}
}

func (b *Bus) safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event", ev.Name),
				zap.String("sandboxId", ev.SandboxID),
				zap.Any("panic", r))
		}
	}()
	h(ev)
}

func (b *Bus) onConnectionLost(conn *websocket.Conn, cause error) {
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	b.connected = false
	shouldReconnect := !b.closed && len(b.subscribers) > 0 && !b.reconnecting
	if shouldReconnect {
		b.reconnecting = true
		b.wg.Add(1)
	}
	b.mu.Unlock()

	conn.Close()
	if !shouldReconnect {
		return
	}
	b.logger.Warn("event bus connection lost", zap.Error(cause))
	go b.reconnect()
}

func (b *Bus) reconnect() {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		b.reconnecting = false
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for attempt := 0; attempt < b.config.ReconnectAttempts; attempt++ {
		if err := backoff.Sleep(ctx, b.config.Reconnect.Delay(attempt)); err != nil {
			return
		}
		b.mu.Lock()
		idle := len(b.subscribers) == 0
		b.mu.Unlock()
		if idle {
			return
		}
		if err := b.Connect(ctx); err != nil {
			b.logger.Info("event bus reconnect failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		return
	}

	b.mu.Lock()
	b.failed = true
	b.mu.Unlock()
	b.logger.Warn("event bus gave up reconnecting", zap.Int("attempts", b.config.ReconnectAttempts))
}

func (b *Bus) closeConn(conn *websocket.Conn) {
	b.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	b.writeMu.Unlock()
	conn.Close()
}

// Close 断开连接并停止分发，之后的订阅都会失败。
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.disconnectTimer != nil {
		b.disconnectTimer.Stop()
		b.disconnectTimer = nil
	}
	conn := b.conn
	b.conn = nil
	b.connected = false
	b.subscribers = make(map[string][]subscription)
	b.mu.Unlock()

	close(b.done)
	if conn != nil {
		b.closeConn(conn)
	}
	b.wg.Wait()
	return nil
}

// String 用于日志。
func (b *Bus) String() string {
	return "eventbus(" + strings.TrimRight(b.config.APIURL, "/") + ")"
}
