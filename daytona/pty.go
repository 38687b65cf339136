package daytona

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/daytonaio/sdk-go/internal/stream"
)

const ptyKeepAlive = 30 * time.Second

// PtySize 终端尺寸。
type PtySize struct {
	Cols int `json:"cols" validate:"gt=0"`
	Rows int `json:"rows" validate:"gt=0"`
}

// PtyCreateOptions 创建 PTY 会话的参数。ID 为空时自动生成。
type PtyCreateOptions struct {
	ID   string
	Cwd  string
	Envs map[string]string
	Size *PtySize `validate:"omitempty"`
	// OnData 设置后输出直接回调，不再写入 Data 通道
	OnData func(data []byte)
}

// PtySessionInfo 是 PTY 会话的服务端信息。
type PtySessionInfo struct {
	ID        string            `json:"id"`
	Cwd       string            `json:"cwd"`
	Envs      map[string]string `json:"envs"`
	Cols      int               `json:"cols"`
	Rows      int               `json:"rows"`
	CreatedAt time.Time         `json:"createdAt"`
	Active    bool              `json:"active"`
}

// PtyResult 是 PTY 进程的退出信息。
type PtyResult struct {
	ExitCode *int
	Error    string
}

type ptyCreateRequest struct {
	ID   string            `json:"id"`
	Cwd  string            `json:"cwd,omitempty"`
	Envs map[string]string `json:"envs,omitempty"`
	Cols int               `json:"cols,omitempty"`
	Rows int               `json:"rows,omitempty"`
}

func ptyPath(sessionID string, elems ...string) string {
	p := "/process/pty/" + url.PathEscape(sessionID)
	for _, e := range elems {
		p += "/" + e
	}
	return p
}

// CreatePty 创建 PTY 会话并建立连接。返回的句柄持有 WebSocket，使用完毕后需调用 Close。
func (p *Process) CreatePty(ctx context.Context, opts PtyCreateOptions) (*PtyHandle, error) {
	const op = "Failed to create PTY session"
	if opts.Size != nil {
		if err := defaultValidator.Validate(op, opts.Size); err != nil {
			return nil, err
		}
	}
	for k := range opts.Envs {
		if !envKeyPattern.MatchString(k) {
			return nil, validationError(op, "invalid environment variable name %q", k)
		}
	}
	if err := p.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	req := ptyCreateRequest{ID: opts.ID, Envs: opts.Envs}
	if opts.Cwd != "" {
		cwd, err := p.sandbox.resolvePath(ctx, opts.Cwd)
		if err != nil {
			return nil, wrapError(op, err)
		}
		req.Cwd = cwd
	}
	if opts.Size != nil {
		req.Cols, req.Rows = opts.Size.Cols, opts.Size.Rows
	}
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := p.sandbox.toolbox.DoJSON(ctx, http.MethodPost, "/process/pty", nil, req, &resp); err != nil {
		return nil, wrapError(op, err)
	}
	if resp.SessionID == "" {
		resp.SessionID = opts.ID
	}
	return p.connectPty(ctx, op, resp.SessionID, opts.OnData)
}

// ConnectPty 连接到已存在的 PTY 会话。
func (p *Process) ConnectPty(ctx context.Context, sessionID string, onData func(data []byte)) (*PtyHandle, error) {
	const op = "Failed to connect to PTY session"
	if err := p.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	return p.connectPty(ctx, op, sessionID, onData)
}

func (p *Process) connectPty(ctx context.Context, op, sessionID string, onData func([]byte)) (*PtyHandle, error) {
	conn, err := p.sandbox.toolbox.DialWebSocket(ctx, ptyPath(sessionID, "connect"), nil)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return newPtyHandle(p, sessionID, conn, onData), nil
}

// ListPtySessions 列出 PTY 会话。
func (p *Process) ListPtySessions(ctx context.Context) ([]*PtySessionInfo, error) {
	const op = "Failed to list PTY sessions"
	if err := p.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	var resp struct {
		Sessions []*PtySessionInfo `json:"sessions"`
	}
	if err := p.sandbox.toolbox.DoJSON(ctx, http.MethodGet, "/process/pty", nil, nil, &resp); err != nil {
		return nil, wrapError(op, err)
	}
	return resp.Sessions, nil
}

// GetPtySessionInfo 返回 PTY 会话信息。
func (p *Process) GetPtySessionInfo(ctx context.Context, sessionID string) (*PtySessionInfo, error) {
	const op = "Failed to get PTY session info"
	if err := p.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	var info PtySessionInfo
	if err := p.sandbox.toolbox.DoJSON(ctx, http.MethodGet, ptyPath(sessionID), nil, nil, &info); err != nil {
		return nil, wrapError(op, err)
	}
	return &info, nil
}

// ResizePtySession 修改终端尺寸。
func (p *Process) ResizePtySession(ctx context.Context, sessionID string, size PtySize) (*PtySessionInfo, error) {
	const op = "Failed to resize PTY session"
	if err := defaultValidator.Validate(op, &size); err != nil {
		return nil, err
	}
	if err := p.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	var info PtySessionInfo
	if err := p.sandbox.toolbox.DoJSON(ctx, http.MethodPost, ptyPath(sessionID, "resize"), nil, size, &info); err != nil {
		return nil, wrapError(op, err)
	}
	return &info, nil
}

// KillPtySession 结束 PTY 会话。
func (p *Process) KillPtySession(ctx context.Context, sessionID string) error {
	const op = "Failed to kill PTY session"
	if err := p.sandbox.checkOpen(op); err != nil {
		return err
	}
	return wrapError(op, p.sandbox.toolbox.DoJSON(ctx, http.MethodDelete, ptyPath(sessionID), nil, nil, nil))
}

// PtyHandle 持有一个 PTY 会话的 WebSocket。输出按到达顺序写入 Data 通道，
// 连接结束后通道被关闭。
type PtyHandle struct {
	process   *Process
	sessionID string
	conn      *websocket.Conn
	onData    func([]byte)
	data      chan []byte

	writeMu sync.Mutex

	connectOnce sync.Once
	connected   chan struct{}
	connectErr  error

	done   chan struct{}
	result PtyResult
	err    error

	closeOnce sync.Once
	closed    chan struct{}
}

func newPtyHandle(p *Process, sessionID string, conn *websocket.Conn, onData func([]byte)) *PtyHandle {
	h := &PtyHandle{
		process:   p,
		sessionID: sessionID,
		conn:      conn,
		onData:    onData,
		data:      make(chan []byte, 64),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
		closed:    make(chan struct{}),
	}
	go stream.KeepAlive(conn, ptyKeepAlive, h.done)
	go h.read()
	return h
}

// SessionID 返回会话 ID。
func (h *PtyHandle) SessionID() string { return h.sessionID }

func (h *PtyHandle) markConnected(err error) {
	h.connectOnce.Do(func() {
		h.connectErr = err
		close(h.connected)
	})
}

func (h *PtyHandle) read() {
	const op = "PTY session failed"
	defer close(h.done)
	defer close(h.data)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-h.closed:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer cancel()

	info, err := stream.ReadWebSocket(ctx, h.conn, stream.Handlers{
		OnData: func(data []byte, _ bool) {
			if h.onData != nil {
				h.onData(data)
				return
			}
			select {
			case h.data <- data:
			case <-h.closed:
			}
		},
		OnControl: func(frame stream.ControlFrame) bool {
			switch frame.Value() {
			case "connected":
				h.markConnected(nil)
			case "error":
				msg := frame.Error
				if msg == "" {
					msg = "unknown connection error"
				}
				h.markConnected(newError(KindGeneric, "Failed to connect to PTY session", "%s", msg))
				return true
			}
			return false
		},
	})
	h.conn.Close()

	switch {
	case errors.Is(err, stream.ErrStoppedByControl):
		h.err = h.connectErr
	case err != nil && errors.Is(err, context.Canceled):
		h.err = newError(KindClosed, op, "PTY handle was closed")
	case err != nil:
		h.err = wrapError(op, err)
	default:
		h.result = PtyResult{ExitCode: info.ExitCode, Error: info.Error}
		if info.ExitReason != "" && h.result.Error == "" {
			h.result.Error = info.ExitReason
		}
	}
	h.markConnected(newError(KindGeneric, "Failed to connect to PTY session", "connection closed before it was ready"))
}

// WaitForConnection 等待 toolbox 确认连接就绪。
func (h *PtyHandle) WaitForConnection(ctx context.Context) error {
	select {
	case <-h.connected:
		return h.connectErr
	case <-ctx.Done():
		return wrapError("Failed to connect to PTY session", ctx.Err())
	}
}

// Data 返回输出通道。设置了 OnData 时通道中没有数据，只在连接结束时关闭。
func (h *PtyHandle) Data() <-chan []byte { return h.data }

// SendInput 向终端写入数据。
func (h *PtyHandle) SendInput(data []byte) error {
	const op = "Failed to send PTY input"
	select {
	case <-h.done:
		return newError(KindClosed, op, "PTY session is not connected")
	default:
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return wrapError(op, h.conn.WriteMessage(websocket.BinaryMessage, data))
}

// Resize 修改终端尺寸。
func (h *PtyHandle) Resize(ctx context.Context, size PtySize) (*PtySessionInfo, error) {
	return h.process.ResizePtySession(ctx, h.sessionID, size)
}

// Kill 结束 PTY 进程，连接随后由服务端关闭。
func (h *PtyHandle) Kill(ctx context.Context) error {
	return h.process.KillPtySession(ctx, h.sessionID)
}

// Wait 等待 PTY 进程退出并返回退出信息。
func (h *PtyHandle) Wait(ctx context.Context) (*PtyResult, error) {
	select {
	case <-h.done:
		if h.err != nil {
			return nil, h.err
		}
		result := h.result
		return &result, nil
	case <-ctx.Done():
		return nil, wrapError("Failed to wait for PTY session", ctx.Err())
	}
}

// Close 关闭连接，不会结束沙箱内的 PTY 进程。
func (h *PtyHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.writeMu.Lock()
		stream.CloseGracefully(h.conn)
		h.writeMu.Unlock()
	})
	<-h.done
	return nil
}
