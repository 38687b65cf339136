package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket 关闭码。
const (
	CloseNormal    = websocket.CloseNormalClosure
	CloseGoingAway = websocket.CloseGoingAway
	CloseTimeout   = 4008
)

// ControlFrame 是 JSON 文本帧中 "type":"control" 的控制消息。
// PTY 使用 status 字段，解释器使用 text 字段。
type ControlFrame struct {
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Value 返回控制消息携带的状态值。
func (f ControlFrame) Value() string {
	if f.Status != "" {
		return f.Status
	}
	return f.Text
}

// DecodeControl 判断文本帧是否为控制消息。
func DecodeControl(data []byte) (ControlFrame, bool) {
	var frame ControlFrame
	if len(data) == 0 || data[0] != '{' {
		return frame, false
	}
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "control" {
		return ControlFrame{}, false
	}
	return frame, true
}

// ExitInfo 是对端通过关闭帧 reason 传递的退出信息。
type ExitInfo struct {
	ExitCode   *int   `json:"exitCode,omitempty"`
	ExitReason string `json:"exitReason,omitempty"`
	Error      string `json:"error,omitempty"`
	CloseCode  int    `json:"-"`
}

// TimedOut 报告流是否因执行超时被关闭。
func (e ExitInfo) TimedOut() bool {
	return e.CloseCode == CloseTimeout
}

// ParseCloseReason 解析关闭帧。reason 为 JSON 时取其中的退出信息；
// 1000 且没有 reason 表示退出码 0；其余非 JSON reason 作为错误文本。
func ParseCloseReason(code int, reason string) ExitInfo {
	info := ExitInfo{CloseCode: code}
	if reason != "" {
		if err := json.Unmarshal([]byte(reason), &info); err == nil {
			info.CloseCode = code
			return info
		}
		info.Error = reason
	}
	switch code {
	case CloseNormal:
		if info.Error == "" {
			zero := 0
			info.ExitCode = &zero
		}
	case CloseTimeout:
		if info.Error == "" {
			info.Error = "execution timed out"
		}
	case CloseGoingAway:
	default:
		if info.Error == "" {
			info.Error = fmt.Sprintf("connection closed with code %d", code)
		}
	}
	return info
}

// Handlers 处理 ReadWebSocket 收到的帧。
type Handlers struct {
	// OnData 接收二进制帧和非控制文本帧
	OnData func(data []byte, binary bool)
	// OnControl 返回 true 时 ReadWebSocket 立即返回
	OnControl func(frame ControlFrame) bool
}

// ErrStoppedByControl 表示 OnControl 要求结束读取。
var ErrStoppedByControl = errors.New("stream stopped by control frame")

// ReadWebSocket 持续读取 conn 直到对端关闭、OnControl 要求结束或 ctx 结束。
// 对端关闭时返回关闭帧中的退出信息。ctx 结束时会关闭连接以解除阻塞的读取。
func ReadWebSocket(ctx context.Context, conn *websocket.Conn, h Handlers) (ExitInfo, error) {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return ParseCloseReason(closeErr.Code, closeErr.Text), nil
			}
			if ctx.Err() != nil {
				return ExitInfo{}, ctx.Err()
			}
			return ExitInfo{}, err
		}
		if messageType == websocket.TextMessage {
			if frame, ok := DecodeControl(data); ok {
				if h.OnControl != nil && h.OnControl(frame) {
					return ExitInfo{}, ErrStoppedByControl
				}
				continue
			}
		}
		if h.OnData != nil {
			h.OnData(data, messageType == websocket.BinaryMessage)
		}
	}
}

// KeepAlive 每隔 interval 发送一次 ping，直到 stop 被关闭或发送失败。
func KeepAlive(conn *websocket.Conn, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval)); err != nil {
				return
			}
		}
	}
}

// CloseGracefully 发送正常关闭帧后关闭底层连接。
func CloseGracefully(conn *websocket.Conn) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return conn.Close()
}
