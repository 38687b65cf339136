package daytona

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	internal_io "github.com/daytonaio/sdk-go/internal/io"
	"github.com/daytonaio/sdk-go/internal/stream"
)

// 一次性读取会话日志的上限。
const maxSessionLogSize = 64 << 20

const sessionLogsKeepAlive = 30 * time.Second

func sessionPath(sessionID string, elems ...string) string {
	parts := []string{"/process/session", url.PathEscape(sessionID)}
	for _, e := range elems {
		parts = append(parts, url.PathEscape(e))
	}
	return strings.Join(parts, "/")
}

// CreateSession 创建会话，sessionID 由调用方指定且在沙箱内唯一。
func (p *Process) CreateSession(ctx context.Context, sessionID string) error {
	const op = "Failed to create session"
	if sessionID == "" {
		return validationError(op, "session id is required")
	}
	if err := p.sandbox.checkOpen(op); err != nil {
		return err
	}
	body := map[string]string{"sessionId": sessionID}
	return wrapError(op, p.sandbox.toolbox.DoJSON(ctx, http.MethodPost, "/process/session", nil, body, nil))
}

// GetSession 返回会话及其命令列表。
func (p *Process) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	const op = "Failed to get session"
	if err := p.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	var session Session
	if err := p.sandbox.toolbox.DoJSON(ctx, http.MethodGet, sessionPath(sessionID), nil, nil, &session); err != nil {
		return nil, wrapError(op, err)
	}
	return &session, nil
}

// ListSessions 列出全部会话。
func (p *Process) ListSessions(ctx context.Context) ([]*Session, error) {
	const op = "Failed to list sessions"
	if err := p.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	var sessions []*Session
	if err := p.sandbox.toolbox.DoJSON(ctx, http.MethodGet, "/process/session", nil, nil, &sessions); err != nil {
		return nil, wrapError(op, err)
	}
	return sessions, nil
}

// DeleteSession 结束并删除会话。
func (p *Process) DeleteSession(ctx context.Context, sessionID string) error {
	const op = "Failed to delete session"
	if err := p.sandbox.checkOpen(op); err != nil {
		return err
	}
	return wrapError(op, p.sandbox.toolbox.DoJSON(ctx, http.MethodDelete, sessionPath(sessionID), nil, nil, nil))
}

// ExecuteSessionCommand 在会话中执行命令，支持 WithTimeout。
func (p *Process) ExecuteSessionCommand(ctx context.Context, sessionID string, req SessionExecuteRequest, opts ...Option) (*SessionExecuteResponse, error) {
	const op = "Failed to execute session command"
	ctx, cancel, _, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return nil, err
	}
	if req.Command == "" {
		return nil, validationError(op, "command is required")
	}
	if err := p.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	var resp SessionExecuteResponse
	if err := p.sandbox.toolbox.DoJSON(ctx, http.MethodPost, sessionPath(sessionID, "exec"), nil, req, &resp); err != nil {
		return nil, wrapError(op, err)
	}
	// 旧版 toolbox 只返回混合输出
	if resp.Stdout == "" && resp.Stderr == "" && resp.Output != "" {
		logs := demuxLogs([]byte(resp.Output))
		resp.Stdout, resp.Stderr = logs.Stdout, logs.Stderr
	}
	return &resp, nil
}

// GetSessionCommand 返回会话中的一条命令。
func (p *Process) GetSessionCommand(ctx context.Context, sessionID, commandID string) (*Command, error) {
	const op = "Failed to get session command"
	if err := p.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	var cmd Command
	if err := p.sandbox.toolbox.DoJSON(ctx, http.MethodGet, sessionPath(sessionID, "command", commandID), nil, nil, &cmd); err != nil {
		return nil, wrapError(op, err)
	}
	return &cmd, nil
}

// GetSessionCommandLogs 一次性读取命令已有的日志。
func (p *Process) GetSessionCommandLogs(ctx context.Context, sessionID, commandID string) (*SessionCommandLogs, error) {
	const op = "Failed to get session command logs"
	if err := p.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	body, _, err := p.sandbox.toolbox.Stream(ctx, http.MethodGet, sessionPath(sessionID, "command", commandID, "logs"), nil, nil)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer body.Close()
	data, err := internal_io.ReadLimited(body, maxSessionLogSize)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return demuxLogs(data), nil
}

func demuxLogs(data []byte) *SessionCommandLogs {
	var stdout, stderr strings.Builder
	d := stream.Demuxer{
		OnStdout: func(s string) { stdout.WriteString(s) },
		OnStderr: func(s string) { stderr.WriteString(s) },
	}
	d.Write(data)
	d.Flush()
	return &SessionCommandLogs{
		Output: internal_io.ToValidUTF8(data),
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
}

// FollowSessionCommandLogs 通过 WebSocket 跟随命令日志直到命令结束，
// stdout 与 stderr 分别回调，各自保持顺序。
func (p *Process) FollowSessionCommandLogs(ctx context.Context, sessionID, commandID string, onStdout, onStderr func(chunk string)) error {
	const op = "Failed to follow session command logs"
	if err := p.sandbox.checkOpen(op); err != nil {
		return err
	}
	conn, err := p.sandbox.toolbox.DialWebSocket(ctx, sessionPath(sessionID, "command", commandID, "logs"), url.Values{"follow": {"true"}})
	if err != nil {
		return wrapError(op, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go stream.KeepAlive(conn, sessionLogsKeepAlive, stop)

	d := stream.Demuxer{OnStdout: onStdout, OnStderr: onStderr}
	info, err := stream.ReadWebSocket(ctx, conn, stream.Handlers{
		OnData: func(data []byte, _ bool) { d.Write(data) },
	})
	d.Flush()
	if err != nil {
		return wrapError(op, err)
	}
	if info.TimedOut() {
		return newError(KindTimeout, op, "%s", info.Error)
	}
	if info.Error != "" && info.CloseCode != stream.CloseGoingAway {
		return newError(KindGeneric, op, "%s", info.Error)
	}
	return nil
}
