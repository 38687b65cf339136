package daytona

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/daytonaio/sdk-go/internal/stream"
)

const defaultInterpreterContext = "default"

// interruptedCloseWait 是收到 interrupted 后等待对端关闭帧的时间。
const interruptedCloseWait = 2 * time.Second

// InterpreterContext 是隔离的解释器上下文，同一上下文中的执行共享全局状态。
type InterpreterContext struct {
	ID        string    `json:"id"`
	Cwd       string    `json:"cwd"`
	Language  string    `json:"language"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExecutionError 是用户代码抛出的异常。
type ExecutionError struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Traceback string `json:"traceback,omitempty"`
}

// ExecutionResult 汇总一次执行的输出。
type ExecutionResult struct {
	Stdout string
	Stderr string
	Charts []Chart
	Error  *ExecutionError
}

// RunCodeOptions 解释器执行选项，回调在读取 goroutine 中按帧顺序调用。
type RunCodeOptions struct {
	// Context 为 nil 时使用默认上下文
	Context    *InterpreterContext
	OnStdout   func(text string)
	OnStderr   func(text string)
	OnError    func(err *ExecutionError)
	OnArtifact func(chart Chart)
	OnControl  func(value string)
}

type interpreterRequest struct {
	Code      string            `json:"code"`
	ContextID string            `json:"contextId,omitempty"`
	Envs      map[string]string `json:"envs,omitempty"`
	Timeout   int               `json:"timeout,omitempty"`
}

type interpreterFrame struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Name      string          `json:"name"`
	Value     json.RawMessage `json:"value"`
	Traceback string          `json:"traceback"`
}

// CodeInterpreter 是沙箱内的有状态 Python 解释器。
type CodeInterpreter struct {
	sandbox *Sandbox
}

// CreateContext 创建解释器上下文，cwd 与 language 可为空。
func (ci *CodeInterpreter) CreateContext(ctx context.Context, cwd, language string) (*InterpreterContext, error) {
	const op = "Failed to create interpreter context"
	if err := ci.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	body := map[string]string{}
	if cwd != "" {
		resolved, err := ci.sandbox.resolvePath(ctx, cwd)
		if err != nil {
			return nil, wrapError(op, err)
		}
		body["cwd"] = resolved
	}
	if language != "" {
		body["language"] = language
	}
	var ic InterpreterContext
	if err := ci.sandbox.toolbox.DoJSON(ctx, http.MethodPost, "/process/interpreter/context", nil, body, &ic); err != nil {
		return nil, wrapError(op, err)
	}
	return &ic, nil
}

// ListContexts 列出用户创建的上下文，不含默认上下文。
func (ci *CodeInterpreter) ListContexts(ctx context.Context) ([]*InterpreterContext, error) {
	const op = "Failed to list interpreter contexts"
	if err := ci.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	var resp struct {
		Contexts []*InterpreterContext `json:"contexts"`
	}
	if err := ci.sandbox.toolbox.DoJSON(ctx, http.MethodGet, "/process/interpreter/context", nil, nil, &resp); err != nil {
		return nil, wrapError(op, err)
	}
	contexts := make([]*InterpreterContext, 0, len(resp.Contexts))
	for _, c := range resp.Contexts {
		if c.ID != defaultInterpreterContext {
			contexts = append(contexts, c)
		}
	}
	return contexts, nil
}

// DeleteContext 删除上下文并结束其解释器进程，默认上下文不可删除。
func (ci *CodeInterpreter) DeleteContext(ctx context.Context, ic *InterpreterContext) error {
	const op = "Failed to delete interpreter context"
	if ic == nil || ic.ID == "" {
		return validationError(op, "context is required")
	}
	if ic.ID == defaultInterpreterContext {
		return validationError(op, "the default context cannot be deleted")
	}
	if err := ci.sandbox.checkOpen(op); err != nil {
		return err
	}
	return wrapError(op, ci.sandbox.toolbox.DoJSON(ctx, http.MethodDelete, "/process/interpreter/context/"+url.PathEscape(ic.ID), nil, nil, nil))
}

// RunCode 在上下文中执行代码，支持 WithEnv 与 WithTimeout。
// 用户代码抛出的异常记录在 ExecutionResult.Error 中，不作为错误返回；
// 执行超时返回 KindTimeout 错误。
func (ci *CodeInterpreter) RunCode(ctx context.Context, code string, opts RunCodeOptions, callOpts ...Option) (*ExecutionResult, error) {
	const op = "Failed to run code"
	ctx, cancel, o, err := begin(ctx, op, callOpts)
	defer cancel()
	if err != nil {
		return nil, err
	}
	for k := range o.env {
		if !envKeyPattern.MatchString(k) {
			return nil, validationError(op, "invalid environment variable name %q", k)
		}
	}
	if err := ci.sandbox.checkOpen(op); err != nil {
		return nil, err
	}

	req := interpreterRequest{Code: code, Envs: o.env}
	if opts.Context != nil {
		req.ContextID = opts.Context.ID
	}
	if o.timeout > 0 {
		req.Timeout = int(math.Ceil(o.timeout.Seconds()))
	}

	conn, err := ci.sandbox.toolbox.DialWebSocket(ctx, "/process/interpreter/execute", nil)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(req); err != nil {
		return nil, wrapError(op, err)
	}

	result := &ExecutionResult{Charts: []Chart{}}
	var stdout, stderr strings.Builder
	var interrupted bool
	info, err := stream.ReadWebSocket(ctx, conn, stream.Handlers{
		OnData: func(data []byte, _ bool) {
			var frame interpreterFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				return
			}
			switch frame.Type {
			case "stdout":
				stdout.WriteString(frame.Text)
				if opts.OnStdout != nil {
					opts.OnStdout(frame.Text)
				}
			case "stderr":
				stderr.WriteString(frame.Text)
				if opts.OnStderr != nil {
					opts.OnStderr(frame.Text)
				}
			case "error":
				e := &ExecutionError{Name: frame.Name, Traceback: frame.Traceback}
				if err := json.Unmarshal(frame.Value, &e.Value); err != nil {
					e.Value = string(frame.Value)
				}
				result.Error = e
				if opts.OnError != nil {
					opts.OnError(e)
				}
			case "artifact":
				var chart Chart
				if err := json.Unmarshal(frame.Value, &chart); err != nil {
					return
				}
				result.Charts = append(result.Charts, chart)
				if opts.OnArtifact != nil {
					opts.OnArtifact(chart)
				}
			}
		},
		OnControl: func(frame stream.ControlFrame) bool {
			value := frame.Value()
			if opts.OnControl != nil {
				opts.OnControl(value)
			}
			switch value {
			case "completed", "error_completed", "exit":
				return true
			case "interrupted":
				interrupted = true
				return true
			}
			return false
		},
	})
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	switch {
	case errors.Is(err, stream.ErrStoppedByControl):
		if interrupted {
			if info, ok := awaitClose(conn, interruptedCloseWait); ok && info.TimedOut() {
				return nil, newError(KindTimeout, op, "execution timed out")
			}
			if result.Error == nil {
				result.Error = &ExecutionError{Name: "ExecutionInterrupted", Value: "execution was interrupted"}
			}
			return result, nil
		}
		stream.CloseGracefully(conn)
		return result, nil
	case err != nil:
		return nil, wrapError(op, err)
	case info.TimedOut():
		return nil, newError(KindTimeout, op, "execution timed out")
	case info.Error != "" && info.CloseCode != stream.CloseNormal && info.CloseCode != stream.CloseGoingAway:
		return nil, newError(KindGeneric, op, "%s", info.Error)
	}
	return result, nil
}

// awaitClose 在 d 内读取对端的关闭帧，期间收到的其他帧被丢弃。
func awaitClose(conn *websocket.Conn, d time.Duration) (stream.ExitInfo, bool) {
	conn.SetReadDeadline(time.Now().Add(d))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return stream.ParseCloseReason(closeErr.Code, closeErr.Text), true
		}
		return stream.ExitInfo{}, false
	}
}
