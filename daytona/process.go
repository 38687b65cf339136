package daytona

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"
)

// envKeyPattern 是合法的环境变量名。
var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ExecuteResponse 是一次命令执行的结果。
type ExecuteResponse struct {
	ExitCode  int
	Result    string
	Artifacts ExecutionArtifacts
}

type executeRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

type executeResponse struct {
	ExitCode int    `json:"exitCode"`
	Result   string `json:"result"`
}

// Process 在沙箱中执行命令，管理会话、PTY 与代码解释器。
type Process struct {
	sandbox *Sandbox
}

// Exec 执行一次性命令。命令与环境变量以 base64 传输，调用方字符串不会被外层 shell 展开。
// 支持 WithCwd、WithEnv 与 WithTimeout，超时同时传给沙箱内的执行器。
func (p *Process) Exec(ctx context.Context, command string, opts ...Option) (*ExecuteResponse, error) {
	const op = "Failed to execute command"
	ctx, cancel, o, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return nil, err
	}
	return p.exec(ctx, op, command, o)
}

func (p *Process) exec(ctx context.Context, op, command string, o *callOpts) (*ExecuteResponse, error) {
	wrapped, err := wrapCommand(command, o.env)
	if err != nil {
		return nil, validationError(op, "%s", err)
	}
	if err := p.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	req := executeRequest{Command: wrapped, Cwd: o.cwd}
	if o.timeout > 0 {
		req.Timeout = int(math.Ceil(o.timeout.Seconds()))
	}
	var resp executeResponse
	if err := p.sandbox.toolbox.DoJSON(ctx, http.MethodPost, "/process/execute", nil, req, &resp); err != nil {
		return nil, wrapError(op, err)
	}
	stdout, charts := extractArtifacts(resp.Result)
	return &ExecuteResponse{
		ExitCode:  resp.ExitCode,
		Result:    stdout,
		Artifacts: ExecutionArtifacts{Stdout: stdout, Charts: charts},
	}, nil
}

// wrapCommand 生成 sh -c "echo <b64> | base64 -d | sh"，环境变量以 export 前缀注入。
func wrapCommand(command string, env map[string]string) (string, error) {
	keys := make([]string, 0, len(env))
	for k := range env {
		if !envKeyPattern.MatchString(k) {
			return "", fmt.Errorf("invalid environment variable name %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		encoded := base64.StdEncoding.EncodeToString([]byte(env[k]))
		fmt.Fprintf(&b, "export %s=$(echo '%s' | base64 -d); ", k, encoded)
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(command))
	fmt.Fprintf(&b, "echo '%s' | base64 -d | sh", encoded)
	return "sh -c " + shellQuote(b.String()), nil
}

// CodeRun 以沙箱的语言执行源代码，stdout 中的图表产物被提取到 Artifacts.Charts。
// 支持 WithArgv、WithEnv、WithCwd 与 WithTimeout。
func (p *Process) CodeRun(ctx context.Context, code string, opts ...Option) (*ExecuteResponse, error) {
	const op = "Failed to run code"
	ctx, cancel, o, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return nil, err
	}
	return p.exec(ctx, op, p.sandbox.builder.RunCommand(code, o.argv), o)
}

// Session 是沙箱内的有状态 shell，同一会话中的命令共享环境变量与工作目录。
type Session struct {
	SessionID string     `json:"sessionId"`
	Commands  []*Command `json:"commands"`
}

// Command 是会话中执行过的一条命令，ExitCode 在命令结束前为 nil。
type Command struct {
	ID       string     `json:"id"`
	Command  string     `json:"command"`
	ExitCode *int       `json:"exitCode,omitempty"`
	Started  *time.Time `json:"startedAt,omitempty"`
	Ended    *time.Time `json:"endedAt,omitempty"`
}

// SessionExecuteRequest 会话命令。RunAsync 为 true 时立即返回命令 ID。
type SessionExecuteRequest struct {
	Command  string `json:"command"`
	RunAsync bool   `json:"runAsync,omitempty"`
}

// SessionExecuteResponse 会话命令的结果，异步执行时只有 CmdID。
type SessionExecuteResponse struct {
	CmdID    string `json:"cmdId"`
	Output   string `json:"output"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exitCode,omitempty"`
}

// SessionCommandLogs 是会话命令的完整日志。
type SessionCommandLogs struct {
	Output string `json:"output"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}
