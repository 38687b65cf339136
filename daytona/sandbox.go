package daytona

import (
	"context"
	"errors"
	"math"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/daytonaio/sdk-go/internal/api"
	"github.com/daytonaio/sdk-go/internal/backoff"
	"github.com/daytonaio/sdk-go/internal/stream"
	"github.com/daytonaio/sdk-go/internal/toolbox"
)

// 预览链接与 SSH 凭证的默认有效期。
const (
	DefaultSignedPreviewTTL = 60 * time.Second
	DefaultSSHAccessTTL     = 60 * time.Minute
)

// Sandbox 是一个沙箱的句柄。本地信息在每次变更操作后刷新，等待状态时也会被事件更新。
// 句柄不拥有底层连接，所属 Client 关闭后所有操作返回 KindClosed 错误。
type Sandbox struct {
	client  *Client
	toolbox *toolbox.Sandbox
	builder codeBuilder

	mu   sync.RWMutex
	info SandboxInfo

	dirMu   sync.Mutex
	homeDir string
	workDir string

	// 子模块（懒初始化）
	fsOnce sync.Once
	fs     *FileSystem

	processOnce sync.Once
	process     *Process

	gitOnce sync.Once
	git     *Git

	computerUseOnce sync.Once
	computerUse     *ComputerUse

	interpreterOnce sync.Once
	interpreter     *CodeInterpreter
}

// ID 返回沙箱 ID。
func (s *Sandbox) ID() string { return s.toolbox.ID() }

// Name 返回沙箱名称。
func (s *Sandbox) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.Name
}

// State 返回本地记录的状态。
func (s *Sandbox) State() SandboxState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.State
}

// Info 返回本地记录的沙箱信息副本。
func (s *Sandbox) Info() SandboxInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := s.info
	info.Labels = copyMap(s.info.Labels)
	info.Env = copyMap(s.info.Env)
	return info
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Sandbox) setInfo(dto *api.Sandbox) {
	if dto == nil {
		return
	}
	info := sandboxInfoFromAPI(dto)
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
}

func (s *Sandbox) setState(state SandboxState) {
	s.mu.Lock()
	s.info.State = state
	s.mu.Unlock()
}

func (s *Sandbox) checkOpen(op string) error {
	return s.client.checkOpen(op)
}

// Refresh 从控制面刷新本地信息。
func (s *Sandbox) Refresh(ctx context.Context, opts ...Option) error {
	const op = "Failed to refresh sandbox data"
	ctx, cancel, _, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return err
	}
	return wrapError(op, s.refresh(ctx))
}

func (s *Sandbox) refresh(ctx context.Context) error {
	if err := s.checkOpen(""); err != nil {
		return err
	}
	dto, err := s.client.api.GetSandbox(ctx, s.ID())
	if err != nil {
		return err
	}
	s.setInfo(dto)
	return nil
}

// refreshAfterRemoval 刷新本地信息，沙箱已不存在时把状态记为 destroyed。
func (s *Sandbox) refreshAfterRemoval(ctx context.Context) error {
	err := s.refresh(ctx)
	if err == nil {
		return nil
	}
	if IsNotFound(wrapError("", err)) {
		s.setState(StateDestroyed)
		return nil
	}
	return err
}

// Start 启动沙箱并等待其进入 started 状态。
func (s *Sandbox) Start(ctx context.Context, opts ...Option) error {
	const op = "Failed to start sandbox"
	ctx, cancel, o, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return err
	}
	if err := s.checkOpen(op); err != nil {
		return err
	}
	dto, err := s.client.api.StartSandbox(ctx, s.ID())
	if err != nil {
		return wrapError(op, err)
	}
	s.setInfo(dto)
	return s.waitFor(ctx, op, isState(StateStarted), []SandboxState{StateError, StateBuildFailed}, o.pollPeriod)
}

// Stop 停止沙箱并等待其进入 stopped 状态。设置了停止后删除的沙箱会进入 destroyed 状态。
func (s *Sandbox) Stop(ctx context.Context, opts ...Option) error {
	const op = "Failed to stop sandbox"
	ctx, cancel, o, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return err
	}
	if err := s.checkOpen(op); err != nil {
		return err
	}
	if _, err := s.client.api.StopSandbox(ctx, s.ID()); err != nil {
		return wrapError(op, err)
	}
	if err := s.refreshAfterRemoval(ctx); err != nil {
		return wrapError(op, err)
	}
	return s.waitFor(ctx, op, isState(StateStopped, StateDestroyed), []SandboxState{StateError}, o.pollPeriod)
}

// Delete 删除沙箱。刷新时沙箱已不存在不视为错误。
func (s *Sandbox) Delete(ctx context.Context, opts ...Option) error {
	const op = "Failed to delete sandbox"
	ctx, cancel, _, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return err
	}
	if err := s.checkOpen(op); err != nil {
		return err
	}
	if err := s.client.api.DeleteSandbox(ctx, s.ID()); err != nil {
		return wrapError(op, err)
	}
	return wrapError(op, s.refreshAfterRemoval(ctx))
}

// Recover 恢复处于可恢复错误状态的沙箱，并等待其启动。
func (s *Sandbox) Recover(ctx context.Context, opts ...Option) error {
	const op = "Failed to recover sandbox"
	ctx, cancel, o, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return err
	}
	if err := s.checkOpen(op); err != nil {
		return err
	}
	dto, err := s.client.api.RecoverSandbox(ctx, s.ID())
	if err != nil {
		return wrapError(op, err)
	}
	s.setInfo(dto)
	return s.waitFor(ctx, op, isState(StateStarted), []SandboxState{StateError, StateBuildFailed}, o.pollPeriod)
}

// Archive 归档已停止的沙箱。
func (s *Sandbox) Archive(ctx context.Context, opts ...Option) error {
	const op = "Failed to archive sandbox"
	ctx, cancel, _, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return err
	}
	if err := s.checkOpen(op); err != nil {
		return err
	}
	if _, err := s.client.api.ArchiveSandbox(ctx, s.ID()); err != nil {
		return wrapError(op, err)
	}
	return wrapError(op, s.refresh(ctx))
}

// Resize 调整沙箱资源并等待调整完成。
// CPU 与内存只能增加，运行中也可以调整；磁盘只能增加，且只能在沙箱停止后调整。
func (s *Sandbox) Resize(ctx context.Context, params ResizeParams, opts ...Option) error {
	const op = "Failed to resize sandbox"
	ctx, cancel, o, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return err
	}
	if err := defaultValidator.Validate(op, &params); err != nil {
		return err
	}
	if err := s.checkResize(op, params); err != nil {
		return err
	}
	if err := s.checkOpen(op); err != nil {
		return err
	}
	dto, err := s.client.api.ResizeSandbox(ctx, s.ID(), params.toAPI())
	if err != nil {
		return wrapError(op, err)
	}
	s.setInfo(dto)
	return s.WaitForResize(ctx, withPollInterval(o.pollPeriod))
}

func (s *Sandbox) checkResize(op string, p ResizeParams) error {
	if p.CPU == nil && p.Memory == nil && p.Disk == nil {
		return validationError(op, "at least one of CPU, memory or disk must be specified")
	}
	info := s.Info()
	changed := false
	check := func(name string, want *int, current float64) error {
		if want == nil {
			return nil
		}
		switch {
		case float64(*want) < current:
			return validationError(op, "%s cannot be decreased (current %v, requested %d)", name, current, *want)
		case float64(*want) != current:
			changed = true
		}
		return nil
	}
	if err := check("CPU", p.CPU, info.CPU); err != nil {
		return err
	}
	if err := check("memory", p.Memory, info.Memory); err != nil {
		return err
	}
	if err := check("disk", p.Disk, info.Disk); err != nil {
		return err
	}
	if p.Disk != nil && float64(*p.Disk) != info.Disk && info.State != StateStopped {
		return validationError(op, "disk can only be resized while the sandbox is stopped")
	}
	if !changed {
		return validationError(op, "resize request does not change any resource")
	}
	return nil
}

// SetLabels 替换沙箱的全部标签。
func (s *Sandbox) SetLabels(ctx context.Context, labels map[string]string) (map[string]string, error) {
	const op = "Failed to set labels"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	if labels == nil {
		labels = map[string]string{}
	}
	updated, err := s.client.api.ReplaceLabels(ctx, s.ID(), labels)
	if err != nil {
		return nil, wrapError(op, err)
	}
	s.mu.Lock()
	s.info.Labels = copyMap(updated)
	s.mu.Unlock()
	return copyMap(updated), nil
}

// SetPublic 设置预览链接是否无需 token 即可访问。
func (s *Sandbox) SetPublic(ctx context.Context, public bool) error {
	const op = "Failed to update public status"
	if err := s.checkOpen(op); err != nil {
		return err
	}
	if err := s.client.api.UpdatePublicStatus(ctx, s.ID(), public); err != nil {
		return wrapError(op, err)
	}
	s.mu.Lock()
	s.info.Public = public
	s.mu.Unlock()
	return nil
}

// SetAutoStopInterval 设置无活动后自动停止的间隔（分钟），0 表示不自动停止。
func (s *Sandbox) SetAutoStopInterval(ctx context.Context, minutes int) error {
	const op = "Failed to set auto-stop interval"
	if minutes < 0 {
		return validationError(op, "auto-stop interval must be a non-negative integer")
	}
	if err := s.checkOpen(op); err != nil {
		return err
	}
	if err := s.client.api.SetAutostopInterval(ctx, s.ID(), minutes); err != nil {
		return wrapError(op, err)
	}
	s.mu.Lock()
	s.info.AutoStopInterval = minutes
	s.mu.Unlock()
	return nil
}

// SetAutoArchiveInterval 设置停止后自动归档的间隔（分钟），0 表示使用最大间隔。
func (s *Sandbox) SetAutoArchiveInterval(ctx context.Context, minutes int) error {
	const op = "Failed to set auto-archive interval"
	if minutes < 0 {
		return validationError(op, "auto-archive interval must be a non-negative integer")
	}
	if err := s.checkOpen(op); err != nil {
		return err
	}
	if err := s.client.api.SetAutoArchiveInterval(ctx, s.ID(), minutes); err != nil {
		return wrapError(op, err)
	}
	s.mu.Lock()
	s.info.AutoArchiveInterval = minutes
	s.mu.Unlock()
	return nil
}

// SetAutoDeleteInterval 设置停止后自动删除的间隔（分钟）。
// 负数表示不自动删除，0 表示停止后立即删除。
func (s *Sandbox) SetAutoDeleteInterval(ctx context.Context, minutes int) error {
	const op = "Failed to set auto-delete interval"
	if err := s.checkOpen(op); err != nil {
		return err
	}
	if err := s.client.api.SetAutoDeleteInterval(ctx, s.ID(), minutes); err != nil {
		return wrapError(op, err)
	}
	s.mu.Lock()
	s.info.AutoDeleteInterval = minutes
	s.mu.Unlock()
	return nil
}

// GetPreviewLink 返回端口的预览链接。沙箱非公开时，访问方需要携带返回的 token。
func (s *Sandbox) GetPreviewLink(ctx context.Context, port int) (*PreviewLink, error) {
	const op = "Failed to get preview link"
	if port <= 0 || port > math.MaxUint16 {
		return nil, validationError(op, "invalid port %d", port)
	}
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	resp, err := s.client.api.GetPortPreviewURL(ctx, s.ID(), port)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if resp.URL == "" {
		return nil, newError(KindServer, op, "control plane returned an empty preview URL")
	}
	return &PreviewLink{URL: resp.URL, Token: resp.Token}, nil
}

// CreateSignedPreviewURL 返回内嵌 token 的预览链接，ttl 为 0 时有效期为 60 秒。
func (s *Sandbox) CreateSignedPreviewURL(ctx context.Context, port int, ttl time.Duration) (*SignedPreviewURL, error) {
	const op = "Failed to create signed preview URL"
	if port <= 0 || port > math.MaxUint16 {
		return nil, validationError(op, "invalid port %d", port)
	}
	if ttl < 0 {
		return nil, validationError(op, "expiration must be non-negative")
	}
	if ttl == 0 {
		ttl = DefaultSignedPreviewTTL
	}
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	resp, err := s.client.api.GetSignedPortPreviewURL(ctx, s.ID(), port, int(math.Ceil(ttl.Seconds())))
	if err != nil {
		return nil, wrapError(op, err)
	}
	if resp.URL == "" {
		return nil, newError(KindServer, op, "control plane returned an empty preview URL")
	}
	return &SignedPreviewURL{SandboxID: resp.SandboxID, Port: resp.Port, Token: resp.Token, URL: resp.URL}, nil
}

// CreateSSHAccess 签发 SSH 访问凭证，ttl 为 0 时有效期为 60 分钟。
func (s *Sandbox) CreateSSHAccess(ctx context.Context, ttl time.Duration) (*SSHAccess, error) {
	const op = "Failed to create SSH access"
	if ttl < 0 {
		return nil, validationError(op, "expiration must be non-negative")
	}
	if ttl == 0 {
		ttl = DefaultSSHAccessTTL
	}
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	resp, err := s.client.api.CreateSSHAccess(ctx, s.ID(), int(math.Ceil(ttl.Minutes())))
	if err != nil {
		return nil, wrapError(op, err)
	}
	return sshAccessFromAPI(resp), nil
}

// RevokeSSHAccess 吊销 SSH 访问凭证。
func (s *Sandbox) RevokeSSHAccess(ctx context.Context, token string) error {
	const op = "Failed to revoke SSH access"
	if err := s.checkOpen(op); err != nil {
		return err
	}
	return wrapError(op, s.client.api.RevokeSSHAccess(ctx, s.ID(), token))
}

// GetBuildLogs 跟随沙箱的构建日志，直到沙箱离开构建阶段。
func (s *Sandbox) GetBuildLogs(ctx context.Context, onChunk func(chunk string), opts ...Option) error {
	const op = "Failed to get build logs"
	ctx, cancel, _, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return err
	}
	if err := s.checkOpen(op); err != nil {
		return err
	}
	return wrapError(op, s.streamBuildLogs(ctx, onChunk))
}

// followBuildLogs 等待沙箱离开 pending_build 后转发构建日志。
func (s *Sandbox) followBuildLogs(ctx context.Context, onChunk func(string)) error {
	_, err := pollLoop(ctx, backoff.Fixed(time.Second), func(ctx context.Context) (bool, struct{}, error) {
		if s.State() != StatePendingBuild {
			return true, struct{}{}, nil
		}
		if err := s.refresh(ctx); err != nil {
			return false, struct{}{}, err
		}
		return s.State() != StatePendingBuild, struct{}{}, nil
	})
	if err != nil {
		return err
	}
	return s.streamBuildLogs(ctx, onChunk)
}

func (s *Sandbox) streamBuildLogs(ctx context.Context, onChunk func(string)) error {
	body, err := s.client.api.GetBuildLogs(ctx, s.ID(), true)
	if err != nil {
		return err
	}
	return stream.Consume(ctx, body, onChunk, func(ctx context.Context) (bool, error) {
		if err := s.refreshAfterRemoval(ctx); err != nil {
			return false, err
		}
		switch s.State() {
		case StateStarted, StateStarting, StateError, StateBuildFailed, StateDestroyed:
			return true, nil
		}
		return false, nil
	}, nil)
}

type dirResponse struct {
	Dir string `json:"dir"`
}

// GetUserHomeDir 返回沙箱用户的主目录。
func (s *Sandbox) GetUserHomeDir(ctx context.Context) (string, error) {
	const op = "Failed to get user home directory"
	dir, err := s.cachedDir(ctx, &s.homeDir, "/user-home-dir")
	return dir, wrapError(op, err)
}

// GetWorkDir 返回沙箱的工作目录。
func (s *Sandbox) GetWorkDir(ctx context.Context) (string, error) {
	const op = "Failed to get working directory"
	dir, err := s.cachedDir(ctx, &s.workDir, "/work-dir")
	return dir, wrapError(op, err)
}

func (s *Sandbox) cachedDir(ctx context.Context, slot *string, endpoint string) (string, error) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	if *slot != "" {
		return *slot, nil
	}
	if err := s.checkOpen(""); err != nil {
		return "", err
	}
	var resp dirResponse
	if err := s.toolbox.DoJSON(ctx, http.MethodGet, endpoint, nil, nil, &resp); err != nil {
		return "", err
	}
	if resp.Dir == "" {
		return "", errors.New("toolbox returned an empty directory")
	}
	*slot = resp.Dir
	return resp.Dir, nil
}

// resolvePath 把 ~ 开头的路径展开到用户主目录，把相对路径解析到工作目录。
func (s *Sandbox) resolvePath(ctx context.Context, p string) (string, error) {
	switch {
	case p == "~" || strings.HasPrefix(p, "~/"):
		home, err := s.cachedDir(ctx, &s.homeDir, "/user-home-dir")
		if err != nil {
			return "", err
		}
		return path.Join(home, strings.TrimPrefix(p, "~")), nil
	case strings.HasPrefix(p, "/"):
		return p, nil
	default:
		work, err := s.cachedDir(ctx, &s.workDir, "/work-dir")
		if err != nil {
			return "", err
		}
		return path.Join(work, p), nil
	}
}

// FileSystem 返回文件系统操作接口。
func (s *Sandbox) FileSystem() *FileSystem {
	s.fsOnce.Do(func() { s.fs = &FileSystem{sandbox: s} })
	return s.fs
}

// Process 返回命令执行接口。
func (s *Sandbox) Process() *Process {
	s.processOnce.Do(func() { s.process = &Process{sandbox: s} })
	return s.process
}

// Git 返回 Git 操作接口。
func (s *Sandbox) Git() *Git {
	s.gitOnce.Do(func() { s.git = &Git{sandbox: s} })
	return s.git
}

// ComputerUse 返回桌面操作接口。
func (s *Sandbox) ComputerUse() *ComputerUse {
	s.computerUseOnce.Do(func() { s.computerUse = newComputerUse(s) })
	return s.computerUse
}

// CodeInterpreter 返回有状态的代码解释器。
func (s *Sandbox) CodeInterpreter() *CodeInterpreter {
	s.interpreterOnce.Do(func() { s.interpreter = &CodeInterpreter{sandbox: s} })
	return s.interpreter
}

// LSP 返回指定语言与项目根目录的语言服务器客户端。
func (s *Sandbox) LSP(languageID LSPLanguageID, projectPath string) *LSPServer {
	return &LSPServer{sandbox: s, languageID: languageID, projectPath: projectPath}
}
