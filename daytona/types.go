package daytona

import (
	"time"

	"github.com/daytonaio/sdk-go/internal/api"
)

// ---------------------------------------------------------------------------
// 沙箱相关类型
// ---------------------------------------------------------------------------

// SandboxState 沙箱状态。
type SandboxState = api.SandboxState

// 沙箱状态常量。
const (
	StatePendingBuild = api.SandboxStatePendingBuild
	StateBuilding     = api.SandboxStateBuilding
	StateCreating     = api.SandboxStateCreating
	StateStarting     = api.SandboxStateStarting
	StateStarted      = api.SandboxStateStarted
	StateStopping     = api.SandboxStateStopping
	StateStopped      = api.SandboxStateStopped
	StateResizing     = api.SandboxStateResizing
	StateArchiving    = api.SandboxStateArchiving
	StateArchived     = api.SandboxStateArchived
	StateError        = api.SandboxStateError
	StateBuildFailed  = api.SandboxStateBuildFailed
	StateDestroying   = api.SandboxStateDestroying
	StateDestroyed    = api.SandboxStateDestroyed
	StateUnknown      = api.SandboxStateUnknown
)

// VolumeMount 挂载进沙箱的卷。
type VolumeMount = api.VolumeMount

// Resources 沙箱资源，CPU 为核数，Memory 与 Disk 单位为 GiB。
type Resources struct {
	CPU    int `validate:"gte=0"`
	GPU    int `validate:"gte=0"`
	Memory int `validate:"gte=0"`
	Disk   int `validate:"gte=0"`
}

// BuildInfo 由声明式镜像构建出的沙箱或快照的构建信息。
type BuildInfo struct {
	DockerfileContent string
	ContextHashes     []string
	SnapshotRef       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SandboxInfo 沙箱详细信息。
type SandboxInfo struct {
	ID             string
	Name           string
	OrganizationID string
	// Snapshot 为空表示沙箱不是从快照创建的
	Snapshot string
	User     string
	Env      map[string]string
	Labels   map[string]string
	Public   bool
	Target   string

	// CPU 核数，GPU 个数，Memory 与 Disk 单位为 GiB
	CPU    float64
	GPU    float64
	Memory float64
	Disk   float64

	State        SandboxState
	DesiredState string
	ErrorReason  string
	Recoverable  bool

	BackupState     string
	BackupCreatedAt time.Time

	// AutoStopInterval 单位为分钟，0 表示不自动停止
	AutoStopInterval int
	// AutoArchiveInterval 单位为分钟，0 表示使用最大间隔
	AutoArchiveInterval int
	// AutoDeleteInterval 单位为分钟，负数表示不自动删除，0 表示停止后立即删除
	AutoDeleteInterval int

	Volumes          []VolumeMount
	BuildInfo        *BuildInfo
	NetworkBlockAll  bool
	NetworkAllowList string
	ToolboxProxyURL  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateParams 创建沙箱的请求参数。Snapshot、Image、ImageName 至多设置一个，
// 都为空时使用控制面的默认快照。
type CreateParams struct {
	// Name 沙箱名称，可选。
	Name string

	// Snapshot 快照名称，可选。
	Snapshot string

	// ImageName 已存在的镜像，如 "python:3.12-slim"，可选。
	ImageName string

	// Image 声明式镜像，会先上传构建上下文再构建，可选。
	Image *Image

	// Language CodeRun 使用的语言：python（默认）、javascript、typescript。
	Language string `validate:"omitempty,oneof=python javascript typescript"`

	// User 沙箱内的操作系统用户。
	User string

	// Env 环境变量。
	Env map[string]string

	// Labels 标签。
	Labels map[string]string

	// Public 预览链接是否无需 token 即可访问。
	Public bool

	// Resources 资源规格，仅在使用镜像创建时有效。
	Resources *Resources `validate:"omitempty"`

	// AutoStopInterval 自动停止间隔（分钟），不能为负数。
	AutoStopInterval *int `validate:"omitempty,gte=0"`

	// AutoArchiveInterval 自动归档间隔（分钟），不能为负数。
	AutoArchiveInterval *int `validate:"omitempty,gte=0"`

	// AutoDeleteInterval 自动删除间隔（分钟），负数表示不自动删除。
	AutoDeleteInterval *int

	// Ephemeral 停止后立即删除，等价于 AutoDeleteInterval 为 0。
	Ephemeral bool

	// Volumes 挂载的卷。
	Volumes []VolumeMount `validate:"dive"`

	// NetworkBlockAll 阻断所有出站流量。
	NetworkBlockAll bool

	// NetworkAllowList 允许的出站 CIDR，逗号分隔。
	NetworkAllowList string
}

// ListParams 游标分页查询参数，结果按创建时间倒序。
type ListParams struct {
	Cursor string
	Limit  int `validate:"gte=0"`
	States []SandboxState
}

// ListResult 游标分页查询结果，NextCursor 为空表示没有更多数据。
type ListResult struct {
	Items      []*Sandbox
	NextCursor string
}

// PaginatedSandboxes 按页码分页的查询结果。
type PaginatedSandboxes struct {
	Items      []*Sandbox
	Total      int
	Page       int
	TotalPages int
}

// PreviewLink 端口预览链接。沙箱非公开时，访问需要携带 Token。
type PreviewLink struct {
	URL   string
	Token string
}

// SignedPreviewURL 内嵌 token 的预览链接。
type SignedPreviewURL struct {
	SandboxID string
	Port      int
	Token     string
	URL       string
}

// SSHAccess SSH 访问凭证。
type SSHAccess struct {
	ID         string
	SandboxID  string
	Token      string
	SSHCommand string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// SSHAccessValidation SSH 凭证校验结果。
type SSHAccessValidation struct {
	Valid     bool
	SandboxID string
}

// ResizeParams 调整资源的请求参数，未设置的字段保持不变。
type ResizeParams struct {
	CPU    *int `validate:"omitempty,gt=0"`
	Memory *int `validate:"omitempty,gt=0"`
	Disk   *int `validate:"omitempty,gt=0"`
}

// ---------------------------------------------------------------------------
// 快照与卷
// ---------------------------------------------------------------------------

// SnapshotState 快照状态。
type SnapshotState = api.SnapshotState

// 快照状态常量。
const (
	SnapshotBuildPending      = api.SnapshotStateBuildPending
	SnapshotPending           = api.SnapshotStatePending
	SnapshotPendingValidation = api.SnapshotStatePendingValidation
	SnapshotValidating        = api.SnapshotStateValidating
	SnapshotBuilding          = api.SnapshotStateBuilding
	SnapshotActive            = api.SnapshotStateActive
	SnapshotInactive          = api.SnapshotStateInactive
	SnapshotError             = api.SnapshotStateError
	SnapshotBuildFailed       = api.SnapshotStateBuildFailed
	SnapshotRemoving          = api.SnapshotStateRemoving
)

// Snapshot 可复用的沙箱模板。
type Snapshot struct {
	ID             string
	OrganizationID string
	General        bool
	Name           string
	ImageName      string
	State          SnapshotState
	// Size 单位为 GB，构建完成前为 0
	Size        float64
	Entrypoint  []string
	CPU         float64
	GPU         float64
	Memory      float64
	Disk        float64
	ErrorReason string
	BuildInfo   *BuildInfo
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastUsedAt  time.Time
}

// CreateSnapshotParams 创建快照的请求参数。ImageName 与 Image 必须设置其中一个。
type CreateSnapshotParams struct {
	Name       string `validate:"required"`
	ImageName  string
	Image      *Image
	Entrypoint []string
	Resources  *Resources `validate:"omitempty"`
}

// PaginatedSnapshots 快照分页结果。
type PaginatedSnapshots struct {
	Items      []*Snapshot
	Total      int
	Page       int
	TotalPages int
}

// VolumeState 卷状态。
type VolumeState = api.VolumeState

// 卷状态常量。
const (
	VolumeCreating      = api.VolumeStateCreating
	VolumeReady         = api.VolumeStateReady
	VolumePendingCreate = api.VolumeStatePendingCreate
	VolumePendingDelete = api.VolumeStatePendingDelete
	VolumeDeleting      = api.VolumeStateDeleting
	VolumeDeleted       = api.VolumeStateDeleted
	VolumeError         = api.VolumeStateError
)

// Volume 持久化存储卷。
type Volume struct {
	ID             string
	Name           string
	OrganizationID string
	State          VolumeState
	ErrorReason    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     time.Time
}

// ---------------------------------------------------------------------------
// 控制面类型转换为 SDK 类型
// ---------------------------------------------------------------------------

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func intOr(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}

func buildInfoFromAPI(b *api.BuildInfo) *BuildInfo {
	if b == nil {
		return nil
	}
	return &BuildInfo{
		DockerfileContent: b.DockerfileContent,
		ContextHashes:     b.ContextHashes,
		SnapshotRef:       b.SnapshotRef,
		CreatedAt:         parseTime(b.CreatedAt),
		UpdatedAt:         parseTime(b.UpdatedAt),
	}
}

func sandboxInfoFromAPI(s *api.Sandbox) SandboxInfo {
	info := SandboxInfo{
		ID:                  s.ID,
		Name:                s.Name,
		OrganizationID:      s.OrganizationID,
		User:                s.User,
		Env:                 s.Env,
		Labels:              s.Labels,
		Public:              s.Public,
		Target:              s.Target,
		CPU:                 s.CPU,
		GPU:                 s.GPU,
		Memory:              s.Memory,
		Disk:                s.Disk,
		State:               s.State,
		DesiredState:        s.DesiredState,
		ErrorReason:         s.ErrorReason,
		Recoverable:         s.Recoverable,
		BackupState:         s.BackupState,
		BackupCreatedAt:     parseTime(s.BackupCreatedAt),
		AutoStopInterval:    intOr(s.AutoStopInterval, 0),
		AutoArchiveInterval: intOr(s.AutoArchiveInterval, 0),
		AutoDeleteInterval:  intOr(s.AutoDeleteInterval, -1),
		Volumes:             s.Volumes,
		BuildInfo:           buildInfoFromAPI(s.BuildInfo),
		NetworkBlockAll:     s.NetworkBlockAll,
		NetworkAllowList:    s.NetworkAllowList,
		ToolboxProxyURL:     s.ToolboxProxyURL,
		CreatedAt:           parseTime(s.CreatedAt),
		UpdatedAt:           parseTime(s.UpdatedAt),
	}
	if s.Snapshot != nil {
		info.Snapshot = *s.Snapshot
	}
	if info.State == "" {
		info.State = StateUnknown
	}
	return info
}

func snapshotFromAPI(s *api.Snapshot) *Snapshot {
	snap := &Snapshot{
		ID:             s.ID,
		OrganizationID: s.OrganizationID,
		General:        s.General,
		Name:           s.Name,
		ImageName:      s.ImageName,
		State:          s.State,
		Entrypoint:     s.Entrypoint,
		CPU:            s.CPU,
		GPU:            s.GPU,
		Memory:         s.Mem,
		Disk:           s.Disk,
		ErrorReason:    s.ErrorReason,
		BuildInfo:      buildInfoFromAPI(s.BuildInfo),
		CreatedAt:      parseTime(s.CreatedAt),
		UpdatedAt:      parseTime(s.UpdatedAt),
		LastUsedAt:     parseTime(s.LastUsedAt),
	}
	if s.Size != nil {
		snap.Size = *s.Size
	}
	return snap
}

func volumeFromAPI(v *api.Volume) *Volume {
	return &Volume{
		ID:             v.ID,
		Name:           v.Name,
		OrganizationID: v.OrganizationID,
		State:          v.State,
		ErrorReason:    v.ErrorReason,
		CreatedAt:      parseTime(v.CreatedAt),
		UpdatedAt:      parseTime(v.UpdatedAt),
		LastUsedAt:     parseTime(v.LastUsedAt),
	}
}

func sshAccessFromAPI(a *api.SSHAccess) *SSHAccess {
	return &SSHAccess{
		ID:         a.ID,
		SandboxID:  a.SandboxID,
		Token:      a.Token,
		SSHCommand: a.SSHCommand,
		ExpiresAt:  parseTime(a.ExpiresAt),
		CreatedAt:  parseTime(a.CreatedAt),
	}
}

// ---------------------------------------------------------------------------
// SDK 类型转换为控制面请求
// ---------------------------------------------------------------------------

func (p *ListParams) toAPI() api.ListSandboxesParams {
	if p == nil {
		return api.ListSandboxesParams{}
	}
	return api.ListSandboxesParams{
		Cursor: p.Cursor,
		Limit:  p.Limit,
		States: p.States,
	}
}

func (p *ResizeParams) toAPI() api.ResizeSandboxRequest {
	return api.ResizeSandboxRequest{CPU: p.CPU, Memory: p.Memory, Disk: p.Disk}
}
