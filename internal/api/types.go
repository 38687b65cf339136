package api

// SandboxState 是沙箱在控制面上的生命周期状态。
type SandboxState string

const (
	SandboxStatePendingBuild SandboxState = "pending_build"
	SandboxStateBuilding     SandboxState = "building"
	SandboxStateCreating     SandboxState = "creating"
	SandboxStateStarting     SandboxState = "starting"
	SandboxStateStarted      SandboxState = "started"
	SandboxStateStopping     SandboxState = "stopping"
	SandboxStateStopped      SandboxState = "stopped"
	SandboxStateResizing     SandboxState = "resizing"
	SandboxStateArchiving    SandboxState = "archiving"
	SandboxStateArchived     SandboxState = "archived"
	SandboxStateError        SandboxState = "error"
	SandboxStateBuildFailed  SandboxState = "build_failed"
	SandboxStateDestroying   SandboxState = "destroying"
	SandboxStateDestroyed    SandboxState = "destroyed"
	SandboxStateUnknown      SandboxState = "unknown"
)

// IsTerminal 报告沙箱是否已无法再迁移到其他状态。
func (s SandboxState) IsTerminal() bool {
	switch s {
	case SandboxStateError, SandboxStateBuildFailed, SandboxStateDestroyed:
		return true
	}
	return false
}

// IsStable 报告沙箱是否处于空闲的稳定状态。
func (s SandboxState) IsStable() bool {
	switch s {
	case SandboxStateStarted, SandboxStateStopped, SandboxStateArchived:
		return true
	}
	return false
}

// BuildInfo 是由声明式镜像构建出的沙箱的构建信息。
type BuildInfo struct {
	DockerfileContent string   `json:"dockerfileContent,omitempty"`
	ContextHashes     []string `json:"contextHashes,omitempty"`
	SnapshotRef       string   `json:"snapshotRef,omitempty"`
	CreatedAt         string   `json:"createdAt,omitempty"`
	UpdatedAt         string   `json:"updatedAt,omitempty"`
}

// VolumeMount 描述挂载进沙箱的卷。
type VolumeMount struct {
	VolumeID  string `json:"volumeId" validate:"required"`
	MountPath string `json:"mountPath" validate:"required"`
	Subpath   string `json:"subpath,omitempty"`
}

// Sandbox 是控制面返回的沙箱视图。
type Sandbox struct {
	ID                  string            `json:"id"`
	OrganizationID      string            `json:"organizationId"`
	Name                string            `json:"name"`
	Snapshot            *string           `json:"snapshot,omitempty"`
	User                string            `json:"user"`
	Env                 map[string]string `json:"env"`
	Labels              map[string]string `json:"labels"`
	Public              bool              `json:"public"`
	Target              string            `json:"target"`
	CPU                 float64           `json:"cpu"`
	GPU                 float64           `json:"gpu"`
	Memory              float64           `json:"memory"`
	Disk                float64           `json:"disk"`
	State               SandboxState      `json:"state"`
	DesiredState        string            `json:"desiredState,omitempty"`
	ErrorReason         string            `json:"errorReason,omitempty"`
	Recoverable         bool              `json:"recoverable,omitempty"`
	BackupState         string            `json:"backupState,omitempty"`
	BackupCreatedAt     string            `json:"backupCreatedAt,omitempty"`
	AutoStopInterval    *int              `json:"autoStopInterval,omitempty"`
	AutoArchiveInterval *int              `json:"autoArchiveInterval,omitempty"`
	AutoDeleteInterval  *int              `json:"autoDeleteInterval,omitempty"`
	Volumes             []VolumeMount     `json:"volumes,omitempty"`
	BuildInfo           *BuildInfo        `json:"buildInfo,omitempty"`
	NetworkBlockAll     bool              `json:"networkBlockAll,omitempty"`
	NetworkAllowList    string            `json:"networkAllowList,omitempty"`
	ToolboxProxyURL     string            `json:"toolboxProxyUrl,omitempty"`
	CreatedAt           string            `json:"createdAt,omitempty"`
	UpdatedAt           string            `json:"updatedAt,omitempty"`
}

// CreateBuildInfo 携带渲染后的 Dockerfile 与上传的上下文哈希。
type CreateBuildInfo struct {
	DockerfileContent string   `json:"dockerfileContent"`
	ContextHashes     []string `json:"contextHashes,omitempty"`
}

type CreateSandboxRequest struct {
	Name                string            `json:"name,omitempty"`
	Snapshot            string            `json:"snapshot,omitempty"`
	User                string            `json:"user,omitempty"`
	Env                 map[string]string `json:"env,omitempty"`
	Labels              map[string]string `json:"labels,omitempty"`
	Public              bool              `json:"public,omitempty"`
	Target              string            `json:"target,omitempty"`
	CPU                 int               `json:"cpu,omitempty"`
	GPU                 int               `json:"gpu,omitempty"`
	Memory              int               `json:"memory,omitempty"`
	Disk                int               `json:"disk,omitempty"`
	AutoStopInterval    *int              `json:"autoStopInterval,omitempty"`
	AutoArchiveInterval *int              `json:"autoArchiveInterval,omitempty"`
	AutoDeleteInterval  *int              `json:"autoDeleteInterval,omitempty"`
	Volumes             []VolumeMount     `json:"volumes,omitempty"`
	BuildInfo           *CreateBuildInfo  `json:"buildInfo,omitempty"`
	NetworkBlockAll     bool              `json:"networkBlockAll,omitempty"`
	NetworkAllowList    string            `json:"networkAllowList,omitempty"`
}

type ResizeSandboxRequest struct {
	CPU    *int `json:"cpu,omitempty"`
	Memory *int `json:"memory,omitempty"`
	Disk   *int `json:"disk,omitempty"`
}

type ListSandboxesParams struct {
	Cursor string
	Limit  int
	States []SandboxState
}

type ListSandboxesResponse struct {
	Items      []Sandbox `json:"items"`
	NextCursor *string   `json:"nextCursor"`
}

type PaginatedSandboxes struct {
	Items      []Sandbox `json:"items"`
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	TotalPages int       `json:"totalPages"`
}

type PortPreviewURL struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

type SignedPortPreviewURL struct {
	SandboxID string `json:"sandboxId"`
	Port      int    `json:"port"`
	Token     string `json:"token"`
	URL       string `json:"url"`
}

type SSHAccess struct {
	ID         string `json:"id"`
	SandboxID  string `json:"sandboxId"`
	Token      string `json:"token"`
	ExpiresAt  string `json:"expiresAt"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
	SSHCommand string `json:"sshCommand"`
}

type SSHAccessValidation struct {
	Valid     bool   `json:"valid"`
	SandboxID string `json:"sandboxId"`
}

type ToolboxProxyURL struct {
	URL string `json:"url"`
}

// SnapshotState 是快照的构建状态。
type SnapshotState string

const (
	SnapshotStateBuildPending      SnapshotState = "build_pending"
	SnapshotStatePending           SnapshotState = "pending"
	SnapshotStatePendingValidation SnapshotState = "pending_validation"
	SnapshotStateValidating        SnapshotState = "validating"
	SnapshotStateBuilding          SnapshotState = "building"
	SnapshotStateActive            SnapshotState = "active"
	SnapshotStateInactive          SnapshotState = "inactive"
	SnapshotStateError             SnapshotState = "error"
	SnapshotStateBuildFailed       SnapshotState = "build_failed"
	SnapshotStateRemoving          SnapshotState = "removing"
)

// IsTerminal 报告快照是否已构建结束（成功或失败）。
func (s SnapshotState) IsTerminal() bool {
	switch s {
	case SnapshotStateActive, SnapshotStateError, SnapshotStateBuildFailed:
		return true
	}
	return false
}

type Snapshot struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organizationId,omitempty"`
	General        bool          `json:"general"`
	Name           string        `json:"name"`
	ImageName      string        `json:"imageName,omitempty"`
	State          SnapshotState `json:"state"`
	Size           *float64      `json:"size,omitempty"`
	Entrypoint     []string      `json:"entrypoint,omitempty"`
	CPU            float64       `json:"cpu"`
	GPU            float64       `json:"gpu"`
	Mem            float64       `json:"mem"`
	Disk           float64       `json:"disk"`
	ErrorReason    string        `json:"errorReason,omitempty"`
	BuildInfo      *BuildInfo    `json:"buildInfo,omitempty"`
	CreatedAt      string        `json:"createdAt,omitempty"`
	UpdatedAt      string        `json:"updatedAt,omitempty"`
	LastUsedAt     string        `json:"lastUsedAt,omitempty"`
}

type CreateSnapshotRequest struct {
	Name       string           `json:"name"`
	ImageName  string           `json:"imageName,omitempty"`
	Entrypoint []string         `json:"entrypoint,omitempty"`
	CPU        int              `json:"cpu,omitempty"`
	GPU        int              `json:"gpu,omitempty"`
	Memory     int              `json:"memory,omitempty"`
	Disk       int              `json:"disk,omitempty"`
	BuildInfo  *CreateBuildInfo `json:"buildInfo,omitempty"`
}

type PaginatedSnapshots struct {
	Items      []Snapshot `json:"items"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	TotalPages int        `json:"totalPages"`
}

// VolumeState 是卷的状态。
type VolumeState string

const (
	VolumeStateCreating      VolumeState = "creating"
	VolumeStateReady         VolumeState = "ready"
	VolumeStatePendingCreate VolumeState = "pending_create"
	VolumeStatePendingDelete VolumeState = "pending_delete"
	VolumeStateDeleting      VolumeState = "deleting"
	VolumeStateDeleted       VolumeState = "deleted"
	VolumeStateError         VolumeState = "error"
)

type Volume struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	OrganizationID string      `json:"organizationId"`
	State          VolumeState `json:"state"`
	ErrorReason    string      `json:"errorReason,omitempty"`
	CreatedAt      string      `json:"createdAt,omitempty"`
	UpdatedAt      string      `json:"updatedAt,omitempty"`
	LastUsedAt     string      `json:"lastUsedAt,omitempty"`
}

// StorageAccess 是上传镜像构建上下文使用的临时凭证。
type StorageAccess struct {
	AccessKey      string `json:"accessKey"`
	Secret         string `json:"secret"`
	SessionToken   string `json:"sessionToken"`
	StorageURL     string `json:"storageUrl"`
	OrganizationID string `json:"organizationId"`
	Bucket         string `json:"bucket"`
}
