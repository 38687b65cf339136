package daytona

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/daytonaio/sdk-go/internal/api"
	"github.com/daytonaio/sdk-go/internal/clientv2"
	"github.com/daytonaio/sdk-go/internal/eventbus"
	"github.com/daytonaio/sdk-go/internal/imagecontext"
	"github.com/daytonaio/sdk-go/internal/toolbox"
)

// languageLabel 记录创建沙箱时选择的 CodeRun 语言。
const languageLabel = "code-toolbox-language"

// Client 是 Daytona 控制面的入口，可以被多个 goroutine 并发使用。
// 关闭后，由它创建的所有沙箱都不能再使用。
type Client struct {
	config Config
	logger *zap.Logger

	guard    *clientv2.ClosedGuard
	api      api.Interface
	toolbox  *toolbox.Client
	bus      *eventbus.Bus
	uploader *imagecontext.Uploader

	snapshots *SnapshotService
	volumes   *VolumeService

	closeOnce sync.Once
}

// NewClient 创建客户端。配置解析顺序见 Config。
func NewClient(config Config) (*Client, error) {
	config, err := config.resolve()
	if err != nil {
		return nil, err
	}

	guard := &clientv2.ClosedGuard{}
	headers := clientv2.HeaderConfig{
		Source:     config.Source,
		SDKVersion: Version,
		UserAgent:  userAgent(),
	}
	auth := clientv2.AuthConfig{
		APIKey:         config.APIKey,
		JWTToken:       config.JWTToken,
		OrganizationID: config.OrganizationID,
	}
	var httpClient clientv2.Client
	if config.HTTPClient != nil {
		httpClient = config.HTTPClient
	}
	httpClient = clientv2.NewClient(httpClient,
		guard,
		clientv2.NewDefaultHeaderInterceptor(headers),
		clientv2.NewAuthInterceptor(auth),
		clientv2.NewSimpleRetryInterceptor(clientv2.DefaultRetryOptions()),
		clientv2.NewDebugInterceptor(config.Logger),
	)

	wsHeader := http.Header{}
	headers.Apply(wsHeader)
	auth.Apply(wsHeader)

	apiClient := api.New(config.APIURL, httpClient)
	c := newClient(config, guard, apiClient, httpClient, wsHeader)
	return c, nil
}

func newClient(config Config, guard *clientv2.ClosedGuard, apiClient api.Interface, httpClient clientv2.Client, wsHeader http.Header) *Client {
	c := &Client{
		config: config,
		logger: config.Logger,
		guard:  guard,
		api:    apiClient,
		toolbox: toolbox.New(toolbox.Config{
			HTTP:     httpClient,
			Resolver: apiClient,
			Header:   wsHeader,
			Dialer:   websocket.DefaultDialer,
		}),
		uploader: &imagecontext.Uploader{
			Access: apiClient,
			Logger: config.Logger,
		},
	}
	if !config.DisableEventBus {
		token := config.APIKey
		if token == "" {
			token = config.JWTToken
		}
		c.bus = eventbus.New(eventbus.Config{
			APIURL:            config.APIURL,
			Token:             token,
			OrganizationID:    config.OrganizationID,
			Header:            wsHeader,
			HandshakeTimeout:  config.EventBus.HandshakeTimeout,
			DisconnectDelay:   config.EventBus.DisconnectDelay,
			Reconnect:         config.EventBus.reconnectBackoff(),
			ReconnectAttempts: config.EventBus.ReconnectAttempts,
			Logger:            config.Logger,
		})
	}
	c.snapshots = &SnapshotService{client: c}
	c.volumes = &VolumeService{client: c}
	return c
}

// Close 关闭客户端与事件总线连接，可重复调用。
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.guard.Close()
		if c.bus != nil {
			err = c.bus.Close()
		}
	})
	return err
}

func (c *Client) checkOpen(op string) error {
	if c.guard.IsClosed() {
		return &Error{Kind: KindClosed, Op: op, Message: closedHint, Err: clientv2.ErrClientClosed}
	}
	return nil
}

// Snapshots 返回快照服务。
func (c *Client) Snapshots() *SnapshotService { return c.snapshots }

// Volumes 返回卷服务。
func (c *Client) Volumes() *VolumeService { return c.volumes }

func (c *Client) newSandbox(dto *api.Sandbox) *Sandbox {
	info := sandboxInfoFromAPI(dto)
	builder, err := codeBuilderFor(info.Labels[languageLabel])
	if err != nil {
		builder, _ = codeBuilderFor("")
	}
	return &Sandbox{
		client:  c,
		toolbox: c.toolbox.ForSandbox(info.ID, info.Target),
		builder: builder,
		info:    info,
	}
}

// Create 创建沙箱并等待其启动。
// 使用 Image 创建时会先上传构建上下文；设置了 WithOnLogs 时会转发镜像构建日志。
func (c *Client) Create(ctx context.Context, params CreateParams, opts ...Option) (*Sandbox, error) {
	const op = "Failed to create sandbox"
	ctx, cancel, o, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return nil, err
	}
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	body, err := c.buildCreateRequest(ctx, op, &params)
	if err != nil {
		return nil, err
	}

	created, err := c.api.CreateSandbox(ctx, *body)
	if err != nil {
		return nil, wrapError(op, err)
	}
	sb := c.newSandbox(created)

	if sb.State() == StatePendingBuild && o.onLogs != nil {
		if err := sb.followBuildLogs(ctx, o.onLogs); err != nil {
			return nil, wrapError(op, err)
		}
	}
	if sb.State() != StateStarted {
		err := sb.waitFor(ctx, op, isState(StateStarted), []SandboxState{StateError, StateBuildFailed}, o.pollPeriod)
		if err != nil {
			return nil, err
		}
	}
	return sb, nil
}

func (c *Client) buildCreateRequest(ctx context.Context, op string, p *CreateParams) (*api.CreateSandboxRequest, error) {
	if err := defaultValidator.Validate(op, p); err != nil {
		return nil, err
	}
	sources := 0
	for _, set := range []bool{p.Snapshot != "", p.ImageName != "", p.Image != nil} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return nil, validationError(op, "only one of snapshot, image name or image can be set")
	}
	if p.Resources != nil && p.Snapshot != "" {
		return nil, validationError(op, "resources can only be set when creating from an image")
	}
	autoDelete := p.AutoDeleteInterval
	if p.Ephemeral {
		if autoDelete != nil && *autoDelete != 0 {
			return nil, validationError(op, "ephemeral sandboxes cannot set a non-zero auto-delete interval")
		}
		zero := 0
		autoDelete = &zero
	}
	language := p.Language
	if language == "" {
		language = LanguagePython
	}
	if _, err := codeBuilderFor(language); err != nil {
		return nil, validationError(op, "%v", err)
	}

	labels := make(map[string]string, len(p.Labels)+1)
	for k, v := range p.Labels {
		labels[k] = v
	}
	if p.Language != "" {
		labels[languageLabel] = language
	}

	body := &api.CreateSandboxRequest{
		Name:                p.Name,
		Snapshot:            p.Snapshot,
		User:                p.User,
		Env:                 p.Env,
		Labels:              labels,
		Public:              p.Public,
		Target:              c.config.Target,
		AutoStopInterval:    p.AutoStopInterval,
		AutoArchiveInterval: p.AutoArchiveInterval,
		AutoDeleteInterval:  autoDelete,
		Volumes:             p.Volumes,
		NetworkBlockAll:     p.NetworkBlockAll,
		NetworkAllowList:    p.NetworkAllowList,
	}
	if p.Resources != nil {
		body.CPU = p.Resources.CPU
		body.GPU = p.Resources.GPU
		body.Memory = p.Resources.Memory
		body.Disk = p.Resources.Disk
	}

	image := p.Image
	if p.ImageName != "" {
		image = Base(p.ImageName)
	}
	if image != nil {
		if err := image.Err(); err != nil {
			return nil, &Error{Kind: KindValidation, Op: op, Message: err.Error(), Err: err}
		}
		buildInfo, err := c.uploadImage(ctx, image)
		if err != nil {
			return nil, wrapError(op, err)
		}
		body.BuildInfo = buildInfo
	}
	return body, nil
}

// uploadImage 上传镜像的构建上下文，返回 Dockerfile 与上下文哈希。
func (c *Client) uploadImage(ctx context.Context, image *Image) (*api.CreateBuildInfo, error) {
	hashes, err := c.uploader.Upload(ctx, image.contexts)
	if err != nil {
		return nil, fmt.Errorf("upload image context: %w", err)
	}
	return &api.CreateBuildInfo{
		DockerfileContent: image.Dockerfile(),
		ContextHashes:     hashes,
	}, nil
}

// Get 按 ID 或名称获取沙箱。
func (c *Client) Get(ctx context.Context, sandboxIDOrName string, opts ...Option) (*Sandbox, error) {
	const op = "Failed to get sandbox"
	if strings.TrimSpace(sandboxIDOrName) == "" {
		return nil, validationError(op, "sandbox ID or name is required")
	}
	ctx, cancel, _, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return nil, err
	}
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	dto, err := c.api.GetSandbox(ctx, sandboxIDOrName)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return c.newSandbox(dto), nil
}

// FindOne 按 ID 或名称查找沙箱；sandboxIDOrName 为空时返回第一个匹配 labels 的沙箱。
func (c *Client) FindOne(ctx context.Context, sandboxIDOrName string, labels map[string]string, opts ...Option) (*Sandbox, error) {
	const op = "Failed to find sandbox"
	if sandboxIDOrName != "" {
		return c.Get(ctx, sandboxIDOrName, opts...)
	}
	page, err := c.ListByLabels(ctx, labels, 1, 1, opts...)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if len(page.Items) == 0 {
		return nil, newError(KindNotFound, op, "no sandbox found with labels %s", formatLabels(labels))
	}
	return page.Items[0], nil
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// List 按游标分页列出沙箱，结果按创建时间倒序。
func (c *Client) List(ctx context.Context, params *ListParams, opts ...Option) (*ListResult, error) {
	const op = "Failed to list sandboxes"
	ctx, cancel, _, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return nil, err
	}
	if err := defaultValidator.Validate(op, params); err != nil {
		return nil, err
	}
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	resp, err := c.api.ListSandboxes(ctx, params.toAPI())
	if err != nil {
		return nil, wrapError(op, err)
	}
	result := &ListResult{Items: make([]*Sandbox, 0, len(resp.Items))}
	for i := range resp.Items {
		result.Items = append(result.Items, c.newSandbox(&resp.Items[i]))
	}
	if resp.NextCursor != nil {
		result.NextCursor = *resp.NextCursor
	}
	return result, nil
}

// ListByLabels 按标签过滤并按页码分页列出沙箱。
//
// Deprecated: 使用 List。
func (c *Client) ListByLabels(ctx context.Context, labels map[string]string, page, limit int, opts ...Option) (*PaginatedSandboxes, error) {
	const op = "Failed to list sandboxes"
	if page < 0 || limit < 0 {
		return nil, validationError(op, "page and limit must be non-negative")
	}
	ctx, cancel, _, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return nil, err
	}
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	resp, err := c.api.ListSandboxesPaginated(ctx, labels, page, limit)
	if err != nil {
		return nil, wrapError(op, err)
	}
	result := &PaginatedSandboxes{
		Items:      make([]*Sandbox, 0, len(resp.Items)),
		Total:      resp.Total,
		Page:       resp.Page,
		TotalPages: resp.TotalPages,
	}
	for i := range resp.Items {
		result.Items = append(result.Items, c.newSandbox(&resp.Items[i]))
	}
	return result, nil
}

// Start 启动沙箱并等待其进入 started 状态。
func (c *Client) Start(ctx context.Context, sandboxIDOrName string, opts ...Option) (*Sandbox, error) {
	return c.withSandbox(ctx, "Failed to start sandbox", sandboxIDOrName, opts, (*Sandbox).Start)
}

// Stop 停止沙箱并等待其进入 stopped 状态。
func (c *Client) Stop(ctx context.Context, sandboxIDOrName string, opts ...Option) (*Sandbox, error) {
	return c.withSandbox(ctx, "Failed to stop sandbox", sandboxIDOrName, opts, (*Sandbox).Stop)
}

// Delete 删除沙箱。
func (c *Client) Delete(ctx context.Context, sandboxIDOrName string, opts ...Option) error {
	_, err := c.withSandbox(ctx, "Failed to delete sandbox", sandboxIDOrName, opts, (*Sandbox).Delete)
	return err
}

// withSandbox 查找沙箱并执行 fn，查找与操作共用同一个超时。
func (c *Client) withSandbox(ctx context.Context, op, sandboxIDOrName string, opts []Option,
	fn func(*Sandbox, context.Context, ...Option) error) (*Sandbox, error) {
	ctx, cancel, _, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return nil, err
	}
	sb, err := c.Get(ctx, sandboxIDOrName)
	if err != nil {
		return nil, err
	}
	inner := append(opts[:len(opts):len(opts)], WithTimeout(0))
	return sb, fn(sb, ctx, inner...)
}

// ValidateSSHAccess 校验 SSH 访问令牌。
func (c *Client) ValidateSSHAccess(ctx context.Context, token string) (*SSHAccessValidation, error) {
	const op = "Failed to validate SSH access"
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	resp, err := c.api.ValidateSSHAccess(ctx, token)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return &SSHAccessValidation{Valid: resp.Valid, SandboxID: resp.SandboxID}, nil
}
