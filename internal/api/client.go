// Package api 是 Daytona 控制面 REST 接口的类型化客户端。
package api

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/oapi-codegen/runtime"

	"github.com/daytonaio/sdk-go/internal/clientv2"
)

// Interface 列出控制面提供的全部操作，测试中可以用手写的假实现替换。
type Interface interface {
	CreateSandbox(ctx context.Context, body CreateSandboxRequest) (*Sandbox, error)
	GetSandbox(ctx context.Context, sandboxIDOrName string) (*Sandbox, error)
	DeleteSandbox(ctx context.Context, sandboxID string) error
	StartSandbox(ctx context.Context, sandboxID string) (*Sandbox, error)
	StopSandbox(ctx context.Context, sandboxID string) (*Sandbox, error)
	RecoverSandbox(ctx context.Context, sandboxID string) (*Sandbox, error)
	ArchiveSandbox(ctx context.Context, sandboxID string) (*Sandbox, error)
	ResizeSandbox(ctx context.Context, sandboxID string, body ResizeSandboxRequest) (*Sandbox, error)
	ReplaceLabels(ctx context.Context, sandboxID string, labels map[string]string) (map[string]string, error)
	SetAutostopInterval(ctx context.Context, sandboxID string, minutes int) error
	SetAutoArchiveInterval(ctx context.Context, sandboxID string, minutes int) error
	SetAutoDeleteInterval(ctx context.Context, sandboxID string, minutes int) error
	UpdatePublicStatus(ctx context.Context, sandboxID string, public bool) error
	GetPortPreviewURL(ctx context.Context, sandboxID string, port int) (*PortPreviewURL, error)
	GetSignedPortPreviewURL(ctx context.Context, sandboxID string, port int, expiresInSeconds int) (*SignedPortPreviewURL, error)
	CreateSSHAccess(ctx context.Context, sandboxID string, expiresInMinutes int) (*SSHAccess, error)
	RevokeSSHAccess(ctx context.Context, sandboxID string, token string) error
	ValidateSSHAccess(ctx context.Context, token string) (*SSHAccessValidation, error)
	ListSandboxes(ctx context.Context, params ListSandboxesParams) (*ListSandboxesResponse, error)
	ListSandboxesPaginated(ctx context.Context, labels map[string]string, page, limit int) (*PaginatedSandboxes, error)
	GetBuildLogs(ctx context.Context, sandboxID string, follow bool) (io.ReadCloser, error)
	GetToolboxProxyURL(ctx context.Context, sandboxID string) (string, error)

	ListSnapshots(ctx context.Context, page, limit int) (*PaginatedSnapshots, error)
	GetSnapshot(ctx context.Context, snapshotIDOrName string) (*Snapshot, error)
	CreateSnapshot(ctx context.Context, body CreateSnapshotRequest) (*Snapshot, error)
	DeleteSnapshot(ctx context.Context, snapshotID string) error
	ActivateSnapshot(ctx context.Context, snapshotID string) (*Snapshot, error)
	GetSnapshotBuildLogs(ctx context.Context, snapshotID string, follow bool) (io.ReadCloser, error)

	ListVolumes(ctx context.Context) ([]Volume, error)
	GetVolume(ctx context.Context, volumeID string) (*Volume, error)
	GetVolumeByName(ctx context.Context, name string) (*Volume, error)
	CreateVolume(ctx context.Context, name string) (*Volume, error)
	DeleteVolume(ctx context.Context, volumeID string) error

	GetPushAccess(ctx context.Context) (*StorageAccess, error)
}

// Client 通过 clientv2 拦截器链访问控制面。
type Client struct {
	baseURL string
	http    clientv2.Client
}

var _ Interface = (*Client)(nil)

// New 创建控制面客户端，baseURL 形如 https://app.daytona.io/api。
func New(baseURL string, httpClient clientv2.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// BaseURL 返回控制面地址。
func (c *Client) BaseURL() string { return c.baseURL }

// path 用 simple 风格转义并拼接路径参数，segments 中的 {} 依次被 params 替换。
func (c *Client) path(template string, params ...interface{}) (string, error) {
	var b strings.Builder
	b.WriteString(c.baseURL)
	rest := template
	for _, p := range params {
		i := strings.Index(rest, "{}")
		if i < 0 {
			break
		}
		b.WriteString(rest[:i])
		styled, err := runtime.StyleParamWithLocation("simple", false, "param", runtime.ParamLocationPath, p)
		if err != nil {
			return "", err
		}
		b.WriteString(styled)
		rest = rest[i+2:]
	}
	b.WriteString(rest)
	return b.String(), nil
}

// addQuery 以 form 风格（explode）追加查询参数。
func addQuery(q url.Values, name string, value interface{}) error {
	styled, err := runtime.StyleParamWithLocation("form", true, name, runtime.ParamLocationQuery, value)
	if err != nil {
		return err
	}
	parsed, err := url.ParseQuery(styled)
	if err != nil {
		return err
	}
	for k, vs := range parsed {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, target string, query url.Values, body, ret interface{}) error {
	params := clientv2.RequestParams{
		Context: ctx,
		Method:  method,
		Url:     target,
		Query:   query,
	}
	if body != nil {
		getBody, err := clientv2.GetJsonRequestBody(body)
		if err != nil {
			return err
		}
		params.GetBody = getBody
	}
	return clientv2.DoAndDecodeJsonResponse(c.http, params, ret)
}

func (c *Client) stream(ctx context.Context, target string, query url.Values) (io.ReadCloser, error) {
	resp, err := clientv2.Do(c.http, clientv2.RequestParams{
		Context: ctx,
		Method:  http.MethodGet,
		Url:     target,
		Query:   query,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
