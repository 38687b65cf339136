package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

func (c *Client) CreateSandbox(ctx context.Context, body CreateSandboxRequest) (*Sandbox, error) {
	var ret Sandbox
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/sandbox", nil, body, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) GetSandbox(ctx context.Context, sandboxIDOrName string) (*Sandbox, error) {
	target, err := c.path("/sandbox/{}", sandboxIDOrName)
	if err != nil {
		return nil, err
	}
	var ret Sandbox
	if err := c.doJSON(ctx, http.MethodGet, target, nil, nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) DeleteSandbox(ctx context.Context, sandboxID string) error {
	target, err := c.path("/sandbox/{}", sandboxID)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodDelete, target, nil, nil, nil)
}

// sandboxAction 调用 POST /sandbox/{id}/{action}，响应体为空时返回 nil。
func (c *Client) sandboxAction(ctx context.Context, sandboxID, action string, body interface{}) (*Sandbox, error) {
	target, err := c.path("/sandbox/{}/"+action, sandboxID)
	if err != nil {
		return nil, err
	}
	var ret *Sandbox
	if err := c.doJSON(ctx, http.MethodPost, target, nil, body, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) StartSandbox(ctx context.Context, sandboxID string) (*Sandbox, error) {
	return c.sandboxAction(ctx, sandboxID, "start", nil)
}

func (c *Client) StopSandbox(ctx context.Context, sandboxID string) (*Sandbox, error) {
	return c.sandboxAction(ctx, sandboxID, "stop", nil)
}

func (c *Client) RecoverSandbox(ctx context.Context, sandboxID string) (*Sandbox, error) {
	return c.sandboxAction(ctx, sandboxID, "recover", nil)
}

func (c *Client) ArchiveSandbox(ctx context.Context, sandboxID string) (*Sandbox, error) {
	return c.sandboxAction(ctx, sandboxID, "archive", nil)
}

func (c *Client) ResizeSandbox(ctx context.Context, sandboxID string, body ResizeSandboxRequest) (*Sandbox, error) {
	return c.sandboxAction(ctx, sandboxID, "resize", body)
}

func (c *Client) ReplaceLabels(ctx context.Context, sandboxID string, labels map[string]string) (map[string]string, error) {
	target, err := c.path("/sandbox/{}/labels", sandboxID)
	if err != nil {
		return nil, err
	}
	if labels == nil {
		labels = map[string]string{}
	}
	var ret struct {
		Labels map[string]string `json:"labels"`
	}
	body := struct {
		Labels map[string]string `json:"labels"`
	}{Labels: labels}
	if err := c.doJSON(ctx, http.MethodPut, target, nil, body, &ret); err != nil {
		return nil, err
	}
	return ret.Labels, nil
}

func (c *Client) setInterval(ctx context.Context, sandboxID, kind string, minutes int) error {
	target, err := c.path("/sandbox/{}/"+kind+"/{}", sandboxID, minutes)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, target, nil, nil, nil)
}

func (c *Client) SetAutostopInterval(ctx context.Context, sandboxID string, minutes int) error {
	return c.setInterval(ctx, sandboxID, "autostop", minutes)
}

func (c *Client) SetAutoArchiveInterval(ctx context.Context, sandboxID string, minutes int) error {
	return c.setInterval(ctx, sandboxID, "autoarchive", minutes)
}

func (c *Client) SetAutoDeleteInterval(ctx context.Context, sandboxID string, minutes int) error {
	return c.setInterval(ctx, sandboxID, "autodelete", minutes)
}

func (c *Client) UpdatePublicStatus(ctx context.Context, sandboxID string, public bool) error {
	target, err := c.path("/sandbox/{}/public/{}", sandboxID, public)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, target, nil, nil, nil)
}

func (c *Client) GetPortPreviewURL(ctx context.Context, sandboxID string, port int) (*PortPreviewURL, error) {
	target, err := c.path("/sandbox/{}/ports/{}/preview-url", sandboxID, port)
	if err != nil {
		return nil, err
	}
	var ret PortPreviewURL
	if err := c.doJSON(ctx, http.MethodGet, target, nil, nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) GetSignedPortPreviewURL(ctx context.Context, sandboxID string, port int, expiresInSeconds int) (*SignedPortPreviewURL, error) {
	target, err := c.path("/sandbox/{}/ports/{}/signed-preview-url", sandboxID, port)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	if err := addQuery(query, "expiresInSeconds", expiresInSeconds); err != nil {
		return nil, err
	}
	var ret SignedPortPreviewURL
	if err := c.doJSON(ctx, http.MethodGet, target, query, nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) CreateSSHAccess(ctx context.Context, sandboxID string, expiresInMinutes int) (*SSHAccess, error) {
	target, err := c.path("/sandbox/{}/ssh-access", sandboxID)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	if expiresInMinutes > 0 {
		if err := addQuery(query, "expiresInMinutes", expiresInMinutes); err != nil {
			return nil, err
		}
	}
	var ret SSHAccess
	if err := c.doJSON(ctx, http.MethodPost, target, query, nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) RevokeSSHAccess(ctx context.Context, sandboxID string, token string) error {
	target, err := c.path("/sandbox/{}/ssh-access", sandboxID)
	if err != nil {
		return err
	}
	query := url.Values{}
	if token != "" {
		if err := addQuery(query, "token", token); err != nil {
			return err
		}
	}
	return c.doJSON(ctx, http.MethodDelete, target, query, nil, nil)
}

func (c *Client) ValidateSSHAccess(ctx context.Context, token string) (*SSHAccessValidation, error) {
	query := url.Values{}
	if err := addQuery(query, "token", token); err != nil {
		return nil, err
	}
	var ret SSHAccessValidation
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/sandbox/ssh-access/validate", query, nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) ListSandboxes(ctx context.Context, params ListSandboxesParams) (*ListSandboxesResponse, error) {
	query := url.Values{}
	if params.Cursor != "" {
		if err := addQuery(query, "cursor", params.Cursor); err != nil {
			return nil, err
		}
	}
	if params.Limit > 0 {
		if err := addQuery(query, "limit", params.Limit); err != nil {
			return nil, err
		}
	}
	if len(params.States) > 0 {
		if err := addQuery(query, "states", params.States); err != nil {
			return nil, err
		}
	}
	var ret ListSandboxesResponse
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/sandbox/list", query, nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) ListSandboxesPaginated(ctx context.Context, labels map[string]string, page, limit int) (*PaginatedSandboxes, error) {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(labels) > 0 {
		encoded, err := json.Marshal(labels)
		if err != nil {
			return nil, err
		}
		query.Set("labels", string(encoded))
	}
	var ret PaginatedSandboxes
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/sandbox/paginated", query, nil, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) GetBuildLogs(ctx context.Context, sandboxID string, follow bool) (io.ReadCloser, error) {
	target, err := c.path("/sandbox/{}/build-logs", sandboxID)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	if follow {
		query.Set("follow", "true")
	}
	return c.stream(ctx, target, query)
}

func (c *Client) GetToolboxProxyURL(ctx context.Context, sandboxID string) (string, error) {
	target, err := c.path("/sandbox/{}/toolbox-proxy-url", sandboxID)
	if err != nil {
		return "", err
	}
	var ret ToolboxProxyURL
	if err := c.doJSON(ctx, http.MethodGet, target, nil, nil, &ret); err != nil {
		return "", err
	}
	return ret.URL, nil
}
