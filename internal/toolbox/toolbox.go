// Package toolbox 把沙箱内 toolbox 的请求路由到按区域解析的代理地址。
package toolbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/daytonaio/sdk-go/internal/cache"
	"github.com/daytonaio/sdk-go/internal/clientv2"
)

// ProxyURLResolver 从控制面查询沙箱所在区域的 toolbox 代理地址。
type ProxyURLResolver interface {
	GetToolboxProxyURL(ctx context.Context, sandboxID string) (string, error)
}

type Config struct {
	HTTP     clientv2.Client
	Resolver ProxyURLResolver
	// Header 是 WebSocket 握手时携带的鉴权与标识头
	Header http.Header
	Dialer *websocket.Dialer
	// ResolveTimeout 限制一次代理地址查询的时长，默认 30 秒
	ResolveTimeout time.Duration
}

// Client 在同一个 Daytona 客户端的所有沙箱间共享，代理地址按区域缓存。
type Client struct {
	http     clientv2.Client
	resolver ProxyURLResolver
	header   http.Header
	dialer   *websocket.Dialer
	baseURLs *cache.Cache[string]

	resolveTimeout time.Duration
}

func New(config Config) *Client {
	dialer := config.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	resolveTimeout := config.ResolveTimeout
	if resolveTimeout <= 0 {
		resolveTimeout = 30 * time.Second
	}
	return &Client{
		http:           config.HTTP,
		resolver:       config.Resolver,
		header:         config.Header,
		dialer:         dialer,
		baseURLs:       cache.New[string](),
		resolveTimeout: resolveTimeout,
	}
}

// ForSandbox 返回绑定到某个沙箱的 toolbox 客户端。
func (c *Client) ForSandbox(sandboxID, region string) *Sandbox {
	return &Sandbox{client: c, sandboxID: sandboxID, region: region}
}

// Sandbox 把资源路径改写为 {base}/{sandboxID}/{path}。
type Sandbox struct {
	client    *Client
	sandboxID string
	region    string
}

func (s *Sandbox) ID() string { return s.sandboxID }

// BaseURL 懒加载区域的代理地址；同一区域的并发解析只发出一次请求，失败不缓存。
// 查询不随发起者的 ctx 取消，只受 ResolveTimeout 限制。
func (s *Sandbox) BaseURL(ctx context.Context) (string, error) {
	base, _, err := s.client.baseURLs.GetContext(ctx, s.region, func() (string, error) {
		resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.client.resolveTimeout)
		defer cancel()
		u, err := s.client.resolver.GetToolboxProxyURL(resolveCtx, s.sandboxID)
		if err != nil {
			return "", err
		}
		if u == "" {
			return "", errors.New("control plane returned an empty toolbox proxy url")
		}
		return strings.TrimRight(u, "/"), nil
	})
	return base, err
}

// URL 返回资源的绝对地址。
func (s *Sandbox) URL(ctx context.Context, path string) (string, error) {
	base, err := s.BaseURL(ctx)
	if err != nil {
		return "", err
	}
	return clientv2.JoinURL(base+"/"+url.PathEscape(s.sandboxID), path), nil
}

// Do 发送请求并返回成功的响应，调用方负责关闭响应体。
func (s *Sandbox) Do(ctx context.Context, method, path string, query url.Values, body clientv2.GetRequestBody) (*http.Response, error) {
	target, err := s.URL(ctx, path)
	if err != nil {
		return nil, err
	}
	return clientv2.Do(s.client.http, clientv2.RequestParams{
		Context: ctx,
		Method:  method,
		Url:     target,
		Query:   query,
		GetBody: body,
	})
}

// DoJSON 以 JSON 编码 body 并把响应解码到 ret，两者均可为 nil。
func (s *Sandbox) DoJSON(ctx context.Context, method, path string, query url.Values, body, ret interface{}) error {
	target, err := s.URL(ctx, path)
	if err != nil {
		return err
	}
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
	return clientv2.DoAndDecodeJsonResponse(s.client.http, params, ret)
}

// Stream 返回原始响应体与响应头，用于大文件下载和日志跟随。
func (s *Sandbox) Stream(ctx context.Context, method, path string, query url.Values, body clientv2.GetRequestBody) (io.ReadCloser, http.Header, error) {
	resp, err := s.Do(ctx, method, path, query, body)
	if err != nil {
		return nil, nil, err
	}
	return resp.Body, resp.Header, nil
}

// DialWebSocket 升级到 WebSocket，http(s) 被替换为 ws(s)，沿用鉴权头。
func (s *Sandbox) DialWebSocket(ctx context.Context, path string, query url.Values) (*websocket.Conn, error) {
	target, err := s.URL(ctx, path)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	header := http.Header{}
	for k, vs := range s.client.header {
		header[k] = append([]string(nil), vs...)
	}
	conn, resp, err := s.client.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusSwitchingProtocols {
				return nil, clientv2.NewResponseError(resp)
			}
		}
		return nil, fmt.Errorf("websocket dial %s: %w", path, err)
	}
	return conn, nil
}
