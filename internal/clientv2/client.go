package clientv2

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	internal_io "github.com/daytonaio/sdk-go/internal/io"
)

type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

type Handler func(req *http.Request) (*http.Response, error)

type client struct {
	handler Handler
}

// NewClient 用拦截器包装 cli，cli 为 nil 时使用 http.DefaultClient。
func NewClient(cli Client, interceptors ...Interceptor) Client {
	if cli == nil {
		cli = http.DefaultClient
	}
	return &client{handler: chain(cli.Do, interceptors)}
}

func (c *client) Do(req *http.Request) (*http.Response, error) {
	return c.handler(req)
}

// Do 发送请求；非 2xx 响应会被读取并转换为 *ResponseError，此时响应体已关闭。
func Do(c Client, options RequestParams) (*http.Response, error) {
	req, err := NewRequest(options)
	if err != nil {
		return nil, err
	}
	return handleResponseAndError(c.Do(req))
}

func handleResponseAndError(resp *http.Response, err error) (*http.Response, error) {
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}

	if resp == nil {
		return nil, errors.New("unknown error, no response")
	}

	if resp.StatusCode/100 != 2 {
		return nil, NewResponseError(resp)
	}

	return resp, nil
}

// DoAndDecodeJsonResponse 发送请求并将 JSON 响应体解码到 ret，ret 为 nil 时丢弃响应体。
func DoAndDecodeJsonResponse(c Client, options RequestParams, ret interface{}) error {
	resp, err := Do(c, options)
	if err != nil {
		return err
	}
	defer func() {
		internal_io.SinkAll(resp.Body)
		resp.Body.Close()
	}()

	if ret == nil || resp.ContentLength == 0 || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err = json.NewDecoder(resp.Body).Decode(ret); err != nil && err != io.EOF {
		return err
	}
	return nil
}
