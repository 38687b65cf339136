package clientv2

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	RequestMethodGet    = http.MethodGet
	RequestMethodPut    = http.MethodPut
	RequestMethodPost   = http.MethodPost
	RequestMethodPatch  = http.MethodPatch
	RequestMethodHead   = http.MethodHead
	RequestMethodDelete = http.MethodDelete

	ContentTypeJSON = "application/json"
)

type GetRequestBody func(options *RequestParams) (io.ReadCloser, error)

func GetJsonRequestBody(object interface{}) (GetRequestBody, error) {
	reqBody, err := json.Marshal(object)
	if err != nil {
		return nil, err
	}
	return func(o *RequestParams) (io.ReadCloser, error) {
		o.Header.Set("Content-Type", ContentTypeJSON)
		return io.NopCloser(bytes.NewReader(reqBody)), nil
	}, nil
}

// GetStreamRequestBody 使用 r 作为请求体，仅能发送一次。
func GetStreamRequestBody(r io.ReadCloser, contentType string) GetRequestBody {
	return func(o *RequestParams) (io.ReadCloser, error) {
		if contentType != "" {
			o.Header.Set("Content-Type", contentType)
		}
		return r, nil
	}
}

type RequestParams struct {
	Context context.Context
	Method  string
	Url     string
	Query   url.Values
	Header  http.Header
	GetBody GetRequestBody
}

func (o *RequestParams) init() {
	if o.Context == nil {
		o.Context = context.Background()
	}
	if len(o.Method) == 0 {
		o.Method = RequestMethodGet
	}
	if o.Header == nil {
		o.Header = http.Header{}
	}
	if o.GetBody == nil {
		o.GetBody = func(options *RequestParams) (io.ReadCloser, error) {
			return nil, nil
		}
	}
}

func NewRequest(options RequestParams) (*http.Request, error) {
	options.init()

	target := options.Url
	if len(options.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + options.Query.Encode()
	}

	body, err := options.GetBody(&options)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = body
	}
	req, err := http.NewRequestWithContext(options.Context, options.Method, target, reader)
	if err != nil {
		if body != nil {
			body.Close()
		}
		return nil, err
	}
	req.Header = options.Header
	return req, nil
}

// JoinURL 拼接基础地址与路径，保证两者之间恰好有一个斜杠。
func JoinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
