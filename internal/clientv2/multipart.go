package clientv2

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
)

type multipartPart struct {
	key, value            string
	fileName, contentType string
	stream                io.Reader
}

// MultipartForm 按添加顺序流式写出表单字段与文件，不会把文件内容读入内存。
type MultipartForm struct {
	parts []multipartPart
}

func (f *MultipartForm) SetValue(key, value string) *MultipartForm {
	f.parts = append(f.parts, multipartPart{key: key, value: value})
	return f
}

func (f *MultipartForm) SetFile(key, fileName, contentType string, stream io.Reader) *MultipartForm {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	f.parts = append(f.parts, multipartPart{key: key, fileName: fileName, contentType: contentType, stream: stream})
	return f
}

func (f *MultipartForm) Len() int {
	return len(f.parts)
}

func (f *MultipartForm) writeTo(w *multipart.Writer) error {
	for _, part := range f.parts {
		if part.stream == nil {
			if err := w.WriteField(part.key, part.value); err != nil {
				return err
			}
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(part.key), escapeQuotes(part.fileName)))
		h.Set("Content-Type", part.contentType)
		pw, err := w.CreatePart(h)
		if err != nil {
			return err
		}
		if _, err := io.Copy(pw, part.stream); err != nil {
			return err
		}
		if closer, ok := part.stream.(io.Closer); ok {
			closer.Close()
		}
	}
	return w.Close()
}

// GetMultipartFormRequestBody 返回只能发送一次的流式 multipart 请求体。
func GetMultipartFormRequestBody(form *MultipartForm) GetRequestBody {
	return func(o *RequestParams) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		o.Header.Set("Content-Type", mw.FormDataContentType())
		go func() {
			pw.CloseWithError(form.writeTo(mw))
		}()
		return pr, nil
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
