package io

import (
	"bytes"
	"io"
	"strings"
)

// SinkAll 读完 r 中剩余的内容，使底层连接可以被复用。
func SinkAll(r io.Reader) (err error) {
	switch b := r.(type) {
	case *bytes.Buffer:
		b.Truncate(0)
	case *bytes.Reader:
		_, err = b.Seek(0, io.SeekEnd)
	case *strings.Reader:
		_, err = b.Seek(0, io.SeekEnd)
	default:
		_, err = io.Copy(io.Discard, r)
	}
	return
}

// ReadLimited 最多读取 limit 字节，超出部分被丢弃。
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return data, err
	}
	return data, SinkAll(r)
}

// Pipe 在独立的 goroutine 中调用 produce 写入数据，返回的 Reader 读取这些数据。
// produce 返回的错误会传递给读取方；读取方关闭后 produce 的写入将失败。
func Pipe(produce func(w io.Writer) error) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(produce(pw))
	}()
	return pr
}

// ToValidUTF8 将非法 UTF-8 序列替换为 U+FFFD。
func ToValidUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
