package stream

import (
	"bytes"
)

var (
	stdoutPrefix = []byte{0x01, 0x01, 0x01}
	stderrPrefix = []byte{0x02, 0x02, 0x02}
)

const (
	channelStdout = iota + 1
	channelStderr
)

// Demuxer 拆分以 \x01\x01\x01 / \x02\x02\x02 标记切换的 stdout 与 stderr 交织数据。
// 标记可能被拆到两个帧中，未确认的前缀会保留到下一帧。第一个标记之前的数据视为 stdout。
type Demuxer struct {
	OnStdout func(string)
	OnStderr func(string)

	channel int
	pending []byte
}

// Write 处理一帧数据。
func (d *Demuxer) Write(frame []byte) {
	data := append(d.pending, frame...)
	d.pending = nil
	if d.channel == 0 {
		d.channel = channelStdout
	}

	for len(data) > 0 {
		out := bytes.Index(data, stdoutPrefix)
		errIdx := bytes.Index(data, stderrPrefix)
		next, nextChannel := -1, 0
		switch {
		case out >= 0 && (errIdx < 0 || out < errIdx):
			next, nextChannel = out, channelStdout
		case errIdx >= 0:
			next, nextChannel = errIdx, channelStderr
		}
		if next < 0 {
			keep := partialMarkerSuffix(data)
			d.emit(data[:len(data)-keep])
			d.pending = append([]byte(nil), data[len(data)-keep:]...)
			return
		}
		d.emit(data[:next])
		d.channel = nextChannel
		data = data[next+len(stdoutPrefix):]
	}
}

// Flush 输出保留的尾部数据。
func (d *Demuxer) Flush() {
	if len(d.pending) > 0 {
		d.emit(d.pending)
		d.pending = nil
	}
}

func (d *Demuxer) emit(data []byte) {
	if len(data) == 0 {
		return
	}
	text := string(data)
	if d.channel == channelStderr {
		if d.OnStderr != nil {
			d.OnStderr(text)
		}
		return
	}
	if d.OnStdout != nil {
		d.OnStdout(text)
	}
}

// partialMarkerSuffix 返回 data 末尾可能是标记前缀的字节数。
func partialMarkerSuffix(data []byte) int {
	for n := len(stdoutPrefix) - 1; n > 0; n-- {
		if len(data) < n {
			continue
		}
		tail := data[len(data)-n:]
		if bytes.HasPrefix(stdoutPrefix, tail) || bytes.HasPrefix(stderrPrefix, tail) {
			return n
		}
	}
	return 0
}
