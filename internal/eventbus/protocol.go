package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Engine.IO v4 包类型。
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'
)

// Socket.IO v5 包类型，位于 Engine.IO message 包内。
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

type openPacket struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

var errMalformedPacket = errors.New("malformed socket.io packet")

func decodeOpen(msg string) (openPacket, error) {
	var p openPacket
	if len(msg) == 0 || msg[0] != eioOpen {
		return p, fmt.Errorf("expected open packet, got %q", truncate(msg))
	}
	if err := json.Unmarshal([]byte(msg[1:]), &p); err != nil {
		return p, err
	}
	return p, nil
}

func encodeConnect(auth interface{}) (string, error) {
	if auth == nil {
		return string([]byte{eioMessage, sioConnect}), nil
	}
	data, err := json.Marshal(auth)
	if err != nil {
		return "", err
	}
	return string([]byte{eioMessage, sioConnect}) + string(data), nil
}

// decodeEvent 解析 "42[\"name\", payload]"，忽略可能存在的 ack id。
func decodeEvent(body string) (string, json.RawMessage, error) {
	body = strings.TrimLeft(body, "0123456789")
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(body), &args); err != nil {
		return "", nil, err
	}
	if len(args) == 0 {
		return "", nil, errMalformedPacket
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, err
	}
	var payload json.RawMessage
	if len(args) > 1 {
		payload = args[1]
	}
	return name, payload, nil
}

func decodeConnectError(body string) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(body), &e) == nil && e.Message != "" {
		return e.Message
	}
	return body
}

// sandboxIDOf 从事件负载中取出沙箱 ID，优先使用嵌套的 sandbox.id。
func sandboxIDOf(payload json.RawMessage) string {
	var p struct {
		ID      string `json:"id"`
		Sandbox *struct {
			ID string `json:"id"`
		} `json:"sandbox"`
	}
	if json.Unmarshal(payload, &p) != nil {
		return ""
	}
	if p.Sandbox != nil && p.Sandbox.ID != "" {
		return p.Sandbox.ID
	}
	return p.ID
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
