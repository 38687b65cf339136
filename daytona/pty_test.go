package daytona

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daytonaio/sdk-go/internal/api"
)

// echoPty 回显输入，收到 exit 后以退出码 0 关闭连接。
func echoPty(f *fakePlatform) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn := f.upgrade(w, r)
		if conn == nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"control","status":"connected"}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "exit\n" {
				closeWith(conn, websocket.CloseNormalClosure, `{"exitCode":0}`)
				conn.ReadMessage()
				return
			}
			conn.WriteMessage(websocket.BinaryMessage, data)
		}
	}
}

func TestPtyEchoAndExit(t *testing.T) {
	f := newFakePlatform(t)
	f.workDirs()
	f.toolbox("/process/pty", func(w http.ResponseWriter, r *http.Request) {
		var req ptyCreateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "term", req.ID)
		assert.Equal(t, "/home/daytona/work/app", req.Cwd)
		assert.Equal(t, 120, req.Cols)
		assert.Equal(t, 40, req.Rows)
		assert.Equal(t, map[string]string{"TERM": "xterm"}, req.Envs)
		writeJSON(w, http.StatusOK, map[string]string{"sessionId": req.ID})
	}, http.MethodPost)
	f.toolbox("/process/pty/{pid}/connect", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "term", mux.Vars(r)["pid"])
		echoPty(f)(w, r)
	}, http.MethodGet)
	c := f.client(nil)
	sb := f.sandbox(c, api.Sandbox{ID: "sb-1"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := sb.Process().CreatePty(ctx, PtyCreateOptions{
		ID:   "term",
		Cwd:  "app",
		Envs: map[string]string{"TERM": "xterm"},
		Size: &PtySize{Cols: 120, Rows: 40},
	})
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, "term", h.SessionID())
	require.NoError(t, h.WaitForConnection(ctx))

	require.NoError(t, h.SendInput([]byte("echo hi\n")))
	select {
	case data := <-h.Data():
		assert.Equal(t, "echo hi\n", string(data))
	case <-ctx.Done():
		t.Fatal("no output from PTY")
	}

	require.NoError(t, h.SendInput([]byte("exit\n")))
	result, err := h.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 0, *result.ExitCode)
	assert.Empty(t, result.Error)

	_, ok := <-h.Data()
	assert.False(t, ok)
	err = h.SendInput([]byte("late"))
	assert.True(t, IsClosed(err), err)
}

func TestPtyConnectError(t *testing.T) {
	f := newFakePlatform(t)
	f.toolbox("/process/pty/{pid}/connect", func(w http.ResponseWriter, r *http.Request) {
		conn := f.upgrade(w, r)
		if conn == nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"control","status":"error","error":"session gone"}`))
		conn.ReadMessage()
	}, http.MethodGet)
	c := f.client(nil)
	sb := f.sandbox(c, api.Sandbox{ID: "sb-1"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := sb.Process().ConnectPty(ctx, "gone", nil)
	require.NoError(t, err)
	defer h.Close()
	err = h.WaitForConnection(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session gone")
	_, err = h.Wait(ctx)
	assert.Contains(t, err.Error(), "session gone")
}

func TestPtyOnDataAndManagement(t *testing.T) {
	f := newFakePlatform(t)
	f.toolbox("/process/pty/{pid}/connect", echoPty(f), http.MethodGet)
	f.toolbox("/process/pty", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessions": []PtySessionInfo{{ID: "a", Cols: 80, Rows: 24, Active: true}},
		})
	}, http.MethodGet)
	f.toolbox("/process/pty/{pid}/resize", func(w http.ResponseWriter, r *http.Request) {
		var size PtySize
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&size))
		writeJSON(w, http.StatusOK, PtySessionInfo{ID: mux.Vars(r)["pid"], Cols: size.Cols, Rows: size.Rows})
	}, http.MethodPost)
	killed := make(chan string, 1)
	f.toolbox("/process/pty/{pid}", func(w http.ResponseWriter, r *http.Request) {
		killed <- mux.Vars(r)["pid"]
		w.WriteHeader(http.StatusOK)
	}, http.MethodDelete)
	c := f.client(nil)
	sb := f.sandbox(c, api.Sandbox{ID: "sb-1"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessions, err := sb.Process().ListPtySessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Active)

	received := make(chan []byte, 1)
	h, err := sb.Process().ConnectPty(ctx, "a", func(data []byte) { received <- data })
	require.NoError(t, err)
	require.NoError(t, h.WaitForConnection(ctx))
	require.NoError(t, h.SendInput([]byte("ls\n")))
	select {
	case data := <-received:
		assert.Equal(t, "ls\n", string(data))
	case <-ctx.Done():
		t.Fatal("no output from PTY")
	}

	info, err := h.Resize(ctx, PtySize{Cols: 100, Rows: 30})
	require.NoError(t, err)
	assert.Equal(t, 100, info.Cols)
	_, err = h.Resize(ctx, PtySize{Cols: 0, Rows: 30})
	assert.True(t, IsValidation(err), err)

	require.NoError(t, h.Kill(ctx))
	assert.Equal(t, "a", <-killed)
	require.NoError(t, h.Close())

	_, err = sb.Process().CreatePty(ctx, PtyCreateOptions{Envs: map[string]string{"1X": "y"}})
	assert.True(t, IsValidation(err), err)
	_, err = sb.Process().CreatePty(ctx, PtyCreateOptions{Size: &PtySize{Cols: -1, Rows: 1}})
	assert.True(t, IsValidation(err), err)
}
