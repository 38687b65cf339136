package daytona

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daytonaio/sdk-go/internal/api"
)

// fakePlatform 同时扮演控制面（/api）与 toolbox 代理（/toolbox/{id}）。
// 测试注册到 router 的路由优先于 base 中的默认路由。
type fakePlatform struct {
	*httptest.Server
	t        *testing.T
	router   *mux.Router
	base     *mux.Router
	upgrader websocket.Upgrader

	mu        sync.Mutex
	sandboxes map[string]*api.Sandbox
	// onGet 在每次 GET /sandbox/{id} 前调用，可推进状态
	onGet func(sb *api.Sandbox)
	// onAction 处理 POST /sandbox/{id}/{action}
	onAction func(sb *api.Sandbox, action string)

	busConns []*websocket.Conn
}

func newFakePlatform(t *testing.T) *fakePlatform {
	f := &fakePlatform{
		t:         t,
		router:    mux.NewRouter(),
		base:      mux.NewRouter(),
		sandboxes: make(map[string]*api.Sandbox),
	}
	f.base.HandleFunc("/api/socket.io/", f.handleSocket)
	f.base.HandleFunc("/api/sandbox/{id}/toolbox-proxy-url", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.ToolboxProxyURL{URL: f.URL + "/toolbox"})
	}).Methods(http.MethodGet)
	f.base.HandleFunc("/api/sandbox/{id}", f.handleGet).Methods(http.MethodGet)
	f.base.HandleFunc("/api/sandbox/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		delete(f.sandboxes, mux.Vars(r)["id"])
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodDelete)
	f.base.HandleFunc("/api/sandbox/{id}/{action:start|stop|recover|archive|resize}", f.handleAction).Methods(http.MethodPost)
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var match mux.RouteMatch
		if f.router.Match(r, &match) {
			f.router.ServeHTTP(w, r)
			return
		}
		f.base.ServeHTTP(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *fakePlatform) put(sb api.Sandbox) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sandboxes[sb.ID] = &sb
}

func (f *fakePlatform) setState(id string, state api.SandboxState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sandboxes[id].State = state
}

func (f *fakePlatform) handleGet(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	sb, ok := f.sandboxes[mux.Vars(r)["id"]]
	if ok && f.onGet != nil {
		f.onGet(sb)
	}
	var snapshot api.Sandbox
	if ok {
		snapshot = *sb
	}
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"statusCode": 404, "message": "Sandbox not found"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (f *fakePlatform) handleAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	f.mu.Lock()
	sb, ok := f.sandboxes[vars["id"]]
	if ok && f.onAction != nil {
		f.onAction(sb, vars["action"])
	}
	var snapshot api.Sandbox
	if ok {
		snapshot = *sb
	}
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "Sandbox not found"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// toolbox 注册 toolbox 路由，path 相对 /toolbox/{id}。
func (f *fakePlatform) toolbox(path string, handler http.HandlerFunc, methods ...string) {
	route := f.router.HandleFunc("/toolbox/{id}"+path, handler)
	if len(methods) > 0 {
		route.Methods(methods...)
	}
}

// workDirs 注册用户主目录与工作目录。
func (f *fakePlatform) workDirs() {
	f.toolbox("/user-home-dir", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"dir": "/home/daytona"})
	}, http.MethodGet)
	f.toolbox("/work-dir", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"dir": "/home/daytona/work"})
	}, http.MethodGet)
}

// handleSocket 实现 socket.io 握手的最小子集。
func (f *fakePlatform) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"abc","pingInterval":25000,"pingTimeout":20000}`))
	if _, _, err := conn.ReadMessage(); err != nil {
		conn.Close()
		return
	}
	conn.WriteMessage(websocket.TextMessage, []byte(`40{"sid":"ns"}`))
	f.mu.Lock()
	f.busConns = append(f.busConns, conn)
	f.mu.Unlock()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *fakePlatform) busConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.busConns) > 0
}

// emit 通过事件总线推送事件。
func (f *fakePlatform) emit(name string, payload interface{}) {
	data, err := json.Marshal([]interface{}{name, payload})
	require.NoError(f.t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.busConns)
	conn := f.busConns[len(f.busConns)-1]
	require.NoError(f.t, conn.WriteMessage(websocket.TextMessage, append([]byte("42"), data...)))
}

func (f *fakePlatform) config(mutate func(*Config)) Config {
	config := Config{
		APIKey:          "test-key",
		APIURL:          f.URL + "/api",
		Target:          "us",
		HTTPClient:      f.Client(),
		Logger:          zap.NewNop(),
		DisableEventBus: true,
		SkipDotEnv:      true,
	}
	if mutate != nil {
		mutate(&config)
	}
	return config
}

func (f *fakePlatform) client(mutate func(*Config)) *Client {
	c, err := NewClient(f.config(mutate))
	require.NoError(f.t, err)
	f.t.Cleanup(func() { c.Close() })
	return c
}

// sandbox 注册一个已启动的沙箱并返回其句柄。
func (f *fakePlatform) sandbox(c *Client, sb api.Sandbox) *Sandbox {
	if sb.State == "" {
		sb.State = api.SandboxStateStarted
	}
	if sb.Target == "" {
		sb.Target = "us"
	}
	f.put(sb)
	got, err := c.Get(context.Background(), sb.ID)
	require.NoError(f.t, err)
	return got
}

// upgrade 升级 toolbox WebSocket 请求。
func (f *fakePlatform) upgrade(w http.ResponseWriter, r *http.Request) *websocket.Conn {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	assert.NoError(f.t, err)
	return conn
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
