package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daytonaio/sdk-go/internal/clientv2"
)

func newTestClient(t *testing.T, router *mux.Router) *Client {
	t.Helper()
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return New(server.URL+"/api/", clientv2.NewClient(server.Client()))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestCreateAndGetSandbox(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/sandbox", func(w http.ResponseWriter, r *http.Request) {
		var req CreateSandboxRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "python", req.Labels["code-toolbox-language"])
		require.NotNil(t, req.AutoDeleteInterval)
		assert.Equal(t, 0, *req.AutoDeleteInterval)
		writeJSON(w, http.StatusOK, Sandbox{ID: "sb-1", State: SandboxStateStarted})
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/sandbox/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "my sandbox", mux.Vars(r)["id"])
		writeJSON(w, http.StatusOK, Sandbox{ID: "sb-1", Name: "my sandbox", State: SandboxStateStopped})
	}).Methods(http.MethodGet)

	c := newTestClient(t, router)
	zero := 0
	sb, err := c.CreateSandbox(context.Background(), CreateSandboxRequest{
		Labels:             map[string]string{"code-toolbox-language": "python"},
		AutoDeleteInterval: &zero,
	})
	require.NoError(t, err)
	require.Equal(t, "sb-1", sb.ID)
	require.Equal(t, SandboxStateStarted, sb.State)

	sb, err = c.GetSandbox(context.Background(), "my sandbox")
	require.NoError(t, err)
	require.Equal(t, SandboxStateStopped, sb.State)
}

func TestSandboxActionEmptyBody(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/sandbox/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/sandbox/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Sandbox{ID: "sb-1", State: SandboxStateStarting})
	}).Methods(http.MethodPost)

	c := newTestClient(t, router)
	sb, err := c.StopSandbox(context.Background(), "sb-1")
	require.NoError(t, err)
	require.Nil(t, sb)

	sb, err = c.StartSandbox(context.Background(), "sb-1")
	require.NoError(t, err)
	require.Equal(t, SandboxStateStarting, sb.State)
}

func TestListSandboxesQuery(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/sandbox/list", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "c1", q.Get("cursor"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, []string{"started", "stopped"}, q["states"])
		next := "c2"
		writeJSON(w, http.StatusOK, ListSandboxesResponse{Items: []Sandbox{{ID: "a"}, {ID: "b"}}, NextCursor: &next})
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/sandbox/paginated", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("page"))
		assert.JSONEq(t, `{"env":"dev"}`, q.Get("labels"))
		writeJSON(w, http.StatusOK, PaginatedSandboxes{Items: []Sandbox{{ID: "a"}}, Total: 3, Page: 2, TotalPages: 3})
	}).Methods(http.MethodGet)

	c := newTestClient(t, router)
	resp, err := c.ListSandboxes(context.Background(), ListSandboxesParams{
		Cursor: "c1", Limit: 5, States: []SandboxState{SandboxStateStarted, SandboxStateStopped},
	})
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)
	require.Equal(t, "c2", *resp.NextCursor)

	page, err := c.ListSandboxesPaginated(context.Background(), map[string]string{"env": "dev"}, 2, 1)
	require.NoError(t, err)
	require.Equal(t, 3, page.TotalPages)
}

func TestLabelsPreviewAndSSH(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/sandbox/{id}/labels", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Labels map[string]string `json:"labels"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, body)
	}).Methods(http.MethodPut)
	router.HandleFunc("/api/sandbox/{id}/ports/{port}/signed-preview-url", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3000", mux.Vars(r)["port"])
		assert.Equal(t, "60", r.URL.Query().Get("expiresInSeconds"))
		writeJSON(w, http.StatusOK, SignedPortPreviewURL{Port: 3000, Token: "tok", URL: "https://3000-tok.proxy.daytona.work"})
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/sandbox/{id}/ssh-access", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "30", r.URL.Query().Get("expiresInMinutes"))
		writeJSON(w, http.StatusOK, SSHAccess{Token: "ssh-tok", SandboxID: "sb-1"})
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/sandbox/{id}/autodelete/{n}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "-1", mux.Vars(r)["n"])
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/sandbox/{id}/public/{v}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", mux.Vars(r)["v"])
	}).Methods(http.MethodPost)

	c := newTestClient(t, router)
	ctx := context.Background()
	labels, err := c.ReplaceLabels(ctx, "sb-1", map[string]string{"a": "1"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1"}, labels)

	signed, err := c.GetSignedPortPreviewURL(ctx, "sb-1", 3000, 60)
	require.NoError(t, err)
	require.Contains(t, signed.URL, signed.Token)

	access, err := c.CreateSSHAccess(ctx, "sb-1", 30)
	require.NoError(t, err)
	require.Equal(t, "ssh-tok", access.Token)

	require.NoError(t, c.SetAutoDeleteInterval(ctx, "sb-1", -1))
	require.NoError(t, c.UpdatePublicStatus(ctx, "sb-1", true))
}

func TestNotFoundResponseError(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/volumes/by-name/{name}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"statusCode": 404, "message": "Volume with name data not found"})
	}).Methods(http.MethodGet)

	c := newTestClient(t, router)
	_, err := c.GetVolumeByName(context.Background(), "data")
	var respErr *clientv2.ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, http.StatusNotFound, respErr.StatusCode)
	require.Equal(t, "Volume with name data not found", respErr.Message)
}

func TestBuildLogsStream(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/snapshots/{id}/build-logs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("follow"))
		io.WriteString(w, "Step 1/2\nStep 2/2\n")
	}).Methods(http.MethodGet)

	c := newTestClient(t, router)
	body, err := c.GetSnapshotBuildLogs(context.Background(), "snap-1", true)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "Step 1/2\nStep 2/2\n", string(data))
}

func TestSandboxStatePredicates(t *testing.T) {
	require.True(t, SandboxStateDestroyed.IsTerminal())
	require.True(t, SandboxStateBuildFailed.IsTerminal())
	require.False(t, SandboxStateStopped.IsTerminal())
	require.True(t, SandboxStateArchived.IsStable())
	require.False(t, SandboxStateResizing.IsStable())
	require.True(t, SnapshotStateActive.IsTerminal())
	require.False(t, SnapshotStateBuilding.IsTerminal())
}
