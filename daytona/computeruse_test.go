package daytona

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daytonaio/sdk-go/internal/api"
)

func TestComputerUseMouseAndScreenshot(t *testing.T) {
	f := newFakePlatform(t)
	f.toolbox("/computeruse/mouse/click", func(w http.ResponseWriter, r *http.Request) {
		var req mouseClick
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, MouseLeft, req.Button)
		assert.True(t, req.Double)
		writeJSON(w, http.StatusOK, Point{X: req.X, Y: req.Y})
	}, http.MethodPost)
	f.toolbox("/computeruse/screenshot/region/compressed", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "10", q.Get("x"))
		assert.Equal(t, "300", q.Get("width"))
		assert.Equal(t, "jpeg", q.Get("format"))
		assert.Equal(t, "80", q.Get("quality"))
		assert.Equal(t, "0.5", q.Get("scale"))
		assert.Equal(t, "true", q.Get("showCursor"))
		writeJSON(w, http.StatusOK, ScreenshotResponse{Image: "aGVsbG8=", SizeBytes: 5})
	}, http.MethodGet)
	c := f.client(nil)
	sb := f.sandbox(c, api.Sandbox{ID: "sb-1"})
	cu := sb.ComputerUse()
	ctx := context.Background()

	p, err := cu.Mouse.Click(ctx, 5, 7, "", true)
	require.NoError(t, err)
	assert.Equal(t, Point{X: 5, Y: 7}, *p)
	_, err = cu.Mouse.Click(ctx, 5, 7, "thumb", false)
	assert.True(t, IsValidation(err), err)
	assert.True(t, IsValidation(cu.Mouse.Scroll(ctx, 0, 0, "sideways", 1)))

	shot, err := cu.Screenshot.TakeCompressedRegion(ctx,
		ScreenshotRegion{X: 10, Y: 20, Width: 300, Height: 200},
		ScreenshotOptions{ShowCursor: true, Format: "jpeg", Quality: 80, Scale: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", shot.Image)

	for _, opts := range []ScreenshotOptions{{Format: "gif"}, {Quality: 101}, {Scale: 1.5}} {
		_, err = cu.Screenshot.TakeCompressed(ctx, opts)
		assert.True(t, IsValidation(err), err)
	}
	_, err = cu.Screenshot.TakeRegion(ctx, ScreenshotRegion{Width: 0, Height: 10}, false)
	assert.True(t, IsValidation(err), err)
}

func TestRecordingDownload(t *testing.T) {
	f := newFakePlatform(t)
	f.toolbox("/computeruse/recordings/missing/download", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "recording not found"})
	}, http.MethodGet)
	f.toolbox("/computeruse/recordings/{rid}/download", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("video-bytes"))
	}, http.MethodGet)
	c := f.client(nil)
	sb := f.sandbox(c, api.Sandbox{ID: "sb-1"})
	rec := sb.ComputerUse().Recording
	ctx := context.Background()

	dir := t.TempDir()
	dst := filepath.Join(dir, "out", "session.mp4")
	require.NoError(t, rec.Download(ctx, "rec-1", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	err = rec.Download(ctx, "missing", filepath.Join(dir, "missing.mp4"))
	assert.True(t, IsNotFound(err), err)
	_, statErr := os.Stat(filepath.Join(dir, "missing.mp4"))
	assert.True(t, os.IsNotExist(statErr))

	assert.True(t, IsValidation(rec.Download(ctx, "rec-1", "")))
}

func TestLSPRequests(t *testing.T) {
	f := newFakePlatform(t)
	f.workDirs()
	var started lspRequest
	f.toolbox("/lsp/start", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&started))
		w.WriteHeader(http.StatusOK)
	}, http.MethodPost)
	f.toolbox("/lsp/completions", func(w http.ResponseWriter, r *http.Request) {
		var req lspRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "file:///home/daytona/work/proj/main.py", req.URI)
		assert.Equal(t, &Position{Line: 3, Character: 4}, req.Position)
		assert.Equal(t, 1, req.Context.TriggerKind)
		writeJSON(w, http.StatusOK, CompletionList{Items: []CompletionItem{{Label: "print"}}})
	}, http.MethodPost)
	f.toolbox("/lsp/document-symbols", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "file:///abs/lib.py", r.URL.Query().Get("uri"))
		assert.Equal(t, "python", r.URL.Query().Get("languageId"))
		writeJSON(w, http.StatusOK, []LSPSymbol{{Name: "main", Kind: 12}})
	}, http.MethodGet)
	c := f.client(nil)
	sb := f.sandbox(c, api.Sandbox{ID: "sb-1"})
	lsp := sb.LSP(LSPPython, "proj")
	ctx := context.Background()

	require.NoError(t, lsp.Start(ctx))
	assert.Equal(t, LSPPython, started.LanguageID)
	assert.Equal(t, "/home/daytona/work/proj", started.PathToProject)
	assert.Empty(t, started.URI)

	list, err := lsp.Completions(ctx, "main.py", Position{Line: 3, Character: 4})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "print", list.Items[0].Label)

	symbols, err := lsp.DocumentSymbols(ctx, "/abs/lib.py")
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "main", symbols[0].Name)
}
