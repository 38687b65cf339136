package daytona

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/daytonaio/sdk-go/internal/clientv2"
	internal_io "github.com/daytonaio/sdk-go/internal/io"
)

// FileInfo 文件信息。
type FileInfo struct {
	Name        string    `json:"name"`
	IsDir       bool      `json:"isDir"`
	Size        int64     `json:"size"`
	Mode        string    `json:"mode"`
	ModTime     time.Time `json:"modTime"`
	Permissions string    `json:"permissions"`
	Owner       string    `json:"owner"`
	Group       string    `json:"group"`
}

// Match FindFiles 的一条匹配。
type Match struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// ReplaceResult 单个文件的替换结果。
type ReplaceResult struct {
	File    string `json:"file"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SearchRequest 高级搜索参数，语义与 ripgrep 一致。
type SearchRequest struct {
	Query          string   `json:"query"`
	Path           string   `json:"path"`
	CaseSensitive  bool     `json:"caseSensitive,omitempty"`
	Multiline      bool     `json:"multiline,omitempty"`
	Context        int      `json:"context,omitempty"`
	CountOnly      bool     `json:"countOnly,omitempty"`
	FilenamesOnly  bool     `json:"filenamesOnly,omitempty"`
	IncludeGlobs   []string `json:"include,omitempty"`
	ExcludeGlobs   []string `json:"exclude,omitempty"`
	FileTypes      []string `json:"fileTypes,omitempty"`
	MaxResults     int      `json:"maxResults,omitempty"`
	IncludeHidden  bool     `json:"includeHidden,omitempty"`
	FollowSymlinks bool     `json:"followSymlinks,omitempty"`
}

// SearchMatch 高级搜索的一条匹配。
type SearchMatch struct {
	File          string   `json:"file"`
	LineNumber    int      `json:"lineNumber"`
	Line          string   `json:"line"`
	Column        int      `json:"column"`
	Match         string   `json:"match"`
	ContextBefore []string `json:"contextBefore,omitempty"`
	ContextAfter  []string `json:"contextAfter,omitempty"`
}

// SearchResponse 高级搜索结果。
type SearchResponse struct {
	Matches      []SearchMatch `json:"matches"`
	Files        []string      `json:"files,omitempty"`
	TotalMatches int           `json:"totalMatches"`
	TotalFiles   int           `json:"totalFiles"`
}

// FileUpload 待上传的文件。Data 与 LocalPath 二选一，LocalPath 指向的文件以流的方式发送。
type FileUpload struct {
	Data        []byte
	LocalPath   string
	Destination string
}

// FileDownloadRequest 待下载的文件。Destination 为空时内容保存在内存中。
type FileDownloadRequest struct {
	Source      string
	Destination string
}

// FileDownloadResponse 单个文件的下载结果，失败时 Error 非空。
type FileDownloadResponse struct {
	Source string
	// Result 在未设置 Destination 时保存文件内容
	Result []byte
	// Destination 是写入的本地路径
	Destination string
	Error       string
}

// FileSystem 提供沙箱文件系统操作。~ 开头的路径相对用户主目录，相对路径相对工作目录。
type FileSystem struct {
	sandbox *Sandbox
}

func (f *FileSystem) prepare(ctx context.Context, op string, paths ...*string) error {
	if err := f.sandbox.checkOpen(op); err != nil {
		return err
	}
	for _, p := range paths {
		resolved, err := f.sandbox.resolvePath(ctx, *p)
		if err != nil {
			return wrapError(op, err)
		}
		*p = resolved
	}
	return nil
}

func (f *FileSystem) call(ctx context.Context, op, method, path string, query url.Values, body, ret interface{}) error {
	return wrapError(op, f.sandbox.toolbox.DoJSON(ctx, method, path, query, body, ret))
}

// ListFiles 列出目录内容。
func (f *FileSystem) ListFiles(ctx context.Context, dir string) ([]FileInfo, error) {
	const op = "Failed to list files"
	if err := f.prepare(ctx, op, &dir); err != nil {
		return nil, err
	}
	var files []FileInfo
	err := f.call(ctx, op, http.MethodGet, "/files", url.Values{"path": {dir}}, nil, &files)
	return files, err
}

// CreateFolder 创建目录，mode 形如 "755"。
func (f *FileSystem) CreateFolder(ctx context.Context, dir, mode string) error {
	const op = "Failed to create folder"
	if mode == "" {
		mode = "755"
	}
	if _, err := strconv.ParseUint(mode, 8, 32); err != nil {
		return validationError(op, "invalid mode %q", mode)
	}
	if err := f.prepare(ctx, op, &dir); err != nil {
		return err
	}
	return f.call(ctx, op, http.MethodPost, "/files/folder", url.Values{"path": {dir}, "mode": {mode}}, nil, nil)
}

// DeleteFile 删除文件，删除目录时需要 recursive。
func (f *FileSystem) DeleteFile(ctx context.Context, p string, recursive bool) error {
	const op = "Failed to delete file"
	if err := f.prepare(ctx, op, &p); err != nil {
		return err
	}
	query := url.Values{"path": {p}}
	if recursive {
		query.Set("recursive", "true")
	}
	return f.call(ctx, op, http.MethodDelete, "/files", query, nil, nil)
}

// GetFileInfo 返回文件信息。
func (f *FileSystem) GetFileInfo(ctx context.Context, p string) (*FileInfo, error) {
	const op = "Failed to get file info"
	if err := f.prepare(ctx, op, &p); err != nil {
		return nil, err
	}
	var info FileInfo
	if err := f.call(ctx, op, http.MethodGet, "/files/info", url.Values{"path": {p}}, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SearchFiles 按 glob 模式查找文件名。
func (f *FileSystem) SearchFiles(ctx context.Context, root, pattern string) ([]string, error) {
	const op = "Failed to search files"
	if err := f.prepare(ctx, op, &root); err != nil {
		return nil, err
	}
	var resp struct {
		Files []string `json:"files"`
	}
	err := f.call(ctx, op, http.MethodGet, "/files/search", url.Values{"path": {root}, "pattern": {pattern}}, nil, &resp)
	return resp.Files, err
}

// FindFiles 在文件内容中查找 pattern。
func (f *FileSystem) FindFiles(ctx context.Context, root, pattern string) ([]Match, error) {
	const op = "Failed to find files"
	if err := f.prepare(ctx, op, &root); err != nil {
		return nil, err
	}
	var matches []Match
	err := f.call(ctx, op, http.MethodGet, "/files/find", url.Values{"path": {root}, "pattern": {pattern}}, nil, &matches)
	return matches, err
}

// Search 使用 ripgrep 风格的参数搜索文件内容。
func (f *FileSystem) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	const op = "Failed to search"
	if req.Query == "" {
		return nil, validationError(op, "query is required")
	}
	if req.Path == "" {
		req.Path = "."
	}
	if err := f.prepare(ctx, op, &req.Path); err != nil {
		return nil, err
	}
	var resp SearchResponse
	if err := f.call(ctx, op, http.MethodPost, "/files/search", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReplaceInFiles 在多个文件中替换文本。
func (f *FileSystem) ReplaceInFiles(ctx context.Context, files []string, pattern, replacement string) ([]ReplaceResult, error) {
	const op = "Failed to replace in files"
	resolved := append([]string(nil), files...)
	ptrs := make([]*string, len(resolved))
	for i := range resolved {
		ptrs[i] = &resolved[i]
	}
	if err := f.prepare(ctx, op, ptrs...); err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"files":    resolved,
		"pattern":  pattern,
		"newValue": replacement,
	}
	var results []ReplaceResult
	err := f.call(ctx, op, http.MethodPost, "/files/replace", nil, body, &results)
	return results, err
}

// MoveFiles 移动或重命名文件。
func (f *FileSystem) MoveFiles(ctx context.Context, source, destination string) error {
	const op = "Failed to move files"
	if err := f.prepare(ctx, op, &source, &destination); err != nil {
		return err
	}
	return f.call(ctx, op, http.MethodPost, "/files/move", url.Values{"source": {source}, "destination": {destination}}, nil, nil)
}

// FilePermissions 需要修改的权限，空字段保持不变。
type FilePermissions struct {
	Mode  string
	Owner string
	Group string
}

// SetFilePermissions 修改文件的权限与属主。
func (f *FileSystem) SetFilePermissions(ctx context.Context, p string, perms FilePermissions) error {
	const op = "Failed to set file permissions"
	if perms.Mode != "" {
		if _, err := strconv.ParseUint(perms.Mode, 8, 32); err != nil {
			return validationError(op, "invalid mode %q", perms.Mode)
		}
	}
	if err := f.prepare(ctx, op, &p); err != nil {
		return err
	}
	query := url.Values{"path": {p}}
	for k, v := range map[string]string{"mode": perms.Mode, "owner": perms.Owner, "group": perms.Group} {
		if v != "" {
			query.Set(k, v)
		}
	}
	return f.call(ctx, op, http.MethodPost, "/files/permissions", query, nil, nil)
}

// UploadFile 上传单个文件。
func (f *FileSystem) UploadFile(ctx context.Context, data []byte, destination string) error {
	return f.UploadFiles(ctx, []FileUpload{{Data: data, Destination: destination}})
}

// UploadFiles 以一次 multipart 请求上传多个文件，任一文件失败则整个请求失败。
func (f *FileSystem) UploadFiles(ctx context.Context, files []FileUpload) error {
	const op = "Failed to upload files"
	if len(files) == 0 {
		return nil
	}
	if err := f.sandbox.checkOpen(op); err != nil {
		return err
	}

	form := &clientv2.MultipartForm{}
	var opened []*os.File
	defer func() {
		for _, file := range opened {
			file.Close()
		}
	}()
	for i, upload := range files {
		if upload.Destination == "" {
			return validationError(op, "destination is required for file %d", i)
		}
		dst, err := f.sandbox.resolvePath(ctx, upload.Destination)
		if err != nil {
			return wrapError(op, err)
		}
		var r io.Reader
		switch {
		case upload.LocalPath != "":
			file, err := os.Open(upload.LocalPath)
			if err != nil {
				return &Error{Kind: KindValidation, Op: op, Message: err.Error(), Err: err}
			}
			opened = append(opened, file)
			r = file
		default:
			r = bytes.NewReader(upload.Data)
		}
		form.SetValue(fmt.Sprintf("files[%d].path", i), dst)
		form.SetFile(fmt.Sprintf("files[%d].file", i), filepath.Base(dst), "", r)
	}

	resp, err := f.sandbox.toolbox.Do(ctx, http.MethodPost, "/files/bulk-upload", nil, clientv2.GetMultipartFormRequestBody(form))
	if err != nil {
		return wrapError(op, err)
	}
	internal_io.SinkAll(resp.Body)
	resp.Body.Close()
	return nil
}

// DownloadFile 下载单个文件到内存。
func (f *FileSystem) DownloadFile(ctx context.Context, source string) ([]byte, error) {
	const op = "Failed to download file"
	results, err := f.DownloadFiles(ctx, []FileDownloadRequest{{Source: source}})
	if err != nil {
		return nil, err
	}
	if results[0].Error != "" {
		return nil, newError(KindGeneric, op, "%s", results[0].Error)
	}
	return results[0].Result, nil
}

// DownloadFiles 以一次请求下载多个文件，结果与请求一一对应。
// 单个文件的失败记录在对应结果的 Error 中，不会作为错误返回。
func (f *FileSystem) DownloadFiles(ctx context.Context, requests []FileDownloadRequest) ([]FileDownloadResponse, error) {
	const op = "Failed to download files"
	if len(requests) == 0 {
		return nil, nil
	}
	if err := f.sandbox.checkOpen(op); err != nil {
		return nil, err
	}

	results := make([]FileDownloadResponse, len(requests))
	bySource := make(map[string][]int, len(requests))
	paths := make([]string, 0, len(requests))
	for i, req := range requests {
		src, err := f.sandbox.resolvePath(ctx, req.Source)
		if err != nil {
			return nil, wrapError(op, err)
		}
		results[i] = FileDownloadResponse{Source: req.Source, Destination: req.Destination}
		if _, ok := bySource[src]; !ok {
			paths = append(paths, src)
		}
		bySource[src] = append(bySource[src], i)
	}

	getBody, err := clientv2.GetJsonRequestBody(map[string]interface{}{"paths": paths})
	if err != nil {
		return nil, wrapError(op, err)
	}
	body, header, err := f.sandbox.toolbox.Stream(ctx, http.MethodPost, "/files/bulk-download", nil, getBody)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer body.Close()

	_, params, err := mime.ParseMediaType(header.Get("Content-Type"))
	if err != nil || params["boundary"] == "" {
		return nil, newError(KindServer, op, "response is not a multipart stream")
	}
	reader := multipart.NewReader(body, params["boundary"])
	seen := make(map[int]bool, len(requests))
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, wrapError(op, err)
		}
		kind, source := partSource(part)
		indexes := bySource[source]
		if len(indexes) == 0 {
			part.Close()
			continue
		}
		if err := f.consumePart(part, kind, indexes, results); err != nil {
			part.Close()
			return nil, wrapError(op, err)
		}
		part.Close()
		for _, i := range indexes {
			seen[i] = true
		}
	}
	for i := range results {
		if !seen[i] {
			results[i].Error = "no data received for this file"
		}
	}
	return results, nil
}

// partSource 返回分段类型（file 或 error）以及它对应的源路径。
// multipart.Part.FileName 只保留文件名部分，因此直接解析 Content-Disposition。
func partSource(part *multipart.Part) (string, string) {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return part.FormName(), ""
	}
	return params["name"], params["filename"]
}

func (f *FileSystem) consumePart(part *multipart.Part, kind string, indexes []int, results []FileDownloadResponse) error {
	if kind == "error" {
		msg, err := internal_io.ReadLimited(part, 64<<10)
		if err != nil {
			return err
		}
		for _, i := range indexes {
			results[i].Error = string(msg)
			results[i].Result = nil
		}
		return nil
	}

	var memory []byte
	needMemory := false
	var writers []io.Writer
	var files []*os.File
	defer func() {
		for _, file := range files {
			file.Close()
		}
	}()
	for _, i := range indexes {
		dst := results[i].Destination
		if dst == "" {
			needMemory = true
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			results[i].Error = err.Error()
			continue
		}
		file, err := os.Create(dst)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		files = append(files, file)
		writers = append(writers, file)
	}
	var buf bytes.Buffer
	if needMemory {
		writers = append(writers, &buf)
	}
	if _, err := io.Copy(io.MultiWriter(writers...), part); err != nil {
		return err
	}
	for _, file := range files {
		if err := file.Close(); err != nil {
			return err
		}
	}
	files = nil
	if needMemory {
		memory = buf.Bytes()
		for _, i := range indexes {
			if results[i].Destination == "" {
				results[i].Result = memory
			}
		}
	}
	return nil
}
