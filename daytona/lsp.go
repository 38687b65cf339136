package daytona

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// LSPLanguageID 支持的语言服务器。
type LSPLanguageID string

const (
	LSPPython     LSPLanguageID = "python"
	LSPJavaScript LSPLanguageID = "javascript"
	LSPTypeScript LSPLanguageID = "typescript"
)

// Position 文档中的位置，行与列均从 0 开始。
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range 文档中的区间。
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location 符号所在位置。
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// LSPSymbol 文档或工作区中的符号。
type LSPSymbol struct {
	Name     string   `json:"name"`
	Kind     int      `json:"kind"`
	Location Location `json:"location"`
}

// CompletionItem 补全项。
type CompletionItem struct {
	Label         string      `json:"label"`
	Kind          *int        `json:"kind,omitempty"`
	Detail        string      `json:"detail,omitempty"`
	Documentation interface{} `json:"documentation,omitempty"`
	SortText      string      `json:"sortText,omitempty"`
	FilterText    string      `json:"filterText,omitempty"`
	InsertText    string      `json:"insertText,omitempty"`
}

// CompletionList 补全结果。
type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// LSPServer 是沙箱内某个项目的语言服务器。相对路径相对项目根目录解析。
type LSPServer struct {
	sandbox     *Sandbox
	languageID  LSPLanguageID
	projectPath string
}

type lspRequest struct {
	LanguageID    LSPLanguageID `json:"languageId"`
	PathToProject string        `json:"pathToProject"`
	URI           string        `json:"uri,omitempty"`
	Position      *Position     `json:"position,omitempty"`
	Context       *lspContext   `json:"context,omitempty"`
}

type lspContext struct {
	TriggerKind      int    `json:"triggerKind"`
	TriggerCharacter string `json:"triggerCharacter,omitempty"`
}

func (l *LSPServer) project(ctx context.Context) (string, error) {
	return l.sandbox.resolvePath(ctx, l.projectPath)
}

func (l *LSPServer) uri(project, file string) string {
	if !strings.HasPrefix(file, "/") {
		file = path.Join(project, file)
	}
	return "file://" + file
}

func (l *LSPServer) send(ctx context.Context, op, endpoint, file string, pos *Position, ret interface{}) error {
	if err := l.sandbox.checkOpen(op); err != nil {
		return err
	}
	project, err := l.project(ctx)
	if err != nil {
		return wrapError(op, err)
	}
	req := lspRequest{LanguageID: l.languageID, PathToProject: project}
	if file != "" {
		req.URI = l.uri(project, file)
	}
	if pos != nil {
		req.Position = pos
		req.Context = &lspContext{TriggerKind: 1}
	}
	return wrapError(op, l.sandbox.toolbox.DoJSON(ctx, http.MethodPost, endpoint, nil, req, ret))
}

// Start 启动语言服务器。
func (l *LSPServer) Start(ctx context.Context) error {
	return l.send(ctx, "Failed to start LSP server", "/lsp/start", "", nil, nil)
}

// Stop 停止语言服务器。
func (l *LSPServer) Stop(ctx context.Context) error {
	return l.send(ctx, "Failed to stop LSP server", "/lsp/stop", "", nil, nil)
}

// DidOpen 通知服务器文件已打开。
func (l *LSPServer) DidOpen(ctx context.Context, file string) error {
	return l.send(ctx, "Failed to open file", "/lsp/did-open", file, nil, nil)
}

// DidClose 通知服务器文件已关闭。
func (l *LSPServer) DidClose(ctx context.Context, file string) error {
	return l.send(ctx, "Failed to close file", "/lsp/did-close", file, nil, nil)
}

// Completions 返回指定位置的补全项。
func (l *LSPServer) Completions(ctx context.Context, file string, pos Position) (*CompletionList, error) {
	var list CompletionList
	if err := l.send(ctx, "Failed to get completions", "/lsp/completions", file, &pos, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// DocumentSymbols 返回文件中的符号。
func (l *LSPServer) DocumentSymbols(ctx context.Context, file string) ([]LSPSymbol, error) {
	const op = "Failed to get document symbols"
	if err := l.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	project, err := l.project(ctx)
	if err != nil {
		return nil, wrapError(op, err)
	}
	query := url.Values{
		"languageId":    {string(l.languageID)},
		"pathToProject": {project},
		"uri":           {l.uri(project, file)},
	}
	var symbols []LSPSymbol
	if err := l.sandbox.toolbox.DoJSON(ctx, http.MethodGet, "/lsp/document-symbols", query, nil, &symbols); err != nil {
		return nil, wrapError(op, err)
	}
	return symbols, nil
}

// SandboxSymbols 在整个项目中按名称查找符号。
func (l *LSPServer) SandboxSymbols(ctx context.Context, query string) ([]LSPSymbol, error) {
	const op = "Failed to get workspace symbols"
	if err := l.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	project, err := l.project(ctx)
	if err != nil {
		return nil, wrapError(op, err)
	}
	values := url.Values{
		"languageId":    {string(l.languageID)},
		"pathToProject": {project},
		"query":         {query},
	}
	var symbols []LSPSymbol
	if err := l.sandbox.toolbox.DoJSON(ctx, http.MethodGet, "/lsp/workspacesymbols", values, nil, &symbols); err != nil {
		return nil, wrapError(op, err)
	}
	return symbols, nil
}
