package daytona

import (
	"context"
	"net/http"
	"net/url"
)

// GitCredentials 访问私有仓库的凭证。
type GitCredentials struct {
	Username string
	Password string
}

// GitCloneOptions 克隆参数，Commit 非空时检出到该提交（分离头指针）。
type GitCloneOptions struct {
	Branch      string
	Commit      string
	Credentials *GitCredentials
}

// FileStatus 工作区中一个文件的状态。
type FileStatus struct {
	Name     string `json:"name"`
	Staging  string `json:"staging"`
	Worktree string `json:"worktree"`
	Extra    string `json:"extra"`
}

// GitStatus 仓库状态。
type GitStatus struct {
	CurrentBranch   string       `json:"currentBranch"`
	Ahead           int          `json:"ahead"`
	Behind          int          `json:"behind"`
	BranchPublished bool         `json:"branchPublished"`
	FileStatus      []FileStatus `json:"fileStatus"`
}

// Git 在沙箱中操作 Git 仓库，路径按沙箱规则解析。
type Git struct {
	sandbox *Sandbox
}

type gitRepoRequest struct {
	Path     string   `json:"path"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	Files    []string `json:"files,omitempty"`
}

func (g *Git) withCredentials(req *gitRepoRequest, creds *GitCredentials) {
	if creds != nil {
		req.Username, req.Password = creds.Username, creds.Password
	}
}

func (g *Git) post(ctx context.Context, op, endpoint string, repo *string, body interface{}, ret interface{}) error {
	if err := g.sandbox.checkOpen(op); err != nil {
		return err
	}
	resolved, err := g.sandbox.resolvePath(ctx, *repo)
	if err != nil {
		return wrapError(op, err)
	}
	*repo = resolved
	return wrapError(op, g.sandbox.toolbox.DoJSON(ctx, http.MethodPost, endpoint, nil, body, ret))
}

// Clone 克隆仓库到 path。
func (g *Git) Clone(ctx context.Context, repoURL, path string, opts GitCloneOptions) error {
	const op = "Failed to clone repository"
	if repoURL == "" {
		return validationError(op, "repository url is required")
	}
	body := struct {
		URL      string `json:"url"`
		Path     string `json:"path"`
		Branch   string `json:"branch,omitempty"`
		CommitID string `json:"commit_id,omitempty"`
		Username string `json:"username,omitempty"`
		Password string `json:"password,omitempty"`
	}{URL: repoURL, Path: path, Branch: opts.Branch, CommitID: opts.Commit}
	if opts.Credentials != nil {
		body.Username, body.Password = opts.Credentials.Username, opts.Credentials.Password
	}
	return g.post(ctx, op, "/git/clone", &body.Path, &body, nil)
}

// Add 暂存文件，files 相对仓库根目录。
func (g *Git) Add(ctx context.Context, path string, files ...string) error {
	const op = "Failed to add files"
	if len(files) == 0 {
		return validationError(op, "at least one file is required")
	}
	req := gitRepoRequest{Path: path, Files: files}
	return g.post(ctx, op, "/git/add", &req.Path, &req, nil)
}

// GitCommitOptions 提交参数。
type GitCommitOptions struct {
	Author     string `validate:"required"`
	Email      string `validate:"required,email"`
	AllowEmpty bool
}

// Commit 提交已暂存的修改并返回提交 SHA。
func (g *Git) Commit(ctx context.Context, path, message string, opts GitCommitOptions) (string, error) {
	const op = "Failed to commit changes"
	if message == "" {
		return "", validationError(op, "commit message is required")
	}
	if err := defaultValidator.Validate(op, &opts); err != nil {
		return "", err
	}
	body := struct {
		Path       string `json:"path"`
		Message    string `json:"message"`
		Author     string `json:"author"`
		Email      string `json:"email"`
		AllowEmpty bool   `json:"allow_empty,omitempty"`
	}{Path: path, Message: message, Author: opts.Author, Email: opts.Email, AllowEmpty: opts.AllowEmpty}
	var resp struct {
		Hash string `json:"hash"`
	}
	if err := g.post(ctx, op, "/git/commit", &body.Path, &body, &resp); err != nil {
		return "", err
	}
	return resp.Hash, nil
}

// Push 推送当前分支。
func (g *Git) Push(ctx context.Context, path string, creds *GitCredentials) error {
	const op = "Failed to push changes"
	req := gitRepoRequest{Path: path}
	g.withCredentials(&req, creds)
	return g.post(ctx, op, "/git/push", &req.Path, &req, nil)
}

// Pull 拉取远端修改。
func (g *Git) Pull(ctx context.Context, path string, creds *GitCredentials) error {
	const op = "Failed to pull changes"
	req := gitRepoRequest{Path: path}
	g.withCredentials(&req, creds)
	return g.post(ctx, op, "/git/pull", &req.Path, &req, nil)
}

// Status 返回仓库状态。
func (g *Git) Status(ctx context.Context, path string) (*GitStatus, error) {
	const op = "Failed to get git status"
	if err := g.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	resolved, err := g.sandbox.resolvePath(ctx, path)
	if err != nil {
		return nil, wrapError(op, err)
	}
	var status GitStatus
	if err := g.sandbox.toolbox.DoJSON(ctx, http.MethodGet, "/git/status", url.Values{"path": {resolved}}, nil, &status); err != nil {
		return nil, wrapError(op, err)
	}
	return &status, nil
}

// Branches 列出本地分支。
func (g *Git) Branches(ctx context.Context, path string) ([]string, error) {
	const op = "Failed to list branches"
	if err := g.sandbox.checkOpen(op); err != nil {
		return nil, err
	}
	resolved, err := g.sandbox.resolvePath(ctx, path)
	if err != nil {
		return nil, wrapError(op, err)
	}
	var resp struct {
		Branches []string `json:"branches"`
	}
	if err := g.sandbox.toolbox.DoJSON(ctx, http.MethodGet, "/git/branches", url.Values{"path": {resolved}}, nil, &resp); err != nil {
		return nil, wrapError(op, err)
	}
	return resp.Branches, nil
}

type gitBranchRequest struct {
	Path   string `json:"path"`
	Name   string `json:"name,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// CreateBranch 创建分支。
func (g *Git) CreateBranch(ctx context.Context, path, name string) error {
	const op = "Failed to create branch"
	if name == "" {
		return validationError(op, "branch name is required")
	}
	req := gitBranchRequest{Path: path, Name: name}
	return g.post(ctx, op, "/git/branches", &req.Path, &req, nil)
}

// CheckoutBranch 切换分支。
func (g *Git) CheckoutBranch(ctx context.Context, path, branch string) error {
	const op = "Failed to checkout branch"
	if branch == "" {
		return validationError(op, "branch name is required")
	}
	req := gitBranchRequest{Path: path, Branch: branch}
	return g.post(ctx, op, "/git/checkout", &req.Path, &req, nil)
}

// DeleteBranch 删除分支。
func (g *Git) DeleteBranch(ctx context.Context, path, name string) error {
	const op = "Failed to delete branch"
	if name == "" {
		return validationError(op, "branch name is required")
	}
	if err := g.sandbox.checkOpen(op); err != nil {
		return err
	}
	resolved, err := g.sandbox.resolvePath(ctx, path)
	if err != nil {
		return wrapError(op, err)
	}
	req := gitBranchRequest{Path: resolved, Name: name}
	return wrapError(op, g.sandbox.toolbox.DoJSON(ctx, http.MethodDelete, "/git/branches", nil, &req, nil))
}
