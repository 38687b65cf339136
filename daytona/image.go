package daytona

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/daytonaio/sdk-go/internal/imagecontext"
)

// 支持的 Debian slim Python 版本。
var supportedPythonVersions = []string{"3.9", "3.10", "3.11", "3.12", "3.13"}

// Image 声明式镜像。每个方法都返回新的 Image，原值保持不变。
// 构造过程中的错误会被记录，在创建沙箱或快照时返回。
type Image struct {
	dockerfile string
	contexts   []imagecontext.Context
	err        error
}

func (i *Image) clone() *Image {
	return &Image{
		dockerfile: i.dockerfile,
		contexts:   append([]imagecontext.Context(nil), i.contexts...),
		err:        i.err,
	}
}

func (i *Image) with(line string) *Image {
	next := i.clone()
	next.dockerfile += line + "\n"
	return next
}

func (i *Image) fail(err error) *Image {
	next := i.clone()
	if next.err == nil {
		next.err = err
	}
	return next
}

// Base 以已存在的镜像为基础。
func Base(image string) *Image {
	return (&Image{}).with("FROM " + image)
}

// DebianSlim 以官方 Python slim 镜像为基础，pythonVersion 为空时使用 3.12。
func DebianSlim(pythonVersion string) *Image {
	if pythonVersion == "" {
		pythonVersion = "3.12"
	}
	ok := false
	for _, v := range supportedPythonVersions {
		if v == pythonVersion {
			ok = true
		}
	}
	img := Base(fmt.Sprintf("python:%s-slim-bookworm", pythonVersion)).
		RunCommands(
			"apt-get update",
			"apt-get install -y gcc gfortran build-essential",
			"pip install --upgrade pip",
			"rm -rf /var/lib/apt/lists/*",
		)
	if !ok {
		return img.fail(fmt.Errorf("unsupported python version %q, supported versions: %s", pythonVersion, strings.Join(supportedPythonVersions, ", ")))
	}
	return img
}

// FromDockerfile 读取 Dockerfile，COPY/ADD 引用的本地文件作为构建上下文上传。
func FromDockerfile(dockerfilePath string) *Image {
	content, err := os.ReadFile(dockerfilePath)
	if err != nil {
		return (&Image{}).fail(fmt.Errorf("read dockerfile: %w", err))
	}
	img := &Image{dockerfile: string(content)}
	if !strings.HasSuffix(img.dockerfile, "\n") {
		img.dockerfile += "\n"
	}
	contexts, err := dockerfileContexts(img.dockerfile, filepath.Dir(dockerfilePath))
	if err != nil {
		return img.fail(err)
	}
	img.contexts = contexts
	return img
}

// PipInstallOptions pip 安装选项。
type PipInstallOptions struct {
	FindLinks      []string
	IndexURL       string
	ExtraIndexURLs []string
	Pre            bool
	ExtraOptions   string
}

func (o PipInstallOptions) flags() string {
	var b strings.Builder
	for _, link := range o.FindLinks {
		b.WriteString(" --find-links " + shellQuote(link))
	}
	if o.IndexURL != "" {
		b.WriteString(" --index-url " + shellQuote(o.IndexURL))
	}
	for _, u := range o.ExtraIndexURLs {
		b.WriteString(" --extra-index-url " + shellQuote(u))
	}
	if o.Pre {
		b.WriteString(" --pre")
	}
	if o.ExtraOptions != "" {
		b.WriteString(" " + strings.TrimSpace(o.ExtraOptions))
	}
	return b.String()
}

// PipInstall 安装 Python 包。
func (i *Image) PipInstall(packages ...string) *Image {
	return i.PipInstallWithOptions(PipInstallOptions{}, packages...)
}

// PipInstallWithOptions 使用指定选项安装 Python 包。
func (i *Image) PipInstallWithOptions(opts PipInstallOptions, packages ...string) *Image {
	if len(packages) == 0 {
		return i.clone()
	}
	quoted := make([]string, len(packages))
	for n, p := range packages {
		quoted[n] = shellQuote(p)
	}
	sort.Strings(quoted)
	return i.with("RUN python -m pip install " + strings.Join(quoted, " ") + opts.flags())
}

// PipInstallFromRequirements 按 requirements.txt 安装依赖，文件会被上传。
func (i *Image) PipInstallFromRequirements(requirementsPath string, opts PipInstallOptions) *Image {
	local, err := expandLocal(requirementsPath)
	if err != nil {
		return i.fail(err)
	}
	if _, err := os.Stat(local); err != nil {
		return i.fail(fmt.Errorf("requirements file %s: %w", requirementsPath, err))
	}
	archive := imagecontext.NormalizeArchivePath(local)
	next := i.clone()
	next.contexts = append(next.contexts, imagecontext.Context{SourcePath: local, ArchivePath: archive})
	next.dockerfile += fmt.Sprintf("COPY %s /.requirements.txt\n", archive)
	next.dockerfile += "RUN python -m pip install -r /.requirements.txt" + opts.flags() + "\n"
	return next
}

// AddLocalFile 把本地文件复制到镜像中的 remotePath；remotePath 以 / 结尾时保留文件名。
func (i *Image) AddLocalFile(localPath, remotePath string) *Image {
	local, err := expandLocal(localPath)
	if err != nil {
		return i.fail(err)
	}
	if strings.HasSuffix(remotePath, "/") {
		remotePath += filepath.Base(local)
	}
	archive := imagecontext.NormalizeArchivePath(local)
	next := i.clone()
	next.contexts = append(next.contexts, imagecontext.Context{SourcePath: local, ArchivePath: archive})
	next.dockerfile += fmt.Sprintf("COPY %s %s\n", archive, remotePath)
	return next
}

// AddLocalDir 把本地目录复制到镜像中的 remotePath。
func (i *Image) AddLocalDir(localPath, remotePath string) *Image {
	local, err := expandLocal(localPath)
	if err != nil {
		return i.fail(err)
	}
	archive := imagecontext.NormalizeArchivePath(local)
	next := i.clone()
	next.contexts = append(next.contexts, imagecontext.Context{SourcePath: local, ArchivePath: archive})
	next.dockerfile += fmt.Sprintf("COPY %s %s\n", archive, remotePath)
	return next
}

// RunCommands 添加 RUN 指令。
func (i *Image) RunCommands(commands ...string) *Image {
	next := i.clone()
	for _, c := range commands {
		next.dockerfile += "RUN " + c + "\n"
	}
	return next
}

// Env 添加 ENV 指令，按键名排序以保证 Dockerfile 稳定。
func (i *Image) Env(vars map[string]string) *Image {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		if !envKeyPattern.MatchString(k) {
			return i.fail(fmt.Errorf("invalid environment variable name %q", k))
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	next := i.clone()
	for _, k := range keys {
		next.dockerfile += fmt.Sprintf("ENV %s=%s\n", k, shellQuote(vars[k]))
	}
	return next
}

// Workdir 设置工作目录。
func (i *Image) Workdir(dir string) *Image {
	return i.with("WORKDIR " + shellQuote(dir))
}

// Entrypoint 设置 ENTRYPOINT，使用 exec 形式。
func (i *Image) Entrypoint(command ...string) *Image {
	return i.with("ENTRYPOINT " + execForm(command))
}

// Cmd 设置 CMD，使用 exec 形式。
func (i *Image) Cmd(command ...string) *Image {
	return i.with("CMD " + execForm(command))
}

// DockerfileCommands 追加原始 Dockerfile 指令，其中 COPY/ADD 引用的文件相对 contextDir 上传。
func (i *Image) DockerfileCommands(commands []string, contextDir string) *Image {
	next := i.clone()
	block := strings.Join(commands, "\n") + "\n"
	if contextDir != "" {
		contexts, err := dockerfileContexts(block, contextDir)
		if err != nil {
			return i.fail(err)
		}
		next.contexts = append(next.contexts, contexts...)
	}
	next.dockerfile += block
	return next
}

// Dockerfile 返回渲染后的 Dockerfile。
func (i *Image) Dockerfile() string { return i.dockerfile }

// Err 返回构造过程中记录的第一个错误。
func (i *Image) Err() error { return i.err }

func execForm(command []string) string {
	quoted := make([]string, len(command))
	for n, c := range command {
		quoted[n] = fmt.Sprintf("%q", c)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func expandLocal(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}

// dockerfileContexts 找出 COPY/ADD 指令引用的本地路径。--from 指令与 URL 来源会被跳过。
func dockerfileContexts(dockerfile, contextDir string) ([]imagecontext.Context, error) {
	var contexts []imagecontext.Context
	seen := make(map[string]bool)
	for _, line := range strings.Split(dockerfile, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "COPY", "ADD":
		default:
			continue
		}
		args := fields[1:]
		fromStage := false
		for len(args) > 0 && strings.HasPrefix(args[0], "--") {
			if strings.HasPrefix(args[0], "--from") {
				fromStage = true
			}
			args = args[1:]
		}
		if fromStage || len(args) < 2 {
			continue
		}
		for _, src := range args[:len(args)-1] {
			src = strings.Trim(src, `"[],`)
			if strings.Contains(src, "://") {
				continue
			}
			matches, err := filepath.Glob(filepath.Join(contextDir, filepath.FromSlash(src)))
			if err != nil {
				return nil, err
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("COPY source %s not found in %s", src, contextDir)
			}
			for _, m := range matches {
				rel, err := filepath.Rel(contextDir, m)
				if err != nil {
					return nil, err
				}
				archive := imagecontext.NormalizeArchivePath(path.Clean(filepath.ToSlash(rel)))
				if seen[archive] {
					continue
				}
				seen[archive] = true
				contexts = append(contexts, imagecontext.Context{SourcePath: m, ArchivePath: archive})
			}
		}
	}
	return contexts, nil
}
