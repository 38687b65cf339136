// Package imagecontext 计算镜像构建上下文的内容哈希，并以 tar 形式去重上传到对象存储。
package imagecontext

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Context 是一个需要上传的本地文件或目录。
type Context struct {
	SourcePath  string
	ArchivePath string
}

// NormalizeArchivePath 把归档路径规范为不以斜杠开头的 POSIX 路径。
func NormalizeArchivePath(p string) string {
	p = strings.TrimLeft(path.Clean("/"+filepath.ToSlash(p)), "/")
	return p
}

// HashContext 计算上下文的内容哈希：先写入规范化的归档路径，
// 目录则按字典序遍历，依次写入每个文件的相对路径和内容，空目录只写入路径。
func HashContext(c Context) (string, error) {
	h := md5.New()
	io.WriteString(h, NormalizeArchivePath(c.ArchivePath))

	info, err := os.Stat(c.SourcePath)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		if err := hashFile(h, c.SourcePath); err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	err = filepath.WalkDir(c.SourcePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.SourcePath, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && isEmptyDir(p) {
				io.WriteString(h, rel)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		io.WriteString(h, rel)
		return hashFile(h, p)
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(h hash.Hash, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(h, f)
	return err
}

func isEmptyDir(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	return err == io.EOF
}
