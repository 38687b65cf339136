package imagecontext

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	internal_io "github.com/daytonaio/sdk-go/internal/io"
)

// TarReader 返回上下文的 tar 流。归档在独立的 goroutine 中边读边写，
// 不会把整个归档或单个大文件读入内存。
func TarReader(c Context) io.ReadCloser {
	return internal_io.Pipe(func(w io.Writer) error {
		return writeTar(w, c)
	})
}

func writeTar(w io.Writer, c Context) error {
	tw := tar.NewWriter(w)
	root := NormalizeArchivePath(c.ArchivePath)

	info, err := os.Stat(c.SourcePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if err := addFile(tw, c.SourcePath, root, info); err != nil {
			return err
		}
		return tw.Close()
	}

	err = filepath.WalkDir(c.SourcePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.SourcePath, p)
		if err != nil {
			return err
		}
		name := path.Join(root, filepath.ToSlash(rel))
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			if name == "" || name == "." {
				return nil
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			return tw.WriteHeader(hdr)
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, target)
			if err != nil {
				return err
			}
			hdr.Name = name
			return tw.WriteHeader(hdr)
		case d.Type().IsRegular():
			return addFile(tw, p, name, info)
		default:
			return nil
		}
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

func addFile(tw *tar.Writer, p, name string, info fs.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}
