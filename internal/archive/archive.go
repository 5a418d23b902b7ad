// Package archive packages a mirrored site's output directory into a
// single ZIP for download, implementing collab.ArchiveWriter. Walking the
// tree and writing each file into a zip.Writer mirrors the teacher's own
// archive/zip usage in internal/cachestore.Store.ExportZIP, pointed at a
// directory tree instead of a cache's key/value entries.
package archive

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/webmirror/webmirror/internal/errs"
)

// ZipWriter implements collab.ArchiveWriter using the standard archive/zip
// package.
type ZipWriter struct{}

// WriteArchive walks sourceDir and writes every regular file into a ZIP
// at destArchivePath, preserving the directory's relative structure.
func (ZipWriter) WriteArchive(ctx context.Context, sourceDir, destArchivePath string) error {
	f, err := os.Create(destArchivePath)
	if err != nil {
		return errs.Wrap(errs.KindDiskFull, "create archive", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	defer zw.Close()

	return filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
}
