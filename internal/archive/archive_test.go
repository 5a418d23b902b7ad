package archive

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteArchivePreservesStructure(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "assets", "img"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "index.html"), []byte("<html></html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "assets", "img", "logo.png"), []byte("fake-png"), 0o644))

	dest := filepath.Join(t.TempDir(), "site.zip")
	require.NoError(t, (ZipWriter{}).WriteArchive(context.Background(), src, dest))

	zr, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer zr.Close()

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	assert.True(t, names["index.html"], "expected index.html in archive")
	assert.True(t, names["assets/img/logo.png"], "expected assets/img/logo.png in archive")
}

func TestWriteArchiveCancelledContext(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "out.zip")
	err := (ZipWriter{}).WriteArchive(ctx, src, dest)
	assert.Error(t, err, "expected an error for a cancelled context")
}
