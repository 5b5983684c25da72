package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagemirror/internal/storage"
	"github.com/JakeFAU/pagemirror/internal/storage/memory"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	}
	return root
}

func TestTreeArchiverUploadsEveryFile(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"index.html":      "<html></html>",
		"images/logo.png": "PNG",
		"css/site.css":    "body{}",
	})
	blobs := memory.NewBlobStore()
	id := uuid.MustParse("01890000-0000-7000-8000-000000000001")

	result, err := storage.TreeArchiver{Writer: blobs, Prefix: "/mirrors/"}.Archive(context.Background(), id, root)
	require.NoError(t, err)

	assert.Equal(t, "memory://mirrors/"+id.String()+"/", result.URI)
	assert.Equal(t, 3, result.Objects)
	assert.EqualValues(t, len("<html></html>")+len("PNG")+len("body{}"), result.Bytes)
	assert.Equal(t, []string{
		"mirrors/" + id.String() + "/css/site.css",
		"mirrors/" + id.String() + "/images/logo.png",
		"mirrors/" + id.String() + "/index.html",
	}, blobs.Paths())
}

func TestTreeArchiverMissingRoot(t *testing.T) {
	t.Parallel()

	_, err := storage.TreeArchiver{Writer: memory.NewBlobStore()}.Archive(
		context.Background(), uuid.New(), filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)

	_, err = storage.TreeArchiver{}.Archive(context.Background(), uuid.New(), t.TempDir())
	assert.Error(t, err)
}

func TestContentTypeFor(t *testing.T) {
	t.Parallel()

	assert.Contains(t, storage.ContentTypeFor("a/index.HTML"), "text/html")
	assert.Equal(t, "image/png", storage.ContentTypeFor("logo.png"))
	assert.Equal(t, "application/octet-stream", storage.ContentTypeFor("file_1.unknownext"))
}

func TestMockArchiver(t *testing.T) {
	t.Parallel()

	m := &storage.MockArchiver{}
	id := uuid.New()
	m.On("Archive", mock.Anything, id, "/out").Return(storage.ArchiveResult{URI: "gs://b/x/", Objects: 2}, nil)

	var archiver storage.Archiver = m
	res, err := archiver.Archive(context.Background(), id, "/out")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Objects)
	m.AssertExpectations(t)

	res, err = storage.NoOpArchiver{}.Archive(context.Background(), id, "/out")
	require.NoError(t, err)
	assert.Zero(t, res)
}
