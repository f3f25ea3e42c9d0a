package albumzip

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/opsworld30/safe/internal/apperr"
	"github.com/opsworld30/safe/internal/model"
	"github.com/opsworld30/safe/internal/paths"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&model.File{}, &model.Album{}))
	return conn
}

func testPaths(t *testing.T) *paths.Paths {
	t.Helper()
	p, err := paths.New(t.TempDir())
	require.NoError(t, err)
	return p
}

func seedAlbumWithFiles(t *testing.T, conn *gorm.DB, p *paths.Paths, album *model.Album, files ...model.File) {
	t.Helper()
	require.NoError(t, conn.Create(album).Error)
	for i := range files {
		files[i].AlbumID = &album.ID
		require.NoError(t, conn.Create(&files[i]).Error)
		require.NoError(t, os.WriteFile(p.UploadPath(files[i].Name), []byte("data"), 0o644))
	}
}

func TestGet_UnknownIdentifierReturnsNotFound(t *testing.T) {
	conn := openTestDB(t)
	p := testPaths(t)
	z := New(conn, p, 1<<30)

	_, err := z.Get("nope")
	var clientErr *apperr.ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, 404, clientErr.Status)
}

func TestGet_DownloadsDisabledIsForbidden(t *testing.T) {
	conn := openTestDB(t)
	p := testPaths(t)
	z := New(conn, p, 1<<30)

	album := model.Album{Name: "a", Identifier: "alb1", Enabled: true, Public: true, Download: false}
	require.NoError(t, conn.Create(&album).Error)

	_, err := z.Get("alb1")
	var clientErr *apperr.ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, 403, clientErr.Status)
}

func TestGet_BuildsAndReusesFreshZip(t *testing.T) {
	conn := openTestDB(t)
	p := testPaths(t)
	z := New(conn, p, 1<<30)

	album := &model.Album{Name: "a", Identifier: "alb1", Enabled: true, Public: true, Download: true, EditedAt: 1}
	seedAlbumWithFiles(t, conn, p, album, model.File{Name: "f1.png", Original: "photo.png", Size: 4})

	path, err := z.Get("alb1")
	require.NoError(t, err)
	assert.FileExists(t, path)

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	require.Len(t, r.File, 1)
	assert.Equal(t, "photo.png", r.File[0].Name)

	info, err := os.Stat(path)
	require.NoError(t, err)
	firstModTime := info.ModTime()

	path2, err := z.Get("alb1")
	require.NoError(t, err)
	info2, err := os.Stat(path2)
	require.NoError(t, err)
	assert.Equal(t, firstModTime, info2.ModTime(), "a fresh zip must not be rebuilt")
}

func TestGet_RebuildsWhenEditedAfterLastZip(t *testing.T) {
	conn := openTestDB(t)
	p := testPaths(t)
	z := New(conn, p, 1<<30)

	album := &model.Album{Name: "a", Identifier: "alb1", Enabled: true, Public: true, Download: true, EditedAt: 1}
	seedAlbumWithFiles(t, conn, p, album, model.File{Name: "f1.png", Original: "photo.png", Size: 4})

	_, err := z.Get("alb1")
	require.NoError(t, err)

	require.NoError(t, conn.Model(&model.Album{}).Where("id = ?", album.ID).Update("edited_at", time.Now().Unix()+1000).Error)

	path, err := z.Get("alb1")
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestGet_TooLargeAlbumReturns413(t *testing.T) {
	conn := openTestDB(t)
	p := testPaths(t)
	z := New(conn, p, 10)

	album := &model.Album{Name: "a", Identifier: "alb1", Enabled: true, Public: true, Download: true}
	seedAlbumWithFiles(t, conn, p, album, model.File{Name: "f1.png", Original: "photo.png", Size: 1000})

	_, err := z.Get("alb1")
	var clientErr *apperr.ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, 413, clientErr.Status)
}

func TestJoinOrStart_ConcurrentCallersShareOneBuild(t *testing.T) {
	conn := openTestDB(t)
	p := testPaths(t)
	z := New(conn, p, 1<<30)

	album := &model.Album{Name: "a", Identifier: "alb1", Enabled: true, Public: true, Download: true}
	seedAlbumWithFiles(t, conn, p, album, model.File{Name: "f1.png", Original: "photo.png", Size: 4})

	gen1 := z.joinOrStart("alb1", *album)
	gen2 := z.joinOrStart("alb1", *album)
	assert.Same(t, gen1, gen2)

	<-gen1.done
	assert.NoError(t, gen1.err)
}

func TestInvalidate_RemovesCachedZipFile(t *testing.T) {
	conn := openTestDB(t)
	p := testPaths(t)
	z := New(conn, p, 1<<30)

	zipPath := p.ZipPath("alb1")
	require.NoError(t, os.MkdirAll(filepath.Dir(zipPath), 0o755))
	require.NoError(t, os.WriteFile(zipPath, []byte("x"), 0o644))

	z.Invalidate("alb1")
	_, err := os.Stat(zipPath)
	assert.True(t, os.IsNotExist(err))
}
