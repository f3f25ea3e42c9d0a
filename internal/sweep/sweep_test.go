package sweep

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/opsworld30/safe/internal/bulkdelete"
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

func seedExpiredFile(t *testing.T, conn *gorm.DB, p *paths.Paths, name string, expiry int64) {
	t.Helper()
	require.NoError(t, conn.Create(&model.File{Name: name, Size: 1, ExpiryDate: &expiry}).Error)
	require.NoError(t, os.WriteFile(p.UploadPath(name), []byte("x"), 0o644))
}

func TestRunNow_DeletesExpiredFilesOnly(t *testing.T) {
	conn := openTestDB(t)
	p := testPaths(t)
	deleter := bulkdelete.New(conn, p)
	s := New(conn, deleter, false)

	past := time.Now().Add(-time.Hour).Unix()
	future := time.Now().Add(time.Hour).Unix()
	seedExpiredFile(t, conn, p, "old.png", past)
	seedExpiredFile(t, conn, p, "fresh.png", future)

	s.RunNow()

	var remaining []model.File
	require.NoError(t, conn.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "fresh.png", remaining[0].Name)
}

func TestRunNow_NoExpiredFilesIsANoop(t *testing.T) {
	conn := openTestDB(t)
	p := testPaths(t)
	deleter := bulkdelete.New(conn, p)
	s := New(conn, deleter, false)

	future := time.Now().Add(time.Hour).Unix()
	seedExpiredFile(t, conn, p, "fresh.png", future)

	s.RunNow()

	var count int64
	conn.Model(&model.File{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestRunNow_ConcurrentTicksDoNotOverlap(t *testing.T) {
	conn := openTestDB(t)
	p := testPaths(t)
	deleter := bulkdelete.New(conn, p)
	s := New(conn, deleter, false)

	s.inProgress = 1
	s.tick()
	assert.EqualValues(t, 1, s.inProgress, "tick must bail out and leave the flag untouched when already in progress")
}

func TestStart_InvalidCronExpressionErrors(t *testing.T) {
	conn := openTestDB(t)
	p := testPaths(t)
	deleter := bulkdelete.New(conn, p)
	s := New(conn, deleter, false)

	err := s.Start("not a cron expression")
	assert.Error(t, err)
}

func TestStartAndStop(t *testing.T) {
	conn := openTestDB(t)
	p := testPaths(t)
	deleter := bulkdelete.New(conn, p)
	s := New(conn, deleter, false)

	require.NoError(t, s.Start("@every 1h"))
	s.Stop()
}
