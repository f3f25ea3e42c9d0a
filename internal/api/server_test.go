package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/opsworld30/safe/internal/albumzip"
	"github.com/opsworld30/safe/internal/auth"
	"github.com/opsworld30/safe/internal/bulkdelete"
	"github.com/opsworld30/safe/internal/config"
	"github.com/opsworld30/safe/internal/idalloc"
	"github.com/opsworld30/safe/internal/model"
	"github.com/opsworld30/safe/internal/paths"
	"github.com/opsworld30/safe/internal/retention"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestServer builds a *Server wired to an in-memory DB with just the
// collaborators the auth/health/check routes need.
func newTestServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&model.File{}, &model.Album{}, &model.User{}))

	p, err := paths.New(t.TempDir())
	require.NoError(t, err)

	cfg := config.Default()
	authSvc := auth.New(conn, auth.NewFailureLimiter(cfg.Accounts.AuthFailureLimit, time.Duration(cfg.Accounts.AuthFailureWindowSec)*time.Second), cfg.Accounts.Enabled)
	table := retention.Build(cfg.Retention)
	deleter := bulkdelete.New(conn, p)
	zipper := albumzip.New(conn, p, cfg.Albums.ZipMaxTotalSize)
	hold := idalloc.NewOnHold()
	ids := idalloc.New(hold, 20)

	s := New(Deps{
		Config:    cfg,
		Conn:      conn,
		Paths:     p,
		IDs:       ids,
		Hold:      hold,
		Auth:      authSvc,
		Retention: table,
		Deleter:   deleter,
		Zipper:    zipper,
	})
	return s, conn
}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	s, conn := newTestServer(t)
	return s.Mount(), conn
}

func performJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func performJSONWithToken(r *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("token", token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}
