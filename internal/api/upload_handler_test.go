package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/opsworld30/safe/internal/auth"
	"github.com/opsworld30/safe/internal/chunk"
	"github.com/opsworld30/safe/internal/config"
	"github.com/opsworld30/safe/internal/dedup"
	"github.com/opsworld30/safe/internal/idalloc"
	"github.com/opsworld30/safe/internal/ingest"
	"github.com/opsworld30/safe/internal/model"
	"github.com/opsworld30/safe/internal/paths"
	"github.com/opsworld30/safe/internal/retention"
	"github.com/opsworld30/safe/internal/scanner"
)

// newUploadTestServer wires the full ingest path (Engine + chunk
// Coordinator) that upload_handler.go needs, on top of the base
// collaborators newTestServer already provides.
func newUploadTestServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&model.File{}, &model.Album{}, &model.User{}))

	p, err := paths.New(t.TempDir())
	require.NoError(t, err)

	cfg := config.Default()
	authSvc := auth.New(conn, auth.NewFailureLimiter(cfg.Accounts.AuthFailureLimit, time.Duration(cfg.Accounts.AuthFailureWindowSec)*time.Second), cfg.Accounts.Enabled)
	table := retention.Build(cfg.Retention)
	hold := idalloc.NewOnHold()
	ids := idalloc.New(hold, 20)

	chunks := chunk.New(p, chunk.Config{
		IdleTimeout: time.Duration(cfg.Chunks.IdleTimeoutSec) * time.Second,
		MaxChunks:   cfg.Chunks.MaxChunks,
		MaxSize:     cfg.Uploads.MaxSize,
	})
	writer := dedup.New(conn, p, cfg.Uploads.HashingEnabled, false)

	engine := ingest.New(
		ingest.Config{
			MaxSize:            cfg.Uploads.MaxSize,
			MaxFilesPerUpload:  cfg.Uploads.MaxFilesPerUpload,
			MaxFieldsPerUpload: cfg.Uploads.MaxFieldsPerUpload,
			FilterEmptyFile:    cfg.Uploads.FilterEmptyFile,
			HashingEnabled:     cfg.Uploads.HashingEnabled,
			FileIdentifierLen:  cfg.Uploads.FileIdentifierLen,
			StoreIPs:           cfg.Uploads.StoreIPs,
			AllowStripTags:     cfg.Uploads.AllowStripTags,
		},
		ids, idalloc.FileNameChecker{Conn: conn}, chunks, nil, scanner.BypassPolicy{BypassGroupRank: cfg.Scanner.BypassGroup, MaxScanSize: cfg.Scanner.MaxScanSize}, writer, p, nil,
	)

	s := New(Deps{
		Config:    cfg,
		Conn:      conn,
		Paths:     p,
		IDs:       ids,
		Hold:      hold,
		Engine:    engine,
		Chunks:    chunks,
		Auth:      authSvc,
		Retention: table,
	})
	return s, conn
}

func multipartFileBody(t *testing.T, fieldName, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(fieldName, fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload_MultipartStoresFileAndReturnsURL(t *testing.T) {
	s, _ := newUploadTestServer(t)
	r := s.Mount()

	body, contentType := multipartFileBody(t, "file", "photo.png", []byte("hello world"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), `"url"`)
}

func TestUpload_UnsupportedContentTypeRejectedWith400(t *testing.T) {
	s, _ := newUploadTestServer(t)
	r := s.Mount()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewBufferString("plain body"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_URLIntakeDisabledWhenNoFetcherConfigured(t *testing.T) {
	s, _ := newUploadTestServer(t)
	r := s.Mount()

	rec := performJSON(r, http.MethodPost, "/api/upload", `{"urls":["https://example.com/a.png"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFinishChunks_UnknownSessionReturns404(t *testing.T) {
	s, _ := newUploadTestServer(t)
	r := s.Mount()

	rec := performJSON(r, http.MethodPost, "/api/upload/finishchunks",
		`{"files":[{"uuid":"does-not-exist","original":"a.png"}]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFinishChunks_MalformedBodyRejectedWith400(t *testing.T) {
	s, _ := newUploadTestServer(t)
	r := s.Mount()

	rec := performJSON(r, http.MethodPost, "/api/upload/finishchunks", `not-json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
