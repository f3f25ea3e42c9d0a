package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsworld30/safe/internal/model"
)

func TestCreateAlbum_RequiresName(t *testing.T) {
	r, conn := newTestRouter(t)
	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	rec := performJSONWithToken(r, http.MethodPost, "/api/albums", `{"name":""}`, alice.Token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAlbum_CreatesAndReturnsIdentifier(t *testing.T) {
	r, conn := newTestRouter(t)
	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	rec := performJSONWithToken(r, http.MethodPost, "/api/albums", `{"name":"vacation"}`, alice.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"identifier"`)

	var album model.Album
	require.NoError(t, conn.Where("userid = ?", alice.ID).First(&album).Error)
	assert.Equal(t, "vacation", album.Name)
	assert.True(t, album.Enabled)
	assert.True(t, album.Download)
	assert.False(t, album.Public)
}

func TestEditAlbum_OwnerCanEditFields(t *testing.T) {
	r, conn := newTestRouter(t)
	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	album := model.Album{Name: "old", Identifier: "abc123", UserID: alice.ID, Enabled: true}
	require.NoError(t, conn.Create(&album).Error)

	rec := performJSONWithToken(r, http.MethodPost, "/api/albums/edit", `{"identifier":"abc123","name":"new"}`, alice.Token)
	require.Equal(t, http.StatusOK, rec.Code)

	var reloaded model.Album
	require.NoError(t, conn.First(&reloaded, album.ID).Error)
	assert.Equal(t, "new", reloaded.Name)
}

func TestEditAlbum_NonOwnerForbidden(t *testing.T) {
	r, conn := newTestRouter(t)
	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	other := uint64(999)
	album := model.Album{Name: "old", Identifier: "abc123", UserID: other, Enabled: true}
	require.NoError(t, conn.Create(&album).Error)

	rec := performJSONWithToken(r, http.MethodPost, "/api/albums/edit", `{"identifier":"abc123","name":"new"}`, alice.Token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEditAlbum_UnknownIdentifierReturns404(t *testing.T) {
	r, conn := newTestRouter(t)
	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	rec := performJSONWithToken(r, http.MethodPost, "/api/albums/edit", `{"identifier":"nope","name":"new"}`, alice.Token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRenameAlbum_RequiresNonEmptyName(t *testing.T) {
	r, conn := newTestRouter(t)
	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	rec := performJSONWithToken(r, http.MethodPost, "/api/albums/rename", `{"identifier":"abc123","name":""}`, alice.Token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDisableAlbum_OwnerCanDisable(t *testing.T) {
	r, conn := newTestRouter(t)
	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	album := model.Album{Name: "a", Identifier: "abc123", UserID: alice.ID, Enabled: true}
	require.NoError(t, conn.Create(&album).Error)

	rec := performJSONWithToken(r, http.MethodPost, "/api/albums/disable", `{"identifier":"abc123"}`, alice.Token)
	require.Equal(t, http.StatusOK, rec.Code)

	var reloaded model.Album
	require.NoError(t, conn.First(&reloaded, album.ID).Error)
	assert.False(t, reloaded.Enabled)
}

func TestDeleteAlbum_DetachesFilesInsteadOfDeletingThem(t *testing.T) {
	r, conn := newTestRouter(t)
	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	album := model.Album{Name: "a", Identifier: "abc123", UserID: alice.ID, Enabled: true}
	require.NoError(t, conn.Create(&album).Error)
	f := model.File{Name: "f.png", UserID: &alice.ID, AlbumID: &album.ID, Size: 1}
	require.NoError(t, conn.Create(&f).Error)

	rec := performJSONWithToken(r, http.MethodPost, "/api/albums/delete", `{"identifier":"abc123"}`, alice.Token)
	require.Equal(t, http.StatusOK, rec.Code)

	var albumCount int64
	conn.Model(&model.Album{}).Where("id = ?", album.ID).Count(&albumCount)
	assert.Zero(t, albumCount)

	var reloadedFile model.File
	require.NoError(t, conn.First(&reloadedFile, f.ID).Error)
	assert.Nil(t, reloadedFile.AlbumID)
}

func TestAddFilesToAlbum_OnlyReassignsCallerOwnedFiles(t *testing.T) {
	r, conn := newTestRouter(t)
	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	album := model.Album{Name: "a", Identifier: "abc123", UserID: alice.ID, Enabled: true}
	require.NoError(t, conn.Create(&album).Error)

	other := uint64(999)
	require.NoError(t, conn.Create(&model.File{Name: "mine.png", UserID: &alice.ID, Size: 1}).Error)
	require.NoError(t, conn.Create(&model.File{Name: "notmine.png", UserID: &other, Size: 1}).Error)

	rec := performJSONWithToken(r, http.MethodPost, "/api/albums/addfiles",
		`{"identifier":"abc123","files":["mine.png","notmine.png"]}`, alice.Token)
	require.Equal(t, http.StatusOK, rec.Code)

	var mine model.File
	require.NoError(t, conn.Where("name = ?", "mine.png").First(&mine).Error)
	require.NotNil(t, mine.AlbumID)
	assert.Equal(t, album.ID, *mine.AlbumID)

	var notMine model.File
	require.NoError(t, conn.Where("name = ?", "notmine.png").First(&notMine).Error)
	assert.Nil(t, notMine.AlbumID)
}

func TestGetAlbum_PublicAlbumVisibleWithoutAuth(t *testing.T) {
	r, conn := newTestRouter(t)
	album := model.Album{Name: "a", Identifier: "pub123", Enabled: true, Public: true}
	require.NoError(t, conn.Create(&album).Error)

	req := httptest.NewRequest(http.MethodGet, "/api/album/get/pub123", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"a"`)
}

func TestGetAlbum_PrivateAlbumForbidden(t *testing.T) {
	r, conn := newTestRouter(t)
	album := model.Album{Name: "a", Identifier: "priv123", Enabled: true, Public: false}
	require.NoError(t, conn.Create(&album).Error)

	req := httptest.NewRequest(http.MethodGet, "/api/album/get/priv123", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetAlbum_UnknownIdentifierReturns404(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/album/get/doesnotexist", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAlbum_DisabledAlbumReturns404(t *testing.T) {
	r, conn := newTestRouter(t)
	album := model.Album{Name: "a", Identifier: "dis123", Enabled: false, Public: true}
	require.NoError(t, conn.Create(&album).Error)

	req := httptest.NewRequest(http.MethodGet, "/api/album/get/dis123", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAlbums_ScopedToCaller(t *testing.T) {
	r, conn := newTestRouter(t)
	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	other := uint64(999)
	require.NoError(t, conn.Create(&model.Album{Name: "mine", Identifier: "m1", UserID: alice.ID, Enabled: true}).Error)
	require.NoError(t, conn.Create(&model.Album{Name: "notmine", Identifier: "n1", UserID: other, Enabled: true}).Error)

	req := httptest.NewRequest(http.MethodGet, "/api/albums", nil)
	req.Header.Set("token", alice.Token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mine")
	assert.NotContains(t, rec.Body.String(), "notmine")
}

func TestZipAlbum_UnknownIdentifierPropagatesZipperError(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/album/zip/%s", "doesnotexist"), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
