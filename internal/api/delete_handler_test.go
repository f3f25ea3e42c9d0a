package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsworld30/safe/internal/deleteurl"
	"github.com/opsworld30/safe/internal/model"
)

func TestDelete_OwnerCanDeleteOwnFile(t *testing.T) {
	r, conn := newTestRouter(t)

	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	f := model.File{Name: "mine.png", UserID: &alice.ID, Size: 1}
	require.NoError(t, conn.Create(&f).Error)

	rec := performJSONWithToken(r, http.MethodPost, "/api/upload/delete", fmt.Sprintf(`{"id":%d}`, f.ID), alice.Token)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Failed []string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Failed)

	var count int64
	conn.Model(&model.File{}).Where("id = ?", f.ID).Count(&count)
	assert.Zero(t, count)
}

func TestDelete_CannotDeleteOthersFile(t *testing.T) {
	r, conn := newTestRouter(t)

	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	other := uint64(999)
	f := model.File{Name: "notmine.png", UserID: &other, Size: 1}
	require.NoError(t, conn.Create(&f).Error)

	rec := performJSONWithToken(r, http.MethodPost, "/api/upload/delete", fmt.Sprintf(`{"id":%d}`, f.ID), alice.Token)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Failed []string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Failed, 1)

	var count int64
	conn.Model(&model.File{}).Where("id = ?", f.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestDelete_MalformedBodyRejectedWith400(t *testing.T) {
	r, conn := newTestRouter(t)
	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	rec := performJSONWithToken(r, http.MethodPost, "/api/upload/delete", `not-json`, alice.Token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkDelete_InvalidFieldRejectedWith400(t *testing.T) {
	r, conn := newTestRouter(t)
	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	rec := performJSONWithToken(r, http.MethodPost, "/api/upload/bulkdelete", `{"field":"bogus","values":["1"]}`, alice.Token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkDelete_DeletesMultipleOwnFilesByName(t *testing.T) {
	r, conn := newTestRouter(t)
	performJSON(r, http.MethodPost, "/api/register", `{"username":"alice","password":"hunter22"}`)
	var alice model.User
	require.NoError(t, conn.Where("username = ?", "alice").First(&alice).Error)

	require.NoError(t, conn.Create(&model.File{Name: "a.png", UserID: &alice.ID, Size: 1}).Error)
	require.NoError(t, conn.Create(&model.File{Name: "b.png", UserID: &alice.ID, Size: 1}).Error)

	rec := performJSONWithToken(r, http.MethodPost, "/api/upload/bulkdelete", `{"field":"name","values":["a.png","b.png"]}`, alice.Token)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Failed []string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Failed)

	var count int64
	conn.Model(&model.File{}).Count(&count)
	assert.Zero(t, count)
}

func TestDeleteByToken_ValidTokenDeletesWithoutAuth(t *testing.T) {
	r, conn := newTestRouter(t)
	s, _ := newTestServer(t)

	f := model.File{Name: "public.png", Size: 1}
	require.NoError(t, conn.Create(&f).Error)

	token := deleteurl.TokenFor(s.cfg.Server.Secret, f.ID)

	req := httptest.NewRequest(http.MethodGet, "/api/upload/delete/"+token, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var count int64
	conn.Model(&model.File{}).Where("id = ?", f.ID).Count(&count)
	assert.Zero(t, count)
}

func TestDeleteByToken_MalformedTokenRejectedWith400(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/upload/delete/garbage", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteByToken_UnknownFileReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	r := s.Mount()

	token := deleteurl.TokenFor(s.cfg.Server.Secret, 12345)

	req := httptest.NewRequest(http.MethodGet, "/api/upload/delete/"+token, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
