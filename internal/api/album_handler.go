package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opsworld30/safe/internal/apperr"
	"github.com/opsworld30/safe/internal/idalloc"
	"github.com/opsworld30/safe/internal/model"
)

// ListAlbums handles GET /api/albums[/:page].
func (s *Server) ListAlbums(c *gin.Context) {
	u := callerUser(c)
	if u == nil {
		apperr.Abort(c, apperr.ErrInvalidToken)
		return
	}

	q := s.conn.Model(&model.Album{}).Where("userid = ?", u.ID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		apperr.Abort(c, apperr.Server("failed to count albums", apperr.WithCause(err)))
		return
	}

	page, _ := strconv.Atoi(c.Param("page"))
	pageSize := s.cfg.Query.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if page < 0 {
		page = 0
	}

	var rows []model.Album
	if err := q.Order("id DESC").Limit(pageSize).Offset(page * pageSize).Find(&rows).Error; err != nil {
		apperr.Abort(c, apperr.Server("failed to list albums", apperr.WithCause(err)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "total": total, "albums": s.renderAlbumRows(rows)})
}

// CreateAlbum handles POST /api/albums.
func (s *Server) CreateAlbum(c *gin.Context) {
	u := callerUser(c)
	if u == nil {
		apperr.Abort(c, apperr.ErrInvalidToken)
		return
	}

	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Download    *bool  `json:"download"`
		Public      *bool  `json:"public"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Name == "" {
		apperr.Abort(c, apperr.Client(400, 20050, "album name is required"))
		return
	}

	hold, err := s.ids.Allocate(s.cfg.Albums.IdentifierLength, idalloc.AlbumIdentifierChecker{Conn: s.conn})
	if err != nil {
		apperr.Abort(c, apperr.Server("failed to allocate album identifier", apperr.WithCause(err)))
		return
	}
	defer hold.Release()

	download := true
	if body.Download != nil {
		download = *body.Download
	}
	public := false
	if body.Public != nil {
		public = *body.Public
	}

	now := model.NowUnix()
	album := model.Album{
		Name:        body.Name,
		Identifier:  hold.ID,
		UserID:      u.ID,
		Enabled:     true,
		Public:      public,
		Download:    download,
		Description: body.Description,
		Timestamp:   now,
		EditedAt:    now,
	}
	if err := s.conn.Create(&album).Error; err != nil {
		apperr.Abort(c, apperr.Server("failed to create album", apperr.WithCause(err)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "id": album.ID, "identifier": album.Identifier})
}

// EditAlbum handles POST /api/albums/edit.
func (s *Server) EditAlbum(c *gin.Context) {
	var body struct {
		Identifier  string  `json:"identifier"`
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Download    *bool   `json:"download"`
		Public      *bool   `json:"public"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.Client(400, 10000, "invalid request body"))
		return
	}

	album, err := s.ownedAlbum(c, body.Identifier)
	if err != nil {
		apperr.Abort(c, err)
		return
	}

	updates := map[string]any{"edited_at": model.NowUnix()}
	if body.Name != nil {
		updates["name"] = *body.Name
	}
	if body.Description != nil {
		updates["description"] = *body.Description
	}
	if body.Download != nil {
		updates["download"] = *body.Download
	}
	if body.Public != nil {
		updates["public"] = *body.Public
	}

	if err := s.conn.Model(&model.Album{}).Where("id = ?", album.ID).Updates(updates).Error; err != nil {
		apperr.Abort(c, apperr.Server("failed to edit album", apperr.WithCause(err)))
		return
	}
	s.InvalidateAlbum(album.ID)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RenameAlbum handles POST /api/albums/rename.
func (s *Server) RenameAlbum(c *gin.Context) {
	var body struct {
		Identifier string `json:"identifier"`
		Name       string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Name == "" {
		apperr.Abort(c, apperr.Client(400, 20050, "album name is required"))
		return
	}

	album, err := s.ownedAlbum(c, body.Identifier)
	if err != nil {
		apperr.Abort(c, err)
		return
	}

	if err := s.conn.Model(&model.Album{}).Where("id = ?", album.ID).
		Updates(map[string]any{"name": body.Name, "edited_at": model.NowUnix()}).Error; err != nil {
		apperr.Abort(c, apperr.Server("failed to rename album", apperr.WithCause(err)))
		return
	}
	s.InvalidateAlbum(album.ID)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DisableAlbum handles POST /api/albums/disable: soft-delete, per spec
// §4.9's "album must be enabled" zip/get gate.
func (s *Server) DisableAlbum(c *gin.Context) {
	var body struct {
		Identifier string `json:"identifier"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.Client(400, 10000, "invalid request body"))
		return
	}

	album, err := s.ownedAlbum(c, body.Identifier)
	if err != nil {
		apperr.Abort(c, err)
		return
	}

	if err := s.conn.Model(&model.Album{}).Where("id = ?", album.ID).
		Updates(map[string]any{"enabled": false, "edited_at": model.NowUnix()}).Error; err != nil {
		apperr.Abort(c, apperr.Server("failed to disable album", apperr.WithCause(err)))
		return
	}
	s.InvalidateAlbum(album.ID)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DeleteAlbum handles POST /api/albums/delete: removes the album row and
// its cached zip, detaching (not deleting) its files.
func (s *Server) DeleteAlbum(c *gin.Context) {
	var body struct {
		Identifier string `json:"identifier"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.Client(400, 10000, "invalid request body"))
		return
	}

	album, err := s.ownedAlbum(c, body.Identifier)
	if err != nil {
		apperr.Abort(c, err)
		return
	}

	txErr := s.conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.File{}).Where("albumid = ?", album.ID).Update("albumid", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Album{}, album.ID).Error
	})
	if txErr != nil {
		apperr.Abort(c, apperr.Server("failed to delete album", apperr.WithCause(txErr)))
		return
	}

	s.zipper.Invalidate(album.Identifier)
	s.InvalidateAlbum(album.ID)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// AddFilesToAlbum handles POST /api/albums/addfiles: reassigns existing,
// caller-owned files into the album.
func (s *Server) AddFilesToAlbum(c *gin.Context) {
	u := callerUser(c)
	var body struct {
		Identifier string   `json:"identifier"`
		Files      []string `json:"files"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.Client(400, 10000, "invalid request body"))
		return
	}

	album, err := s.ownedAlbum(c, body.Identifier)
	if err != nil {
		apperr.Abort(c, err)
		return
	}

	if err := s.conn.Model(&model.File{}).
		Where("name IN ? AND userid = ?", body.Files, u.ID).
		Update("albumid", album.ID).Error; err != nil {
		apperr.Abort(c, apperr.Server("failed to add files to album", apperr.WithCause(err)))
		return
	}

	if err := s.conn.Model(&model.Album{}).Where("id = ?", album.ID).Update("edited_at", model.NowUnix()).Error; err != nil {
		log.Warn("failed to bump album editedAt after addfiles", "album", album.Identifier, "err", err)
	}
	s.InvalidateAlbum(album.ID)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetAlbum handles GET /api/album/get/:identifier: public metadata plus
// file list, gated only on enabled+public (spec §6, no auth required).
func (s *Server) GetAlbum(c *gin.Context) {
	var album model.Album
	if err := s.conn.Where("identifier = ? AND enabled = ?", c.Param("identifier"), true).First(&album).Error; err != nil {
		apperr.Abort(c, apperr.ErrNotFound)
		return
	}
	if !album.Public {
		apperr.Abort(c, apperr.ErrForbidden)
		return
	}

	var files []model.File
	if err := s.conn.Where("albumid = ?", album.ID).Find(&files).Error; err != nil {
		apperr.Abort(c, apperr.Server("failed to list album files", apperr.WithCause(err)))
		return
	}

	resp := s.renderAlbumRows([]model.Album{album})[0]
	resp["files"] = s.renderFileRows(files)
	c.JSON(http.StatusOK, gin.H{"success": true, "album": resp})
}

// ZipAlbum handles GET /api/album/zip/:identifier, streaming the archive
// that s.zipper.Get builds or reuses per spec §4.9.
func (s *Server) ZipAlbum(c *gin.Context) {
	zipPath, err := s.zipper.Get(c.Param("identifier"))
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.FileAttachment(zipPath, c.Param("identifier")+".zip")
}

// ownedAlbum resolves identifier and enforces that it belongs to the
// calling user.
func (s *Server) ownedAlbum(c *gin.Context, identifier string) (model.Album, error) {
	u := callerUser(c)
	if u == nil {
		return model.Album{}, apperr.ErrInvalidToken
	}

	var album model.Album
	if err := s.conn.Where("identifier = ?", identifier).First(&album).Error; err != nil {
		return model.Album{}, apperr.ErrNotFound
	}
	if album.UserID != u.ID && u.Permission < model.PermissionModerator {
		return model.Album{}, apperr.ErrForbidden
	}
	return album, nil
}

func (s *Server) renderAlbumRows(rows []model.Album) []gin.H {
	out := make([]gin.H, len(rows))
	for i, a := range rows {
		out[i] = gin.H{
			"id":         a.ID,
			"name":       a.Name,
			"identifier": a.Identifier,
			"enabled":    a.Enabled,
			"public":     a.Public,
			"download":   a.Download,
			"description": a.Description,
			"timestamp":  a.Timestamp,
			"editedAt":   a.EditedAt,
		}
	}
	return out
}
