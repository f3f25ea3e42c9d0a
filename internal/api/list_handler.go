package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opsworld30/safe/internal/apperr"
	"github.com/opsworld30/safe/internal/model"
	"github.com/opsworld30/safe/internal/query"
)

// ListUploads handles GET /api/uploads[/:page], per spec §4.8/§6.
func (s *Server) ListUploads(c *gin.Context) {
	s.listFiles(c, nil)
}

// ListAlbumFiles handles GET /api/album/:albumid/:page: the same listing
// path, scoped to one album (spec §4.8's "albumid keys are suppressed
// when listing within a specific album").
func (s *Server) ListAlbumFiles(c *gin.Context) {
	albumID, err := strconv.ParseUint(c.Param("albumid"), 10, 64)
	if err != nil {
		apperr.Abort(c, apperr.Client(400, 20040, "invalid album id"))
		return
	}
	s.listFiles(c, &albumID)
}

func (s *Server) listFiles(c *gin.Context, withinAlbum *uint64) {
	u := callerUser(c)
	if u == nil {
		apperr.Abort(c, apperr.ErrInvalidToken)
		return
	}

	listAll := c.GetHeader("all") == "1"
	caller := query.Caller{
		IsModerator: u.Permission >= model.PermissionModerator,
		ListAll:     listAll,
		WithinAlbum: withinAlbum != nil,
		TZOffsetMin: headerInt(c, "minoffset"),
	}

	compiled, err := query.Compile(c.GetHeader("filters"), caller, s.queryLimit)
	if err != nil {
		apperr.Abort(c, apperr.Client(400, 20041, "%s", err.Error()))
		return
	}

	q := s.conn.Model(&model.File{})
	if !(caller.ListAll && caller.IsModerator) {
		q = q.Where("userid = ?", u.ID)
	}
	if withinAlbum != nil {
		q = q.Where("albumid = ?", *withinAlbum)
	}
	if compiled.Where != "" {
		q = q.Where(compiled.Where, compiled.Args...)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		apperr.Abort(c, apperr.Server("failed to count uploads", apperr.WithCause(err)))
		return
	}

	page, _ := strconv.Atoi(c.Param("page"))
	limit, offset := query.Paginate(s.cfg.Query.PageSize, int(total), page)

	var rows []model.File
	if err := q.Order(compiled.OrderBy).Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		apperr.Abort(c, apperr.Server("failed to list uploads", apperr.WithCause(err)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "total": total, "files": s.renderFileRows(rows)})
}

// GetUpload handles GET /api/upload/get/:identifier: one file record by
// its public name, scoped to the caller unless they are a moderator.
func (s *Server) GetUpload(c *gin.Context) {
	u := callerUser(c)
	if u == nil {
		apperr.Abort(c, apperr.ErrInvalidToken)
		return
	}

	var f model.File
	q := s.conn.Where("name = ?", c.Param("identifier"))
	if u.Permission < model.PermissionModerator {
		q = q.Where("userid = ?", u.ID)
	}
	if err := q.First(&f).Error; err != nil {
		apperr.Abort(c, apperr.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "file": s.renderFileRows([]model.File{f})[0]})
}

func (s *Server) renderFileRows(rows []model.File) []gin.H {
	out := make([]gin.H, len(rows))
	for i, f := range rows {
		h := gin.H{
			"id":        f.ID,
			"name":      f.Name,
			"original":  f.Original,
			"url":       s.publicURL(f.Name),
			"type":      f.Type,
			"size":      f.Size,
			"hash":      f.Hash,
			"timestamp": f.Timestamp,
			"albumid":   f.AlbumID,
		}
		if f.ExpiryDate != nil {
			h["expirydate"] = *f.ExpiryDate
		}
		out[i] = h
	}
	return out
}
