package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opsworld30/safe/internal/apperr"
	"github.com/opsworld30/safe/internal/bulkdelete"
	"github.com/opsworld30/safe/internal/deleteurl"
)

// Delete handles POST /api/upload/delete: single-file delete by id, per
// spec §6.
func (s *Server) Delete(c *gin.Context) {
	var body struct {
		ID uint64 `json:"id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.Client(400, 10000, "invalid request body"))
		return
	}

	failed, err := s.deleter.Delete(bulkdelete.FieldID, []string{strconv.FormatUint(body.ID, 10)}, s.actorFor(c))
	if err != nil {
		apperr.Abort(c, apperr.Server("failed to delete file", apperr.WithCause(err)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "failed": failed})
}

// BulkDelete handles POST /api/upload/bulkdelete: chunked delete by id or
// name, per spec §4.7/§6.
func (s *Server) BulkDelete(c *gin.Context) {
	var body struct {
		Field  string   `json:"field"`
		Values []string `json:"values"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.Client(400, 10000, "invalid request body"))
		return
	}

	var field bulkdelete.Field
	switch body.Field {
	case "id":
		field = bulkdelete.FieldID
	case "name":
		field = bulkdelete.FieldName
	default:
		apperr.Abort(c, apperr.Client(400, 20030, "field must be \"id\" or \"name\""))
		return
	}

	failed, err := s.deleter.Delete(field, body.Values, s.actorFor(c))
	if err != nil {
		apperr.Abort(c, apperr.Server("failed to bulk delete files", apperr.WithCause(err)))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "failed": failed})
}

// DeleteByToken handles the public GET /api/upload/delete/:token route: the
// one-time HMAC token embeds the file id, so no caller auth is required or
// possible (deleteurl.Parse is the sole authorization check).
func (s *Server) DeleteByToken(c *gin.Context) {
	id, err := deleteurl.Parse(s.cfg.Server.Secret, c.Param("token"))
	if err != nil {
		apperr.Abort(c, apperr.Client(400, 20031, "invalid or malformed delete token"))
		return
	}

	actor := bulkdelete.Actor{IsModerator: true}
	failed, err := s.deleter.Delete(bulkdelete.FieldID, []string{strconv.FormatUint(id, 10)}, actor)
	if err != nil {
		apperr.Abort(c, apperr.Server("failed to delete file", apperr.WithCause(err)))
		return
	}
	if len(failed) > 0 {
		apperr.Abort(c, apperr.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// actorFor builds the bulkdelete.Actor for the authenticated caller.
func (s *Server) actorFor(c *gin.Context) bulkdelete.Actor {
	u := callerUser(c)
	if u == nil {
		return bulkdelete.Actor{}
	}
	return bulkdelete.Actor{UserID: u.ID, IsModerator: u.Permission >= 50}
}
