package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opsworld30/safe/internal/apperr"
	"github.com/opsworld30/safe/internal/deleteurl"
	"github.com/opsworld30/safe/internal/ingest"
	"github.com/opsworld30/safe/internal/model"
)

// Upload handles POST /api/upload[/:albumid]: multipart streaming intake
// or, for a JSON body, URL intake — per spec §4.3 and §6.
func (s *Server) Upload(c *gin.Context) {
	reqCtx := s.requestContext(c)

	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/form-data") {
		s.uploadMultipart(c, reqCtx)
		return
	}
	if strings.HasPrefix(contentType, "application/json") {
		s.uploadURLs(c, reqCtx)
		return
	}

	apperr.Abort(c, apperr.Client(400, 20010, "unsupported content type: %s", contentType))
}

func (s *Server) uploadMultipart(c *gin.Context, reqCtx ingest.RequestContext) {
	mr, err := c.Request.MultipartReader()
	if err != nil {
		apperr.Abort(c, apperr.Client(400, 20000, "malformed multipart body"))
		return
	}

	results, chunkAppends, err := s.engine.IngestMultipart(reqCtx, mr)
	if err != nil {
		apperr.Abort(c, err)
		return
	}

	if len(results) == 0 && chunkAppends > 0 {
		c.JSON(http.StatusOK, gin.H{"success": true, "chunk": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "files": s.renderResults(results)})
}

func (s *Server) uploadURLs(c *gin.Context, reqCtx ingest.RequestContext) {
	var body struct {
		URLs []string `json:"urls"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.Client(400, 20000, "invalid request body"))
		return
	}
	if s.fetcher == nil {
		apperr.Abort(c, apperr.Client(400, 20011, "URL intake is disabled"))
		return
	}

	results, err := s.engine.IngestURLs(c.Request.Context(), reqCtx, s.fetcher, body.URLs)
	if err != nil {
		apperr.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "files": s.renderResults(results)})
}

// finishChunksRequest is the /api/upload/finishchunks body shape from
// spec §6.
type finishChunksRequest struct {
	Files []struct {
		UUID     string   `json:"uuid"`
		Original string   `json:"original"`
		Size     *int64   `json:"size"`
		Age      float64  `json:"age"`
		AlbumID  *uint64  `json:"albumid"`
	} `json:"files"`
}

// FinishChunks handles POST /api/upload/finishchunks.
func (s *Server) FinishChunks(c *gin.Context) {
	var body finishChunksRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.Client(400, 20000, "invalid request body"))
		return
	}

	reqCtx := s.requestContext(c)
	specs := make([]ingest.FinishChunkSpec, len(body.Files))
	for i, f := range body.Files {
		specs[i] = ingest.FinishChunkSpec{
			UUID:     f.UUID,
			Original: f.Original,
			Size:     f.Size,
			AgeHours: f.Age,
			AlbumID:  f.AlbumID,
		}
	}

	results, err := s.engine.FinishChunks(reqCtx, specs)
	if err != nil {
		apperr.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "files": s.renderResults(results)})
}

// requestContext builds ingest.RequestContext from headers, path params,
// and the resolved caller, per spec §6's "Headers read from uploader".
func (s *Server) requestContext(c *gin.Context) ingest.RequestContext {
	u := callerUser(c)
	var userID *uint64
	rank := model.PermissionUser
	if u != nil {
		userID = &u.ID
		rank = u.Permission
	}

	var albumID *uint64
	if raw := c.Param("albumid"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			albumID = &id
		}
	}

	age := headerFloat(c, "age")
	idLength := headerInt(c, "filelength")
	stripTags := c.GetHeader("striptags") == "1"

	return ingest.RequestContext{
		ClientIP:  clientIP(c),
		UserID:    userID,
		UserRank:  rank,
		AlbumID:   albumID,
		AgeHours:  age,
		IDLength:  idLength,
		StripTags: stripTags,
	}
}

func headerFloat(c *gin.Context, name string) float64 {
	v, err := strconv.ParseFloat(c.GetHeader(name), 64)
	if err != nil {
		return 0
	}
	return v
}

func headerInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.GetHeader(name))
	if err != nil {
		return 0
	}
	return v
}

// renderResults builds the {files:[...]} response shape from spec §6,
// computing each file's public URL and one-time deleteUrl token.
func (s *Server) renderResults(results []ingest.Result) []gin.H {
	out := make([]gin.H, len(results))
	for i, r := range results {
		h := gin.H{
			"name":     r.Name,
			"url":      s.publicURL(r.Name),
			"size":     r.Size,
			"hash":     r.Hash,
			"repeated": r.Repeated,
		}
		if r.ExpiryDate != nil {
			h["expirydate"] = *r.ExpiryDate
		}
		if !r.Repeated && s.cfg.Server.Secret != "" {
			// deleteUrl only identifies the file by its row id, which
			// Result doesn't carry; callers resolve it by name instead.
			h["deleteUrl"] = s.deleteURLFor(r.Name)
		}
		out[i] = h
	}
	return out
}

func (s *Server) publicURL(name string) string {
	domain := strings.TrimRight(s.cfg.Server.Domain, "/")
	return domain + "/" + name
}

// deleteURLFor resolves name's row id and mints its HMAC delete token.
// Resolution failures are logged, not surfaced, since the upload has
// otherwise already succeeded.
func (s *Server) deleteURLFor(name string) string {
	var f model.File
	if err := s.conn.Where("name = ?", name).First(&f).Error; err != nil {
		log.Warn("failed to resolve delete token for uploaded file", "name", name, "err", err)
		return ""
	}
	return deleteurl.TokenFor(s.cfg.Server.Secret, f.ID)
}
