package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsworld30/safe/internal/apperr"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /api/login.
func (s *Server) Login(c *gin.Context) {
	var body credentials
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.Client(400, 10000, "invalid request body"))
		return
	}

	token, err := s.authSvc.Login(clientIP(c), body.Username, body.Password)
	if err != nil {
		apperr.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

// Register handles POST /api/register.
func (s *Server) Register(c *gin.Context) {
	var body credentials
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.Client(400, 10000, "invalid request body"))
		return
	}

	u, err := s.authSvc.Register(clientIP(c), body.Username, body.Password)
	if err != nil {
		apperr.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": u.Token})
}

// ChangePassword handles POST /api/password/change.
func (s *Server) ChangePassword(c *gin.Context) {
	var body struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.Client(400, 10000, "invalid request body"))
		return
	}

	if err := s.authSvc.ChangePassword(callerUser(c), body.Password); err != nil {
		apperr.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// VerifyToken handles POST /api/tokens/verify.
func (s *Server) VerifyToken(c *gin.Context) {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		apperr.Abort(c, apperr.Client(400, 10000, "invalid request body"))
		return
	}

	res, err := s.authSvc.Verify(clientIP(c), body.Token)
	if err != nil {
		apperr.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"group":            res.Permission,
		"permission":       res.Permission,
		"retentionPeriods": s.retention.AllowedPeriods(res.Permission),
		"defaultRetention": s.retention.DefaultPeriod(res.Permission),
	})
}

// ChangeToken handles POST /api/tokens/change.
func (s *Server) ChangeToken(c *gin.Context) {
	token, err := s.authSvc.RotateToken(callerUser(c))
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

// Check handles GET /api/check, per spec §6's server-capabilities route.
func (s *Server) Check(c *gin.Context) {
	rank := 1
	if u := callerUser(c); u != nil {
		rank = u.Permission
	}

	c.JSON(http.StatusOK, gin.H{
		"success":                   true,
		"private":                   s.cfg.Server.Private,
		"enableUserAccounts":        s.cfg.Accounts.Enabled,
		"maxSize":                   s.cfg.Uploads.MaxSize,
		"chunkSize":                 s.cfg.Chunks.ChunkSize,
		"fileIdentifierLength":      s.cfg.Uploads.FileIdentifierLen,
		"stripTags":                 s.cfg.Uploads.AllowStripTags,
		"temporaryUploadAges":       s.retention.AllowedPeriods(rank),
		"defaultTemporaryUploadAge": s.retention.DefaultPeriod(rank),
		"version":                   s.version,
	})
}
