// Adapted from the teacher's internal/api/health.go: the Store.Status()
// view is replaced with a DB ping plus file/album counts, since this
// service has no needle/volume store to report on.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsworld30/safe/internal/model"
)

// Liveness reports the process is running, independent of DB/disk state.
func (s *Server) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
}

// Readiness reports whether the service can currently serve traffic: the
// database connection must answer a ping.
func (s *Server) Readiness(c *gin.Context) {
	sqlDB, err := s.conn.DB()
	if err != nil || sqlDB.Ping() != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "uptime": time.Since(s.startedAt).Seconds()})
}

// Health is the combined human-facing health endpoint.
func (s *Server) Health(c *gin.Context) {
	var totalFiles, totalAlbums int64
	s.conn.Model(&model.File{}).Count(&totalFiles)
	s.conn.Model(&model.Album{}).Count(&totalAlbums)

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.startedAt).Seconds(),
		"files":     totalFiles,
		"albums":    totalAlbums,
		"version":   s.version,
	})
}
