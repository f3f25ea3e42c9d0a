package apperr

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsworld30/safe/internal/logging"
)

var log = logging.For("apperr")

// Response is the JSON envelope every route returns on failure, per the
// propagation policy: ClientError/ServerError render with their carried
// status, everything else renders as a generic 500.
type Response struct {
	Success     bool   `json:"success"`
	Description string `json:"description"`
	Code        int    `json:"code,omitempty"`
}

// Middleware is the top-level translator for errors recorded with Abort.
// It does not recover panics: a panic unwinds past its post-handler code,
// so the recovery middleware registered outside it renders that 500.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		c.Header("Cache-Control", "no-store")

		err := c.Errors.Last().Err
		switch e := err.(type) {
		case *ClientError:
			c.JSON(e.Status, Response{Success: false, Description: e.Message, Code: e.Code})
		case *ServerError:
			if !e.SuppressStack {
				log.Error("server error", "message", e.Message, "cause", e.Cause)
			}
			c.JSON(http.StatusInternalServerError, Response{Success: false, Description: e.Message})
		default:
			log.Error("unhandled error", "err", err)
			c.JSON(http.StatusInternalServerError, Response{Success: false, Description: "internal server error"})
		}
	}
}

// Abort records err on the context and stops further handler execution;
// callers should `return` immediately after calling this.
func Abort(c *gin.Context, err error) {
	c.Error(err) //nolint:errcheck
	c.Abort()
}
