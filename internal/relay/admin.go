package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminRouter exposes the relay's live connection state over HTTP, the way
// the HASHER host's gin-based status server reported ASIC connection state
// to an operator. It is a thin, optional side-channel: nothing on the
// device-relay path depends on it.
func AdminRouter(s *Server) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	r.GET("/status", func(c *gin.Context) {
		listening, _ := s.status.Listening.Load().(string)
		remote, _ := s.status.RemoteAddr.Load().(string)
		c.JSON(http.StatusOK, gin.H{
			"listening": listening,
			"connected": s.status.Connected.Load(),
			"remote":    remote,
		})
	})

	return r
}
