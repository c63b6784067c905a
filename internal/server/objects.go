package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// DownloadObject serves the object a signed URL token points to.
func (s *Server) DownloadObject(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		AbortWithError(c, ErrNotFound)
		return
	}

	obj, err := s.objects.Resolve(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("operation", "object_download")
	etag := fmt.Sprintf("%q", obj.ETag)
	c.Header("ETag", etag)
	c.Header("Cache-Control", "private, no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Status(http.StatusNotModified)
		return
	}
	if c.Request.Method == http.MethodHead {
		c.Header("Content-Type", obj.ContentType)
		c.Header("Content-Length", strconv.Itoa(len(obj.Data)))
		c.Status(http.StatusOK)
		return
	}
	c.Data(http.StatusOK, obj.ContentType, obj.Data)
}
