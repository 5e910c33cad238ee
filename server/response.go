package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/agentuity/transit-live/transit"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
)

// respond writes body as JSON. Successful GET responses carry a weak ETag and
// a matching If-None-Match is answered with 304.
func (s *Server) respond(c *gin.Context, status int, body any) {
	buf, err := json.Marshal(body)
	if err != nil {
		s.fail(c, errors.Wrap(err, "error encoding response"))
		return
	}
	if c.Request.Method == http.MethodGet && status == http.StatusOK {
		etag := fmt.Sprintf(`W/"%016x"`, xxhash.Sum64(buf))
		c.Header("ETag", etag)
		if etagMatches(c.GetHeader("If-None-Match"), etag) {
			c.AbortWithStatus(http.StatusNotModified)
			return
		}
	}
	c.Data(status, "application/json; charset=utf-8", buf)
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == want {
			return true
		}
	}
	return false
}

// statusFor maps an error to the HTTP status and the detail shown to callers.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, transit.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, transit.ErrNotFound):
		return http.StatusNotFound, "station not found"
	case errors.Is(err, transit.ErrUnavailable):
		return http.StatusServiceUnavailable, "transit service is unavailable right now, please try again in a few seconds"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	}
	return http.StatusInternalServerError, "internal server error"
}

func (s *Server) fail(c *gin.Context, err error) {
	status, detail := statusFor(err)
	log := s.logger.With(map[string]interface{}{"request_id": c.GetString(contextKeyReqID)})
	if status >= 500 {
		log.Error("%s %s failed: %s", c.Request.Method, c.Request.URL.Path, err)
	} else {
		log.Debug("%s %s rejected: %s", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
