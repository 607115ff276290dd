package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

var (
	allowedHeaders = []string{"Authorization", "Content-Type", "Accept", "X-Request-ID"}
	allowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	// read-receipt downloads need the file name visible to browser clients
	exposedHeaders = []string{"Content-Disposition", "X-Request-ID"}
)

// New returns a CORS middleware for the portal front-ends. An empty origin
// list allows any origin.
func New(allowedOrigins []string) gin.HandlerFunc {
	origins := lo.SliceToMap(lo.Compact(allowedOrigins), func(o string) (string, struct{}) {
		return strings.TrimRight(o, "/"), struct{}{}
	})
	allowHeaders := strings.Join(allowedHeaders, ", ")
	allowMethods := strings.Join(allowedMethods, ", ")
	exposeHeaders := strings.Join(exposedHeaders, ", ")

	return func(c *gin.Context) {
		h := c.Writer.Header()
		origin := strings.TrimRight(c.GetHeader("Origin"), "/")
		switch {
		case origin == "" && len(origins) == 0:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := origins[origin]; ok || len(origins) == 0 {
				h.Set("Access-Control-Allow-Origin", c.GetHeader("Origin"))
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Expose-Headers", exposeHeaders)

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Max-Age", "600")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
