package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(header string) (*httptest.ResponseRecorder, string) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	var seen string
	r.GET("/health", func(c *gin.Context) {
		seen = Value(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if header != "" {
		req.Header.Set(headerKey, header)
	}
	r.ServeHTTP(w, req)
	return w, seen
}

func TestMiddlewareKeepsCallerID(t *testing.T) {
	w, seen := serve("portal-web-7f3a")
	assert.Equal(t, "portal-web-7f3a", seen)
	assert.Equal(t, "portal-web-7f3a", w.Header().Get(headerKey))
}

func TestMiddlewareGeneratesID(t *testing.T) {
	cases := map[string]string{
		"missing":    "",
		"too long":   strings.Repeat("a", maxLength+1),
		"whitespace": "two words",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			w, seen := serve(header)
			_, err := uuid.Parse(seen)
			require.NoError(t, err)
			assert.Equal(t, seen, w.Header().Get(headerKey))
		})
	}
}
