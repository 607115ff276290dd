package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/staff-portal-api/internal/models"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
)

type validatorStub struct {
	claims *models.JWTClaims
}

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return v.claims, nil
}

func newAuthRouter(claims *models.JWTClaims, guards ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWT(validatorStub{claims: claims}))
	handlers := append(guards, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUserIDKey))
	})
	router.GET("/", handlers...)
	return router
}

func serve(router *gin.Engine, header string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestJWTSetsCurrentUser(t *testing.T) {
	router := newAuthRouter(&models.JWTClaims{UserID: "u1", Roles: []string{"staff"}})

	recorder := serve(router, "Bearer good")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "u1", recorder.Body.String())
}

func TestJWTRejectsMissingOrBadTokens(t *testing.T) {
	router := newAuthRouter(&models.JWTClaims{UserID: "u1"})

	assert.Equal(t, http.StatusUnauthorized, serve(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "Basic good").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "Bearer bad").Code)
}

func TestRequireRolesAcceptsAnyHeldRole(t *testing.T) {
	reviewer := &models.JWTClaims{UserID: "u2", Roles: []string{"staff", "reviewer"}}
	router := newAuthRouter(reviewer, RequireRoles(models.RoleReviewer, models.RoleAdmin))
	assert.Equal(t, http.StatusOK, serve(router, "Bearer good").Code)

	router = newAuthRouter(reviewer, RequireAdmin())
	assert.Equal(t, http.StatusForbidden, serve(router, "Bearer good").Code)

	superAdmin := &models.JWTClaims{UserID: "u3", Roles: []string{"super_admin"}}
	router = newAuthRouter(superAdmin, RequireAdmin())
	assert.Equal(t, http.StatusOK, serve(router, "Bearer good").Code)
}
