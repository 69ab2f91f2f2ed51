package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(auth TokenValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"student": GetClaims(c).UserID}) }
	r.GET("/api", RequireStudentJWT(auth), ok)
	r.GET("/ws", RequireStudentWSAuth(auth), ok)
	r.GET("/monitor", RequireProctorJWT(auth), ok)
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireStudentJWT(t *testing.T) {
	auth := service.NewAuthService("secret", time.Hour)
	r := newTestRouter(auth)
	tok, err := auth.GenerateStudentToken(5)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"student":5}`, w.Body.String())

	w = do(r, httptest.NewRequest(http.MethodGet, "/api", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_REQUIRED")

	req = httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = do(r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_INVALID")
}

func TestRequireStudentWSAuthUsesQuery(t *testing.T) {
	auth := service.NewAuthService("secret", time.Hour)
	r := newTestRouter(auth)
	tok, _ := auth.GenerateStudentToken(9)

	w := do(r, httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNonStudentTokenForbidden(t *testing.T) {
	secret := []byte("secret")
	claims := service.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		TokenType:        "admin",
		UserID:           1,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	r := newTestRouter(service.NewAuthService("secret", time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := do(r, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "STUDENT_ACCESS_ONLY")
}

func TestRequireProctorJWT(t *testing.T) {
	auth := service.NewAuthService("secret", time.Hour)
	r := newTestRouter(auth)
	proctor, err := auth.GenerateToken(service.TokenTypeProctor, 3)
	require.NoError(t, err)
	student, _ := auth.GenerateStudentToken(3)

	w := do(r, httptest.NewRequest(http.MethodGet, "/monitor?token="+proctor, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, httptest.NewRequest(http.MethodGet, "/monitor?token="+student, nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "PROCTOR_ACCESS_ONLY")

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("Authorization", "Bearer "+proctor)
	w = do(r, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
