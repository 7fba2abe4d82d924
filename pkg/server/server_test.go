package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/safebites/pkg/errs"
)

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(bearerAuth())
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"owner_id": owner(c)})
	})
	return r
}

func TestBearerAuthResolvesOwner(t *testing.T) {
	r := authRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer user-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "user-42", body["owner_id"])
}

func TestBearerAuthRejectsMissingHeader(t *testing.T) {
	r := authRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, errs.CodeUnauthenticated, body["code"])
}

func TestBearerAuthRejectsMalformedHeaders(t *testing.T) {
	r := authRouter()

	for _, header := range []string{"user-42", "Basic user-42", "Bearer ", "Bearer"} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q must be rejected", header)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[error]int{
		errs.ErrUnauthenticated: http.StatusUnauthorized,
		errs.ErrConflict:        http.StatusConflict,
		errs.ErrValidation:      http.StatusBadRequest,
		errs.ErrNotFound:        http.StatusNotFound,
		errs.ErrTransient:       http.StatusServiceUnavailable,
	}
	for err, want := range cases {
		assert.Equal(t, want, httpStatus(errs.New("op", err, "")), "for %v", err)
	}
}

func TestEstimateArrival(t *testing.T) {
	cases := []struct {
		name        string
		restaurants int
		items       int
		want        time.Duration
	}{
		{"single restaurant few items", 1, 1, 35 * time.Minute},
		{"item buffer kicks in past three", 1, 5, 39 * time.Minute},
		{"per restaurant buffer", 3, 3, 49 * time.Minute},
		{"capped at ninety", 5, 40, 90 * time.Minute},
		{"zero restaurants treated as one", 0, 1, 35 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, estimateArrival(tc.restaurants, tc.items))
		})
	}
}
