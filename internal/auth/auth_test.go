package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "schoolattend-test"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue(Actor{ID: "PRN001", Role: RolePrincipal, SchoolID: "SCH001"}, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := Parse(pair.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, Actor{ID: "PRN001", Role: RolePrincipal, SchoolID: "SCH001"}, claims.Actor())
	assert.Equal(t, tokenAccess, claims.Type)

	_, err = Parse(pair.AccessToken, "other-key", testIssuer)
	assert.Error(t, err)
	_, err = Parse(pair.AccessToken, testKey, "someone-else")
	assert.ErrorContains(t, err, "issuer mismatch")

	_, err = Issue(Actor{Role: RoleDevice}, testIssuer, testKey, time.Minute, time.Hour)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	pair, err := Issue(Actor{ID: "kiosk-1", Role: RoleDevice}, testIssuer, testKey, -time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = Parse(pair.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
}

func TestRefresh(t *testing.T) {
	pair, err := Issue(Actor{ID: "TEA001", Role: RoleTeacher}, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	next, err := Refresh(pair.RefreshToken, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	claims, err := Parse(next.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "TEA001", claims.Subject)

	_, err = Refresh(pair.AccessToken, testIssuer, testKey, time.Minute, time.Hour)
	assert.ErrorContains(t, err, "not a refresh token")
}

func TestActorAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ActorAuth(testKey, testIssuer))
	r.GET("/whoami", func(c *gin.Context) {
		actor, _ := ActorFrom(c)
		c.String(http.StatusOK, actor.ID)
	})
	r.GET("/principals", RequireRole(RolePrincipal, RoleGovernment), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	teacher, err := Issue(Actor{ID: "TEA001", Role: RoleTeacher}, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	gov, err := Issue(Actor{ID: "GOV001", Role: RoleGovernment}, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"no header", "/whoami", "", http.StatusUnauthorized, ""},
		{"garbage", "/whoami", "Bearer nope", http.StatusUnauthorized, ""},
		{"refresh token", "/whoami", "Bearer " + teacher.RefreshToken, http.StatusUnauthorized, ""},
		{"access token", "/whoami", "bearer " + teacher.AccessToken, http.StatusOK, "TEA001"},
		{"wrong role", "/principals", "Bearer " + teacher.AccessToken, http.StatusForbidden, ""},
		{"allowed role", "/principals", "Bearer " + gov.AccessToken, http.StatusNoContent, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}
