package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	u := &User{ID: "u1", CompanyID: "c1", Role: RoleAdmin}

	token, err := IssueToken("secret", u)
	require.NoError(t, err)

	p, err := ParseToken("secret", token)
	require.NoError(t, err)

	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "c1", p.CompanyID)
	assert.Equal(t, RoleAdmin, p.Role)
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := IssueToken("secret", &User{ID: "u1"})
	require.NoError(t, err)

	_, err = ParseToken("other-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_Garbage(t *testing.T) {
	_, err := ParseToken("secret", "not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("no principal", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/admin/users", nil)
		w := httptest.NewRecorder()
		RequireAdmin(next).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("non-admin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/admin/users", nil)
		req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: "u1", Role: RoleUser}))
		w := httptest.NewRecorder()
		RequireAdmin(next).ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("admin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/admin/users", nil)
		req = req.WithContext(WithPrincipal(req.Context(), Principal{UserID: "u1", Role: RoleAdmin}))
		w := httptest.NewRecorder()
		RequireAdmin(next).ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestPrincipalContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)

	_, ok := PrincipalFrom(req.Context())
	assert.False(t, ok)

	ctx := WithPrincipal(req.Context(), Principal{UserID: "u1", CompanyID: "c1", Role: RoleUser})
	p, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", p.UserID)
}
