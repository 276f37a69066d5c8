package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartek5186/hurtownia/internal/apperr"
	"github.com/bartek5186/hurtownia/internal/auth"
)

var secret = []byte("test-secret")

func TestSignAndParse(t *testing.T) {
	tok, err := auth.Sign(secret, auth.Identity{UserID: 42, Role: auth.RoleShop, Email: "p@shop.ru", Name: "Partner"}, time.Hour)
	require.NoError(t, err)

	id, err := auth.Parse(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, &auth.Identity{UserID: 42, Role: auth.RoleShop, Email: "p@shop.ru", Name: "Partner"}, id)

	_, err = auth.Parse([]byte("other"), tok)
	assert.Equal(t, apperr.Unauthorized, apperr.KindOf(err))
}

func TestParseRejects(t *testing.T) {
	// Sign z ttl <= 0 nie ustawia exp; wygasły token budujemy ręcznie
	claims := auth.Claims{Role: auth.RoleBuyer, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	_, err = auth.Parse(secret, expired)
	assert.Error(t, err)

	badSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "abc"}}).SignedString(secret)
	require.NoError(t, err)
	_, err = auth.Parse(secret, badSub)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{Role: "admin", RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}}).SignedString(secret)
	require.NoError(t, err)
	_, err = auth.Parse(secret, badRole)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	// bez roli: kupujący
	noRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "5"}}).SignedString(secret)
	require.NoError(t, err)
	id, err := auth.Parse(secret, noRole)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleBuyer, id.Role)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{Role: auth.RoleShop, RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.Parse(secret, none)
	assert.Error(t, err)
}

func TestMiddlewareAndRole(t *testing.T) {
	var gotErr error
	onErr := func(w http.ResponseWriter, r *http.Request, err error) {
		gotErr = err
		w.WriteHeader(http.StatusTeapot)
	}
	var seen *auth.Identity
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := auth.Middleware(secret, onErr)(auth.RequireRole(auth.RoleShop, onErr)(final))

	do := func(header string) int {
		gotErr, seen = nil, nil
		req := httptest.NewRequest(http.MethodGet, "/partner/state", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusTeapot, do(""))
	assert.ErrorIs(t, gotErr, auth.ErrNoToken)

	assert.Equal(t, http.StatusTeapot, do("Token abc"))
	assert.ErrorIs(t, gotErr, auth.ErrInvalidToken)

	buyer, _ := auth.Sign(secret, auth.Identity{UserID: 1, Role: auth.RoleBuyer}, time.Hour)
	assert.Equal(t, http.StatusTeapot, do("Bearer "+buyer))
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(gotErr))

	shop, _ := auth.Sign(secret, auth.Identity{UserID: 2, Role: auth.RoleShop}, time.Hour)
	assert.Equal(t, http.StatusNoContent, do("bearer "+shop))
	require.NotNil(t, seen)
	assert.EqualValues(t, 2, seen.UserID)
}
