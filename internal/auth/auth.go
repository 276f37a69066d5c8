// Package auth odczytuje tożsamość użytkownika z tokenu Bearer (JWT HS256).
// Rejestracja i logowanie są poza tym serwisem; tokeny wystawia zewnętrzny dostawca
// (albo Sign w narzędziach deweloperskich).
package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bartek5186/hurtownia/internal/apperr"
)

const (
	RoleShop  = "shop"
	RoleBuyer = "buyer"
)

var (
	ErrNoToken      = apperr.New(apperr.Unauthorized, "authentication credentials were not provided")
	ErrInvalidToken = apperr.New(apperr.Unauthorized, "invalid token")
)

type Identity struct {
	UserID uint
	Role   string
	Email  string
	Name   string
}

type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// ErrorWriter zapisuje błąd w formacie odpowiedzi API.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

type ctxKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}

func Sign(secret []byte, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:  id.Role,
		Email: id.Email,
		Name:  id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  strconv.FormatUint(uint64(id.UserID), 10),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func Parse(secret []byte, token string) (*Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, apperr.Wrap(apperr.Unauthorized, ErrInvalidToken.Msg, err)
	}

	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 {
		return nil, ErrInvalidToken
	}
	switch claims.Role {
	case RoleShop, RoleBuyer:
	case "":
		claims.Role = RoleBuyer
	default:
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: uint(uid), Role: claims.Role, Email: claims.Email, Name: claims.Name}, nil
}

// Middleware wymaga poprawnego tokenu i wkłada Identity do kontekstu żądania.
func Middleware(secret []byte, onErr ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearer(r)
			if err != nil {
				onErr(w, r, err)
				return
			}
			id, err := Parse(secret, token)
			if err != nil {
				onErr(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole przepuszcza tylko użytkowników o danej roli (po Middleware).
func RequireRole(role string, onErr ErrorWriter) func(http.Handler) http.Handler {
	forbidden := apperr.Newf(apperr.Forbidden, "only %s accounts are allowed", role)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				onErr(w, r, ErrNoToken)
				return
			}
			if id.Role != role {
				onErr(w, r, forbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", ErrNoToken
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(token), nil
}
