// Package auth authenticates storefront customers (Supabase access tokens)
// and the single administrator (password login with a signed session cookie).
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/apperr"
)

var ErrInvalidToken = fmt.Errorf("invalid or expired token: %w", apperr.ErrUnauthorized)

type contextKey int

const userKey contextKey = iota

// User is the authenticated customer.
type User struct {
	ID    uuid.UUID
	Email string
}

func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey).(User)
	return u, ok
}

type supabaseClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// UserVerifier validates Supabase access tokens signed with the project JWT secret.
type UserVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewUserVerifier(jwtSecret string) *UserVerifier {
	return &UserVerifier{
		secret: []byte(jwtSecret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}
}

func (v *UserVerifier) Verify(token string) (User, error) {
	claims := &supabaseClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return User{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return User{ID: id, Email: claims.Email}, nil
}

// RequireUser rejects requests without a valid bearer token and stores the
// caller in the request context.
func (v *UserVerifier) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			unauthorized(w, "Authorization header required")
			return
		}
		u, err := v.Verify(token)
		if err != nil {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("auth: rejected customer token")
			unauthorized(w, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.Error().Err(err).Msg("auth: failed to write response")
	}
}
