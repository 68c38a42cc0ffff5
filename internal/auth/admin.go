package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/config"
	"golang.org/x/crypto/bcrypt"
)

const (
	AdminCookie = "admin_session"
	adminRole   = "admin"
)

var ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)

type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Admin issues and checks administrator sessions.
type Admin struct {
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	secure       bool
	parser       *jwt.Parser
	now          func() time.Time
}

// NewAdmin configures admin sessions; secure marks the cookie HTTPS-only.
func NewAdmin(cfg config.AdminConfig, secure bool) *Admin {
	a := &Admin{
		passwordHash: []byte(cfg.PasswordHash),
		secret:       []byte(cfg.SessionSecret),
		ttl:          cfg.SessionTTL,
		secure:       secure,
		now:          time.Now,
	}
	a.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	)
	return a
}

// Login checks password and returns a session cookie.
func (a *Admin) Login(password string) (*http.Cookie, error) {
	if password == "" || bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	now := a.now()
	expires := now.Add(a.ttl)
	claims := adminClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminRole,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("auth: sign admin session: %w", err)
	}

	return &http.Cookie{
		Name:     AdminCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// LogoutCookie overwrites the session cookie with an expired one.
func (a *Admin) LogoutCookie() *http.Cookie {
	return &http.Cookie{
		Name:     AdminCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (a *Admin) Verify(token string) error {
	claims := &adminClaims{}
	parsed, err := a.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Role != adminRole {
		return fmt.Errorf("%w: not an admin session", ErrInvalidToken)
	}
	return nil
}

// RequireAdmin only lets requests with a valid admin session through.
func (a *Admin) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(AdminCookie)
		if err != nil {
			unauthorized(w, "Admin session required")
			return
		}
		if err := a.Verify(c.Value); err != nil {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("auth: rejected admin session")
			unauthorized(w, "Admin session required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
