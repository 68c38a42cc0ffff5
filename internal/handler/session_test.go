package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/auth"
)

func newAuthenticator() *mockAuthenticator {
	return &mockAuthenticator{
		LoginFunc: func(password string) (*http.Cookie, error) {
			if password != "s3cret" {
				return nil, auth.ErrInvalidCredentials
			}
			return &http.Cookie{Name: auth.AdminCookie, Value: "token", Path: "/", HttpOnly: true}, nil
		},
	}
}

func TestSessionHandler_JSON(t *testing.T) {
	r := chi.NewRouter()
	NewSessionHandler(newAuthenticator(), FormatJSON).RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(`{"password":"s3cret"}`)))
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), auth.AdminCookie+"=token")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(`{"password":"guess"}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Invalid credentials"}`, w.Body.String())
	assert.Empty(t, w.Header().Get("Set-Cookie"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/logout", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestSessionHandler_Form(t *testing.T) {
	r := chi.NewRouter()
	NewSessionHandler(newAuthenticator(), FormatRedirect).RegisterRoutes(r)

	post := func(password string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(url.Values{"password": {password}}.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := post("s3cret")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/admin/products?success=Logged+in", w.Header().Get("Location"))
	assert.NotEmpty(t, w.Header().Get("Set-Cookie"))

	w = post("nope")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/admin/login?error=Invalid+credentials", w.Header().Get("Location"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/logout", nil))
	assert.Equal(t, "/admin/login?success=Logged+out", w.Header().Get("Location"))
}
