package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const adminLoginPath = "/admin/login"

type AdminAuthenticator interface {
	Login(password string) (*http.Cookie, error)
	LogoutCookie() *http.Cookie
}

type LoginRequest struct {
	Password string `json:"password"`
}

// SessionHandler signs the administrator in and out.
type SessionHandler struct {
	auth       AdminAuthenticator
	resp       responder
	logoutResp responder
	json       bool
}

func NewSessionHandler(auth AdminAuthenticator, format Format) *SessionHandler {
	return &SessionHandler{
		auth:       auth,
		resp:       newResponder(format, adminProductsPath, adminLoginPath),
		logoutResp: newResponder(format, adminLoginPath, adminLoginPath),
		json:       format == FormatJSON,
	}
}

func (h *SessionHandler) RegisterRoutes(router chi.Router) {
	router.Post("/login", h.Login)
	router.Post("/logout", h.Logout)
}

func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	password, ok := h.password(w, r)
	if !ok {
		return
	}

	cookie, err := h.auth.Login(password)
	if err != nil {
		log.Warn().Str("remote_addr", r.RemoteAddr).Msg("handler: admin login failed")
		h.resp.failure(w, r, mapErrorToStatusCode(err), clientMessage(err, "Login failed"), nil)
		return
	}

	http.SetCookie(w, cookie)
	log.Info().Str("remote_addr", r.RemoteAddr).Msg("handler: admin logged in")
	h.resp.success(w, r, http.StatusNoContent, "Logged in", nil)
}

func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.auth.LogoutCookie())
	h.logoutResp.success(w, r, http.StatusNoContent, "Logged out", nil)
}

func (h *SessionHandler) password(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.json {
		var req LoginRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)).Decode(&req); err != nil {
			h.resp.failure(w, r, http.StatusBadRequest, "Invalid request payload", nil)
			return "", false
		}
		return req.Password, true
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.resp.failure(w, r, http.StatusBadRequest, "Invalid form", nil)
		return "", false
	}
	return r.PostForm.Get("password"), true
}
