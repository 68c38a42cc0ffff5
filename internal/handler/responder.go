package handler

import (
	"net/http"
	"net/url"
	"sort"
)

// Format selects how admin handlers answer: JSON for API clients or a
// 303 redirect carrying ?success= / ?error= for HTML forms.
type Format int

const (
	FormatJSON Format = iota
	FormatRedirect
)

type responder interface {
	success(w http.ResponseWriter, r *http.Request, status int, message string, payload any)
	failure(w http.ResponseWriter, r *http.Request, status int, message string, details map[string]string)
}

type jsonResponder struct{}

func (jsonResponder) success(w http.ResponseWriter, _ *http.Request, status int, _ string, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	respondWithJSON(w, status, payload)
}

func (jsonResponder) failure(w http.ResponseWriter, _ *http.Request, status int, message string, details map[string]string) {
	if len(details) > 0 {
		respondWithJSON(w, status, ValidationErrorResponse{Error: message, Details: details})
		return
	}
	respondWithError(w, status, message)
}

type redirectResponder struct {
	successPath string
	failurePath string
}

func (rr redirectResponder) success(w http.ResponseWriter, r *http.Request, _ int, message string, _ any) {
	http.Redirect(w, r, withQuery(rr.successPath, "success", message), http.StatusSeeOther)
}

func (rr redirectResponder) failure(w http.ResponseWriter, r *http.Request, _ int, message string, details map[string]string) {
	if len(details) > 0 {
		fields := make([]string, 0, len(details))
		for field := range details {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			message += "; " + field + " " + details[field]
		}
	}
	http.Redirect(w, r, withQuery(rr.failurePath, "error", message), http.StatusSeeOther)
}

func withQuery(path, key, value string) string {
	return path + "?" + url.Values{key: {value}}.Encode()
}

func newResponder(format Format, successPath, failurePath string) responder {
	if format == FormatRedirect {
		return redirectResponder{successPath: successPath, failurePath: failurePath}
	}
	return jsonResponder{}
}
