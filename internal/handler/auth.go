package handler

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/softrate/quizgrader/internal/i18n"
	"github.com/softrate/quizgrader/internal/model"
)

const studentHeader = "X-Student-ID"

// requireStudent takes the student id from the X-Student-ID header, or the
// "student" query parameter for websocket clients that cannot set headers.
// Identity is asserted by the upstream gateway.
func requireStudent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(studentHeader))
		if id == "" {
			id = strings.TrimSpace(r.URL.Query().Get("student"))
		}
		if id == "" {
			writeFailure(w, http.StatusUnauthorized, appI18n.T(r.Context(), "ErrStudentRequired"))
			return
		}
		next.ServeHTTP(w, r.WithContext(model.ContextWithStudent(r.Context(), id)))
	})
}

// requireAdmin checks the bearer token against the configured admin token.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.adminHash == nil || !ok ||
			bcrypt.CompareHashAndPassword(h.adminHash, []byte(strings.TrimSpace(token))) != nil {
			writeFailure(w, http.StatusUnauthorized, appI18n.T(r.Context(), "ErrUnauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
