package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/smnsjas/go-negotiate/sso"
)

type whoamiResponse struct {
	User   *sso.Identity `json:"user"`
	Owner  *sso.Identity `json:"owner,omitempty"`
	Method string        `json:"method,omitempty"`
	Cached bool          `json:"cached"`
}

func newRouter(mw *sso.Middleware, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.Handler)
		r.Get("/whoami", handleWhoAmI(logger))
		r.Post("/logout", handleLogout(mw, logger))
	})
	return r
}

func handleWhoAmI(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		obj, ok := sso.FromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(whoamiResponse{
			User:   obj.User,
			Owner:  obj.Owner,
			Method: string(obj.Method),
			Cached: obj.Cached,
		}); err != nil {
			logger.Warn("Failed to write whoami response", "error", err)
		}
	}
}

func handleLogout(mw *sso.Middleware, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := mw.Logout(w, r); err != nil {
			logger.Warn("Logout incomplete", "error", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
