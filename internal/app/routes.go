package app

import (
	"errors"
	"net/http"
	"time"

	httpxmiddleware "file-server-go/internal/httpx/middleware"
	"file-server-go/internal/httpx/response"
)

// Router builds the full HTTP routing tree.
func (a *ServerApp) Router() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("server app is nil")
	}

	mux := http.NewServeMux()
	requireAuth := httpxmiddleware.RequireAuth(a.Auth)
	throttle := httpxmiddleware.RateLimit(a.APILimiter)
	protected := func(h http.HandlerFunc) http.Handler {
		return requireAuth(throttle(h))
	}

	mux.HandleFunc("POST /api/users/register", a.AuthHandler.Register)
	mux.HandleFunc("POST /api/users/login", a.AuthHandler.Login)
	mux.Handle("POST /api/users/logout", protected(a.AuthHandler.Logout))
	mux.Handle("GET /api/users/me", protected(a.AuthHandler.Me))
	mux.Handle("GET /api/users/list", protected(a.FileHandler.ShareCandidates))

	mux.Handle("GET /api/files", protected(a.FileHandler.List))
	mux.Handle("GET /api/files/list/{path...}", protected(a.FileHandler.List))
	mux.Handle("POST /api/files/mkdir", protected(a.FileHandler.Mkdir))
	mux.Handle("POST /api/files/upload/{path...}", protected(a.FileHandler.Upload))
	mux.Handle("GET /api/files/download/{path...}", protected(a.FileHandler.Download))
	mux.Handle("DELETE /api/files/{path...}", protected(a.FileHandler.Delete))
	mux.Handle("PATCH /api/files/rename/{path...}", protected(a.FileHandler.Rename))
	mux.Handle("PATCH /api/files/move/{path...}", protected(a.FileHandler.Move))
	mux.Handle("POST /api/files/share/{path...}", protected(a.FileHandler.Share))
	mux.Handle("GET /api/files/search/{path...}", protected(a.FileHandler.Search))

	// Streams are long-lived; the per-request rate limit does not apply.
	mux.Handle("GET /api/events", requireAuth(a.Hub))

	mux.HandleFunc("GET /health", a.health)
	mux.Handle("GET /metrics", a.Metrics.Handler())

	instrument := httpxmiddleware.Instrument(a.Metrics)
	return instrument(httpxmiddleware.Gzip(mux)), nil
}

func (a *ServerApp) health(w http.ResponseWriter, r *http.Request) {
	identities, err := a.Identities.Count(r.Context())
	if err != nil {
		response.Error(w, http.StatusServiceUnavailable, "identity store unavailable")
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime":     time.Since(a.startedAt).Round(time.Second).String(),
		"identities": identities,
		"sessions":   a.Sessions.Count(),
		"streams":    a.Hub.ActiveConnections(),
	})
}
