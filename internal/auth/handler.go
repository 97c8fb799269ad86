package auth

import (
	"errors"
	"net/http"
	"strconv"

	httpxmiddleware "file-server-go/internal/httpx/middleware"
	"file-server-go/internal/httpx/response"
	"file-server-go/internal/identity"
	"file-server-go/internal/logger"
	"file-server-go/internal/observability"
	"file-server-go/internal/ratelimit"
	"file-server-go/internal/session"
)

var authLog = logger.WithComponent("AUTH")

// Handler handles authentication routes.
type Handler struct {
	service *Service
	limiter *ratelimit.Limiter
	metrics *observability.Metrics
}

// NewHandler creates a new auth handler. metrics may be nil.
func NewHandler(service *Service, limiter *ratelimit.Limiter, metrics *observability.Metrics) *Handler {
	return &Handler{
		service: service,
		limiter: limiter,
		metrics: metrics,
	}
}

// Register handles POST /api/users/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			response.BadRequest(w, verr.Error())
		case errors.Is(err, ErrUsernameTaken):
			response.Error(w, http.StatusConflict, "Username already taken")
		default:
			authLog.Error("Registration failed | user=%s err=%v", req.Username, err)
			response.InternalServerError(w)
		}
		return
	}

	authLog.Info("Registered identity | user=%s", user.Username)
	response.JSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"user":    user,
	})
}

// Login handles POST /api/users/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	key := ratelimit.Key(req.Username, httpxmiddleware.ClientIP(r))
	if result := h.limiter.Check(key); result.Limited {
		h.metrics.ObserveLogin("locked")
		w.Header().Set("Retry-After", strconv.Itoa(result.WaitMinutes*60))
		response.TooManyRequests(w, "Too many failed attempts, try again in "+strconv.Itoa(result.WaitMinutes)+" minutes")
		return
	}

	result, err := h.service.Login(r.Context(), req, session.Info{
		UserAgent:  r.UserAgent(),
		RemoteAddr: httpxmiddleware.ClientIP(r),
	})
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			response.BadRequest(w, verr.Error())
		case errors.Is(err, ErrInvalidCredentials):
			remaining := h.limiter.RecordFailure(key)
			h.metrics.ObserveLogin("failure")
			authLog.Warn("Failed login | user=%s remaining=%d", req.Username, remaining)
			response.JSON(w, http.StatusUnauthorized, map[string]any{
				"error":             "Invalid credentials",
				"attemptsRemaining": remaining,
			})
		default:
			authLog.Error("Login failed | user=%s err=%v", req.Username, err)
			response.InternalServerError(w)
		}
		return
	}

	h.limiter.Clear(key)
	h.metrics.ObserveLogin("success")
	authLog.Info("Login | user=%s", result.User.Username)
	response.JSON(w, http.StatusOK, result)
}

// Logout handles POST /api/users/logout. Runs behind RequireAuth.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := httpxmiddleware.PrincipalFrom(r.Context())
	if !ok {
		response.Unauthorized(w)
		return
	}

	h.service.Logout(p.TokenID)
	authLog.Info("Logout | user=%s", p.Name)
	response.JSON(w, http.StatusOK, map[string]any{"success": true})
}

// Me handles GET /api/users/me. Runs behind RequireAuth.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := httpxmiddleware.PrincipalFrom(r.Context())
	if !ok {
		response.Unauthorized(w)
		return
	}

	user, err := h.service.User(r.Context(), p.ID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			response.Unauthorized(w)
			return
		}
		authLog.Error("Lookup failed | user=%s err=%v", p.Name, err)
		response.InternalServerError(w)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{"user": user})
}
