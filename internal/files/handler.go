package files

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	httpxmiddleware "file-server-go/internal/httpx/middleware"
	"file-server-go/internal/httpx/response"
	"file-server-go/internal/logger"
	"file-server-go/internal/observability"
)

var filesLog = logger.WithComponent("FILES")

// Handler exposes the file service over HTTP. Every route expects
// RequireAuth to have stored the caller's principal.
type Handler struct {
	service       *Service
	metrics       *observability.Metrics
	maxUploadSize int64
}

// NewHandler creates a new file handler. metrics may be nil.
func NewHandler(service *Service, metrics *observability.Metrics, maxUploadSize int64) *Handler {
	if maxUploadSize <= 0 {
		maxUploadSize = httpxmiddleware.DefaultMaxUploadSize
	}
	return &Handler{
		service:       service,
		metrics:       metrics,
		maxUploadSize: maxUploadSize,
	}
}

type mkdirRequest struct {
	Path string `json:"path"`
}

type renameRequest struct {
	NewName string `json:"newName"`
}

type moveRequest struct {
	TargetDir string `json:"targetDir"`
}

type shareRequest struct {
	TargetUsername string `json:"targetUsername"`
}

// ListResponse is returned by List and Search.
type ListResponse struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"entries"`
}

// List handles GET /api/files and GET /api/files/list/{path...}.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	dir := r.PathValue("path")
	start := time.Now()
	entries, err := h.service.List(p.Name, dir)
	h.observe("list", start, err)
	if err != nil {
		h.writeError(w, p, "list", err)
		return
	}

	response.JSON(w, http.StatusOK, ListResponse{Path: "/" + dir, Entries: entries})
}

// Mkdir handles POST /api/files/mkdir.
func (h *Handler) Mkdir(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req mkdirRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	if req.Path == "" {
		response.BadRequest(w, "No directory path provided")
		return
	}

	start := time.Now()
	err := h.service.Mkdir(p.Name, req.Path)
	h.observe("mkdir", start, err)
	if err != nil {
		h.writeError(w, p, "mkdir", err)
		return
	}

	filesLog.Info("Created directory | identity=%s path=%s", p.Name, req.Path)
	response.JSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"path":    req.Path,
	})
}

// Upload handles POST /api/files/upload/{path...}. The multipart body is
// streamed straight to storage; the first "file" part is stored.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	mr, err := r.MultipartReader()
	if err != nil {
		response.BadRequest(w, "Expected multipart/form-data body")
		return
	}

	dir := r.PathValue("path")
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			response.BadRequest(w, "No file provided")
			return
		}
		if err != nil {
			h.writeUploadReadError(w, err)
			return
		}
		if part.FormName() != "file" || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		start := time.Now()
		stored, err := h.service.Upload(p.Name, dir, part.FileName(), part)
		_ = part.Close()
		h.observe("upload", start, err)
		if err != nil {
			if isBodyTooLarge(err) {
				response.ErrorWithKind(w, http.StatusRequestEntityTooLarge, string(KindStorage), "File exceeds upload size limit")
				return
			}
			h.writeError(w, p, "upload", err)
			return
		}

		h.metrics.AddBytes("in", stored.Size)
		filesLog.Info("Uploaded file | identity=%s path=%s size=%d", p.Name, stored.Path, stored.Size)
		response.JSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"file":    stored,
		})
		return
	}
}

func (h *Handler) writeUploadReadError(w http.ResponseWriter, err error) {
	if isBodyTooLarge(err) {
		response.Error(w, http.StatusRequestEntityTooLarge, "File exceeds upload size limit")
		return
	}
	response.BadRequest(w, "Invalid multipart body")
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// Download handles GET /api/files/download/{path...}.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	start := time.Now()
	dl, err := h.service.Open(p.Name, r.PathValue("path"))
	h.observe("download", start, err)
	if err != nil {
		h.writeError(w, p, "download", err)
		return
	}
	defer dl.Close()

	w.Header().Set("Content-Type", DetectContentType(dl.File))
	w.Header().Set("Content-Disposition", ContentDisposition(dl.Name))
	w.Header().Set("X-Content-Type-Options", "nosniff")

	// ServeContent handles Range and conditional requests and streams from the file.
	http.ServeContent(w, r, dl.Name, dl.ModTime, dl.File)
	h.metrics.AddBytes("out", dl.Size)
}

// Delete handles DELETE /api/files/{path...}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	target := r.PathValue("path")
	start := time.Now()
	err := h.service.Delete(p.Name, target)
	h.observe("delete", start, err)
	if err != nil {
		h.writeError(w, p, "delete", err)
		return
	}

	filesLog.Info("Deleted | identity=%s path=%s", p.Name, target)
	response.JSON(w, http.StatusOK, map[string]any{"success": true, "path": target})
}

// Rename handles PATCH /api/files/rename/{path...}.
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req renameRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	target := r.PathValue("path")
	start := time.Now()
	err := h.service.Rename(p.Name, target, req.NewName)
	h.observe("rename", start, err)
	if err != nil {
		h.writeError(w, p, "rename", err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{"success": true, "path": target, "newName": req.NewName})
}

// Move handles PATCH /api/files/move/{path...}.
func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req moveRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	target := r.PathValue("path")
	start := time.Now()
	err := h.service.Move(p.Name, target, req.TargetDir)
	h.observe("move", start, err)
	if err != nil {
		h.writeError(w, p, "move", err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{"success": true, "path": target, "targetDir": req.TargetDir})
}

// Share handles POST /api/files/share/{path...}.
func (h *Handler) Share(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req shareRequest
	if err := response.DecodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	if req.TargetUsername == "" {
		response.BadRequest(w, "No target user provided")
		return
	}

	target := r.PathValue("path")
	start := time.Now()
	storedAs, err := h.service.Share(r.Context(), p.Name, target, req.TargetUsername)
	h.observe("share", start, err)
	if err != nil {
		h.writeError(w, p, "share", err)
		return
	}

	filesLog.Info("Shared file | from=%s to=%s path=%s storedAs=%s", p.Name, req.TargetUsername, target, storedAs)
	response.JSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"target":   req.TargetUsername,
		"storedAs": storedAs,
	})
}

// Search handles GET /api/files/search/{path...}?pattern=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	dir := r.PathValue("path")
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		response.BadRequest(w, "No search pattern provided")
		return
	}

	start := time.Now()
	entries, err := h.service.Search(r.Context(), p.Name, dir, pattern)
	h.observe("search", start, err)
	if err != nil {
		h.writeError(w, p, "search", err)
		return
	}

	w.Header().Set("X-Result-Count", strconv.Itoa(len(entries)))
	response.JSON(w, http.StatusOK, ListResponse{Path: "/" + dir, Entries: entries})
}

// ShareCandidates handles GET /api/users/list.
func (h *Handler) ShareCandidates(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	names, err := h.service.ShareCandidates(r.Context(), p.Name)
	if err != nil {
		h.writeError(w, p, "share_candidates", err)
		return
	}

	users := make([]map[string]string, 0, len(names))
	for _, name := range names {
		users = append(users, map[string]string{"username": name})
	}
	response.JSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (httpxmiddleware.Principal, bool) {
	p, ok := httpxmiddleware.PrincipalFrom(r.Context())
	if !ok || p.Name == "" {
		response.Unauthorized(w)
		return httpxmiddleware.Principal{}, false
	}
	return p, true
}

func (h *Handler) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
	}
	h.metrics.ObserveOperation(op, result, time.Since(start))
}

var kindMessages = map[Kind]string{
	KindInvalidPath:   "Invalid path",
	KindTraversal:     "Path traversal detected",
	KindNotFound:      "Not found",
	KindAlreadyExists: "Already exists",
	KindConflict:      "Destination already exists",
	KindNotADirectory: "Not a directory",
	KindIsADirectory:  "Is a directory",
	KindUnsupported:   "Only regular files can be shared",
	KindUnknownTarget: "Target user not found",
	KindStorage:       "Storage failure",
}

func (h *Handler) writeError(w http.ResponseWriter, p httpxmiddleware.Principal, op string, err error) {
	kind := KindOf(err)
	status := StatusFor(err)

	switch {
	case status >= http.StatusInternalServerError:
		filesLog.Error("%s failed | identity=%s err=%v", op, p.Name, err)
	case kind == KindTraversal:
		filesLog.Warn("%s rejected | identity=%s err=%v", op, p.Name, err)
	default:
		filesLog.Debug("%s rejected | identity=%s err=%v", op, p.Name, err)
	}

	response.ErrorWithKind(w, status, string(kind), kindMessages[kind])
}
