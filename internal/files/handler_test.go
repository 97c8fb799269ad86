package files

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	httpxmiddleware "file-server-go/internal/httpx/middleware"
	"file-server-go/internal/observability"
	"file-server-go/internal/workspace"
)

type handlerEnv struct {
	h       *Handler
	mux     *http.ServeMux
	storage string
}

func setupFilesHandler(t *testing.T, maxUpload int64) *handlerEnv {
	t.Helper()
	storage := filepath.Join(t.TempDir(), "user_files")
	if err := os.MkdirAll(storage, 0755); err != nil {
		t.Fatalf("create storage: %v", err)
	}
	storage, err := filepath.EvalSymlinks(storage)
	if err != nil {
		t.Fatalf("canonicalize storage: %v", err)
	}

	svc := NewService(workspace.NewResolver(storage), staticDirectory{names: []string{"alice", "bob"}}, nil)
	svc.now = func() time.Time { return time.UnixMilli(1700000000000) }
	h := NewHandler(svc, observability.NewMetrics(), maxUpload)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/files", h.List)
	mux.HandleFunc("GET /api/files/list/{path...}", h.List)
	mux.HandleFunc("POST /api/files/mkdir", h.Mkdir)
	mux.HandleFunc("POST /api/files/upload/{path...}", h.Upload)
	mux.HandleFunc("GET /api/files/download/{path...}", h.Download)
	mux.HandleFunc("DELETE /api/files/{path...}", h.Delete)
	mux.HandleFunc("PATCH /api/files/rename/{path...}", h.Rename)
	mux.HandleFunc("PATCH /api/files/move/{path...}", h.Move)
	mux.HandleFunc("POST /api/files/share/{path...}", h.Share)
	mux.HandleFunc("GET /api/files/search/{path...}", h.Search)
	mux.HandleFunc("GET /api/users/list", h.ShareCandidates)

	return &handlerEnv{h: h, mux: mux, storage: storage}
}

func (e *handlerEnv) do(t *testing.T, identity string, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if identity != "" {
		req = req.WithContext(httpxmiddleware.WithPrincipal(req.Context(), httpxmiddleware.Principal{ID: identity + "-id", Name: identity}))
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func (e *handlerEnv) write(t *testing.T, identity, rel, content string) {
	t.Helper()
	p := filepath.Join(e.storage, identity, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, target, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("note", "ignored")
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write multipart content: %v", err)
	}
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
}

func TestHandler_RequiresPrincipal(t *testing.T) {
	env := setupFilesHandler(t, 0)

	w := env.do(t, "", httptest.NewRequest(http.MethodGet, "/api/files", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestHandler_ListRoot(t *testing.T) {
	env := setupFilesHandler(t, 0)
	env.write(t, "alice", "b.txt", "b")
	env.write(t, "alice", "a.txt", "a")

	w := env.do(t, "alice", httptest.NewRequest(http.MethodGet, "/api/files", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	var resp ListResponse
	decodeBody(t, w, &resp)
	if resp.Path != "/" {
		t.Fatalf("expected path /, got %q", resp.Path)
	}
	if len(resp.Entries) != 2 || resp.Entries[0].Name != "a.txt" || resp.Entries[1].Name != "b.txt" {
		t.Fatalf("unexpected entries: %+v", resp.Entries)
	}
}

func TestHandler_ListBlocksTraversal(t *testing.T) {
	env := setupFilesHandler(t, 0)
	env.write(t, "bob", "secret.txt", "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/files/list/x", nil)
	req.SetPathValue("path", "../bob")
	req = req.WithContext(httpxmiddleware.WithPrincipal(req.Context(), httpxmiddleware.Principal{Name: "alice"}))
	w := httptest.NewRecorder()

	env.h.List(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		Kind string `json:"kind"`
	}
	decodeBody(t, w, &body)
	if body.Kind != string(KindInvalidPath) {
		t.Fatalf("expected kind %s, got %q", KindInvalidPath, body.Kind)
	}
}

func TestHandler_MkdirAndConflict(t *testing.T) {
	env := setupFilesHandler(t, 0)

	w := env.do(t, "alice", jsonRequest(http.MethodPost, "/api/files/mkdir", `{"path":"/docs"}`))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}
	if info, err := os.Stat(filepath.Join(env.storage, "alice", "docs")); err != nil || !info.IsDir() {
		t.Fatalf("expected docs directory, err=%v", err)
	}

	w = env.do(t, "alice", jsonRequest(http.MethodPost, "/api/files/mkdir", `{"path":"/docs"}`))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", w.Code, w.Body.String())
	}

	w = env.do(t, "alice", jsonRequest(http.MethodPost, "/api/files/mkdir", `{}`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing path, got %d", w.Code)
	}
}

func TestHandler_UploadAndDownload(t *testing.T) {
	env := setupFilesHandler(t, 0)
	env.write(t, "alice", "docs/.keep", "")

	w := env.do(t, "alice", multipartRequest(t, "/api/files/upload/docs", "report.txt", "hello world"))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool       `json:"success"`
		File    StoredFile `json:"file"`
	}
	decodeBody(t, w, &resp)
	if !resp.Success || resp.File.Path != "docs/1700000000000-report.txt" || resp.File.Size != 11 {
		t.Fatalf("unexpected upload response: %+v", resp)
	}

	w = env.do(t, "alice", httptest.NewRequest(http.MethodGet, "/api/files/download/"+resp.File.Path, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != "hello world" {
		t.Fatalf("unexpected download content: %q", got)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "1700000000000-report.txt") {
		t.Fatalf("unexpected Content-Disposition: %q", cd)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected Content-Type: %q", ct)
	}
}

func TestHandler_UploadTooLarge(t *testing.T) {
	env := setupFilesHandler(t, 512)

	w := env.do(t, "alice", multipartRequest(t, "/api/files/upload/", "big.bin", strings.Repeat("x", 4096)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d body=%s", w.Code, w.Body.String())
	}

	entries, err := os.ReadDir(filepath.Join(env.storage, "alice"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no stored files, got %d", len(entries))
	}
}

func TestHandler_UploadRequiresFilePart(t *testing.T) {
	env := setupFilesHandler(t, 0)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("note", "no file")
	_ = writer.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload/", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	w := env.do(t, "alice", req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestHandler_DownloadDirectory(t *testing.T) {
	env := setupFilesHandler(t, 0)
	env.write(t, "alice", "docs/a.txt", "a")

	w := env.do(t, "alice", httptest.NewRequest(http.MethodGet, "/api/files/download/docs", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = env.do(t, "alice", httptest.NewRequest(http.MethodGet, "/api/files/download/docs/missing.txt", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandler_DeleteRootRejected(t *testing.T) {
	env := setupFilesHandler(t, 0)
	env.write(t, "alice", "a.txt", "a")

	w := env.do(t, "alice", httptest.NewRequest(http.MethodDelete, "/api/files/", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", w.Code, w.Body.String())
	}

	w = env.do(t, "alice", httptest.NewRequest(http.MethodDelete, "/api/files/a.txt", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(env.storage, "alice", "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, err=%v", err)
	}
}

func TestHandler_RenameConflict(t *testing.T) {
	env := setupFilesHandler(t, 0)
	env.write(t, "alice", "a.txt", "a")
	env.write(t, "alice", "b.txt", "b")

	w := env.do(t, "alice", jsonRequest(http.MethodPatch, "/api/files/rename/a.txt", `{"newName":"b.txt"}`))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", w.Code, w.Body.String())
	}

	w = env.do(t, "alice", jsonRequest(http.MethodPatch, "/api/files/rename/a.txt", `{"newName":"c.txt"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if data, err := os.ReadFile(filepath.Join(env.storage, "alice", "c.txt")); err != nil || string(data) != "a" {
		t.Fatalf("expected renamed content, got %q err=%v", data, err)
	}
}

func TestHandler_Move(t *testing.T) {
	env := setupFilesHandler(t, 0)
	env.write(t, "alice", "a.txt", "a")
	env.write(t, "alice", "docs/.keep", "")

	w := env.do(t, "alice", jsonRequest(http.MethodPatch, "/api/files/move/a.txt", `{"targetDir":"docs"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(env.storage, "alice", "docs", "a.txt")); err != nil {
		t.Fatalf("expected moved file: %v", err)
	}
}

func TestHandler_Share(t *testing.T) {
	env := setupFilesHandler(t, 0)
	env.write(t, "alice", "report.txt", "report")
	env.write(t, "alice", "folder/x.txt", "x")

	w := env.do(t, "alice", jsonRequest(http.MethodPost, "/api/files/share/report.txt", `{"targetUsername":"bob"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		StoredAs string `json:"storedAs"`
	}
	decodeBody(t, w, &resp)
	if resp.StoredAs != "report.txt" {
		t.Fatalf("unexpected storedAs %q", resp.StoredAs)
	}

	w = env.do(t, "alice", jsonRequest(http.MethodPost, "/api/files/share/report.txt", `{"targetUsername":"mallory"}`))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown target, got %d", w.Code)
	}

	w = env.do(t, "alice", jsonRequest(http.MethodPost, "/api/files/share/folder", `{"targetUsername":"bob"}`))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for directory share, got %d", w.Code)
	}
}

func TestHandler_Search(t *testing.T) {
	env := setupFilesHandler(t, 0)
	env.write(t, "alice", "docs/a.pdf", "a")
	env.write(t, "alice", "docs/b.txt", "b")

	w := env.do(t, "alice", httptest.NewRequest(http.MethodGet, "/api/files/search/?pattern=**/*.pdf", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Result-Count"); got != "1" {
		t.Fatalf("expected 1 result, got %q", got)
	}

	w = env.do(t, "alice", httptest.NewRequest(http.MethodGet, "/api/files/search/", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without pattern, got %d", w.Code)
	}
}

func TestHandler_ShareCandidates(t *testing.T) {
	env := setupFilesHandler(t, 0)

	w := env.do(t, "alice", httptest.NewRequest(http.MethodGet, "/api/users/list", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Users []struct {
			Username string `json:"username"`
		} `json:"users"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Users) != 1 || resp.Users[0].Username != "bob" {
		t.Fatalf("unexpected users: %+v", resp.Users)
	}
}
