package testutil

import (
	"bytes"
	"context"
	"crypto/tls"
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

	"github.com/gorilla/websocket"

	"file-server-go/internal/app"
	"file-server-go/internal/config"
	"file-server-go/internal/logger"
)

// DefaultPassword is used by Register and Login.
const DefaultPassword = "correct-horse-battery"

// TestServer holds the in-memory test server and dependencies.
type TestServer struct {
	Server  *httptest.Server
	App     *app.ServerApp
	Config  *config.AppConfig
	TempDir string
}

// Setup creates a fully wired test server.
func Setup(t testing.TB) *TestServer {
	t.Helper()

	logger.Init(logger.Config{Output: io.Discard, MinLevel: logger.ERROR, UseColor: false})

	tempDir, err := os.MkdirTemp("", "file-server-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	cfg := &config.AppConfig{
		Env:             "test",
		Port:            0,
		StorageRoot:     filepath.Join(tempDir, "user_files"),
		DataDir:         filepath.Join(tempDir, "data"),
		JWTSecret:       "test-secret-0123456789abcdef",
		TokenTTL:        time.Hour,
		MaxUploadSize:   1 << 20,
		LogLevel:        "ERROR",
		ShutdownTimeout: 5 * time.Second,
	}

	a, err := app.NewWithConfig(cfg)
	if err != nil {
		_ = os.RemoveAll(tempDir)
		t.Fatalf("build app: %v", err)
	}

	handler, err := a.Handler()
	if err != nil {
		a.Close()
		_ = os.RemoveAll(tempDir)
		t.Fatalf("build handler: %v", err)
	}

	return &TestServer{
		Server:  httptest.NewTLSServer(handler),
		App:     a,
		Config:  cfg,
		TempDir: tempDir,
	}
}

// Cleanup stops server resources and removes temp artifacts.
func (ts *TestServer) Cleanup() {
	if ts.App != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ts.Config.ShutdownTimeout)
		ts.App.Hub.Shutdown(ctx)
		cancel()
	}
	if ts.Server != nil {
		ts.Server.Close()
	}
	if ts.App != nil {
		ts.App.Close()
	}
	if ts.TempDir != "" {
		_ = os.RemoveAll(ts.TempDir)
	}
}

func (ts *TestServer) NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// Register creates an identity with DefaultPassword.
func (ts *TestServer) Register(t testing.TB, username string) {
	t.Helper()

	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": DefaultPassword,
		"email":    username + "@example.com",
	})
	resp := ts.Do(t, "", http.MethodPost, "/api/users/register", "application/json", bytes.NewReader(body))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("register %s failed status=%d body=%s", username, resp.StatusCode, string(data))
	}
}

// Login returns a bearer token for username.
func (ts *TestServer) Login(t testing.TB, username string) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"username": username, "password": DefaultPassword})
	resp := ts.Do(t, "", http.MethodPost, "/api/users/login", "application/json", bytes.NewReader(body))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("login %s failed status=%d body=%s", username, resp.StatusCode, string(data))
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.Token == "" {
		t.Fatalf("login %s returned no token: %v", username, err)
	}
	return result.Token
}

// RegisterAndLogin is Register followed by Login.
func (ts *TestServer) RegisterAndLogin(t testing.TB, username string) string {
	t.Helper()
	ts.Register(t, username)
	return ts.Login(t, username)
}

// Do sends a request with an optional bearer token.
func (ts *TestServer) Do(t testing.TB, token, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, ts.Server.URL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.NewHTTPClient().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// DoJSON sends payload as a JSON body.
func (ts *TestServer) DoJSON(t testing.TB, token, method, path string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return ts.Do(t, token, method, path, "application/json", bytes.NewReader(body))
}

// Upload posts content as a multipart "file" part into dir.
func (ts *TestServer) Upload(t testing.TB, token, dir, filename, content string) *http.Response {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = io.WriteString(part, content)
	_ = writer.Close()

	return ts.Do(t, token, http.MethodPost, "/api/files/upload/"+strings.TrimPrefix(dir, "/"), writer.FormDataContentType(), &body)
}

// DialEvents opens the change stream for token.
func (ts *TestServer) DialEvents(t testing.TB, token string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := dialer.Dial(ts.WebSocketURL("/api/events"), header)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	return conn
}

func (ts *TestServer) WebSocketURL(path string) string {
	return strings.Replace(ts.Server.URL, "https://", "wss://", 1) + path
}

// StoragePath returns the on-disk path of rel inside identity's root.
func (ts *TestServer) StoragePath(identity, rel string) string {
	root, err := filepath.EvalSymlinks(ts.Config.StorageRoot)
	if err != nil {
		root = ts.Config.StorageRoot
	}
	return filepath.Join(root, identity, filepath.FromSlash(rel))
}
