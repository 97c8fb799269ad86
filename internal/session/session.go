package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"file-server-go/internal/logger"
)

const (
	// DefaultExpiration matches the default token lifetime.
	DefaultExpiration = time.Hour
	// CleanupInterval is how often expired sessions are cleaned up
	CleanupInterval = 5 * time.Minute
)

var log = logger.WithComponent("SESSION")

// Session is one issued login. Its ID is carried in the token, so deleting
// the session revokes the token before it expires.
type Session struct {
	ID         string `json:"id"`
	IdentityID string `json:"identityId"`
	Username   string `json:"username"`
	CreatedAt  int64  `json:"createdAt"`
	LastAccess int64  `json:"lastAccess"`
	ExpiresAt  int64  `json:"expiresAt"`
	UserAgent  string `json:"userAgent,omitempty"`
	RemoteAddr string `json:"remoteAddr,omitempty"`
}

// StoreConfig holds configuration for the session store
type StoreConfig struct {
	// FilePath is where sessions are persisted. Empty keeps them in memory.
	FilePath   string
	Expiration time.Duration
}

// Store manages sessions with persistence and expiration
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	filePath    string
	expiration  time.Duration
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

// NewStore creates a new session store
func NewStore(cfg StoreConfig) *Store {
	if cfg.Expiration <= 0 {
		cfg.Expiration = DefaultExpiration
	}

	s := &Store{
		sessions:    make(map[string]*Session),
		filePath:    cfg.FilePath,
		expiration:  cfg.Expiration,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	if err := s.load(); err != nil {
		log.Warn("Failed to load sessions from disk: %v", err)
	}

	go s.cleanupLoop()

	return s
}

// Expiration returns the session lifetime.
func (s *Store) Expiration() time.Duration {
	return s.expiration
}

// load loads sessions from disk with error handling
func (s *Store) load() error {
	if s.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist yet, that's OK
		}
		return fmt.Errorf("read sessions file: %w", err)
	}

	var sessions []*Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return fmt.Errorf("unmarshal sessions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	expired := 0

	for _, session := range sessions {
		if session.ExpiresAt > now && session.ID != "" {
			s.sessions[session.ID] = session
		} else {
			expired++
		}
	}

	if expired > 0 {
		log.Info("Skipped %d expired sessions during load", expired)
	}

	return nil
}

// save saves sessions to disk atomically
func (s *Store) save() error {
	if s.filePath == "" {
		return nil
	}

	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	data, err := json.MarshalIndent(sessions, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	// Atomic write: write to temp file, then rename
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	tempFile, err := os.CreateTemp(dir, ".sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		if tempPath != "" {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, s.filePath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	tempPath = ""
	return nil
}

// cleanupLoop periodically removes expired sessions
func (s *Store) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes expired sessions
func (s *Store) cleanup() int {
	s.mu.Lock()

	now := time.Now().UnixMilli()
	expired := 0

	for id, session := range s.sessions {
		if session.ExpiresAt <= now {
			delete(s.sessions, id)
			expired++
		}
	}
	s.mu.Unlock()

	if expired > 0 {
		log.Debug("Cleaned up %d expired sessions", expired)
		if err := s.save(); err != nil {
			log.Error("Failed to save sessions after cleanup: %v", err)
		}
	}
	return expired
}

// Info describes the login a session is created for.
type Info struct {
	IdentityID string
	Username   string
	UserAgent  string
	RemoteAddr string
}

// Create starts a new session and returns a copy of it.
func (s *Store) Create(info Info) Session {
	now := time.Now()
	session := &Session{
		ID:         uuid.NewString(),
		IdentityID: info.IdentityID,
		Username:   info.Username,
		CreatedAt:  now.UnixMilli(),
		LastAccess: now.UnixMilli(),
		ExpiresAt:  now.Add(s.expiration).UnixMilli(),
		UserAgent:  info.UserAgent,
		RemoteAddr: info.RemoteAddr,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	if err := s.save(); err != nil {
		log.Error("Failed to save session after create: %v", err)
	}

	log.Debug("Created session | user=%s expiresIn=%v", info.Username, s.expiration)
	return *session
}

// Get returns the live session with the given ID and records the access.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}

	now := time.Now().UnixMilli()
	if session.ExpiresAt <= now {
		delete(s.sessions, id)
		go func() {
			if err := s.save(); err != nil {
				log.Error("Failed to save after removing expired session: %v", err)
			}
		}()
		return Session{}, false
	}

	// Update last access time (don't save on every access for performance)
	session.LastAccess = now
	return *session, true
}

// Valid reports whether the session exists and has not expired.
func (s *Store) Valid(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Delete removes a session, revoking its token.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if existed {
		if err := s.save(); err != nil {
			log.Error("Failed to save sessions after delete: %v", err)
		}
		log.Debug("Deleted session")
	}
}

// DeleteForIdentity revokes every session of an identity and returns how
// many were removed.
func (s *Store) DeleteForIdentity(identityID string) int {
	s.mu.Lock()
	removed := 0
	for id, session := range s.sessions {
		if session.IdentityID == identityID {
			delete(s.sessions, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		if err := s.save(); err != nil {
			log.Error("Failed to save sessions after revoke: %v", err)
		}
	}
	return removed
}

// Count returns the number of active sessions
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stop stops the cleanup goroutine, waits for it to finish and persists the
// final state. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
		if err := s.save(); err != nil {
			log.Error("Failed to save sessions on stop: %v", err)
		}
		log.Debug("Session store stopped")
	})
}
