// Package ratelimit throttles failed logins per client key and locks a key
// out after too many failures. State is persisted so restarts do not reset
// lockouts.
package ratelimit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"file-server-go/internal/logger"
)

const (
	MaxAttempts     = 10               // Max failed attempts per key before lockout
	AttemptWindow   = 10 * time.Minute // 10 minute sliding window
	LockoutDuration = 15 * time.Minute // 15 minute lockout after max attempts
	CleanupInterval = 2 * time.Minute  // Cleanup every 2 minutes
)

var log = logger.WithComponent("RATELIMIT")

// Config tunes a Limiter. Zero fields take the package defaults.
type Config struct {
	// FilePath is where state is persisted. Empty keeps it in memory.
	FilePath        string
	MaxAttempts     int
	AttemptWindow   time.Duration
	LockoutDuration time.Duration
}

// State is the persisted state of one key.
type State struct {
	FailedAttempts []int64 `json:"failedAttempts"`
	LockedUntil    *int64  `json:"lockedUntil"`
}

// Limiter tracks failed attempts per key.
type Limiter struct {
	mu          sync.Mutex
	keys        map[string]*State
	cfg         Config
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// Result represents the result of a rate limit check
type Result struct {
	Limited           bool
	WaitMinutes       int
	AttemptsRemaining int
}

// NewLimiter creates a limiter and starts its cleanup loop.
func NewLimiter(cfg Config) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = MaxAttempts
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = AttemptWindow
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = LockoutDuration
	}

	l := &Limiter{
		keys:        make(map[string]*State),
		cfg:         cfg,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	l.load()
	go l.cleanupLoop()
	return l
}

// Key builds the limiter key for a login attempt.
func Key(username, clientIP string) string {
	return username + "|" + clientIP
}

// load loads state from disk
func (l *Limiter) load() {
	if l.cfg.FilePath == "" {
		return
	}
	data, err := os.ReadFile(l.cfg.FilePath)
	if err != nil {
		return
	}

	var keys map[string]*State
	if err := json.Unmarshal(data, &keys); err != nil {
		log.Warn("Ignoring unreadable rate limit state: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for k, st := range keys {
		if st != nil {
			l.keys[k] = st
		}
	}
}

// save persists state. Callers hold l.mu.
func (l *Limiter) save() {
	if l.cfg.FilePath == "" {
		return
	}

	data, err := json.MarshalIndent(l.keys, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.cfg.FilePath), 0700); err != nil {
		log.Error("Failed to create rate limit dir: %v", err)
		return
	}
	if err := os.WriteFile(l.cfg.FilePath, data, 0600); err != nil {
		log.Error("Failed to save rate limit state: %v", err)
	}
}

// cleanupLoop periodically cleans up old attempts
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup drops expired attempts and lockouts, and keys left with neither.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UnixMilli()
	changed := false
	for key, st := range l.keys {
		before := len(st.FailedAttempts)
		st.FailedAttempts = l.recent(st.FailedAttempts, now)
		if len(st.FailedAttempts) != before {
			changed = true
		}
		if st.LockedUntil != nil && now >= *st.LockedUntil {
			st.LockedUntil = nil
			changed = true
		}
		if len(st.FailedAttempts) == 0 && st.LockedUntil == nil {
			delete(l.keys, key)
			changed = true
		}
	}

	if changed {
		l.save()
	}
}

func (l *Limiter) recent(attempts []int64, now int64) []int64 {
	cutoff := now - l.cfg.AttemptWindow.Milliseconds()
	filtered := make([]int64, 0, len(attempts))
	for _, ts := range attempts {
		if ts >= cutoff {
			filtered = append(filtered, ts)
		}
	}
	return filtered
}

// Check reports whether key is currently locked out.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UnixMilli()
	st, ok := l.keys[key]
	if !ok {
		return Result{AttemptsRemaining: l.cfg.MaxAttempts}
	}

	if st.LockedUntil != nil && now < *st.LockedUntil {
		waitMs := *st.LockedUntil - now
		waitMinutes := int((waitMs + 59999) / 60000) // Round up
		return Result{Limited: true, WaitMinutes: waitMinutes}
	} else if st.LockedUntil != nil {
		// Lockout expired
		st.LockedUntil = nil
		st.FailedAttempts = nil
		l.save()
	}

	st.FailedAttempts = l.recent(st.FailedAttempts, now)
	if len(st.FailedAttempts) >= l.cfg.MaxAttempts {
		lockTime := now + l.cfg.LockoutDuration.Milliseconds()
		st.LockedUntil = &lockTime
		l.save()
		log.Warn("Locked out login key for %v", l.cfg.LockoutDuration)
		return Result{Limited: true, WaitMinutes: int(l.cfg.LockoutDuration.Minutes())}
	}

	return Result{AttemptsRemaining: l.cfg.MaxAttempts - len(st.FailedAttempts)}
}

// RecordFailure records a failed attempt and returns the attempts left.
func (l *Limiter) RecordFailure(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.keys[key]
	if !ok {
		st = &State{}
		l.keys[key] = st
	}
	st.FailedAttempts = append(st.FailedAttempts, l.now().UnixMilli())
	l.save()

	remaining := l.cfg.MaxAttempts - len(st.FailedAttempts)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Clear forgets key (on successful login).
func (l *Limiter) Clear(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.keys[key]; ok {
		delete(l.keys, key)
		l.save()
	}
}

// Stop stops the cleanup loop. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCleanup)
	})
}
