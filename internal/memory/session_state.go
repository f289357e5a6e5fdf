package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthub/agent-hub/internal/auth"
	"github.com/agenthub/agent-hub/pkg/models"
)

// SessionState is one interactive session's accumulated memory-injection
// bookkeeping, persisted to a small local JSON file between processes
// when a durable session is requested. This file-based layout is the
// on-disk contract only for single-node/local-tool deployments; a
// clustered implementation should swap SessionStore for a keyed blob
// store (key = SessionID) without changing this struct.
type SessionState struct {
	SessionID         string            `json:"session_id"`
	Scope             models.ScopeKind  `json:"scope"`
	ScopeID           string            `json:"scope_id,omitempty"`
	RequestedBy       *auth.UserInfo    `json:"requested_by,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	LastInjectionAt   *time.Time        `json:"last_injection_at,omitempty"`
	InjectionCount    int               `json:"injection_count"`
	LoadedMemoryUUIDs []string          `json:"loaded_memory_uuids"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// RecordInjection appends freshly loaded UUIDs and bumps the injection
// counters; duplicate UUIDs already present are not re-appended, since
// the accumulated list is meant to answer "what has this session seen
// ever," not "how many times."
func (s *SessionState) RecordInjection(uuids []string, now time.Time) {
	s.InjectionCount++
	s.LastInjectionAt = &now

	seen := make(map[string]bool, len(s.LoadedMemoryUUIDs))
	for _, u := range s.LoadedMemoryUUIDs {
		seen[u] = true
	}
	for _, u := range uuids {
		if !seen[u] {
			seen[u] = true
			s.LoadedMemoryUUIDs = append(s.LoadedMemoryUUIDs, u)
		}
	}
}

// NewSessionState starts a fresh session bound to one scope.
func NewSessionState(scope models.Scope, now time.Time) *SessionState {
	return &SessionState{
		SessionID: uuid.NewString(),
		Scope:     scope.Kind,
		ScopeID:   scope.ID,
		CreatedAt: now,
		Metadata:  map[string]string{},
	}
}

// WithRequester attaches the caller identity to the session, returning the
// same instance for chaining at construction time.
func (s *SessionState) WithRequester(u *auth.UserInfo) *SessionState {
	s.RequestedBy = u
	return s
}

// Scope reconstructs the models.Scope this session is bound to.
func (s *SessionState) ScopeValue() models.Scope {
	return models.Scope{Kind: s.Scope, ID: s.ScopeID}
}

// SessionStore persists session state file-per-session. appName names the
// dotfile directory, e.g. "agent-hub" -> ~/.agent-hub/.graphiti_state.json
// for the default session, keyed files for named sessions.
type SessionStore struct {
	mu      sync.Mutex
	baseDir string
}

// NewSessionStore resolves baseDir to ~/.<appName> when baseDir is empty.
func NewSessionStore(appName, baseDir string) (*SessionStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		baseDir = filepath.Join(home, "."+appName)
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, err
	}
	return &SessionStore{baseDir: baseDir}, nil
}

func (s *SessionStore) path(sessionID string) string {
	name := ".graphiti_state.json"
	if sessionID != "" {
		name = sessionID + ".graphiti_state.json"
	}
	return filepath.Join(s.baseDir, name)
}

// Load reads a session state file, returning (nil, false, nil) when no
// file exists yet rather than an error — a cold start is not a failure.
func (s *SessionStore) Load(sessionID string) (*SessionState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(sessionID))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, false, err
	}
	return &state, true, nil
}

// Save writes the session state file. Concurrent writes to the same
// session are not expected; last-writer-wins is acceptable here.
func (s *SessionStore) Save(state *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(state.SessionID), data, 0o600)
}

// Delete removes a session's persisted state file, ignoring a missing
// file.
func (s *SessionStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
