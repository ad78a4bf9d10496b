package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ClientSession is the state persisted between process restarts.
type ClientSession struct {
	AccessToken     string    `json:"access_token,omitempty"`
	RefreshSecret   string    `json:"refresh_secret,omitempty"`
	AccessExpiresAt time.Time `json:"access_expires_at,omitempty"`
	Authenticated   bool      `json:"authenticated"`
}

// SessionStore persists the client session. Load returns a zero session when nothing is stored.
type SessionStore interface {
	Load(ctx context.Context) (ClientSession, error)
	Save(ctx context.Context, session ClientSession) error
	Clear(ctx context.Context) error
}

// FileSessionStore keeps the session as JSON in a file readable only by its owner.
type FileSessionStore struct {
	path string
	mu   sync.Mutex
}

func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: path}
}

func (s *FileSessionStore) Load(_ context.Context) (ClientSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ClientSession{}, nil
	}
	if err != nil {
		return ClientSession{}, fmt.Errorf("read session file: %w", err)
	}

	var session ClientSession
	if err := json.Unmarshal(data, &session); err != nil {
		return ClientSession{}, fmt.Errorf("decode session file: %w", err)
	}
	return session, nil
}

// Save writes through a temp file and rename so a crash never leaves a truncated session.
func (s *FileSessionStore) Save(_ context.Context, session ClientSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (s *FileSessionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// MemorySessionStore is a process-local SessionStore.
type MemorySessionStore struct {
	mu      sync.Mutex
	session ClientSession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (s *MemorySessionStore) Load(context.Context) (ClientSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, nil
}

func (s *MemorySessionStore) Save(_ context.Context, session ClientSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	return nil
}

func (s *MemorySessionStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = ClientSession{}
	return nil
}
