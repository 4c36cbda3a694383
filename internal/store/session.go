// Package store implements the on-disk session layout: one JSON document
// per session under "<jcode_root>/sessions/<id>.json", written atomically
// via a temp-file-then-rename so a crash mid-write never corrupts history.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/1jehuang/jcode-sub000/internal/message"
)

// ErrNotFound is returned by Load when the session file does not exist.
var ErrNotFound = errors.New("store: session not found")

// Status is the lifecycle state of a Session.
type Status struct {
	Kind    string `json:"kind"` // "active", "closed", "crashed"
	Message string `json:"message,omitempty"`
}

var (
	StatusActive = Status{Kind: "active"}
	StatusClosed = Status{Kind: "closed"}
)

func StatusCrashed(reason string) Status { return Status{Kind: "crashed", Message: reason} }

// StoredMessage is a Message plus the generated id under which it was
// appended to a session.
type StoredMessage struct {
	ID      string                 `json:"id"`
	Role    message.Role           `json:"role"`
	Content []message.ContentBlock `json:"content"`
}

func (s StoredMessage) ToMessage() message.Message {
	return message.Message{Role: s.Role, Content: s.Content}
}

// Session is the normative on-disk document described in the external
// interfaces section of the specification.
type Session struct {
	ID                string           `json:"id"`
	ParentID          *string          `json:"parent_id"`
	Title             *string          `json:"title"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	Status            Status           `json:"status"`
	IsCanary          bool             `json:"is_canary"`
	IsDebug           bool             `json:"is_debug"`
	WorkingDir        *string          `json:"working_dir"`
	Model             *string          `json:"model"`
	ProviderSessionID *string          `json:"provider_session_id"`
	Messages          []StoredMessage  `json:"messages"`

	// lastAliveAt backs crash detection; not part of the normative schema
	// requirement but round-trips harmlessly as an extra field.
	LastAliveAt time.Time `json:"last_alive_at,omitempty"`

	root string `json:"-"`
}

// Store resolves the jcode root directory and loads/creates/persists
// sessions under it.
type Store struct {
	root string
}

// New returns a Store rooted at dir. Callers typically pass the result of
// Root().
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the jcode root directory: JCODE_HOME if set, else
// "~/.jcode".
func Root() (string, error) {
	if v := os.Getenv("JCODE_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".jcode"), nil
}

func (s *Store) sessionsDir() string { return filepath.Join(s.root, "sessions") }

func (s *Store) path(id string) string {
	return filepath.Join(s.sessionsDir(), id+".json")
}

// Create returns a brand-new Session with a fresh id and current
// timestamps. It is not persisted until Save is called.
func (s *Store) Create(parentID, title *string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        "session_" + uuid.New().String(),
		ParentID:  parentID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    StatusActive,
		root:      s.root,
	}
}

// Load reads a session from disk and runs crash detection on it.
func (s *Store) Load(id string) (*Session, error) {
	path := s.path(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", path, err)
	}
	sess.root = s.root

	if sess.detectCrash() {
		if err := sess.Save(); err != nil {
			return nil, err
		}
	}
	return &sess, nil
}

// detectCrash transitions Active sessions whose owning process appears to
// have vanished (no recent liveness timestamp) into Crashed. Returns true
// if the status changed.
func (s *Session) detectCrash() bool {
	if s.Status.Kind != "active" {
		return false
	}
	if s.LastAliveAt.IsZero() {
		return false
	}
	if time.Since(s.LastAliveAt) > 2*time.Minute {
		s.Status = StatusCrashed("process liveness timestamp stale")
		return true
	}
	return false
}

// CrashedSummary is returned by DetectCrashedSessions for UI batch-restore
// affordances.
type CrashedSummary struct {
	ID          string
	DisplayName string
	CrashedAt   time.Time
}

// DetectCrashedSessions scans every session file under root, surfacing any
// whose load flipped them to Crashed (or that were already Crashed), most
// recent first.
func (s *Store) DetectCrashedSessions() ([]CrashedSummary, error) {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: list sessions dir: %w", err)
	}

	var out []CrashedSummary
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := trimJSONExt(e.Name())
		sess, err := s.Load(id)
		if err != nil {
			continue
		}
		if sess.Status.Kind != "crashed" {
			continue
		}
		name := id
		if sess.Title != nil && *sess.Title != "" {
			name = *sess.Title
		}
		out = append(out, CrashedSummary{ID: id, DisplayName: name, CrashedAt: sess.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CrashedAt.After(out[j].CrashedAt) })
	return out, nil
}

func trimJSONExt(name string) string {
	const ext = ".json"
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		return name[:len(name)-len(ext)]
	}
	return name
}

// Save updates UpdatedAt and writes the session atomically: write to a
// temp file in the same directory, then rename over the destination.
func (s *Session) Save() error {
	s.UpdatedAt = time.Now().UTC()

	dir := filepath.Join(s.root, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal session %s: %w", s.ID, err)
	}

	dest := filepath.Join(dir, s.ID+".json")
	tmp, err := os.CreateTemp(dir, s.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: rename into place: %w", err)
	}
	return nil
}

// AddMessage appends a message and returns its generated id.
func (s *Session) AddMessage(role message.Role, content []message.ContentBlock) string {
	id := "message_" + uuid.New().String()
	s.Messages = append(s.Messages, StoredMessage{ID: id, Role: role, Content: content})
	return id
}

// MessagesForProvider returns the plain Message view handed to the
// provider adapter and compaction manager.
func (s *Session) MessagesForProvider() []message.Message {
	out := make([]message.Message, len(s.Messages))
	for i, m := range s.Messages {
		out[i] = m.ToMessage()
	}
	return out
}

// Touch records a liveness timestamp, used by crash detection to tell a
// clean shutdown (Status set to Closed) apart from an abandoned process.
func (s *Session) Touch() { s.LastAliveAt = time.Now().UTC() }
