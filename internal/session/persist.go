package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// KV is the minimal storage the Bridge needs. Implementations must be
// safe for concurrent use.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

const (
	tokenKey        = "session_token"
	answerKeyPrefix = "answers:"
)

// AnswerState is the locally persisted in-progress answer payload, saved
// per quiz so a crashed client can restore its place. The token lives in
// a separate key: clearing the attempt must not destroy answers that the
// participant may still want to review.
type AnswerState struct {
	SelectedAnswers    map[string]string   `json:"selected_answers"`
	MultiSelectAnswers map[string][]string `json:"multi_select_answers,omitempty"`
	CurrentPage        int                 `json:"current_page"`
	ParticipantInfo    map[string]string   `json:"participant_info,omitempty"`
	Timestamp          time.Time           `json:"timestamp"`
}

// Bridge persists the device-scoped session token and per-quiz answer
// state. Read and write failures are logged and swallowed: local
// persistence is a convenience, never a correctness dependency.
type Bridge struct {
	kv  KV
	log zerolog.Logger
}

// NewBridge creates a Bridge over the given store.
func NewBridge(kv KV, log zerolog.Logger) *Bridge {
	return &Bridge{kv: kv, log: log.With().Str("component", "session_bridge").Logger()}
}

// SaveToken records the active session token.
func (b *Bridge) SaveToken(token string) {
	if err := b.kv.Set(tokenKey, token); err != nil {
		b.log.Warn().Err(err).Msg("Failed to persist session token")
	}
}

// LoadToken returns the persisted session token, if any.
func (b *Bridge) LoadToken() (string, bool) {
	v, ok, err := b.kv.Get(tokenKey)
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to read persisted session token")
		return "", false
	}
	return v, ok
}

// ClearToken removes the persisted token. Called when the attempt ends or
// when the authority no longer recognizes it.
func (b *Bridge) ClearToken() {
	if err := b.kv.Delete(tokenKey); err != nil {
		b.log.Warn().Err(err).Msg("Failed to clear persisted session token")
	}
}

// SaveAnswers persists the in-progress answer state for a quiz.
func (b *Bridge) SaveAnswers(quizID string, state *AnswerState) {
	data, err := json.Marshal(state)
	if err != nil {
		b.log.Warn().Err(err).Msg("Failed to encode answer state")
		return
	}
	if err := b.kv.Set(answerKeyPrefix+quizID, string(data)); err != nil {
		b.log.Warn().Err(err).Str("quiz_id", quizID).Msg("Failed to persist answers")
	}
}

// LoadAnswers restores the in-progress answer state for a quiz. Returns
// nil when nothing is saved or the saved blob is unreadable.
func (b *Bridge) LoadAnswers(quizID string) *AnswerState {
	raw, ok, err := b.kv.Get(answerKeyPrefix + quizID)
	if err != nil || !ok {
		if err != nil {
			b.log.Warn().Err(err).Str("quiz_id", quizID).Msg("Failed to read persisted answers")
		}
		return nil
	}
	var state AnswerState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		b.log.Warn().Err(err).Str("quiz_id", quizID).Msg("Discarding corrupt answer state")
		return nil
	}
	return &state
}

// ClearAnswers removes persisted answers for a quiz, typically after a
// successful submission.
func (b *Bridge) ClearAnswers(quizID string) {
	if err := b.kv.Delete(answerKeyPrefix + quizID); err != nil {
		b.log.Warn().Err(err).Str("quiz_id", quizID).Msg("Failed to clear persisted answers")
	}
}

// MemoryKV is an in-memory KV for tests and ephemeral clients.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

const stateFileName = "session_state.json"

// FileKV stores all keys in one JSON file under dir. Writes go through a
// temp file and rename so a crash mid-write leaves the previous state
// intact.
type FileKV struct {
	mu   sync.Mutex
	path string
}

// NewFileKV creates the state directory if needed and returns a FileKV
// backed by it.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileKV{path: filepath.Join(dir, stateFileName)}, nil
}

func (f *FileKV) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.readLocked()
	if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

func (f *FileKV) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.readLocked()
	if err != nil {
		return err
	}
	data[key] = value
	return f.writeLocked(data)
}

func (f *FileKV) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.readLocked()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return f.writeLocked(data)
}

func (f *FileKV) readLocked() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	data := make(map[string]string)
	if err := json.Unmarshal(raw, &data); err != nil {
		// Corrupt state file: start over rather than wedging the client.
		return make(map[string]string), nil
	}
	return data, nil
}

func (f *FileKV) writeLocked(data map[string]string) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
