package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKVRoundTrip(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	require.NoError(t, err)

	_, ok, err := kv.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set("a", "1"))
	require.NoError(t, kv.Set("b", "2"))
	require.NoError(t, kv.Set("a", "3"))

	v, ok, err := kv.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", v)

	require.NoError(t, kv.Delete("a"))
	_, ok, err = kv.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is fine.
	require.NoError(t, kv.Delete("a"))
}

func TestFileKVSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	require.NoError(t, err)
	require.NoError(t, kv.Set("token", "abc"))

	reopened, err := NewFileKV(dir)
	require.NoError(t, err)
	v, ok, err := reopened.Get("token")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestFileKVRecoversFromCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName), []byte("{not json"), 0o600))

	kv, err := NewFileKV(dir)
	require.NoError(t, err)
	_, ok, err := kv.Get("token")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set("token", "fresh"))
	v, ok, err := kv.Get("token")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fresh", v)
}

func TestBridgeTokenLifecycle(t *testing.T) {
	b := NewBridge(NewMemoryKV(), zerolog.Nop())

	_, ok := b.LoadToken()
	assert.False(t, ok)

	b.SaveToken("tok-1")
	v, ok := b.LoadToken()
	require.True(t, ok)
	assert.Equal(t, "tok-1", v)

	b.ClearToken()
	_, ok = b.LoadToken()
	assert.False(t, ok)
}

func TestBridgeAnswersRoundTrip(t *testing.T) {
	b := NewBridge(NewMemoryKV(), zerolog.Nop())

	assert.Nil(t, b.LoadAnswers("quiz-1"))

	state := &AnswerState{
		SelectedAnswers:    map[string]string{"q1": "a"},
		MultiSelectAnswers: map[string][]string{"q2": {"a", "c"}},
		CurrentPage:        3,
		ParticipantInfo:    map[string]string{"email": "alice@example.com"},
		Timestamp:          time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC),
	}
	b.SaveAnswers("quiz-1", state)

	restored := b.LoadAnswers("quiz-1")
	require.NotNil(t, restored)
	assert.Equal(t, state.SelectedAnswers, restored.SelectedAnswers)
	assert.Equal(t, state.MultiSelectAnswers, restored.MultiSelectAnswers)
	assert.Equal(t, 3, restored.CurrentPage)
	assert.Nil(t, b.LoadAnswers("quiz-2"), "answers are scoped per quiz")

	b.ClearAnswers("quiz-1")
	assert.Nil(t, b.LoadAnswers("quiz-1"))
}
