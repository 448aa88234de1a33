//go:build e2e

// End-to-end flow against a running server and database:
//
//	SERVER_URL=http://localhost:8080 ADMIN_EMAIL=... ADMIN_PASSWORD=... \
//	  go test -tags e2e ./test/e2e/...
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quizdesk/quizdesk-backend/internal/apiclient"
	"github.com/quizdesk/quizdesk-backend/internal/model"
	"github.com/quizdesk/quizdesk-backend/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("SERVER_URL")
	if url == "" {
		t.Skip("SERVER_URL not set")
	}
	return url
}

// adminToken logs in with ADMIN_EMAIL / ADMIN_PASSWORD and returns a JWT.
func adminToken(t *testing.T, base string) string {
	t.Helper()
	email, password := os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		t.Skip("ADMIN_EMAIL / ADMIN_PASSWORD not set")
	}

	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(base+"/api/v1/auth/admin/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.NotEmpty(t, env.Data.Token)
	return env.Data.Token
}

// createPublishedQuiz provisions a fresh timed quiz through the admin API.
func createPublishedQuiz(t *testing.T, base, token string, durationMinutes int) model.Quiz {
	t.Helper()
	payload, _ := json.Marshal(map[string]any{
		"title":            fmt.Sprintf("e2e quiz %d", time.Now().UnixNano()),
		"duration_minutes": durationMinutes,
	})

	req, _ := http.NewRequest(http.MethodPost, base+"/api/v1/admin/quizzes", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var env struct {
		Data model.Quiz `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))

	pub, _ := http.NewRequest(http.MethodPost, base+"/api/v1/admin/quizzes/"+env.Data.ID.String()+"/publish", nil)
	pub.Header.Set("Authorization", "Bearer "+token)
	pubResp, err := http.DefaultClient.Do(pub)
	require.NoError(t, err)
	pubResp.Body.Close()
	require.Equal(t, http.StatusOK, pubResp.StatusCode)

	return env.Data
}

func TestSessionLifecycle(t *testing.T) {
	base := serverURL(t)
	ctx := context.Background()
	quiz := createPublishedQuiz(t, base, adminToken(t, base), 10)
	client := apiclient.New(base, zerolog.Nop())
	email := fmt.Sprintf("e2e-%d@example.com", time.Now().UnixNano())

	started, err := client.Start(ctx, quiz.ID, email)
	require.NoError(t, err)
	require.NotEqual(t, started.Token.String(), "")

	// A second open attempt for the same pair is rejected.
	_, err = client.Start(ctx, quiz.ID, email)
	assert.ErrorIs(t, err, session.ErrSessionConflict)

	snap, err := client.GetStatus(ctx, started.Token)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusActive, snap.Status)
	require.NotNil(t, snap.RemainingTimeSeconds)
	assert.Equal(t, 600, *snap.RemainingTimeSeconds)

	// Time pushes are monotone: a stale value is ignored.
	require.NoError(t, client.UpdateTime(ctx, started.Token, 120))
	require.NoError(t, client.UpdateTime(ctx, started.Token, 60))
	snap, err = client.GetStatus(ctx, started.Token)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snap.TimeSpentSeconds, 120)
	assert.LessOrEqual(t, *snap.RemainingTimeSeconds, 480)

	// Pause and resume.
	require.NoError(t, client.Pause(ctx, started.Token))
	snap, err = client.GetStatus(ctx, started.Token)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusPaused, snap.Status)
	require.NoError(t, client.Pause(ctx, started.Token), "pause is a no-op when already paused")
	require.NoError(t, client.Resume(ctx, started.Token))

	// Autosave answers.
	require.NoError(t, client.SaveAnswers(ctx, started.Token, map[string]string{"q1": "a"}))

	// Complete twice: the second call returns the same terminal result.
	first, err := client.Complete(ctx, started.Token)
	require.NoError(t, err)
	second, err := client.Complete(ctx, started.Token)
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)

	snap, err = client.GetStatus(ctx, started.Token)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, snap.Status)

	// Terminal sessions reject transitions.
	assert.ErrorIs(t, client.Pause(ctx, started.Token), session.ErrSessionFinished)
	assert.ErrorIs(t, client.Resume(ctx, started.Token), session.ErrSessionFinished)
}

func TestStatusForUnknownToken(t *testing.T) {
	base := serverURL(t)
	client := apiclient.New(base, zerolog.Nop())

	_, err := client.GetStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}
