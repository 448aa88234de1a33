package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/quizdesk/quizdesk-backend/internal/model"
	"github.com/quizdesk/quizdesk-backend/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, data any, errCode, errMessage string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"data": data}
	if errCode != "" {
		body["error"] = map[string]string{"code": errCode, "message": errMessage}
	}
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestStartDecodesEnvelope(t *testing.T) {
	token := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/sessions", r.URL.Path)

		var req model.StartSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice@example.com", req.ParticipantEmail)

		writeEnvelope(t, w, http.StatusCreated, model.StartSessionResponse{
			Token:  token,
			Status: model.SessionStatusActive,
		}, "", "")
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	res, err := c.Start(context.Background(), uuid.New(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, token, res.Token)
	assert.Equal(t, model.SessionStatusActive, res.Status)
}

func TestGetStatusDecodesSnapshot(t *testing.T) {
	token := uuid.New()
	remaining := 540
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/"+token.String(), r.URL.Path)
		writeEnvelope(t, w, http.StatusOK, model.SessionSnapshot{
			Token:                token,
			Status:               model.SessionStatusActive,
			TimeSpentSeconds:     60,
			RemainingTimeSeconds: &remaining,
		}, "", "")
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	snap, err := c.GetStatus(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 60, snap.TimeSpentSeconds)
	require.NotNil(t, snap.RemainingTimeSeconds)
	assert.Equal(t, 540, *snap.RemainingTimeSeconds)
}

func TestErrorCodeTranslation(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   string
		want   error
	}{
		{"session not found", http.StatusNotFound, "SESSION_NOT_FOUND", session.ErrSessionNotFound},
		{"conflict", http.StatusConflict, "SESSION_CONFLICT", session.ErrSessionConflict},
		{"terminal", http.StatusConflict, "SESSION_TERMINAL", session.ErrSessionFinished},
		{"not paused", http.StatusConflict, "SESSION_NOT_PAUSED", session.ErrNotPaused},
		{"quiz not available", http.StatusBadRequest, "QUIZ_NOT_AVAILABLE", session.ErrQuizNotFound},
		{"not found", http.StatusNotFound, "NOT_FOUND", session.ErrQuizNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, tc.status, nil, tc.code, "nope")
			}))
			defer srv.Close()

			c := New(srv.URL, zerolog.Nop())
			_, err := c.GetStatus(context.Background(), uuid.New())
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestUnknownErrorBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusTooManyRequests, nil, "RATE_LIMIT_EXCEEDED", "slow down")
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	err := c.Pause(context.Background(), uuid.New())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", apiErr.Code)
}

func TestUpdateTimeSendsPayload(t *testing.T) {
	token := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/sessions/"+token.String()+"/time", r.URL.Path)

		var req model.UpdateTimeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 90, req.TimeSpentSeconds)
		writeEnvelope(t, w, http.StatusOK, map[string]int{"time_spent_seconds": 90}, "", "")
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	require.NoError(t, c.UpdateTime(context.Background(), token, 90))
}

func TestMalformedBodyIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	_, err := c.GetStatus(context.Background(), uuid.New())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
}
