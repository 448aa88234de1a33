// Package apiclient is the HTTP implementation of the session authority
// contract. It decodes the standard response envelope and translates
// error codes into the typed errors the session store branches on.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/quizdesk/quizdesk-backend/internal/model"
	"github.com/quizdesk/quizdesk-backend/internal/response"
	"github.com/quizdesk/quizdesk-backend/internal/session"
	"github.com/rs/zerolog"
)

const defaultTimeout = 10 * time.Second

// Client talks to the quizdesk API. It implements session.Authority.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient swaps the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for the API at baseURL (scheme and host, no
// trailing slash).
func New(baseURL string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		log:     log.With().Str("component", "apiclient").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response that does not map to a typed session
// error.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// envelope mirrors the server's response wrapper. Only the fields the
// client consumes are declared.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "malformed response body"}
	}

	if resp.StatusCode >= 400 || env.Error != nil {
		code, message := "", ""
		if env.Error != nil {
			code, message = env.Error.Code, env.Error.Message
		}
		return translateError(resp.StatusCode, code, message)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

// translateError maps server error codes onto the session package's
// typed errors so callers can use errors.Is instead of string matching.
func translateError(status int, code, message string) error {
	switch response.ErrCode(code) {
	case response.ErrSessionNotFound:
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, message)
	case response.ErrSessionConflict:
		return fmt.Errorf("%w: %s", session.ErrSessionConflict, message)
	case response.ErrSessionTerminal:
		return fmt.Errorf("%w: %s", session.ErrSessionFinished, message)
	case response.ErrSessionNotPaused:
		return fmt.Errorf("%w: %s", session.ErrNotPaused, message)
	case response.ErrQuizNotAvailable, response.ErrNotFound:
		return fmt.Errorf("%w: %s", session.ErrQuizNotFound, message)
	default:
		return &APIError{StatusCode: status, Code: code, Message: message}
	}
}

// Start begins a new session.
func (c *Client) Start(ctx context.Context, quizID uuid.UUID, participantEmail string) (*model.StartSessionResponse, error) {
	req := model.StartSessionRequest{QuizID: quizID, ParticipantEmail: participantEmail}
	var out model.StartSessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStatus fetches the canonical session snapshot.
func (c *Client) GetStatus(ctx context.Context, token uuid.UUID) (*model.SessionSnapshot, error) {
	var out model.SessionSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+token.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pause suspends the session's countdown.
func (c *Client) Pause(ctx context.Context, token uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sessions/"+token.String()+"/pause", nil, nil)
}

// Resume reactivates a paused session.
func (c *Client) Resume(ctx context.Context, token uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sessions/"+token.String()+"/resume", nil, nil)
}

// Complete submits the session.
func (c *Client) Complete(ctx context.Context, token uuid.UUID) (*model.CompleteSessionResponse, error) {
	var out model.CompleteSessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+token.String()+"/complete", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTime pushes the client's accumulated elapsed seconds.
func (c *Client) UpdateTime(ctx context.Context, token uuid.UUID, timeSpentSeconds int) error {
	req := model.UpdateTimeRequest{TimeSpentSeconds: timeSpentSeconds}
	return c.do(ctx, http.MethodPut, "/api/v1/sessions/"+token.String()+"/time", req, nil)
}

// SaveAnswers autosaves a batch of in-progress answers.
func (c *Client) SaveAnswers(ctx context.Context, token uuid.UUID, answers map[string]string) error {
	req := model.SaveAnswersRequest{Answers: answers}
	return c.do(ctx, http.MethodPut, "/api/v1/sessions/"+token.String()+"/answers", req, nil)
}

var _ session.Authority = (*Client)(nil)
