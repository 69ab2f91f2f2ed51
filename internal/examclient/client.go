// Package examclient talks to the exam service on behalf of the exam screen:
// StartSession over HTTP, violation reports and submission over the session
// WebSocket stream.
package examclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// Client errors. Everything except the sentinels mapped from the service's
// error codes is treated as recoverable by callers.
var (
	ErrUnauthorized       = errors.New("exam service rejected the token")
	ErrRemote             = errors.New("exam service error")
	ErrUnexpectedResponse = errors.New("unexpected response from exam service")
	ErrConnectionLost     = errors.New("exam stream connection lost")
	ErrClosed             = errors.New("exam client closed")
)

// Client is safe for concurrent use. It satisfies session.ExamService.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	streams map[uuid.UUID]*stream
	closed  bool
}

// New returns a client for the service at baseURL (http or https). timeout
// bounds each HTTP request, WebSocket handshake and stream reply.
func New(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
		timeout: timeout,
		log:     log.With().Str("component", "exam_client").Logger(),
		streams: make(map[uuid.UUID]*stream),
	}
}

// envelope mirrors response.Response with a typed data field.
type envelope[T any] struct {
	Data  T                   `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

// StartSession godoc
// POST /api/v1/student/sessions
func (c *Client) StartSession(ctx context.Context, req model.StartSessionRequest) (*model.StartSessionResponse, error) {
	var out envelope[*model.StartSessionResponse]
	if err := c.postJSON(ctx, "/api/v1/student/sessions", req, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return nil, fmt.Errorf("%w: empty session", ErrUnexpectedResponse)
	}
	return out.Data, nil
}

// LogViolation reports over the session stream.
func (c *Client) LogViolation(ctx context.Context, req model.LogViolationRequest) (*model.ViolationAck, error) {
	s, err := c.stream(req.SessionID)
	if err != nil {
		return nil, err
	}
	return s.logViolation(ctx, req)
}

// SubmitExam submits over the session stream.
func (c *Client) SubmitExam(ctx context.Context, req model.SubmitExamRequest) (*model.SubmitExamResult, error) {
	s, err := c.stream(req.SessionID)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, req)
}

// Close drops every stream. Calls in flight fail with ErrConnectionLost.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	streams := c.streams
	c.streams = map[uuid.UUID]*stream{}
	c.mu.Unlock()

	for _, s := range streams {
		s.close()
	}
	return nil
}

func (c *Client) stream(sessionID uuid.UUID) (*stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	s, ok := c.streams[sessionID]
	if !ok {
		s = newStream(c, sessionID)
		c.streams[sessionID] = s
	}
	return s, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Encoding", "br")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rd io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		rd = brotli.NewReader(resp.Body)
	}
	data, err := io.ReadAll(io.LimitReader(rd, 4<<20))
	if err != nil {
		return err
	}

	var head envelope[json.RawMessage]
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
	}
	if head.Error != nil {
		return codeError(string(head.Error.Code), head.Error.Message)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
	}
	return json.Unmarshal(data, out)
}

// codeError maps a service error code onto the shared sentinels.
func codeError(code, message string) error {
	switch response.ErrCode(code) {
	case response.ErrTokenRequired, response.ErrTokenInvalid, response.ErrTokenExpired,
		response.ErrStudentAccessOnly:
		return fmt.Errorf("%w: %s", ErrUnauthorized, code)
	}
	if err := response.ToError(response.ErrCode(code)); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s: %s", ErrRemote, code, message)
}

// wsURL turns the HTTP base URL into the stream URL.
func (c *Client) wsURL(sessionID uuid.UUID) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return fmt.Sprintf("%s/ws/v1/student/sessions/%s/stream?token=%s", base, sessionID, url.QueryEscape(c.token))
}
