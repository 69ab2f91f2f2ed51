package examclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// keepAliveInterval stays well under the server's read deadline.
const keepAliveInterval = time.Minute

// stream multiplexes calls for one session over a single WebSocket. The
// connection is dialled on first use and again after it drops; replies are
// matched to callers by req_id.
type stream struct {
	client    *Client
	sessionID uuid.UUID
	log       zerolog.Logger

	mu      sync.Mutex
	conn    *conn
	pending map[string]chan ws.ResponsePayload
	closed  bool
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (c *conn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteTyped(c.ws, v)
}

func (c *conn) shut() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func newStream(c *Client, sessionID uuid.UUID) *stream {
	return &stream{
		client:    c,
		sessionID: sessionID,
		log:       c.log.With().Str("session_id", sessionID.String()).Logger(),
		pending:   make(map[string]chan ws.ResponsePayload),
	}
}

func (s *stream) logViolation(ctx context.Context, req model.LogViolationRequest) (*model.ViolationAck, error) {
	msg := ws.RequestPayload{Action: ws.ActionViolation, ViolationType: req.ViolationType}
	if !req.Timestamp.IsZero() {
		at := req.Timestamp
		msg.Timestamp = &at
	}
	resp, err := s.call(ctx, msg, ws.EventViolationAck)
	if err != nil {
		return nil, err
	}
	var data ws.ViolationAckData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}
	return &model.ViolationAck{ViolationCount: data.ViolationCount, ShouldAutoSubmit: data.ShouldAutoSubmit}, nil
}

func (s *stream) submit(ctx context.Context, req model.SubmitExamRequest) (*model.SubmitExamResult, error) {
	resp, err := s.call(ctx, ws.RequestPayload{
		Action:  ws.ActionSubmit,
		Answers: req.Answers,
	}, ws.EventSubmitted)
	if err != nil {
		return nil, err
	}
	var data ws.SubmittedData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}
	return &model.SubmitExamResult{OK: data.OK, ResultID: data.ResultID}, nil
}

// call sends req and waits for the reply carrying the same req_id.
func (s *stream) call(ctx context.Context, req ws.RequestPayload, want ws.Event) (ws.ResponsePayload, error) {
	c, err := s.connect(ctx)
	if err != nil {
		return ws.ResponsePayload{}, err
	}

	req.ReqID = uuid.NewString()
	reply := make(chan ws.ResponsePayload, 1)
	s.mu.Lock()
	s.pending[req.ReqID] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, req.ReqID)
		s.mu.Unlock()
	}()

	if err := c.write(req); err != nil {
		s.drop(c, err)
		return ws.ResponsePayload{}, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	var timeout <-chan time.Time
	if d := s.client.timeout; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return ws.ResponsePayload{}, ErrConnectionLost
		}
		if resp.Event == ws.EventError {
			if resp.Error == nil {
				return resp, ErrUnexpectedResponse
			}
			return resp, codeError(resp.Error.Code, resp.Error.Message)
		}
		if resp.Event != want {
			return resp, fmt.Errorf("%w: event %q", ErrUnexpectedResponse, resp.Event)
		}
		return resp, nil
	case <-timeout:
		// A stream that stops answering is treated as dead so the next call redials.
		err := fmt.Errorf("no reply to %s within %s", req.Action, s.client.timeout)
		s.drop(c, err)
		return ws.ResponsePayload{}, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	case <-ctx.Done():
		return ws.ResponsePayload{}, ctx.Err()
	}
}

func (s *stream) connect(ctx context.Context) (*conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.conn != nil {
		return s.conn, nil
	}

	wsConn, resp, err := s.client.dialer.DialContext(ctx, s.client.wsURL(s.sessionID), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: dial status %d: %w", ErrConnectionLost, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	c := &conn{ws: wsConn, done: make(chan struct{})}
	s.conn = c
	go s.readLoop(c)
	go s.keepAlive(c)
	s.log.Debug().Msg("Stream connected")
	return c, nil
}

func (s *stream) readLoop(c *conn) {
	for {
		var resp ws.ResponsePayload
		if err := c.ws.ReadJSON(&resp); err != nil {
			s.drop(c, err)
			return
		}
		if resp.Event == ws.EventPong && resp.ReqID == "" {
			continue
		}

		s.mu.Lock()
		reply, ok := s.pending[resp.ReqID]
		delete(s.pending, resp.ReqID)
		s.mu.Unlock()

		if ok {
			reply <- resp
		}
	}
}

func (s *stream) keepAlive(c *conn) {
	t := time.NewTicker(keepAliveInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.write(ws.RequestPayload{Action: ws.ActionPing}); err != nil {
				s.drop(c, err)
				return
			}
		}
	}
}

// drop forgets c and fails every call still waiting on it. The next call
// dials a fresh connection.
func (s *stream) drop(c *conn, cause error) {
	s.mu.Lock()
	if s.conn == c {
		s.conn = nil
		for id, reply := range s.pending {
			close(reply)
			delete(s.pending, id)
		}
		if !s.closed {
			s.log.Warn().Err(cause).Msg("Stream dropped")
		}
	}
	s.mu.Unlock()
	c.shut()
}

func (s *stream) close() {
	s.mu.Lock()
	s.closed = true
	c := s.conn
	s.mu.Unlock()
	if c != nil {
		s.drop(c, ErrClosed)
	}
}
