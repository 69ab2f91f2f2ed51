package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	WriteWait = 10 * time.Second
	ReadWait  = 5 * time.Minute
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(WriteWait))
	return conn.WriteJSON(v)
}

// WriteEvent sends event with data marshalled into the payload.
func WriteEvent(conn *websocket.Conn, event Event, reqID string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return WriteTyped(conn, ResponsePayload{Event: event, ReqID: reqID, Data: raw})
}

// WriteError sends an error event correlated with reqID.
func WriteError(conn *websocket.Conn, reqID, code, message string) error {
	return WriteTyped(conn, ResponsePayload{
		Event: EventError,
		ReqID: reqID,
		Error: &ErrorPayload{Code: code, Message: message},
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v any) error {
	conn.SetReadDeadline(time.Now().Add(ReadWait))
	return conn.ReadJSON(v)
}
