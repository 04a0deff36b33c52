package transport

import (
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketStream adapts a WebSocket connection to Stream. Each Write becomes
// one binary message; reads concatenate incoming messages into a byte stream,
// so the usual reassembly applies.
type WebSocketStream struct {
	conn *websocket.Conn
	r    io.Reader // current message
}

func NewWebSocketStream(conn *websocket.Conn) *WebSocketStream {
	return &WebSocketStream{conn: conn}
}

func (s *WebSocketStream) Read(p []byte) (int, error) {
	for {
		if s.r == nil {
			typ, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			s.r = r
		}
		n, err := s.r.Read(p)
		if err == io.EOF {
			s.r = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (s *WebSocketStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a normal close frame, then closes the socket.
func (s *WebSocketStream) Close() error {
	var lastErr error
	err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	if err != nil && err != websocket.ErrCloseSent {
		lastErr = err
	}
	if err := s.conn.Close(); err != nil {
		lastErr = err
	}
	return lastErr
}

func (s *WebSocketStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *WebSocketStream) LocalAddr() net.Addr { return s.conn.LocalAddr() }
