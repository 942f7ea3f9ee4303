package server

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"claimflow/internal/orchestrator"
)

const streamWriteTimeout = 10 * time.Second

// StreamError is written to the socket when a stream request is rejected.
type StreamError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleStream reads one ClaimPathsRequest from the socket, then writes every
// loop event as JSON until the run finishes. Closing the socket cancels the
// run.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := s.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	var req ClaimPathsRequest
	if err := conn.ReadJSON(&req); err != nil || len(req.Files) == 0 {
		message := "request must name at least one file"
		if err != nil {
			message = "invalid request: " + err.Error()
		}
		s.writeStream(conn, StreamError{Type: "error", Error: message})
		s.closeStream(conn, websocket.CloseUnsupportedData)
		return
	}
	files, err := s.resolvePaths(req.Files)
	if err != nil {
		s.writeStream(conn, StreamError{Type: "error", Error: err.Error()})
		s.closeStream(conn, websocket.ClosePolicyViolation)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Any read error means the client went away.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	listener := orchestrator.ListenerFunc(func(event orchestrator.Event) {
		if ctx.Err() != nil {
			return
		}
		if err := s.writeStream(conn, event); err != nil {
			cancel()
		}
	})

	result := s.runner.Run(ctx, files, orchestrator.WithListener(listener))
	s.remember(result)
	s.closeStream(conn, websocket.CloseNormalClosure)
}

func (s *Server) writeStream(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		s.logger.Debug("WebSocket write failed: %v", err)
		return err
	}
	return nil
}

func (s *Server) closeStream(conn *websocket.Conn, code int) {
	deadline := time.Now().Add(streamWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
}
