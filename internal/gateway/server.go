// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

// Package gateway is the websocket transport in front of the session
// rooms. Joins are validated before the HTTP upgrade, so a banned or
// duplicate connection is refused with a typed HTTP error and never
// holds a socket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shorebound/shorebound/internal/guard"
	"github.com/shorebound/shorebound/internal/room"
	"github.com/shorebound/shorebound/internal/store"
)

const readTimeout = 90 * time.Second

// RejectionResponse is the HTTP body of a refused join.
type RejectionResponse struct {
	Reason string    `json:"reason"`
	Until  time.Time `json:"until,omitempty"`
}

// Server is the websocket gateway.
type Server struct {
	addr     string
	manager  *room.Manager
	lobbyID  string
	upgrader websocket.Upgrader

	// Metric hooks, optional.
	OnConnected    func()
	OnDisconnected func()
	OnRejected     func(reason string)

	mu       sync.RWMutex
	listener net.Listener
}

// NewServer creates a gateway routing join requests through the given
// manager. lobbyID is the default location when the client names none.
func NewServer(addr string, manager *room.Manager, lobbyID string) *Server {
	return &Server{
		addr:    addr,
		manager: manager,
		lobbyID: lobbyID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleJoin)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Gateway started", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Debug("error shutting down gateway", "error", err)
		}
	}()

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve failed: %w", err)
	}
	return nil
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	profileID := r.URL.Query().Get("profile")
	if profileID == "" {
		http.Error(w, "missing profile", http.StatusBadRequest)
		return
	}
	locationID := r.URL.Query().Get("location")
	if locationID == "" {
		locationID = s.lobbyID
	}

	conn := newWSConn()
	joined, session, rejection, err := s.manager.Join(r.Context(), r.RemoteAddr, profileID, locationID, conn)
	switch {
	case err != nil:
		s.writeJoinError(w, profileID, err)
		return
	case rejection != nil:
		s.writeRejection(w, rejection)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The session exists but its socket never did.
		joined.Leave(session.ConnectionID)
		return
	}
	conn.bind(ws)

	if s.OnConnected != nil {
		s.OnConnected()
	}
	s.readPump(ws, joined, session)
	if s.OnDisconnected != nil {
		s.OnDisconnected()
	}
}

// readPump decodes inbound frames into the room's mailbox until the
// socket dies, then reports the departure.
func (s *Server) readPump(ws *websocket.Conn, joined *room.Room, session *room.PlayerSession) {
	defer joined.Leave(session.ConnectionID)

	for {
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg room.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Malformed frames are dropped, not fatal.
			continue
		}
		joined.Deliver(session.ConnectionID, msg)
	}
}

func (s *Server) writeRejection(w http.ResponseWriter, rejection *guard.Rejection) {
	if s.OnRejected != nil {
		s.OnRejected(string(rejection.Reason))
	}
	slog.Info("join rejected", "reason", rejection.Reason)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(RejectionResponse{
		Reason: string(rejection.Reason),
		Until:  rejection.Until,
	})
}

func (s *Server) writeJoinError(w http.ResponseWriter, profileID string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "unknown profile", http.StatusNotFound)
		return
	}
	slog.Error("join failed", "profile_id", profileID, "error", err)
	http.Error(w, "try again later", http.StatusServiceUnavailable)
}
