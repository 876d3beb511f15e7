package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"predictsim/internal/metrics"
	"predictsim/internal/sim"
	"predictsim/pkg/types"
)

// Server exposes a completed run over HTTP and WebSocket.
type Server struct {
	output  *sim.SimulationOutput
	summary metrics.Summary
	hub     *Hub
	server  *http.Server
	logger  *slog.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is a local read-only surface.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewServer creates an API server for the given run output.
func NewServer(port int, output *sim.SimulationOutput, summary metrics.Summary, logger *slog.Logger) *Server {
	s := &Server{
		output:  output,
		summary: summary,
		hub:     NewHub(logger),
		logger:  logger.With("component", "api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/traders", s.handleTraders)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the hub and blocks serving HTTP until Stop.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("dashboard listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"scenario": s.output.Scenario,
		"seed":     s.output.Seed,
		"engine":   s.output.Engine,
		"intents":  len(s.output.Intents),
		"metrics":  s.summary,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	logs := s.output.Logs
	if logs == nil {
		logs = []types.LogEvent{}
	}
	writeJSON(w, logs)
}

func (s *Server) handleTraders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.output.FinalTraders)
}

// handleWebSocket upgrades the connection and replays the event log to
// the new client in emission order.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{hub: s.hub, conn: conn, send: make(chan []byte, 256)}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()

	// Replay the run's events to the newly connected client.
	go func() {
		for _, evt := range s.output.Logs {
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			select {
			case client.send <- data:
			default:
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
