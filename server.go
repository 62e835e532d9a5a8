package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"i4.energy/across/ltemodem/modem"
)

// ModemAPI is the part of *modem.Modem the HTTP API and the poller use.
type ModemAPI interface {
	Info() modem.Info
	Mode() modem.Mode
	SignalQuality(ctx context.Context) (modem.SignalQuality, error)
	BatteryStatus(ctx context.Context) (modem.BatteryStatus, error)
	Identity(ctx context.Context) (modem.Identity, error)
	ServingCell(ctx context.Context) (modem.ServingCell, error)
	RegistrationStatus(ctx context.Context) (modem.RegistrationStatus, error)
	SIMStatus(ctx context.Context) (bool, error)
	EnterMode(ctx context.Context, mode modem.Mode) error
	ResumeData(ctx context.Context) error
	PowerDown(ctx context.Context) error
}

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger *slog.Logger
	Modem  ModemAPI
	Events *EventHub
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler returns the routed API wrapped in a permissive CORS policy.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(s.Logger.Handler(), slog.LevelDebug),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/modem", func(r chi.Router) {
		r.Get("/info", s.handleInfo)
		r.Get("/signal", s.handleSignal)
		r.Get("/battery", s.handleBattery)
		r.Get("/identity", s.handleIdentity)
		r.Get("/serving-cell", s.handleServingCell)
		r.Get("/registration", s.handleRegistration)
		r.Get("/sim", s.handleSIM)
		r.Put("/mode", s.handleMode)
		r.Post("/power-down", s.handlePowerDown)
		r.Get("/urc", s.handleURC)
	})

	return cors.AllowAll().Handler(r)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	s.sendJSON(w, ErrorResponse{Message: message, Code: statusCode}, statusCode)
}

// sendModemError maps a modem failure onto an HTTP status.
func (s *Server) sendModemError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("Modem request failed", "op", op, "error", err)
	} else {
		s.Logger.Info("Modem request rejected", "op", op, "error", err)
	}
	s.sendError(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, modem.ErrBusy), errors.Is(err, modem.ErrAlreadyClosed), errors.Is(err, modem.ErrLoopStopped),
		errors.Is(err, modem.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, modem.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, modem.ErrDataMode), errors.Is(err, modem.ErrCommandMode):
		return http.StatusConflict
	case errors.Is(err, modem.ErrFail):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, map[string]string{
		"status": "ok",
		"mode":   s.Modem.Mode().String(),
	}, http.StatusOK)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	type InfoResponse struct {
		modem.Info
		Mode string `json:"mode"`
	}
	s.sendJSON(w, InfoResponse{Info: s.Modem.Info(), Mode: s.Modem.Mode().String()}, http.StatusOK)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	q, err := s.Modem.SignalQuality(r.Context())
	if err != nil {
		s.sendModemError(w, "signal", err)
		return
	}

	type SignalResponse struct {
		modem.SignalQuality
		Quality string `json:"quality"`
		DBM     *int   `json:"dbm,omitempty"`
	}
	resp := SignalResponse{SignalQuality: q, Quality: q.Quality()}
	if dbm, ok := q.DBM(); ok {
		resp.DBM = &dbm
	}
	s.sendJSON(w, resp, http.StatusOK)
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	b, err := s.Modem.BatteryStatus(r.Context())
	if err != nil {
		s.sendModemError(w, "battery", err)
		return
	}
	s.sendJSON(w, b, http.StatusOK)
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := s.Modem.Identity(r.Context())
	if err != nil {
		s.sendModemError(w, "identity", err)
		return
	}
	s.sendJSON(w, id, http.StatusOK)
}

func (s *Server) handleServingCell(w http.ResponseWriter, r *http.Request) {
	cell, err := s.Modem.ServingCell(r.Context())
	if err != nil {
		s.sendModemError(w, "serving-cell", err)
		return
	}
	s.sendJSON(w, cell, http.StatusOK)
}

func (s *Server) handleRegistration(w http.ResponseWriter, r *http.Request) {
	stat, err := s.Modem.RegistrationStatus(r.Context())
	if err != nil {
		s.sendModemError(w, "registration", err)
		return
	}

	type RegistrationResponse struct {
		Status      modem.RegistrationStatus `json:"status"`
		Description string                   `json:"description"`
		Registered  bool                     `json:"registered"`
	}
	s.sendJSON(w, RegistrationResponse{
		Status:      stat,
		Description: stat.String(),
		Registered:  stat.Registered(),
	}, http.StatusOK)
}

func (s *Server) handleSIM(w http.ResponseWriter, r *http.Request) {
	ready, err := s.Modem.SIMStatus(r.Context())
	if err != nil {
		s.sendModemError(w, "sim", err)
		return
	}

	type SIMResponse struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	}
	s.sendJSON(w, SIMResponse{Ready: ready, State: s.Modem.Info().SIMState}, http.StatusOK)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	type ModeRequest struct {
		Mode string `json:"mode"`
	}

	var req ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode, err := modem.ParseMode(req.Mode)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.Modem.EnterMode(r.Context(), mode); err != nil {
		s.sendModemError(w, "mode", err)
		return
	}

	s.Logger.Info("Link mode set", "mode", mode.String())
	s.sendJSON(w, ModeRequest{Mode: s.Modem.Mode().String()}, http.StatusOK)
}

func (s *Server) handlePowerDown(w http.ResponseWriter, r *http.Request) {
	if err := s.Modem.PowerDown(r.Context()); err != nil {
		s.sendModemError(w, "power-down", err)
		return
	}
	s.Logger.Info("Modem powered down")
	w.WriteHeader(http.StatusNoContent)
}

// handleURC streams unsolicited modem lines to a websocket client.
func (s *Server) handleURC(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	lines, cancel := s.Events.Subscribe(100)
	defer cancel()

	// The client never sends; reading only notices when it goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		}
	}
}
