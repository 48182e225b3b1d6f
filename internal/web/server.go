package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"image-converter-go/internal/apperr"
	"image-converter-go/internal/batch"
	"image-converter-go/internal/config"
	"image-converter-go/internal/converter"
	"image-converter-go/internal/progress"
	"image-converter-go/internal/statistics"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]string // connection -> session id
	wsMutex    sync.RWMutex
	validate   *validator.Validate

	conv   converter.Converter
	coord  *batch.Coordinator
	broker progress.Broker
	stats  *statistics.Statistics
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ErrorData is the machine-readable part of an error response.
type ErrorData struct {
	Kind   apperr.Kind       `json:"kind"`
	Stage  apperr.Stage      `json:"stage,omitempty"`
	File   string            `json:"file,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func NewServer(
	cfg *config.Config,
	log *logrus.Logger,
	conv converter.Converter,
	coord *batch.Coordinator,
	broker progress.Broker,
	stats *statistics.Statistics,
) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]string),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		validate: validator.New(),
		conv:     conv,
		coord:    coord,
		broker:   broker,
		stats:    stats,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/convert", s.handleConvert).Methods("POST")
	api.HandleFunc("/convert/batch", s.handleConvertBatch).Methods("POST")
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}/cancel", s.handleCancelSession).Methods("POST")
	api.HandleFunc("/formats", s.handleFormats).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)

	if s.cfg.Server.StaticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.cfg.Server.StaticDir)))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop shuts the HTTP server down and drops progress watchers.
func (s *Server) Stop(ctx context.Context) error {
	s.wsMutex.Lock()
	for conn := range s.wsClients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		delete(s.wsClients, conn)
	}
	s.wsMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeErrorData(w, message, statusCode, nil)
}

func (s *Server) writeErrorData(w http.ResponseWriter, message string, statusCode int, data *ErrorData) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := APIResponse{
		Success: false,
		Error:   message,
	}
	if data != nil {
		resp.Data = data
	}
	json.NewEncoder(w).Encode(resp)
}

// writeAppError maps a pipeline error onto an HTTP status and the JSON
// error envelope.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	e, ok := apperr.As(err)
	if !ok {
		s.log.WithError(err).Error("Unclassified error")
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeErrorData(w, e.Error(), statusFor(e), &ErrorData{
		Kind:  e.Kind,
		Stage: e.Stage,
		File:  e.File,
	})
}

// statusFor picks the HTTP status of e. A batch failure reports the
// status of the file error that caused it.
func statusFor(e *apperr.Error) int {
	switch e.Kind {
	case apperr.KindInvalidRequest, apperr.KindUnsupportedFormat, apperr.KindTooManyFiles:
		return http.StatusBadRequest
	case apperr.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.KindDecode:
		return http.StatusUnprocessableEntity
	case apperr.KindCancelled:
		return http.StatusConflict
	case apperr.KindBatch:
		var cause *apperr.Error
		if errors.As(e.Err, &cause) {
			return statusFor(cause)
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
