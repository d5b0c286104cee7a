// Package web provides the HTTP management API and status page for the reefer-sensor daemon.
package web

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sweeney/reefer-sensor/internal/command"
	"github.com/sweeney/reefer-sensor/internal/config"
	"github.com/sweeney/reefer-sensor/internal/journal"
	"github.com/sweeney/reefer-sensor/internal/status"
)

// Commander delivers operator requests to the control loop.
type Commander interface {
	Send(ctx context.Context, req command.Request) (command.Reply, error)
}

// SettingsStore reads and patches the live configuration.
type SettingsStore interface {
	Settings() config.Settings
	Update(p config.Patch) (config.Settings, error)
}

// EventLister reads the local event journal.
type EventLister interface {
	List(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
}

// Options configures a Server. Events and Metrics may be nil.
type Options struct {
	Addr     string
	Tracker  *status.Tracker
	Store    SettingsStore
	Commands Commander
	Events   EventLister
	Metrics  http.Handler
	Log      *zap.SugaredLogger
}

// Server serves the status page and the management API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	store      SettingsStore
	commands   Commander
	events     EventLister
	log        *zap.SugaredLogger
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a Server.
func New(o Options) *Server {
	s := &Server{
		tracker:  o.Tracker,
		store:    o.Store,
		commands: o.Commands,
		events:   o.Events,
		log:      o.Log,
		stop:     make(chan struct{}),
	}

	api := mux.NewRouter()
	api.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/api/config", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/api/config", s.handlePostConfig).Methods(http.MethodPost)
	api.HandleFunc("/api/alert/ack", s.handleAck).Methods(http.MethodPost)
	api.HandleFunc("/api/alert/test", s.handleTestAlarm).Methods(http.MethodPost)
	api.HandleFunc("/api/telegram/test", s.handleTelegramTest).Methods(http.MethodPost)
	api.HandleFunc("/api/relay", s.handleRelay).Methods(http.MethodPost)
	api.HandleFunc("/api/defrost", s.handleDefrost).Methods(http.MethodPost)
	api.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)

	r := mux.NewRouter()
	r.PathPrefix("/api/").Handler(cors(api))
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleStream).Methods(http.MethodGet)
	if o.Metrics != nil {
		r.Handle("/metrics", o.Metrics).Methods(http.MethodGet)
	}

	var h http.Handler = r
	if access, err := zap.NewStdLogAt(o.Log.Desugar(), zapcore.DebugLevel); err == nil {
		h = handlers.LoggingHandler(access.Writer(), r)
	}

	s.httpServer = &http.Server{
		Addr:    o.Addr,
		Handler: h,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown closes open streams and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Warnw("render index failed", "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(status.FormatJSON(s.tracker.Snapshot()))
}
