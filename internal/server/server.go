package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bradnewfield/zmonvif/internal/dispatch"
	"github.com/bradnewfield/zmonvif/internal/domain/monitor"
	"github.com/bradnewfield/zmonvif/internal/logger"
	"github.com/bradnewfield/zmonvif/internal/onvif"
)

// shutdownTimeout bounds the drain of in-flight callbacks on stop.
const shutdownTimeout = 35 * time.Second

// Dispatcher receives motion transitions decoded from inbound callbacks.
// Satisfied by *dispatch.Dispatcher.
type Dispatcher interface {
	EventOn(ctx context.Context, monitorID, score int, cause, text, showtext string) error
	EventOff(ctx context.Context, monitorID, score int, cause, text, showtext string) error
}

// Monitors resolves callback reference ids. Satisfied by *registry.Registry.
type Monitors interface {
	Get(id int) (*monitor.Monitor, bool)
}

// Server is the single HTTP listener all camera subscriptions point at. A
// camera delivers Notify messages to /ref_<id>/ where id is the monitor the
// subscription belongs to.
//
// Cameras are the clients here, and many firmwares treat any non-2xx reply as
// a broken subscription. Every inbound request, however malformed, is
// answered 200 with an empty body; problems are logged instead.
type Server struct {
	monitors   Monitors
	dispatcher Dispatcher
}

// New builds a server dispatching to the given registry and dispatcher.
func New(monitors Monitors, dispatcher Dispatcher) *Server {
	return &Server{
		monitors:   monitors,
		dispatcher: dispatcher,
	}
}

// Handler builds the routing tree. No timeout middleware is mounted: an
// alarm-off dispatch legitimately blocks for the whole close wait.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/ref_{id}/*", s.handleNotify)
	r.Post("/ref_{id}", s.handleNotify)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		logger.WarnKV(req.Context(), "Unroutable callback request",
			"method", req.Method, "path", req.URL.Path, "remote", req.RemoteAddr)
		w.WriteHeader(http.StatusOK)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		logger.WarnKV(req.Context(), "Callback request with unexpected method",
			"method", req.Method, "path", req.URL.Path, "remote", req.RemoteAddr)
		w.WriteHeader(http.StatusOK)
	})

	return r
}

// handleNotify decodes one Notify callback and dispatches each contained
// motion transition.
func (s *Server) handleNotify(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	defer w.WriteHeader(http.StatusOK)

	id, err := strconv.Atoi(chi.URLParam(req, "id"))
	if err != nil {
		logger.WarnKV(ctx, "Malformed callback reference", "path", req.URL.Path, "remote", req.RemoteAddr)
		return
	}

	m, ok := s.monitors.Get(id)
	if !ok {
		logger.WarnKV(ctx, "Callback for unknown monitor", "monitor_id", id, "remote", req.RemoteAddr)
		return
	}

	notifications, err := onvif.ParseNotifications(req.Body)
	if err != nil {
		logger.WarnKV(ctx, "Unparsable notify body", "monitor_id", id, "error", err)
		return
	}

	for _, n := range notifications {
		s.dispatchOne(ctx, m, n)
	}
}

func (s *Server) dispatchOne(ctx context.Context, m *monitor.Monitor, n onvif.Notification) {
	on, ok := n.Motion()
	if !ok {
		logger.DebugKV(ctx, "Notification without motion state, skipping",
			"monitor_id", m.ID, "topic", n.Topic)
		return
	}

	cause := n.Rule()
	if cause == "" {
		cause = n.Topic
	}

	var text string
	if !n.UTCTime.IsZero() {
		text = n.UTCTime.Format(time.RFC3339)
	}

	var err error
	if on {
		err = s.dispatcher.EventOn(ctx, m.ID, dispatch.DefaultScore, cause, text, m.Showtext)
	} else {
		err = s.dispatcher.EventOff(ctx, m.ID, dispatch.DefaultScore, cause, text, m.Showtext)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorKV(ctx, "Dispatch failed", "monitor_id", m.ID, "motion", on, "error", err)
	}
}

// RunServer serves until ctx is canceled, then drains in-flight callbacks.
func RunServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(ctx, "Stopping notification listener")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
