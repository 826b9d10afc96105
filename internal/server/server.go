// Package server exposes a session over HTTP: a small JSON API for the controls, a
// websocket stream of state snapshots, health and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/andresmejia3/emotionai/internal/capture"
	"github.com/andresmejia3/emotionai/internal/session"
	"github.com/andresmejia3/emotionai/internal/types"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	writeTimeout      = 10 * time.Second
	maxUploadBytes    = 20 << 20
)

// Server serves one session.
type Server struct {
	sess     *session.Session
	registry *prometheus.Registry
	upgrader websocket.Upgrader
}

func New(sess *session.Session, registry *prometheus.Registry) *Server {
	return &Server{sess: sess, registry: registry}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/mode", s.handleMode)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/capture", s.handleCapture)
	mux.HandleFunc("POST /api/live", s.handleLive)
	mux.HandleFunc("POST /api/close", s.handleClose)
	mux.HandleFunc("GET /api/ws", s.handleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	return mux
}

// Serve runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type apiResponse struct {
	State session.State `json:"state"`
	Error string        `json:"error,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.reply(w, http.StatusOK, nil)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.reply(w, http.StatusBadRequest, err)
		return
	}
	mode, err := types.ParseMode(req.Mode)
	if err != nil {
		s.reply(w, http.StatusBadRequest, err)
		return
	}
	s.sess.SetMode(mode)
	s.reply(w, http.StatusOK, nil)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	img, err := readUpload(r)
	if err != nil {
		s.reply(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	// The analysis outlives a dropped request; its result reaches the browser over
	// the websocket.
	_, err = s.sess.Upload(context.WithoutCancel(r.Context()), img)
	s.reply(w, statusFor(err, http.StatusBadGateway), err)
}

func readUpload(r *http.Request) (types.Image, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "multipart/form-data" {
		f, _, err := r.FormFile("file")
		if err != nil {
			return types.Image{}, err
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return types.Image{}, err
		}
		return capture.Decode(data)
	}

	var req struct {
		Image string `json:"image"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return types.Image{}, err
	}
	img, err := types.ParseDataURI(req.Image)
	if err != nil {
		return types.Image{}, err
	}
	return capture.ForTransport(img)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	_, err := s.sess.Capture(context.WithoutCancel(r.Context()))
	s.reply(w, statusFor(err, http.StatusBadGateway), err)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.reply(w, http.StatusBadRequest, err)
		return
	}
	err := s.sess.SetLiveActive(req.Active)
	s.reply(w, statusFor(err, http.StatusInternalServerError), err)
}

func (s *Server) handleClose(w http.ResponseWriter, _ *http.Request) {
	s.sess.Close()
	s.reply(w, http.StatusOK, nil)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.sess.Subscribe()
	defer unsubscribe()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	slog.Debug("State stream opened", "remote", r.RemoteAddr)
	defer slog.Debug("State stream closed", "remote", r.RemoteAddr)

	if err := writeState(conn, s.sess.State()); err != nil {
		return
	}
	for {
		select {
		case <-gone:
			return
		case st, ok := <-updates:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}
			if err := writeState(conn, st); err != nil {
				return
			}
		}
	}
}

func writeState(conn *websocket.Conn, st session.State) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(st)
}

func (s *Server) reply(w http.ResponseWriter, code int, err error) {
	resp := apiResponse{State: s.sess.State()}
	if err != nil {
		resp.Error = err.Error()
	} else {
		code = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps session errors onto HTTP codes, falling back to def.
func statusFor(err error, def int) int {
	var maxErr *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, session.ErrBusy),
		errors.Is(err, session.ErrWrongMode),
		errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnavailable),
		errors.Is(err, session.ErrNoSource),
		errors.Is(err, session.ErrFrameUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, capture.ErrUnsupportedImage):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	}
	return def
}
