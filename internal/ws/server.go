package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/blink-tracker/backend/internal/health"
	"github.com/blink-tracker/backend/internal/tracker"
)

// SessionRunner runs tracking sessions. *tracker.Engine implements it.
type SessionRunner interface {
	StartSession(ctx context.Context, sink tracker.Sink, commands tracker.CommandSource, streamFrames bool) tracker.Result
	StopSession()
	Status() tracker.Status
}

// TokenVerifier checks client tokens. *auth.Verifier implements it.
type TokenVerifier interface {
	Enabled() bool
	Verify(token string) (subject string, err error)
}

// HealthReporter records session results and produces health reports.
type HealthReporter interface {
	Record(res tracker.Result)
	Snapshot(ctx context.Context) health.Report
}

type Options struct {
	AllowedOrigins []string
	WriteTimeout   time.Duration
}

type Server struct {
	engine         SessionRunner
	verifier       TokenVerifier
	broadcaster    *Broadcaster
	health         HealthReporter
	writeTimeout   time.Duration
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool

	baseCtx  context.Context
	shutdown context.CancelFunc
}

func NewServer(engine SessionRunner, verifier TokenVerifier, broadcaster *Broadcaster, reporter HealthReporter, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:         engine,
		verifier:       verifier,
		broadcaster:    broadcaster,
		health:         reporter,
		writeTimeout:   opts.WriteTimeout,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		baseCtx:        ctx,
		shutdown:       cancel,
	}

	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(securityHeaders)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/ws/eye-tracker/{token}", s.handleTracker).Methods(http.MethodGet)
	r.HandleFunc("/eye-tracker/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/eye-tracker/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/ws/status", s.handleStatusWS).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

// Shutdown ends running sessions and disconnects status observers.
// Hijacked websocket connections are not tracked by http.Server.Shutdown.
func (s *Server) Shutdown() {
	s.shutdown()
	s.engine.StopSession()
	if s.broadcaster != nil {
		s.broadcaster.Stop()
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"msg": "Blink tracker API is running."})
}

func (s *Server) handleTracker(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	streamFrames := r.URL.Query().Get("video") != "false"

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v", err)
		return
	}
	sock := NewSocket(conn, s.writeTimeout)

	subject, err := s.verifier.Verify(token)
	if err != nil {
		log.Printf("ws: rejected session from %s: %v", r.RemoteAddr, err)
		sock.Send(ErrorMessage{Error: "Invalid authentication token"})
		sock.Close(websocket.ClosePolicyViolation, "invalid token")
		return
	}
	if subject == "" {
		subject = "anonymous"
	}
	log.Printf("ws: session client connected: %s (%s, video=%v)", r.RemoteAddr, subject, streamFrames)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	res := s.engine.StartSession(ctx, sock, sock, streamFrames)
	if s.health != nil {
		s.health.Record(res)
	}
	s.finishSession(sock, res)
	log.Printf("ws: session client disconnected: %s (%s)", r.RemoteAddr, res.Outcome)
}

// finishSession tells the client how the session ended and closes the
// socket normally.
func (s *Server) finishSession(sock *Socket, res tracker.Result) {
	switch res.Outcome {
	case tracker.Disconnected:
	case tracker.Stopped:
		sock.Send(ControlMessage{Type: MsgStopConfirmed, Message: res.Message})
	case tracker.Completed:
		sock.Send(SessionEndedMessage{Type: MsgSessionEnded, Result: res})
	default:
		outcome := res.Outcome
		sock.Send(ErrorMessage{Error: res.Message, Outcome: &outcome})
	}
	sock.Close(websocket.CloseNormalClosure, res.Outcome.String())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.engine.StopSession()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Eye tracker stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		http.Error(w, "health not available", http.StatusServiceUnavailable)
		return
	}
	rep := s.health.Snapshot(r.Context())
	code := http.StatusOK
	if rep.Status == health.Failed {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		if errors.Is(err, ErrTooManyConnections) {
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		conn.Close()
		return
	}
	log.Printf("ws: status client connected: %s", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("ws: status client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// authorize accepts a bearer header or a token query parameter.
func (s *Server) authorize(r *http.Request) bool {
	if !s.verifier.Enabled() {
		return true
	}

	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if token == "" {
		return false
	}
	_, err := s.verifier.Verify(token)
	return err == nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	hostname := parsed.Hostname()
	return hostname == "localhost" || hostname == "127.0.0.1" || hostname == "::1"
}
