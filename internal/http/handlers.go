package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-booking/internal/apperrors"
	"github.com/example/ride-booking/internal/booking"
	"github.com/example/ride-booking/internal/dispatch"
	"github.com/example/ride-booking/internal/identity"
	"github.com/example/ride-booking/internal/observability"
	"github.com/example/ride-booking/internal/ratelimit"
)

const (
	maxBodyBytes = 1 << 20
	wsReadLimit  = 4 << 10
	readyTimeout = 2 * time.Second
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the API server routes requests to.
type Deps struct {
	Gate     *identity.Gate
	Limiter  *ratelimit.Limiter
	Bookings *booking.Service
	WS       *dispatch.WSRegistry
	Ready    Pinger
	Logger   *slog.Logger

	// TrustedProxies may set X-Forwarded-For; everyone else is keyed by
	// socket address.
	TrustedProxies []netip.Prefix
}

type Server struct {
	gate     *identity.Gate
	limiter  *ratelimit.Limiter
	bookings *booking.Service
	ws       *dispatch.WSRegistry
	ready    Pinger
	logger   *slog.Logger
	mux      *mux.Router

	trustedProxies []netip.Prefix
	wsPongWait     time.Duration
	wsPingPeriod   time.Duration
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		gate:     d.Gate,
		limiter:  d.Limiter,
		bookings: d.Bookings,
		ws:       d.WS,
		ready:    d.Ready,
		logger:   logger,
		mux:      mux.NewRouter(),

		trustedProxies: d.TrustedProxies,
		wsPongWait:     dispatch.PongWait,
		wsPingPeriod:   dispatch.PingPeriod,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api").Subrouter()
	api.HandleFunc("/confirm", s.handleConfirm).Methods(http.MethodPost)
	api.HandleFunc("/book", s.handleBook).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}", s.handleGetBooking).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	api.HandleFunc("/signup", s.handleSignUp).Methods(http.MethodPost)
	api.HandleFunc("/drivers", s.handleOnboard).Methods(http.MethodPost)
	api.HandleFunc("/admin/verify", s.handleVerify).Methods(http.MethodPost)

	s.mux.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// handleConfirm checks, in order: client key shape, rate limit, body,
// driver identity, then runs the confirmation.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	key, err := s.clientKey(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.limiter.Allow(r.Context(), "confirm:"+key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.limiter.Capacity()))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.Allowed {
		observability.RateLimitedTotal.WithLabelValues("confirm").Inc()
		s.writeError(w, r, apperrors.ErrRateLimited.WithMessage("too many confirmation attempts, try again later"))
		return
	}

	var req booking.ConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, driver, err := s.gate.RequireDriver(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.bookings.Confirm(r.Context(), booking.Caller{User: user, Driver: driver}, req, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	user, err := s.gate.RequireBooker(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req booking.BookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.IsPost {
		p, err := s.bookings.CreateRidePost(r.Context(), user, req, s.clientIP(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
		return
	}
	b, err := s.bookings.CreateBooking(r.Context(), user, req, s.clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	user, err := s.gate.Authenticate(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.bookings.Get(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	user, driver, err := s.gate.RequireDriver(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.bookings.Complete(r.Context(), booking.Caller{User: user, Driver: driver}, mux.Vars(r)["id"], s.clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	user, err := s.gate.RequireBooker(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.bookings.Cancel(r.Context(), user, mux.Vars(r)["id"], s.clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	sub, err := s.gate.Identify(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req booking.SignUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.bookings.SignUp(r.Context(), sub.ID, sub.Phone, req.Role, s.clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleOnboard(w http.ResponseWriter, r *http.Request) {
	user, err := s.gate.Authenticate(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req booking.OnboardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.bookings.OnboardDriver(r.Context(), user, req, s.clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	admin, err := s.gate.RequireAdmin(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req booking.VerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.bookings.VerifyDriver(r.Context(), admin, req, s.clientIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWS streams booking events to the authenticated user. Browsers cannot
// set headers on the upgrade request, so the token may also come in the
// access_token query parameter.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if tok := r.URL.Query().Get("access_token"); tok != "" {
			header = "Bearer " + tok
		}
	}
	user, err := s.gate.Authenticate(r.Context(), header)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "user_id", user.ID, "error", err)
		return
	}
	session := s.ws.Add(user.ID, conn)
	defer func() {
		s.ws.Remove(user.ID, session)
		_ = conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(s.wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.wsPongWait))
	})
	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(s.wsPingPeriod)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := session.Ping(); err != nil {
					return
				}
			}
		}
	}()

	// Reads only drive the pong handler and detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	body := errorBody{Error: apperrors.CodeOf(err), Message: apperrors.MessageOf(err)}
	switch apperrors.KindOf(err) {
	case apperrors.KindInternal:
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
		body.Message = "internal error"
	case apperrors.KindAuthentication:
		observability.AuthFailuresTotal.WithLabelValues(body.Error).Inc()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.Invalid("request body required")
		}
		return apperrors.Invalid("malformed JSON body")
	}
	return nil
}
