// Package httpx is the transport boundary: routes, cookies and middleware in
// front of the session and ballot services.
package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/electionbox/electionbox/internal/repository"
	"github.com/electionbox/electionbox/internal/service/ballot"
	"github.com/electionbox/electionbox/internal/service/session"
	"github.com/electionbox/electionbox/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux           *http.ServeMux
	logger        *slog.Logger
	session       session.Service
	ballots       ballot.Service
	upgrader      websocket.Upgrader
	limiter       RateLimiter
	scannerToken  string
	secureCookies bool
	pgHealth      func(context.Context) error
	mongoHealth   func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault    = time.Minute
	rateLimitSignup      = 5
	rateLimitLogin       = 12
	rateLimitUserRead    = 120
	rateLimitScannerPush = 600
	healthCheckTimeout   = 2 * time.Second
)

// Deps collects Router dependencies.
type Deps struct {
	Logger        *slog.Logger
	Session       session.Service
	Ballots       ballot.Service
	Limiter       RateLimiter
	ScannerToken  string
	SecureCookies bool
	PGHealth      func(context.Context) error
	MongoHealth   func(context.Context) error
}

// NewRouter assembles routes with dependencies.
func NewRouter(deps Deps) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  deps.Logger,
		session: deps.Session,
		ballots: deps.Ballots,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:       deps.Limiter,
		scannerToken:  strings.TrimSpace(deps.ScannerToken),
		secureCookies: deps.SecureCookies,
		pgHealth:      deps.PGHealth,
		mongoHealth:   deps.MongoHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit(r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit(r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/auth/verify", r.audit(r.handleVerify))
	r.mux.HandleFunc("/auth/logout", r.audit(r.handleLogout))
	r.mux.HandleFunc("/ballots", r.audit(r.handleBallots))
	r.mux.HandleFunc("/ballots/", r.audit(r.handleBallotSubroutes))
	r.mux.HandleFunc("/envelopeData", r.audit(r.handleScannerIngest))
	r.mux.HandleFunc("/ws/ballots", r.audit(r.handlerAuthRate("/ws/ballots", rateLimitUserRead, rateWindowDefault, r.handleBallotsWS)))
	r.mux.HandleFunc("/events/ballots", r.audit(r.requireSession(r.handleBallotsSSE)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	account, err := r.session.Signup(req.Context(), payload.Email, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrDuplicate):
			writeError(w, http.StatusConflict, "account already exists")
		default:
			r.logger.Error("signup failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "account store unavailable")
		}
		return
	}
	// Signup does not start a session; the client follows up with /auth/login.
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "account created",
		"email":   account.Email,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	pair, err := r.session.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, session.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			r.logger.Error("login failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "account store unavailable")
		}
		return
	}
	r.setSessionCookies(w, pair)
	writeJSON(w, http.StatusOK, map[string]string{"message": "authentication successful"})
}

func (r *Router) handleVerify(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	result, err := r.session.Verify(req.Context(), readCookie(req, accessCookieName), readCookie(req, refreshCookieName))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "access denied, no valid token provided")
		return
	}
	if result.Refreshed {
		r.setAccessCookie(w, result.NewAccessToken, result.NewAccessTTL)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"email":     result.Email,
		"refreshed": result.Refreshed,
	})
}

// handleLogout clears whichever session cookies are in use. Tokens are
// stateless, so an already issued, unexpired token replayed after logout
// still verifies; there is no server-side revocation list.
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if result, err := r.session.Verify(req.Context(), readCookie(req, accessCookieName), readCookie(req, refreshCookieName)); err == nil {
		r.logger.Info("logout", "email", result.Email)
	}
	r.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (r *Router) handleBallots(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.handlerAuthRate("/ballots", rateLimitUserRead, rateWindowDefault, r.handleBallotList)(w, req)
	case http.MethodPost:
		r.handleScannerIngest(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleBallotList(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
	ballots, err := r.ballots.List(req.Context(), limit, offset)
	if err != nil {
		r.logger.Error("list ballots failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list ballots")
		return
	}
	writeJSON(w, http.StatusOK, ballots)
}

func (r *Router) handleBallotSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/ballots/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if trimmed == "export" {
		r.requireSession(r.handleBallotExport)(w, req)
		return
	}
	ballotID := trimmed
	r.handlerAuthRate("/ballots/{id}", rateLimitUserRead, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
		r.handleBallotGet(w, req, ballotID)
	})(w, req)
}

func (r *Router) handleBallotGet(w http.ResponseWriter, req *http.Request, ballotID string) {
	b, err := r.ballots.Get(req.Context(), ballotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return
		}
		r.logger.Error("get ballot failed", "error", err, "ballot_id", ballotID)
		writeError(w, http.StatusInternalServerError, "could not load ballot")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (r *Router) handleBallotExport(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="ballots.csv"`)
	if err := r.ballots.ExportCSV(req.Context(), w); err != nil {
		// Headers may already be out; log instead of switching to JSON.
		r.logger.Error("csv export failed", "error", err)
	}
}

// handleScannerIngest records one scan event posted by a scanner station.
// Stations authenticate with the shared scanner token, not session cookies.
func (r *Router) handleScannerIngest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyScannerToken(w, req) {
		return
	}
	scannerKey := "scanner:" + rateLimitKeyIP(req)
	decision := r.limiter.Allow(scannerKey, rateLimitScannerPush, rateWindowDefault)
	r.applyRateHeaders(w, rateLimitScannerPush, decision)
	if !decision.allowed {
		r.recordRateLimitHit("/ballots", "scanner")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	var payload ballot.RecordInput
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	b, err := r.ballots.Record(req.Context(), payload)
	if err != nil {
		if errors.Is(err, ballot.ErrMissingBarcode) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		r.logger.Error("record ballot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not record ballot")
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}

func (r *Router) handleBallotsWS(w http.ResponseWriter, req *http.Request) {
	if _, ok := sessionEmailFromContext(req.Context()); !ok {
		r.logger.Error("session context missing for ballots websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "session context missing")
		return
	}
	location := req.URL.Query().Get("location")
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub := r.ballots.Hub()
	hub.Register(location, client)
	go func() {
		defer func() {
			hub.Unregister(location, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleBallotsSSE(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	location := req.URL.Query().Get("location")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	hub := r.ballots.Hub()
	hub.Register(location, client)
	defer func() {
		hub.Unregister(location, client)
		client.Close()
	}()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	checks := map[string]func(context.Context) error{
		"postgres": r.pgHealth,
		"mongodb":  r.mongoHealth,
	}
	for name, check := range checks {
		if check == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components[name] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if email, ok := sessionEmailFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "email", email)
		} else if req.Header.Get(scannerTokenHeader) != "" {
			actor = "scanner"
		}
		fields = append(fields, "actor", actor)
		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

const scannerTokenHeader = "X-Scanner-Token"

// verifyScannerToken ensures scanner stations include the configured shared
// token. Comparison is constant time.
func (r *Router) verifyScannerToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.scannerToken
	if expected == "" {
		r.logger.Error("scanner token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "scanner authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get(scannerTokenHeader))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("scanner token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid scanner token")
		return false
	}
	return true
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
