package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"teamcal/internal/calendars"
	"teamcal/internal/config"
	"teamcal/internal/feed"
	appLog "teamcal/internal/log"
	"teamcal/internal/metrics"
	"teamcal/internal/model"
	"teamcal/internal/oauth"
	"teamcal/internal/registry"
)

const maxBodyBytes = 64 << 10

type (
	// FeedService answers feed fetches.
	FeedService interface {
		Serve(ctx context.Context, req feed.Request) (*feed.Response, error)
	}
	// CalendarService backs the owner API.
	CalendarService interface {
		List(ctx context.Context) ([]calendars.Entry, error)
		UpdateSettings(ctx context.Context, in calendars.Settings) error
	}
	// Session is the owner's OAuth session.
	Session interface {
		IsAuthenticated(ctx context.Context) bool
		UserInfo(ctx context.Context) json.RawMessage
		SaveUserInfo(ctx context.Context, info any) error
		NewState(ctx context.Context) (string, error)
		ConsumeState(ctx context.Context, state string) bool
		AuthCodeURL(state string) string
		Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	}
	// UserLookup fetches the authorized user after login.
	UserLookup interface {
		Me(ctx context.Context, token string) (model.Event, error)
	}
)

// Deps are the Server's collaborators.
type Deps struct {
	Feeds     FeedService
	Calendars CalendarService
	Session   Session
	Users     UserLookup
}

// Server serves the public feeds and the owner API.
// Owner routes (/api/*, /auth/*) sit behind basic auth when it is configured.
type Server struct {
	cfg *config.Config
	mux *http.ServeMux
	Deps
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		mux:  http.NewServeMux(),
		Deps: deps,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled for owner routes", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// an empty username or password disables it
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

func ownerPath(p string) bool {
	return strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/auth/")
}

// basicAuthMiddleware wraps the owner routes with HTTP Basic Auth. Feed
// URLs and /health stay public.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ownerPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="teamcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.route("GET /health", "health", http.HandlerFunc(s.handleHealth))
	s.route("GET /metrics", "metrics", metrics.Handler())
	s.route("GET /{$}", "index", http.HandlerFunc(s.handleIndex))
	s.route("GET /{file}", "feed", http.HandlerFunc(s.handleFeed))

	s.route("GET /api/calendars", "calendars", http.HandlerFunc(s.handleCalendars))
	s.route("POST /api/settings", "settings", http.HandlerFunc(s.handleSettings))
	s.route("GET /api/status", "status", http.HandlerFunc(s.handleStatus))

	s.route("GET /auth/login", "login", http.HandlerFunc(s.handleLogin))
	s.route("GET /auth/callback", "callback", http.HandlerFunc(s.handleCallback))
}

// route registers h under pattern with metrics and a request log line
// labelled by name. Paths are not logged since feed paths carry tokens.
func (s *Server) route(pattern, name string, h http.Handler) {
	h = metrics.InstrumentHandler(name, h)
	s.mux.Handle(pattern, logRequests(name, h))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"route", name,
			"method", r.Method,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "teamcal\n\nowner API: /api/status, /api/calendars, /auth/login\n")
}

// handleFeed serves GET /{token}.ics and GET /{token}.txt.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	ext := path.Ext(file)
	token := strings.TrimSuffix(file, ext)

	var plain bool
	switch ext {
	case ".ics":
	case ".txt":
		plain = true
	default:
		http.NotFound(w, r)
		return
	}
	if !registry.ValidFormat(token) {
		writeError(w, http.StatusBadRequest, registry.ErrInvalidToken.Error())
		return
	}

	q := r.URL.Query()
	if q.Get("format") == "text" {
		plain = true
	}
	resp, err := s.Feeds.Serve(r.Context(), feed.Request{
		Token:           token,
		IfModifiedSince: r.Header.Get("If-Modified-Since"),
		IfNoneMatch:     r.Header.Get("If-None-Match"),
		BypassCache:     q.Get("cache") == "off",
		Refresh:         q.Get("refresh") == "true",
		PlainText:       plain,
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			appLog.Error("feed request failed", err, "token", appLog.RedactToken(token))
		} else {
			appLog.Debug("feed request rejected", "token", appLog.RedactToken(token), "status", status, "err", err.Error())
		}
		// subscribers are anonymous: the error chain names the team
		writeError(w, status, feedErrorMessage(status))
		return
	}

	for k, v := range resp.Header {
		w.Header()[k] = v
	}
	w.WriteHeader(resp.Status)
	if resp.Status != http.StatusNotModified {
		_, _ = io.WriteString(w, resp.Body)
	}
}

func (s *Server) handleCalendars(w http.ResponseWriter, r *http.Request) {
	list, err := s.Calendars.List(r.Context())
	if err != nil {
		s.writeOwnerError(w, "listing calendars failed", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var in calendars.Settings
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := s.Calendars.UpdateSettings(r.Context(), in); err != nil {
		s.writeOwnerError(w, "settings update failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type statusResponse struct {
	Authenticated bool            `json:"authenticated"`
	User          json.RawMessage `json:"user"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := statusResponse{Authenticated: s.Session.IsAuthenticated(ctx)}
	if resp.Authenticated {
		resp.User = s.Session.UserInfo(ctx)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := s.Session.NewState(r.Context())
	if err != nil {
		s.writeOwnerError(w, "failed to start login", err)
		return
	}
	http.Redirect(w, r, s.Session.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	if msg := q.Get("error"); msg != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+msg)
		return
	}
	if !s.Session.ConsumeState(ctx, q.Get("state")) {
		writeError(w, http.StatusBadRequest, "invalid or expired state")
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}

	tok, err := s.Session.Exchange(ctx, code)
	if err != nil {
		s.writeOwnerError(w, "authorization code exchange failed", err)
		return
	}
	if me, err := s.Users.Me(ctx, tok.AccessToken); err != nil {
		appLog.Warn("could not load user after login", "err", err.Error())
	} else if err := s.Session.SaveUserInfo(ctx, me); err != nil {
		appLog.Error("failed to store user info", err)
	}
	appLog.Info("owner authorized")
	http.Redirect(w, r, "/", http.StatusFound)
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrInvalidToken), errors.Is(err, calendars.ErrMissingTeam):
		return http.StatusBadRequest
	case errors.Is(err, oauth.ErrAuthRequired):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func feedErrorMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid calendar token"
	case http.StatusUnauthorized:
		return "authentication required"
	default:
		return "failed to generate calendar"
	}
}

func (s *Server) writeOwnerError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error(msg, err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
