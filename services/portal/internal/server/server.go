package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"issueboard/internal/util"
	"issueboard/pkg/domain"
	"issueboard/services/portal/internal/app"
	"issueboard/services/portal/internal/security"
)

const (
	sessionCookie = "token"
	maxBodyBytes  = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Alerter        *security.AuditAlerter
	SessionTTL     time.Duration
	CookieSecure   bool
	ClientURLs     []string
	TrustedProxies *util.TrustedProxies
}

// Server exposes the portal HTTP API.
type Server struct {
	app          *app.App
	alerter      *security.AuditAlerter
	sessionTTL   time.Duration
	cookieSecure bool
	trusted      *util.TrustedProxies
	router       chi.Router
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:          cfg.App,
		alerter:      cfg.Alerter,
		sessionTTL:   cfg.SessionTTL,
		cookieSecure: cfg.CookieSecure,
		trusted:      cfg.TrustedProxies,
		router:       chi.NewRouter(),
	}
	s.router.Use(util.WithRequestID)
	s.router.Use(util.WithRequestLog)
	s.router.Use(util.SecurityHeaders(cfg.CookieSecure))
	s.router.Use(util.CORS(cfg.ClientURLs))
	s.router.Use(middleware.Recoverer)
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NotFound", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/.well-known/jwks.json", s.handleJWKS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup/send-otp", s.handleSendOTP)
			r.Post("/signup/verify", s.handleVerify)
			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.Get("/me", s.authenticated(s.handleMe))
		})

		r.Route("/votes", func(r chi.Router) {
			r.Post("/", s.authenticated(s.handleCastVote))
			r.Get("/{targetKind}/{targetId}/user", s.authenticated(s.handleUserVote))
			r.Get("/{targetKind}/{targetId}", s.handleVoteCounts)
		})

		r.Route("/problems", func(r chi.Router) {
			r.Get("/", s.handleListProblems)
			r.Post("/", s.authenticated(s.handleCreateProblem))
			r.Get("/{id}", s.handleGetProblem)
			r.Patch("/{id}/status", s.adminOnly(s.handleUpdateProblemStatus))
			r.Post("/{id}/vote", s.authenticated(s.handleTargetVote(domain.TargetProblem, "id")))
		})

		r.Route("/comments", func(r chi.Router) {
			r.Post("/", s.authenticated(s.handleCreateComment))
			r.Get("/problem/{problemId}", s.handleListProblemComments)
		})

		r.Route("/discussions", func(r chi.Router) {
			r.Get("/", s.handleListDiscussions)
			r.Post("/", s.authenticated(s.handleCreateDiscussion))
			r.Post("/comments/{commentId}/vote", s.authenticated(s.handleTargetVote(domain.TargetComment, "commentId")))
			r.Get("/{id}", s.handleGetDiscussion)
			r.Post("/{id}/comments", s.authenticated(s.handleCreateDiscussionComment))
			r.Post("/{id}/vote", s.authenticated(s.handleTargetVote(domain.TargetDiscussion, "id")))
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	keys := s.app.JWKS()
	if len(keys) == 0 {
		writeError(w, http.StatusNotFound, "NotFound", "jwks not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.app.Authenticate(r.Context(), sessionToken(r))
		if err != nil {
			if app.KindOf(err) == app.KindAuth {
				s.observeFailure(r, security.EventSession)
			}
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, user)
	}
}

func (s *Server) adminOnly(next authHandler) http.HandlerFunc {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if !user.IsAdmin() {
			s.observeFailure(r, security.EventAdmin)
			s.writeAppError(w, r, app.ErrForbidden)
			return
		}
		next(w, r, user)
	})
}

// observeFailure feeds a failed auth event to the alerter and logs when the
// per-client threshold is reached.
func (s *Server) observeFailure(r *http.Request, event string) {
	if s.alerter == nil {
		return
	}
	ip := util.ClientIP(r, s.trusted)
	logger := util.LoggerFromContext(r.Context())
	res, err := s.alerter.Observe(r.Context(), event, security.OutcomeFail, ip)
	if err != nil {
		logger.Warn("auth alert evaluation failed", "event", event, "err", err)
		return
	}
	if res.Triggered {
		logger.Warn("auth failure threshold reached",
			"event", event,
			"ip", ip,
			"count", res.Count,
			"threshold", res.Threshold,
			"window", res.Window.String(),
		)
	}
}

// auth handlers
func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.app.RequestSignupCode(r.Context(), req.Email); err != nil {
		s.observeFailure(r, security.EventSignupCode)
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "OTP sent to your email"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.app.VerifyAndCreateAccount(r.Context(), req.Email, req.OTP, req.Name, req.Password)
	if err != nil {
		s.observeFailure(r, security.EventSignupVerify)
		s.writeAppError(w, r, err)
		return
	}
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, userResponse{User: user.Summary()})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.observeFailure(r, security.EventLogin)
		s.writeAppError(w, r, err)
		return
	}
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, userResponse{User: user.Summary()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Logout(r.Context(), sessionToken(r)); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, user domain.User) {
	writeJSON(w, http.StatusOK, userResponse{User: user.Summary()})
}

// vote handlers
func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req castVoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.CastVote(r.Context(), user.ID, req.TargetID, domain.TargetKind(req.TargetKind), domain.Polarity(req.Polarity))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleTargetVote serves the per-resource vote routes, taking the target id
// from the named URL parameter.
func (s *Server) handleTargetVote(kind domain.TargetKind, param string) authHandler {
	return func(w http.ResponseWriter, r *http.Request, user domain.User) {
		var req polarityRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := s.app.CastVote(r.Context(), user.ID, chi.URLParam(r, param), kind, domain.Polarity(req.polarity()))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleUserVote(w http.ResponseWriter, r *http.Request, user domain.User) {
	vote, err := s.app.UserVote(r.Context(), user.ID, chi.URLParam(r, "targetId"), domain.TargetKind(chi.URLParam(r, "targetKind")))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*domain.Vote{"vote": vote})
}

func (s *Server) handleVoteCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.app.CountsFor(r.Context(), chi.URLParam(r, "targetId"), domain.TargetKind(chi.URLParam(r, "targetKind")))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]domain.VoteCounts{"counts": counts})
}

// problem handlers
func (s *Server) handleListProblems(w http.ResponseWriter, r *http.Request) {
	problems, err := s.app.ListProblems(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, problems)
}

func (s *Server) handleGetProblem(w http.ResponseWriter, r *http.Request) {
	problem, err := s.app.GetProblem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, problem)
}

func (s *Server) handleCreateProblem(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req contentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	problem, err := s.app.CreateProblem(r.Context(), user, req.Title, req.Description, req.Images)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, problem)
}

func (s *Server) handleUpdateProblemStatus(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	problem, err := s.app.UpdateProblemStatus(r.Context(), user, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, problem)
}

// comment handlers
func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	comment, err := s.app.AddProblemComment(r.Context(), user, req.ProblemID, req.Text)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (s *Server) handleListProblemComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.app.ListProblemComments(r.Context(), chi.URLParam(r, "problemId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// discussion handlers
func (s *Server) handleListDiscussions(w http.ResponseWriter, r *http.Request) {
	discussions, err := s.app.ListDiscussions(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, discussions)
}

func (s *Server) handleGetDiscussion(w http.ResponseWriter, r *http.Request) {
	discussion, err := s.app.GetDiscussion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, discussion)
}

func (s *Server) handleCreateDiscussion(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req contentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	discussion, err := s.app.CreateDiscussion(r.Context(), user, req.Title, req.Description, req.Images)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, discussion)
}

func (s *Server) handleCreateDiscussionComment(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req discussionCommentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	comment, err := s.app.AddDiscussionComment(r.Context(), user, chi.URLParam(r, "id"), req.Text, req.ParentCommentID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

type sendOTPRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email    string `json:"email"`
	OTP      string `json:"otp"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type castVoteRequest struct {
	TargetID   string `json:"targetId"`
	TargetKind string `json:"targetKind"`
	Polarity   string `json:"polarity"`
}

// polarityRequest also accepts voteType, the field older clients send.
type polarityRequest struct {
	Polarity string `json:"polarity"`
	VoteType string `json:"voteType"`
}

func (p polarityRequest) polarity() string {
	if p.Polarity != "" {
		return p.Polarity
	}
	return p.VoteType
}

type contentRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Images      []string `json:"images"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type commentRequest struct {
	ProblemID string `json:"problemId"`
	Text      string `json:"text"`
}

type discussionCommentRequest struct {
	Text            string `json:"text"`
	ParentCommentID string `json:"parentCommentId"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type userResponse struct {
	User domain.UserSummary `json:"user"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// sessionToken reads the session cookie, falling back to a bearer header.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value)
	}
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "InvalidBody", "invalid JSON body")
		return false
	}
	return true
}

var kindStatus = map[app.Kind]int{
	app.KindValidation:    http.StatusBadRequest,
	app.KindAuth:          http.StatusUnauthorized,
	app.KindAuthorization: http.StatusForbidden,
	app.KindNotFound:      http.StatusNotFound,
	app.KindConflict:      http.StatusConflict,
	app.KindDelivery:      http.StatusBadGateway,
	app.KindInternal:      http.StatusInternalServerError,
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := app.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if kind == app.KindInternal || kind == app.KindDelivery {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	code, msg := app.PublicError(err)
	writeError(w, status, code, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
