package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"centsible/internal/apperr"
	"centsible/internal/logging"
	"centsible/internal/metrics"
	"centsible/internal/models"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	// DefaultCookieName is the name of the session cookie.
	DefaultCookieName = "sessionid"
	maxBodyBytes      = 1 << 20
)

// Credentials creates and authenticates users.
type Credentials interface {
	CreateUser(ctx context.Context, username, password string) (*models.User, error)
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
}

// Sessions issues and checks server-side sessions.
type Sessions interface {
	Login(ctx context.Context, userID int64) (*models.Session, error)
	Logout(ctx context.Context, token string) error
	RequireAuthenticated(ctx context.Context, token string) (*models.Session, error)
	TTL() time.Duration
}

// Ledger is the owner-scoped transaction store.
type Ledger interface {
	Create(ctx context.Context, userID int64, in models.TransactionInput) (*models.Transaction, error)
	List(ctx context.Context, userID int64) ([]models.Transaction, error)
	Get(ctx context.Context, id, userID int64) (*models.Transaction, error)
	Update(ctx context.Context, id, userID int64, in models.TransactionInput, partial bool) (*models.Transaction, error)
	Delete(ctx context.Context, id, userID int64) error
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options holds dependencies for HTTP handlers.
type Options struct {
	Credentials  Credentials
	Sessions     Sessions
	Ledger       Ledger
	Store        Pinger
	Logger       *logging.Logger
	Metrics      *metrics.Metrics
	BasePath     string
	CookieName   string
	SecureCookie bool
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	credentials  Credentials
	sessions     Sessions
	ledger       Ledger
	store        Pinger
	log          *logging.Logger
	metrics      *metrics.Metrics
	basePath     string
	cookieName   string
	secureCookie bool
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(opts Options) *Handlers {
	h := &Handlers{
		credentials:  opts.Credentials,
		sessions:     opts.Sessions,
		ledger:       opts.Ledger,
		store:        opts.Store,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		basePath:     opts.BasePath,
		cookieName:   opts.CookieName,
		secureCookie: opts.SecureCookie,
	}
	if h.log == nil {
		h.log = logging.NewNoOpLogger()
	}
	if h.metrics == nil {
		h.metrics = metrics.New("centsible")
	}
	if h.cookieName == "" {
		h.cookieName = DefaultCookieName
	}
	return h
}

// Register mounts the API routes on r. Protected routes are wrapped with RequireAuth.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/", h.APIRoot).Methods(http.MethodGet)
	r.HandleFunc("/signup/", h.SignUp).Methods(http.MethodPost)
	r.HandleFunc("/signin/", h.SignIn).Methods(http.MethodPost)
	r.Handle("/signout/", h.RequireAuth(h.SignOut)).Methods(http.MethodPost)

	r.Handle("/transactions/", h.RequireAuth(h.ListTransactions)).Methods(http.MethodGet)
	r.Handle("/transactions/", h.RequireAuth(h.CreateTransaction)).Methods(http.MethodPost)
	r.Handle("/transactions/{id:[0-9]+}/", h.RequireAuth(h.GetTransaction)).Methods(http.MethodGet)
	r.Handle("/transactions/{id:[0-9]+}/", h.RequireAuth(h.UpdateTransaction)).Methods(http.MethodPut)
	r.Handle("/transactions/{id:[0-9]+}/", h.RequireAuth(h.PatchTransaction)).Methods(http.MethodPatch)
	r.Handle("/transactions/{id:[0-9]+}/", h.RequireAuth(h.DeleteTransaction)).Methods(http.MethodDelete)
}

// APIRoot lists the endpoint paths.
func (h *Handlers) APIRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"transactions": h.basePath + "/transactions/",
		"signup":       h.basePath + "/signup/",
		"signin":       h.basePath + "/signin/",
		"signout":      h.basePath + "/signout/",
	})
}

// Health reports whether the database answers.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// MetricsHandler serves the Prometheus metrics of this API.
func (h *Handlers) MetricsHandler() http.Handler {
	return h.metrics.Handler()
}

// NotFound answers unmatched paths with a JSON error.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: apperr.ErrNotFound.Message})
}

// MethodNotAllowed answers known paths requested with the wrong method.
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method \"" + r.Method + "\" not allowed."})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status code. Internal errors are logged and
// answered with a generic message.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		h.requestLogger(RequestIDFromContext(r.Context())).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, kind.Status(), errorBody{Error: apperr.Message(err)})
}

func isForm(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data"
}

// decodeJSON reads a JSON object into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return apperr.Validation("JSON parse error: %v", err)
	}
	return nil
}

func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var err error
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		err = r.ParseMultipartForm(maxBodyBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return apperr.Validation("Form parse error: %v", err)
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return apperr.KindOf(err).String()
}
