package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/medresearch/internal/metrics"
	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/service"
)

// UserHeader identifies the calling user by email.
const UserHeader = "X-User-Email"

// APIDeps holds the services behind the HTTP API.
type APIDeps struct {
	Conversation *service.ConversationService
	Dialogs      *service.DialogService
	Users        *service.UserService
	Collector    *metrics.Collector
	Logger       *slog.Logger
}

// API serves the research assistant over HTTP.
type API struct {
	deps     APIDeps
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewAPI creates the HTTP API.
func NewAPI(deps APIDeps) *API {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		deps:   deps,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Router returns the HTTP handler with all routes and middleware.
func (a *API) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(RecoveryMiddleware(a.logger))
	r.Use(RequestLoggingMiddleware(a.logger, 5*time.Second))

	r.HandleFunc("/health", a.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(a.userMiddleware)
	api.HandleFunc("/stats", a.stats).Methods(http.MethodGet)
	api.HandleFunc("/me", a.getMe).Methods(http.MethodGet)
	api.HandleFunc("/me", a.updateMe).Methods(http.MethodPut)

	api.HandleFunc("/dialogs", a.listDialogs).Methods(http.MethodGet)
	api.HandleFunc("/dialogs/turns", a.newDialogTurn).Methods(http.MethodPost)
	api.HandleFunc("/dialogs/{id:[0-9]+}", a.getDialog).Methods(http.MethodGet)
	api.HandleFunc("/dialogs/{id:[0-9]+}", a.deleteDialog).Methods(http.MethodDelete)
	api.HandleFunc("/dialogs/{id:[0-9]+}/turns", a.dialogTurn).Methods(http.MethodPost)
	api.HandleFunc("/dialogs/{id:[0-9]+}/findings", a.listFindings).Methods(http.MethodGet)
	api.HandleFunc("/dialogs/{id:[0-9]+}/stream", a.stream).Methods(http.MethodGet)

	api.HandleFunc("/findings/{id:[0-9]+}/relevance", a.setRelevance).Methods(http.MethodPost)
	api.HandleFunc("/findings/{id:[0-9]+}", a.deleteFinding).Methods(http.MethodDelete)

	api.HandleFunc("/turns/{id}", a.getTurn).Methods(http.MethodGet)
	return r
}

// userMiddleware resolves the calling user, creating it on first sight.
func (a *API) userMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := strings.TrimSpace(r.Header.Get(UserHeader))
		if email == "" {
			writeError(w, http.StatusUnauthorized, UserHeader+" header is required")
			return
		}
		u, err := a.deps.Users.Resolve(r.Context(), email)
		if err != nil {
			a.internalError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
	})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	if a.deps.Collector == nil {
		writeError(w, http.StatusNotFound, "statistics are disabled")
		return
	}
	writeJSON(w, http.StatusOK, a.deps.Collector.Snapshot())
}

func (a *API) getMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r.Context()))
}

// ProfileRequest is the body of PUT /api/me.
type ProfileRequest struct {
	Name         *string  `json:"name,omitempty"`
	Picture      *string  `json:"picture,omitempty"`
	TrustedSites []string `json:"trusted_sites,omitempty"`
}

func (a *API) updateMe(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	u, err := a.deps.Users.UpdateProfile(r.Context(), currentUser(r.Context()), service.ProfileUpdate{
		Name:         req.Name,
		Picture:      req.Picture,
		TrustedSites: req.TrustedSites,
	})
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// DialogSummary is a dialog without its transcript.
type DialogSummary struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Messages  int        `json:"messages"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func summarize(d *models.Dialog) DialogSummary {
	return DialogSummary{
		ID:        d.ID,
		Title:     d.Title,
		Messages:  len(d.ChatHistory),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (a *API) listDialogs(w http.ResponseWriter, r *http.Request) {
	dialogs, err := a.deps.Dialogs.List(r.Context(), currentUser(r.Context()).ID)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	out := make([]DialogSummary, 0, len(dialogs))
	for _, d := range dialogs {
		out = append(out, summarize(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getDialog(w http.ResponseWriter, r *http.Request) {
	d, err := a.deps.Dialogs.Get(r.Context(), currentUser(r.Context()).ID, pathID(r))
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) deleteDialog(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Dialogs.Delete(r.Context(), currentUser(r.Context()).ID, pathID(r)); err != nil {
		a.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listFindings(w http.ResponseWriter, r *http.Request) {
	findings, err := a.deps.Dialogs.Findings(r.Context(), currentUser(r.Context()).ID, pathID(r))
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	if findings == nil {
		findings = []*models.Finding{}
	}
	writeJSON(w, http.StatusOK, findings)
}

// RelevanceRequest is the body of POST /api/findings/{id}/relevance.
type RelevanceRequest struct {
	Relevant *bool `json:"relevant"`
}

func (a *API) setRelevance(w http.ResponseWriter, r *http.Request) {
	var req RelevanceRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Relevant == nil {
		writeError(w, http.StatusBadRequest, `body must be {"relevant": true|false}`)
		return
	}
	f, err := a.deps.Dialogs.SetRelevance(r.Context(), currentUser(r.Context()).ID, pathID(r), *req.Relevant)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (a *API) deleteFinding(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Dialogs.DeleteFinding(r.Context(), currentUser(r.Context()).ID, pathID(r)); err != nil {
		a.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TurnRequest is the body of the turn endpoints.
type TurnRequest struct {
	Message string `json:"message"`
}

// TurnResponse reports a persisted turn.
type TurnResponse struct {
	TurnID    string         `json:"turn_id"`
	Reply     string         `json:"reply"`
	Succeeded bool           `json:"succeeded"`
	Dialog    *models.Dialog `json:"dialog"`
}

func (a *API) newDialogTurn(w http.ResponseWriter, r *http.Request) {
	a.turn(w, r, 0, http.StatusCreated)
}

func (a *API) dialogTurn(w http.ResponseWriter, r *http.Request) {
	a.turn(w, r, pathID(r), http.StatusOK)
}

func (a *API) turn(w http.ResponseWriter, r *http.Request, dialogID int64, status int) {
	var req TurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := a.deps.Conversation.Turn(r.Context(), service.TurnRequest{
		UserID:   currentUser(r.Context()).ID,
		DialogID: dialogID,
		Message:  req.Message,
	})
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	writeJSON(w, status, TurnResponse{
		TurnID:    res.TurnID,
		Reply:     res.Reply,
		Succeeded: res.Succeeded,
		Dialog:    res.Dialog,
	})
}

// TurnStatus is the public view of a tracked turn.
type TurnStatus struct {
	ID          string     `json:"id"`
	DialogID    int64      `json:"dialog_id"`
	State       string     `json:"state"`
	Outcome     string     `json:"outcome,omitempty"`
	Status      string     `json:"status,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (a *API) getTurn(w http.ResponseWriter, r *http.Request) {
	turn := a.deps.Conversation.Tracker().Get(mux.Vars(r)["id"])
	if turn == nil {
		writeError(w, http.StatusNotFound, "turn not found")
		return
	}
	snap := turn.Snapshot()
	if snap.UserID != currentUser(r.Context()).ID {
		writeError(w, http.StatusNotFound, "turn not found")
		return
	}
	writeJSON(w, http.StatusOK, TurnStatus{
		ID:          snap.ID,
		DialogID:    snap.DialogID,
		State:       string(snap.State),
		Outcome:     string(snap.Outcome),
		Status:      snap.Status,
		Error:       snap.Error,
		StartedAt:   snap.StartedAt,
		CompletedAt: snap.CompletedAt,
	})
}

// serviceError maps service errors to HTTP statuses.
func (a *API) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrDialogNotFound), errors.Is(err, service.ErrFindingNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrMessageTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.internalError(w, r, err)
	}
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error("request failed", "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
	writeError(w, http.StatusInternalServerError, "internal error, request id "+RequestID(r.Context()))
}

// pathID parses the {id} route variable. Routes constrain it to digits.
func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}
