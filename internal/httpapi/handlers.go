// Package httpapi exposes the research orchestrator over HTTP: the session
// lifecycle endpoints, the health probe, and the SSE/WebSocket progress
// streams.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/haneulab/deepresearch/internal/bus"
	"github.com/haneulab/deepresearch/internal/engine"
	"github.com/haneulab/deepresearch/internal/language"
	"github.com/haneulab/deepresearch/internal/llm"
	"github.com/haneulab/deepresearch/internal/research"
	"github.com/haneulab/deepresearch/internal/search"
	"github.com/haneulab/deepresearch/internal/session"
)

const (
	maxQueryLen        = 1000
	defaultResearchers = 3
	probeTimeout       = 2 * time.Second
)

// API bundles the handlers' collaborators.
type API struct {
	store  session.Store
	engine *engine.Engine
	bus    *bus.Bus
	llm    *llm.Gateway
	search *search.Client
	logger *zap.Logger
}

func New(store session.Store, eng *engine.Engine, b *bus.Bus, gw *llm.Gateway, sc *search.Client, logger *zap.Logger) *API {
	return &API{store: store, engine: eng, bus: b, llm: gw, search: sc, logger: logger}
}

// Register wires all routes onto mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/research/start", a.handleStart)
	mux.HandleFunc("GET /api/v1/research", a.handleList)
	mux.HandleFunc("GET /api/v1/research/{id}", a.handleStatus)
	mux.HandleFunc("DELETE /api/v1/research/{id}", a.handleDelete)
	mux.HandleFunc("GET /api/v1/research/{id}/report", a.handleReport)
	mux.HandleFunc("POST /api/v1/research/{id}/cancel", a.handleCancel)
	mux.HandleFunc("GET /api/v1/health", a.handleHealth)
	mux.HandleFunc("GET /stream/sse", a.handleSSE)
	mux.HandleFunc("GET /stream/ws", a.handleWS)
}

type startRequest struct {
	Query          string `json:"query"`
	Language       string `json:"language,omitempty"`
	Depth          string `json:"depth,omitempty"`
	MaxResearchers int    `json:"max_researchers,omitempty"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Language  string `json:"language"`
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, research.KindInvalidInput, "invalid request body")
		return
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, http.StatusBadRequest, research.KindInvalidInput, "query is required")
		return
	}
	if len([]rune(query)) > maxQueryLen {
		writeError(w, http.StatusBadRequest, research.KindInvalidInput, "query exceeds 1000 characters")
		return
	}

	lang := research.Language(req.Language)
	switch lang {
	case "":
		lang = language.Detect(query)
	case research.LangEnglish, research.LangKorean:
	default:
		writeError(w, http.StatusBadRequest, research.KindInvalidInput, "language must be ko or en")
		return
	}

	depth := research.Depth(req.Depth)
	if depth == "" {
		depth = research.DepthDeep
	}
	if !depth.Valid() {
		writeError(w, http.StatusBadRequest, research.KindInvalidInput, "depth must be shallow, medium, or deep")
		return
	}

	researchers := req.MaxResearchers
	if researchers == 0 {
		researchers = defaultResearchers
	}
	if researchers < 1 || researchers > 5 {
		writeError(w, http.StatusBadRequest, research.KindInvalidInput, "max_researchers must be between 1 and 5")
		return
	}

	sess, err := a.store.Create(r.Context(), research.Spec{
		Question:       query,
		Language:       lang,
		Depth:          depth,
		MaxResearchers: researchers,
	})
	if err != nil {
		a.logger.Error("create session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, research.KindInternal, "failed to create session")
		return
	}

	a.engine.Start(sess)
	writeJSON(w, http.StatusAccepted, startResponse{
		SessionID: sess.ID,
		Status:    "started",
		Language:  string(lang),
	})
}

type sessionView struct {
	SessionID      string            `json:"session_id"`
	Question       string            `json:"research_question"`
	Language       research.Language `json:"language"`
	Depth          research.Depth    `json:"depth"`
	MaxResearchers int               `json:"max_researchers"`
	Stage          research.Stage    `json:"stage"`
	Progress       int               `json:"progress"`
	LastError      string            `json:"last_error,omitempty"`
	ErrorKind      research.Kind     `json:"error_kind,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"last_updated"`
	State          research.State    `json:"state"`
}

func viewOf(s *research.Session) sessionView {
	return sessionView{
		SessionID:      s.ID,
		Question:       s.Spec.Question,
		Language:       s.Spec.Language,
		Depth:          s.Spec.Depth,
		MaxResearchers: s.Spec.MaxResearchers,
		Stage:          s.Stage,
		Progress:       s.Progress,
		LastError:      s.LastError,
		ErrorKind:      s.ErrorKind,
		CreatedAt:      s.Spec.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		State:          s.State,
	}
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

type listResponse struct {
	Sessions []sessionView `json:"sessions"`
	Total    int           `json:"total"`
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := session.Filter{
		Stage:  research.Stage(q.Get("stage")),
		Limit:  intParam(q.Get("limit"), 50),
		Offset: intParam(q.Get("offset"), 0),
	}
	sessions, total, err := a.store.List(r.Context(), f)
	if err != nil {
		a.logger.Error("list sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, research.KindInternal, "failed to list sessions")
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, viewOf(s))
	}
	writeJSON(w, http.StatusOK, listResponse{Sessions: views, Total: total})
}

func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a.engine.Cancel(id)
	if err := a.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, research.ErrNotFound) {
			writeError(w, http.StatusNotFound, research.KindNotFound, "session not found")
			return
		}
		a.logger.Error("delete session failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, research.KindInternal, "failed to delete session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "session deleted"})
}

type reportResponse struct {
	SessionID   string            `json:"session_id"`
	Question    string            `json:"research_question"`
	Language    research.Language `json:"language"`
	Report      string            `json:"report"`
	Sources     [][]string        `json:"sources"`
	GeneratedAt time.Time         `json:"generated_at"`
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	if sess.Stage != research.StageCompleted {
		writeError(w, http.StatusNotFound, research.KindNotFound, "report not yet available")
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{
		SessionID:   sess.ID,
		Question:    sess.Spec.Question,
		Language:    sess.Spec.Language,
		Report:      sess.State.FinalReport,
		Sources:     sess.SourceLists(),
		GeneratedAt: sess.UpdatedAt,
	})
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	if sess.Stage.Terminal() {
		// cancel after the end is a no-op
		writeJSON(w, http.StatusOK, map[string]string{"status": string(sess.Stage)})
		return
	}
	a.engine.Cancel(sess.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

type healthResponse struct {
	Status          string `json:"status"`
	LLMAvailable    bool   `json:"llm_available"`
	SearchAvailable bool   `json:"search_available"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "healthy",
		LLMAvailable:    a.llm.Probe(ctx, probeTimeout),
		SearchAvailable: a.search.Probe(ctx),
	})
}

func (a *API) loadSession(w http.ResponseWriter, r *http.Request) (*research.Session, bool) {
	id := r.PathValue("id")
	sess, err := a.store.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, research.ErrNotFound) {
			writeError(w, http.StatusNotFound, research.KindNotFound, "session not found")
		} else {
			a.logger.Error("load session failed", zap.String("session_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, research.KindInternal, "failed to load session")
		}
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Kind    research.Kind `json:"kind"`
	Message string        `json:"error"`
}

func writeError(w http.ResponseWriter, status int, kind research.Kind, msg string) {
	writeJSON(w, status, errorBody{Kind: kind, Message: msg})
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
