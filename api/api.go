package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/Xpertly-in/reactions/api/validator"
	"github.com/Xpertly-in/reactions/reaction"
)

// A Reactions provides the reaction core the endpoints delegate to.
type Reactions interface {
	Toggle(ctx context.Context, userID string, target reaction.TargetRef, kind reaction.Kind) (*reaction.Kind, error)
	MyReaction(ctx context.Context, userID string, target reaction.TargetRef) (*reaction.Kind, error)
	Summary(ctx context.Context, target reaction.TargetRef) (reaction.Summary, error)
	SummaryBatch(ctx context.Context, targetType reaction.TargetType, targetIDs []int64) (map[int64]reaction.Summary, error)
	Reactors(ctx context.Context, target reaction.TargetRef, kindFilter *reaction.Kind, page int) ([]reaction.Reactor, bool, error)
	Reconcile(ctx context.Context, target reaction.TargetRef) error
}

// API provides the REST endpoints for the reaction service.
type API struct {
	Logger    *slog.Logger
	Reactions Reactions
	Val       *validator.Validator

	once sync.Once
	mux  *http.ServeMux
}

// userHeader carries the authenticated user ID, set by the auth gateway in
// front of this service. An empty or missing header means unauthenticated.
const userHeader = "X-User-ID"

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /reactions/{targetType}/{targetID}", a.toggleReaction)
	mux.HandleFunc("GET /reactions/{targetType}/{targetID}/me", a.getMyReaction)
	mux.HandleFunc("GET /reactions/{targetType}/{targetID}/summary", a.getSummary)
	mux.HandleFunc("GET /reactions/{targetType}/summary", a.getSummaryBatch)
	mux.HandleFunc("GET /reactions/{targetType}/{targetID}/reactors", a.listReactors)
	mux.HandleFunc("POST /reactions/{targetType}/{targetID}/reconcile", a.reconcile)

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

// respondServiceError maps the core's error taxonomy onto status codes.
// Store-level race signals never reach here; the service resolves them.
func (a *API) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reaction.ErrUnauthenticated):
		a.respondError(w, http.StatusUnauthorized, err, "Authentication required")
	case errors.Is(err, reaction.ErrInvalidKind):
		a.respondError(w, http.StatusBadRequest, err, "Unknown reaction kind")
	case errors.Is(err, reaction.ErrInvalidTarget):
		a.respondError(w, http.StatusBadRequest, err, "Invalid target")
	case errors.Is(err, reaction.ErrStoreUnavailable):
		a.respondError(w, http.StatusServiceUnavailable, err, "Temporarily unavailable, please retry")
	default:
		a.respondError(w, http.StatusInternalServerError, err, "Internal error")
	}
}

func (a *API) validateBody(w http.ResponseWriter, s interface{}) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

// target parses the {targetType}/{targetID} path segments. The core rejects
// unknown types; only the ID needs parsing here.
func (a *API) target(w http.ResponseWriter, r *http.Request) (reaction.TargetRef, bool) {
	id, err := strconv.ParseInt(r.PathValue("targetID"), 10, 64)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Target ID must be an integer")
		return reaction.TargetRef{}, false
	}
	return reaction.TargetRef{
		Type: reaction.TargetType(r.PathValue("targetType")),
		ID:   id,
	}, true
}

func (a *API) toggleReaction(w http.ResponseWriter, r *http.Request) {
	type (
		request struct {
			Kind string `json:"kind" validate:"required"`
		}
		response struct {
			Kind *string `json:"kind"`
		}
	)

	target, ok := a.target(w, r)
	if !ok {
		return
	}

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}

	if valid := a.validateBody(w, &body); !valid {
		return
	}

	if err := r.Body.Close(); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not close request body")
		return
	}

	kind, err := a.Reactions.Toggle(r.Context(), r.Header.Get(userHeader), target, reaction.Kind(body.Kind))
	if err != nil {
		a.respondServiceError(w, err)
		return
	}

	res := response{}
	if kind != nil {
		s := string(*kind)
		res.Kind = &s
	}
	a.respond(w, http.StatusOK, res)
}

func (a *API) getMyReaction(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Kind *string `json:"kind"`
	}

	target, ok := a.target(w, r)
	if !ok {
		return
	}

	kind, err := a.Reactions.MyReaction(r.Context(), r.Header.Get(userHeader), target)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}

	res := response{}
	if kind != nil {
		s := string(*kind)
		res.Kind = &s
	}
	a.respond(w, http.StatusOK, res)
}

func (a *API) getSummary(w http.ResponseWriter, r *http.Request) {
	target, ok := a.target(w, r)
	if !ok {
		return
	}

	sum, err := a.Reactions.Summary(r.Context(), target)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}

	a.respond(w, http.StatusOK, toSummary(sum))
}

func (a *API) getSummaryBatch(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Summaries map[int64]Summary `json:"summaries"`
	}

	ids, err := parseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Query parameter ids must be a comma-separated list of integers")
		return
	}

	sums, err := a.Reactions.SummaryBatch(r.Context(), reaction.TargetType(r.PathValue("targetType")), ids)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}

	res := response{
		Summaries: make(map[int64]Summary, len(sums)),
	}
	for id, sum := range sums {
		res.Summaries[id] = toSummary(sum)
	}
	a.respond(w, http.StatusOK, res)
}

func (a *API) listReactors(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Items   []Reactor `json:"items"`
		HasMore bool      `json:"has_more"`
	}

	target, ok := a.target(w, r)
	if !ok {
		return
	}

	var kindFilter *reaction.Kind
	if s := r.URL.Query().Get("kind"); s != "" {
		k := reaction.Kind(s)
		kindFilter = &k
	}

	page := 1
	if s := r.URL.Query().Get("page"); s != "" {
		p, err := strconv.Atoi(s)
		if err != nil || p < 1 {
			a.respondError(w, http.StatusBadRequest, errors.New("invalid page"), "Query parameter page must be a positive integer")
			return
		}
		page = p
	}

	items, hasMore, err := a.Reactions.Reactors(r.Context(), target, kindFilter, page)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}

	a.respond(w, http.StatusOK, response{
		Items:   toReactors(items),
		HasMore: hasMore,
	})
}

func (a *API) reconcile(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}

	target, ok := a.target(w, r)
	if !ok {
		return
	}

	if err := a.Reactions.Reconcile(r.Context(), target); err != nil {
		a.respondServiceError(w, err)
		return
	}

	a.respond(w, http.StatusOK, response{Status: "ok"})
}

func parseIDs(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, len(parts))
	for i, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}
