package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dialscope/dialscope/pkg/core"
	"github.com/dialscope/dialscope/pkg/core/types"
	"github.com/dialscope/dialscope/pkg/gateway/auth"
	"github.com/dialscope/dialscope/pkg/store"
)

const maxCallBodyBytes = 64 << 10

// CallsHandler serves call creation and listing.
type CallsHandler struct {
	Engine *core.Engine
	Store  store.Store
	Logger *slog.Logger
}

type createCallRequest struct {
	Destination string `json:"destination"`
	Strategy    string `json:"strategy"`
}

type createCallResponse struct {
	*types.CallSession
	PollingEnabled bool `json:"pollingEnabled"`
}

func (h CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, r, core.NewValidationError("method not allowed"))
	}
}

func (h CallsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, core.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}

	owner := auth.OwnerFrom(r.Context())
	sess, err := h.Engine.PlaceCall(r.Context(), owner, req.Destination, req.Strategy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createCallResponse{
		CallSession:    sess,
		PollingEnabled: h.Engine.PollingEnabled(sess.Strategy),
	})
}

type listCallsResponse struct {
	Calls []*types.CallSession `json:"calls"`
}

func (h CallsHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{Owner: auth.OwnerFrom(r.Context())}

	if s := q.Get("strategy"); s != "" {
		strategy, err := types.ParseStrategy(s)
		if err != nil {
			writeError(w, r, core.NewValidationErrorWithParam(err.Error(), "strategy"))
			return
		}
		f.Strategy = strategy
	}
	if s := q.Get("state"); s != "" {
		f.State = types.LifecycleState(s)
	}
	f.Limit = intQuery(q.Get("limit"), 50)
	f.Offset = intQuery(q.Get("offset"), 0)
	if page := intQuery(q.Get("page"), 0); page > 0 {
		f.Offset = (page - 1) * f.Limit
	}

	calls, err := h.Store.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if calls == nil {
		calls = []*types.CallSession{}
	}
	writeJSON(w, http.StatusOK, listCallsResponse{Calls: calls})
}

func intQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// CallDetailHandler serves a single session and its manual override.
type CallDetailHandler struct {
	Engine *core.Engine
	Store  store.Store
	Logger *slog.Logger
}

type overrideRequest struct {
	Verdict string `json:"verdict"`
}

// Get serves GET /v1/calls/{id}.
func (h CallDetailHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.ownedSession(r, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Override serves POST /v1/calls/{id}/override.
func (h CallDetailHandler) Override(w http.ResponseWriter, r *http.Request) {
	sess, err := h.ownedSession(r, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req overrideRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, core.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}
	verdict, err := types.ParseVerdict(req.Verdict)
	if err != nil {
		writeError(w, r, core.NewValidationErrorWithParam(err.Error(), "verdict"))
		return
	}

	updated, err := h.Engine.Override(r.Context(), sess.ID, verdict)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ownedSession loads the session and enforces owner scoping. A session
// owned by someone else reads as absent so the API is not an existence
// oracle.
func (h CallDetailHandler) ownedSession(r *http.Request, id string) (*types.CallSession, error) {
	if id == "" {
		return nil, core.NewValidationErrorWithParam("missing call ID", "id")
	}
	sess, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NewNotFoundError("no call session " + id)
		}
		return nil, err
	}
	if sess.Owner != auth.OwnerFrom(r.Context()) {
		return nil, core.NewNotFoundError("no call session " + id)
	}
	return sess, nil
}
