package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"credential-authorizer/internal/authorization"
	"credential-authorizer/internal/models"
	"credential-authorizer/pkg/errors"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// FlowManager is the flow registry driven by the API. authorization.Manager
// implements it.
type FlowManager interface {
	StartSession(ctx context.Context) (string, error)
	EndSession(sessionID string) error
	Open(ctx context.Context, sessionID, componentRef string, req models.OpenFlowRequest) (authorization.Snapshot, error)
	Dispatch(ctx context.Context, sessionID, componentRef string, ev authorization.Event) (authorization.Snapshot, error)
	Snapshot(ctx context.Context, sessionID, componentRef string) (authorization.Snapshot, error)
	Save(ctx context.Context, sessionID, componentRef string, req models.SaveRequest) (*models.Credential, error)
	Close(sessionID, componentRef string) error
}

// FlowHandler exposes browser sessions and their credential flows.
type FlowHandler struct {
	manager FlowManager
	logger  *zap.Logger
}

// NewFlowHandler creates a new flow handler
func NewFlowHandler(manager FlowManager, logger *zap.Logger) *FlowHandler {
	return &FlowHandler{
		manager: manager,
		logger:  logger,
	}
}

// Register mounts the session and flow routes on router.
func (h *FlowHandler) Register(router *mux.Router) {
	router.HandleFunc("/sessions", h.HandleStartSession).Methods("POST")
	router.HandleFunc("/sessions/{session_id}", h.HandleEndSession).Methods("DELETE")

	const flow = "/sessions/{session_id}/flows/{component_ref}"
	router.HandleFunc(flow, h.HandleOpen).Methods("PUT")
	router.HandleFunc(flow, h.HandleSnapshot).Methods("GET")
	router.HandleFunc(flow, h.HandleClose).Methods("DELETE")
	router.HandleFunc(flow+"/scopes", h.HandleToggleScope).Methods("POST")
	router.HandleFunc(flow+"/authorize", h.event(authorization.RequestAuthorizeURL{})).Methods("POST")
	router.HandleFunc(flow+"/retry", h.event(authorization.Retry{})).Methods("POST")
	router.HandleFunc(flow+"/refresh", h.event(authorization.RefreshToken{})).Methods("POST")
	router.HandleFunc(flow+"/disconnect", h.event(authorization.Disconnect{})).Methods("POST")
	router.HandleFunc(flow+"/save", h.HandleSave).Methods("POST")
}

// HandleStartSession handles POST /sessions
// @Summary     Start a browser session
// @Description Registers a browser session that redirect callbacks can be routed back to.
// @Tags        sessions
// @Produce     application/json
// @Success     201  {object}  models.SessionResponse
// @Failure     500  {object}  models.ErrorResponse
// @Router      /sessions [post]
func (h *FlowHandler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.manager.StartSession(r.Context())
	if err != nil {
		fail(w, h.logger, "Failed to start session", err)
		return
	}
	sendJSON(w, http.StatusCreated, models.SessionResponse{SessionID: sessionID})
}

// HandleEndSession handles DELETE /sessions/{session_id}
// @Summary     End a browser session
// @Description Closes every flow of the session. Later callbacks for it are dropped.
// @Tags        sessions
// @Param       session_id  path  string  true  "Session ID"
// @Success     204
// @Failure     404  {object}  models.ErrorResponse
// @Router      /sessions/{session_id} [delete]
func (h *FlowHandler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.EndSession(mux.Vars(r)["session_id"]); err != nil {
		fail(w, h.logger, "Failed to end session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleOpen handles PUT /sessions/{session_id}/flows/{component_ref}
// @Summary     Open a credential flow
// @Description Opens the editor for a stored credential or a new credential of a provider. An open flow on the same component is replaced.
// @Tags        flows
// @Accept      application/json
// @Produce     application/json
// @Param       session_id     path  string                  true  "Session ID"
// @Param       component_ref  path  string                  true  "Component reference"
// @Param       request        body  models.OpenFlowRequest  true  "Credential or provider to edit"
// @Success     200  {object}  authorization.Snapshot
// @Failure     400  {object}  models.ErrorResponse
// @Failure     404  {object}  models.ErrorResponse
// @Failure     502  {object}  models.ErrorResponse
// @Router      /sessions/{session_id}/flows/{component_ref} [put]
func (h *FlowHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	var req models.OpenFlowRequest
	if err := decodeBody(r, &req); err != nil {
		sendError(w, errors.Wrap(err, errors.ErrInvalidRequest))
		return
	}
	if req.CredentialID == "" && req.ProviderID == "" {
		sendError(w, errors.ErrInvalidRequest)
		return
	}

	sessionID, componentRef := flowVars(r)
	snap, err := h.manager.Open(r.Context(), sessionID, componentRef, req)
	if err != nil {
		fail(w, h.logger, "Failed to open flow", err)
		return
	}

	h.logger.Info("Flow opened",
		zap.String("session_id", sessionID),
		zap.String("component_ref", componentRef),
		zap.String("provider_id", snap.ProviderID),
		zap.String("state", string(snap.State)))
	sendJSON(w, http.StatusOK, snap)
}

// HandleSnapshot handles GET /sessions/{session_id}/flows/{component_ref}
// @Summary     Get flow state
// @Tags        flows
// @Produce     application/json
// @Param       session_id     path  string  true  "Session ID"
// @Param       component_ref  path  string  true  "Component reference"
// @Success     200  {object}  authorization.Snapshot
// @Failure     404  {object}  models.ErrorResponse
// @Router      /sessions/{session_id}/flows/{component_ref} [get]
func (h *FlowHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	sessionID, componentRef := flowVars(r)
	snap, err := h.manager.Snapshot(r.Context(), sessionID, componentRef)
	if err != nil {
		fail(w, h.logger, "Failed to read flow", err)
		return
	}
	sendJSON(w, http.StatusOK, snap)
}

// HandleToggleScope handles POST /sessions/{session_id}/flows/{component_ref}/scopes
// @Summary     Toggle an optional scope
// @Tags        flows
// @Accept      application/json
// @Produce     application/json
// @Param       session_id     path  string                     true  "Session ID"
// @Param       component_ref  path  string                     true  "Component reference"
// @Param       request        body  models.ToggleScopeRequest  true  "Scope to toggle"
// @Success     200  {object}  authorization.Snapshot
// @Failure     400  {object}  models.ErrorResponse
// @Failure     404  {object}  models.ErrorResponse
// @Failure     409  {object}  models.ErrorResponse
// @Router      /sessions/{session_id}/flows/{component_ref}/scopes [post]
func (h *FlowHandler) HandleToggleScope(w http.ResponseWriter, r *http.Request) {
	var req models.ToggleScopeRequest
	if err := decodeBody(r, &req); err != nil {
		sendError(w, errors.Wrap(err, errors.ErrInvalidRequest))
		return
	}
	if req.Scope == "" {
		sendError(w, errors.ErrInvalidRequest)
		return
	}
	h.dispatch(w, r, authorization.ToggleScope{Scope: req.Scope})
}

// event handles the body-less flow actions.
// @Summary     Drive a flow
// @Description authorize issues a fresh authorize URL, retry re-runs the failed step, refresh renews the token and disconnect revokes it.
// @Tags        flows
// @Produce     application/json
// @Param       session_id     path  string  true  "Session ID"
// @Param       component_ref  path  string  true  "Component reference"
// @Param       action         path  string  true  "authorize, retry, refresh or disconnect"
// @Success     200  {object}  authorization.Snapshot
// @Failure     404  {object}  models.ErrorResponse
// @Failure     409  {object}  models.ErrorResponse
// @Router      /sessions/{session_id}/flows/{component_ref}/{action} [post]
func (h *FlowHandler) event(ev authorization.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.dispatch(w, r, ev)
	}
}

func (h *FlowHandler) dispatch(w http.ResponseWriter, r *http.Request, ev authorization.Event) {
	sessionID, componentRef := flowVars(r)
	snap, err := h.manager.Dispatch(r.Context(), sessionID, componentRef, ev)
	if err != nil {
		fail(w, h.logger, "Flow event rejected", err)
		return
	}
	sendJSON(w, http.StatusOK, snap)
}

// HandleSave handles POST /sessions/{session_id}/flows/{component_ref}/save
// @Summary     Save the credential
// @Description Persists the flow's credential. Blocked unless the flow holds a token that may be stored.
// @Tags        flows
// @Accept      application/json
// @Produce     application/json
// @Param       session_id     path  string              true   "Session ID"
// @Param       component_ref  path  string              true   "Component reference"
// @Param       request        body  models.SaveRequest  false  "Editable credential fields"
// @Success     200  {object}  models.Credential
// @Failure     404  {object}  models.ErrorResponse
// @Failure     409  {object}  models.ErrorResponse
// @Failure     500  {object}  models.ErrorResponse
// @Router      /sessions/{session_id}/flows/{component_ref}/save [post]
func (h *FlowHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	var req models.SaveRequest
	if err := decodeBody(r, &req); err != nil {
		sendError(w, errors.Wrap(err, errors.ErrInvalidRequest))
		return
	}

	sessionID, componentRef := flowVars(r)
	cred, err := h.manager.Save(r.Context(), sessionID, componentRef, req)
	if err != nil {
		fail(w, h.logger, "Failed to save credential", err)
		return
	}
	sendJSON(w, http.StatusOK, cred)
}

// HandleClose handles DELETE /sessions/{session_id}/flows/{component_ref}
// @Summary     Close a flow
// @Tags        flows
// @Param       session_id     path  string  true  "Session ID"
// @Param       component_ref  path  string  true  "Component reference"
// @Success     204
// @Failure     404  {object}  models.ErrorResponse
// @Router      /sessions/{session_id}/flows/{component_ref} [delete]
func (h *FlowHandler) HandleClose(w http.ResponseWriter, r *http.Request) {
	sessionID, componentRef := flowVars(r)
	if err := h.manager.Close(sessionID, componentRef); err != nil {
		fail(w, h.logger, "Failed to close flow", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func flowVars(r *http.Request) (sessionID, componentRef string) {
	vars := mux.Vars(r)
	return vars["session_id"], vars["component_ref"]
}

// decodeBody decodes an optional JSON body into v.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}
