package handlers

import (
	stderrors "errors"
	"html/template"
	"net/http"

	"credential-authorizer/internal/handoff"

	"go.uber.org/zap"
)

// StateDecoder verifies the state parameter of a redirect callback.
// handoff.Codec implements it.
type StateDecoder interface {
	Decode(raw string) (*handoff.Ref, error)
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

type callbackView struct {
	Title   string
	Message string
}

// CallbackHandler receives the provider redirect and hands the result to the
// session that started the authorization.
type CallbackHandler struct {
	decoder StateDecoder
	broker  handoff.Broker
	logger  *zap.Logger
}

// NewCallbackHandler creates a new redirect callback handler
func NewCallbackHandler(decoder StateDecoder, broker handoff.Broker, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		decoder: decoder,
		broker:  broker,
		logger:  logger,
	}
}

// HandleCallback handles GET /oauth/callback
// @Summary     OAuth2 redirect callback
// @Description Decodes the state parameter and forwards the authorization code or error to the originating flow.
// @Tags        oauth2
// @Produce     text/html
// @Param       state              query  string  true   "Handoff token issued with the authorize URL"
// @Param       code               query  string  false  "Authorization code"
// @Param       error              query  string  false  "Provider error code"
// @Param       error_description  query  string  false  "Provider error description"
// @Success     200  {string}  string  "You may close this window"
// @Failure     400  {string}  string  "Invalid or expired state"
// @Failure     429  {object}  models.ErrorResponse
// @Failure     500  {string}  string  "Delivery failed"
// @Router      /oauth/callback [get]
func (h *CallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("state")
	if raw == "" {
		h.render(w, http.StatusBadRequest, callbackView{
			Title:   "Authorization failed",
			Message: "The request is missing its state parameter.",
		})
		return
	}

	ref, err := h.decoder.Decode(raw)
	if err != nil {
		msg := "This authorization link is not valid. Close this window and try again."
		if stderrors.Is(err, handoff.ErrExpired) {
			msg = "This authorization link has expired. Close this window and try again."
		}
		h.logger.Info("Rejected redirect callback", zap.Error(err))
		h.render(w, http.StatusBadRequest, callbackView{Title: "Authorization failed", Message: msg})
		return
	}

	payload := handoff.Payload{
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
		Tab:              ref.ComponentRef,
		State:            raw,
	}
	if err := h.broker.Publish(r.Context(), ref.SessionID, ref.HandlerRef, payload); err != nil {
		h.logger.Error("Failed to publish redirect callback",
			zap.String("session_id", ref.SessionID),
			zap.Error(err))
		h.render(w, http.StatusInternalServerError, callbackView{
			Title:   "Authorization failed",
			Message: "The result could not be delivered. Close this window and try again.",
		})
		return
	}

	view := callbackView{
		Title:   "Authorization complete",
		Message: "You may close this window.",
	}
	if payload.Error != "" {
		view.Title = "Authorization denied"
	}
	h.render(w, http.StatusOK, view)
}

func (h *CallbackHandler) render(w http.ResponseWriter, status int, view callbackView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := callbackPage.Execute(w, view); err != nil {
		h.logger.Error("Failed to render callback page", zap.Error(err))
	}
}
