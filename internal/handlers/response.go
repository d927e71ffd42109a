package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"credential-authorizer/internal/authorization"
	"credential-authorizer/internal/provider"
	"credential-authorizer/pkg/errors"

	"go.uber.org/zap"
)

func sendError(w http.ResponseWriter, err *errors.ServiceError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             err.Code,
		"error_description": err.Message,
	})
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// serviceError maps flow and provider errors onto API errors.
func serviceError(err error) *errors.ServiceError {
	var pe *provider.Error
	switch {
	case stderrors.Is(err, authorization.ErrUnknownSession):
		return errors.Wrap(err, errors.ErrUnknownSession)
	case stderrors.Is(err, authorization.ErrUnknownFlow), stderrors.Is(err, authorization.ErrClosed):
		return errors.Wrap(err, errors.ErrUnknownFlow)
	case stderrors.Is(err, authorization.ErrCredentialNotFound):
		return errors.Wrap(err, errors.ErrCredentialNotFound)
	case stderrors.Is(err, provider.ErrUnknownProvider):
		return errors.Wrap(err, errors.ErrUnknownProvider)
	case stderrors.Is(err, authorization.ErrBusy):
		return errors.Wrap(err, errors.ErrFlowBusy)
	case stderrors.Is(err, authorization.ErrInvalidEvent):
		return errors.Wrap(err, errors.ErrInvalidTransition)
	case stderrors.Is(err, authorization.ErrSaveBlocked):
		return errors.Wrap(err, errors.ErrSaveBlocked)
	case stderrors.As(err, &pe):
		return errors.Wrap(err, errors.ErrProviderUnavailable)
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, errors.ErrServiceUnavailable)
	default:
		return errors.Wrap(err, errors.ErrInternalServer)
	}
}

// fail logs server-side failures and writes the mapped error.
func fail(w http.ResponseWriter, logger *zap.Logger, msg string, err error) {
	svcErr := serviceError(err)
	if svcErr.Status >= http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err))
	} else {
		logger.Debug(msg, zap.Error(err))
	}
	sendError(w, svcErr)
}
